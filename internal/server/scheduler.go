package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tably/internal/scheduler"
)

func (s *Server) HandleSchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.scheduler.Status())
}

func (s *Server) HandleSchedulerStart(c *gin.Context) {
	if err := s.scheduler.Start(); err != nil {
		if errors.Is(err, scheduler.ErrAlreadyActive) {
			c.JSON(http.StatusOK, gin.H{"status": "already_running"})
			return
		}
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (s *Server) HandleSchedulerStop(c *gin.Context) {
	if err := s.scheduler.Stop(); err != nil {
		if errors.Is(err, scheduler.ErrNotRunning) {
			c.JSON(http.StatusOK, gin.H{"status": "not_running"})
			return
		}
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (s *Server) HandleSchedulerTrigger(c *gin.Context) {
	name := c.Param("name")
	if err := s.scheduler.Trigger(c.Request.Context(), name); err != nil {
		if errors.Is(err, scheduler.ErrUnknownJob) {
			c.JSON(http.StatusNotFound, gin.H{"error": gin.H{
				"type":    "not_found",
				"message": "unknown job",
			}})
			return
		}
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed", "job": name})
}
