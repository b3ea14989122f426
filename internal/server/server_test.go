package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/tably/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type paymentStub struct {
	ingestErr error
	verifyErr error
	ingested  int
	verified  int
}

func (s *paymentStub) Ingest(ctx context.Context, payload []byte, headers http.Header) error {
	s.ingested++
	return s.ingestErr
}

func (s *paymentStub) VerifyManualPayment(ctx context.Context, id snowflake.ID, paymentID, orderID, signature string) error {
	s.verified++
	return s.verifyErr
}

func setupServer(t *testing.T, payments *paymentStub) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := NewEngine(zap.NewNop())
	NewServer(ServerParams{
		Gin:        engine,
		Log:        zap.NewNop(),
		PaymentSvc: payments,
	})
	return engine
}

func do(engine *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)
	return rec
}

func TestWebhookAnswersOKOnSuccess(t *testing.T) {
	payments := &paymentStub{}
	engine := setupServer(t, payments)

	rec := do(engine, http.MethodPost, "/webhooks/razorpay", []byte(`{"event":"payment.captured"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 1, payments.ingested)
}

// The gateway retries anything that is not a 200, so even rejected
// deliveries must answer 200 with the problem in the body.
func TestWebhookAnswersOKOnIngestError(t *testing.T) {
	payments := &paymentStub{ingestErr: paymentdomain.ErrInvalidSignature}
	engine := setupServer(t, payments)

	rec := do(engine, http.MethodPost, "/webhooks/razorpay", []byte(`{}`))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, paymentdomain.ErrInvalidSignature.Error(), body["message"])
}

func TestVerifyPaymentRejectsMissingFields(t *testing.T) {
	payments := &paymentStub{}
	engine := setupServer(t, payments)

	rec := do(engine, http.MethodPost, "/payments/verify", []byte(`{"razorpay_payment_id":"pay_1"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, payments.verified)
}

func TestVerifyPaymentSuccess(t *testing.T) {
	payments := &paymentStub{}
	engine := setupServer(t, payments)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	subID := node.Generate()
	body, err := json.Marshal(gin.H{
		"subscription_id":     subID.String(),
		"razorpay_payment_id": "pay_1",
		"razorpay_order_id":   "order_1",
		"razorpay_signature":  "sig",
	})
	require.NoError(t, err)

	rec := do(engine, http.MethodPost, "/payments/verify", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, payments.verified)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "verified", resp["status"])
	assert.Equal(t, subID.String(), resp["subscriptionId"])
	assert.Equal(t, "pay_1", resp["paymentId"])
}

func TestVerifyPaymentMapsInvalidSignature(t *testing.T) {
	payments := &paymentStub{verifyErr: paymentdomain.ErrInvalidSignature}
	engine := setupServer(t, payments)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	body, err := json.Marshal(gin.H{
		"subscription_id":     node.Generate().String(),
		"razorpay_payment_id": "pay_1",
		"razorpay_order_id":   "order_1",
		"razorpay_signature":  "forged",
	})
	require.NoError(t, err)

	rec := do(engine, http.MethodPost, "/payments/verify", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
