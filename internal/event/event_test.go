package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"advisory-service/internal/models"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ============================================================================
// TEST HELPERS
// ============================================================================

type fakeAcknowledger struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acked = true
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

type stubReceiptHandler struct {
	err      error
	received []models.DeliveryReceipt
}

func (s *stubReceiptHandler) HandleReceipt(ctx context.Context, receipt models.DeliveryReceipt) error {
	s.received = append(s.received, receipt)
	return s.err
}

func delivery(t *testing.T, body any) (amqp.Delivery, *fakeAcknowledger) {
	ack := &fakeAcknowledger{}
	var raw []byte
	switch b := body.(type) {
	case []byte:
		raw = b
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}
	return amqp.Delivery{Acknowledger: ack, Body: raw, DeliveryTag: 1}, ack
}

// ============================================================================
// TEST SUITE 1: NOTIFICATION ENCODING
// ============================================================================

func TestEncodeMessage_SMS(t *testing.T) {
	msg := models.MessageRequest{
		Type:      models.ChannelSMS,
		Recipient: "+9779800000000",
		Subject:   "Flood risk",
		Content:   "Move livestock to higher ground.",
		Priority:  models.TransportUrgent,
		Metadata:  map[string]string{"log_id": "abc", "farmer_id": "farmer-1"},
	}

	queue, pub, err := encodeMessage(msg, time.Now())
	require.NoError(t, err)
	assert.Equal(t, NotificationQueue, queue)
	assert.Equal(t, uint8(9), pub.Priority)
	assert.Equal(t, "abc", pub.MessageId)
	assert.Equal(t, amqp.Persistent, pub.DeliveryMode)

	var decoded models.MessageRequest
	require.NoError(t, json.Unmarshal(pub.Body, &decoded))
	assert.Equal(t, msg, decoded)
}

func TestEncodeMessage_PushUsesPushFormat(t *testing.T) {
	msg := models.MessageRequest{
		Type:      models.ChannelPush,
		Recipient: "device-token",
		Subject:   "Frost risk",
		Content:   "Cover seedlings tonight.",
		Priority:  models.TransportHigh,
		Metadata:  map[string]string{"farmer_id": "farmer-7"},
	}

	queue, pub, err := encodeMessage(msg, time.Now())
	require.NoError(t, err)
	assert.Equal(t, PushNotiQueue, queue)
	assert.Equal(t, uint8(6), pub.Priority)

	var decoded NotificationEventPushModel
	require.NoError(t, json.Unmarshal(pub.Body, &decoded))
	assert.Equal(t, []string{"farmer-7"}, decoded.LstUserIds)
	assert.Equal(t, "Frost risk", decoded.Title)
	assert.Equal(t, "device-token", decoded.Data["push_token"])
}

func TestEncodeMessage_Rejects(t *testing.T) {
	_, _, err := encodeMessage(models.MessageRequest{Type: "FAX", Recipient: "x"}, time.Now())
	assert.Error(t, err)

	_, _, err = encodeMessage(models.MessageRequest{Type: models.ChannelEmail}, time.Now())
	assert.Error(t, err)
}

func TestDeliveryRoutingKey(t *testing.T) {
	assert.Equal(t, "delivery.delivery_failed", DeliveryRoutingKey(models.DeliveryFailed))
	assert.Equal(t, "delivery.opened", DeliveryRoutingKey(models.DeliveryOpened))
}

// ============================================================================
// TEST SUITE 2: RECEIPT CONSUMER
// ============================================================================

func TestReceiptConsumer_ProcessMessage(t *testing.T) {
	receipt := models.DeliveryReceipt{LogID: uuid.New(), Event: models.ReceiptOpened}

	tests := []struct {
		name        string
		body        any
		handlerErr  error
		wantAck     bool
		wantRequeue bool
		wantHandled bool
	}{
		{"applied", receipt, nil, true, false, true},
		{"invalid transition is dropped", receipt, fmt.Errorf("wrapped: %w", models.ErrInvalidTransition), true, false, true},
		{"unknown log is dropped", receipt, models.ErrDeliveryLogNotFound, true, false, true},
		{"invalid receipt is dropped", receipt, models.ErrInvalidReceipt, true, false, true},
		{"transient error requeues", receipt, errors.New("db down"), false, true, true},
		{"malformed body is discarded", []byte("{not json"), nil, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := &stubReceiptHandler{err: tt.handlerErr}
			consumer := NewReceiptConsumer(nil, handler, zap.NewNop())
			msg, ack := delivery(t, tt.body)

			consumer.processMessage(context.Background(), msg)

			assert.Equal(t, tt.wantAck, ack.acked)
			assert.Equal(t, !tt.wantAck, ack.nacked)
			assert.Equal(t, tt.wantRequeue, ack.requeue)
			assert.Equal(t, tt.wantHandled, len(handler.received) == 1)
		})
	}
}
