package consumer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	amqplib "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/conduit-run/conduit/internal/domain"
)

// fakeAcknowledger records how a delivery was settled.
type fakeAcknowledger struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.acked = true
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

// stubIngestor returns a fixed error for every message.
type stubIngestor struct {
	err error
}

func (s *stubIngestor) Execute(ctx context.Context, msg *domain.ResultMessage) error {
	return s.err
}

func settle(t *testing.T, ingestErr error, body []byte) *fakeAcknowledger {
	t.Helper()
	c := &Consumer{
		ingestor: &stubIngestor{err: ingestErr},
		logger:   zap.NewNop(),
	}
	ack := &fakeAcknowledger{}
	c.handleDelivery(context.Background(), amqplib.Delivery{
		Acknowledger: ack,
		Body:         body,
	})
	return ack
}

func validBody(t *testing.T) []byte {
	t.Helper()
	return []byte(fmt.Sprintf(
		`{"job_id":%q,"user_id":"user-1","kind":"print","status":"success","client_conn_id":"conn-1"}`,
		uuid.New(),
	))
}

func TestHandleDelivery_AcksOnSuccess(t *testing.T) {
	ack := settle(t, nil, validBody(t))
	if !ack.acked || ack.nacked {
		t.Errorf("expected ack, got %+v", ack)
	}
}

func TestHandleDelivery_DeadLettersUnparseableBody(t *testing.T) {
	ack := settle(t, nil, []byte("not json"))
	if !ack.nacked || ack.requeue {
		t.Errorf("expected nack without requeue, got %+v", ack)
	}
}

func TestHandleDelivery_DeadLettersInvalidMessage(t *testing.T) {
	// A domain-invalid message fails identically on every redelivery;
	// requeueing it would spin forever.
	err := fmt.Errorf("ingest: unknown result status %q: %w", "exploded", domain.ErrUnprocessableResult)
	ack := settle(t, err, validBody(t))
	if !ack.nacked || ack.requeue {
		t.Errorf("expected nack without requeue, got %+v", ack)
	}
}

func TestHandleDelivery_RequeuesTransientFailure(t *testing.T) {
	ack := settle(t, errors.New("ledger write: connection refused"), validBody(t))
	if !ack.nacked || !ack.requeue {
		t.Errorf("expected nack with requeue, got %+v", ack)
	}
}
