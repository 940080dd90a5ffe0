package ingestion

import (
	"OriumLedger/internal/event"
	"OriumLedger/internal/observability"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	EventsStream  = "ORIUM_LEDGER_EVENTS"
	EventsSubject = "orium.ledger.events"
)

// OutboundPublisher publishes emitted events to NATS for downstream
// consumers. Subjects follow orium.ledger.events.{kind}.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	logger    zerolog.Logger
}

// PublishableEvent is one emitted event of an accepted op.
type PublishableEvent struct {
	Sequence       int64         `json:"sequence"`
	OpType         string        `json:"op_type"`
	IdempotencyKey string        `json:"idempotency_key"`
	Height         uint64        `json:"height"`
	Event          event.Emitted `json:"event"`
	StateHash      string        `json:"state_hash"`
}

// Subject returns the publish subject for e.
func (e PublishableEvent) Subject() string {
	return fmt.Sprintf("%s.%s", EventsSubject, e.Event.Kind)
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    observability.NewLogger("ingestion"),
	}
}

// Run publishes until inputChan is closed or ctx is cancelled.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				// Non-fatal: consumers can read the event log directly
				op.logger.Warn().Err(err).Int64("sequence", evt.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Dedup on the broker side across restarts
	msgID := fmt.Sprintf("%d:%s", evt.Sequence, evt.Event.Kind)
	_, err = op.js.Publish(ctx, evt.Subject(), data, jetstream.WithMsgID(msgID))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       EventsStream,
		Subjects:   []string{EventsSubject + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Replicas:   1,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
