package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	DeadLetterStream  = "ORIUM_DEADLETTER"
	DeadLetterSubject = "orium.deadletter.ops"

	HeaderOriginalSubject = "Orium-Subject"
	HeaderRejectReason    = "Orium-Reason"
)

// DeadLetterPublisher stores rejected inbound payloads verbatim, with the
// original subject and the parse error in headers.
type DeadLetterPublisher struct {
	js jetstream.JetStream
}

func NewDeadLetterPublisher(js jetstream.JetStream) *DeadLetterPublisher {
	return &DeadLetterPublisher{js: js}
}

func (d *DeadLetterPublisher) DeadLetter(ctx context.Context, raw RawOp, reason error) error {
	msg := nats.NewMsg(DeadLetterSubject)
	msg.Data = raw.Data
	msg.Header.Set(HeaderOriginalSubject, raw.Subject)
	msg.Header.Set(HeaderRejectReason, reason.Error())
	if _, err := d.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}

// EnsureDeadLetterStream creates the dead-letter stream. Entries are kept
// longer than inbound ops since they wait on an operator.
func EnsureDeadLetterStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      DeadLetterStream,
		Subjects:  []string{DeadLetterSubject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    30 * 24 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", DeadLetterStream, err)
	}
	return nil
}
