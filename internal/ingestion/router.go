package ingestion

import (
	"OriumLedger/internal/event"
	"OriumLedger/internal/observability"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Inbound is a parsed op waiting for the core. AckFunc and NakFunc settle
// the broker message behind it and are nil for admin submissions.
type Inbound struct {
	Op       event.Op
	Source   string
	Received time.Time
	AckFunc  func()
	NakFunc  func()
}

// Ack confirms the message to the broker. Safe to call on admin ops.
func (in Inbound) Ack() {
	if in.AckFunc != nil {
		in.AckFunc()
	}
}

// Nak asks the broker to redeliver the message later.
func (in Inbound) Nak() {
	if in.NakFunc != nil {
		in.NakFunc()
	}
}

const (
	SourceNATS  = "nats"
	SourceAdmin = "admin"
)

// DeadLetterSink keeps messages the router cannot turn into ops so an
// operator can inspect and republish them.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, raw RawOp, reason error) error
}

// Router parses raw NATS messages and forwards typed ops to the core's
// inbound channel.
//
// Queued ops are not ACKed here: the ack travels with the Inbound and the
// core loop settles it once the op is sequenced and logged. A full inbound
// channel blocks the router, which stops pulling from NATS.
// Unparseable or unroutable messages are moved to the dead-letter sink and
// ACKed there; if that fails, or no sink is set, they are NAKed and retried.
type Router struct {
	subjects    []SubjectConfig
	out         chan<- Inbound
	deadLetters DeadLetterSink
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

func NewRouter(subjects []SubjectConfig, out chan<- Inbound, deadLetters DeadLetterSink, metrics *observability.Metrics) *Router {
	return &Router{
		subjects:    subjects,
		out:         out,
		deadLetters: deadLetters,
		metrics:     metrics,
		logger:      observability.NewLogger("ingestion"),
	}
}

// Run consumes rawChan until it is closed or ctx is cancelled.
func (r *Router) Run(ctx context.Context, rawChan <-chan RawOp) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-rawChan:
			if !ok {
				return nil
			}
			if !r.route(ctx, raw) {
				return ctx.Err()
			}
		}
	}
}

// route handles one message. It returns false only when ctx ended while
// waiting on the inbound channel.
func (r *Router) route(ctx context.Context, raw RawOp) bool {
	defaultType, ok := ResolveOpType(raw.Subject, r.subjects)
	if !ok {
		r.logger.Warn().Str("subject", raw.Subject).Msg("unknown subject")
		r.reject(ctx, raw, "unroutable", fmt.Errorf("no route for subject %s", raw.Subject))
		return true
	}

	op, err := ParseRawOp(raw, defaultType)
	if err != nil {
		r.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("parse op failed")
		r.reject(ctx, raw, "invalid", err)
		return true
	}

	in := Inbound{
		Op:       op,
		Source:   SourceNATS,
		Received: raw.Timestamp,
		AckFunc:  raw.AckFunc,
		NakFunc:  raw.NakFunc,
	}
	select {
	case r.out <- in:
		r.count("accepted")
		return true
	case <-ctx.Done():
		in.Nak()
		return false
	}
}

func (r *Router) reject(ctx context.Context, raw RawOp, result string, reason error) {
	r.count(result)
	if r.deadLetters == nil {
		raw.NakFunc()
		return
	}
	if err := r.deadLetters.DeadLetter(ctx, raw, reason); err != nil {
		r.logger.Error().Err(err).Str("subject", raw.Subject).Msg("dead-letter publish failed")
		raw.NakFunc()
		return
	}
	r.count("dead_lettered")
	raw.AckFunc()
}

func (r *Router) count(result string) {
	if r.metrics != nil {
		r.metrics.IngestMessages.WithLabelValues(SourceNATS, result).Inc()
	}
}
