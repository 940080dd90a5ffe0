package ingestion

import (
	"OriumLedger/internal/event"
	"OriumLedger/internal/observability"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	// OpsStream holds every inbound subject so a single consumer sees
	// operations in stream order.
	OpsStream = "ORIUM_OPS"
	// CoreConsumer is the durable consumer feeding the deterministic core.
	CoreConsumer = "ledger-core"

	// redeliveryDelay spaces out retries of ops that arrived ahead of a
	// missing sequence.
	redeliveryDelay = time.Second
)

// NATSSubscriber consumes inbound operations from JetStream and hands the
// raw messages to the parse stage via rawChan.
type NATSSubscriber struct {
	js      jetstream.JetStream
	rawChan chan<- RawOp
	logger  zerolog.Logger
	cc      jetstream.ConsumeContext
}

// RawOp is an undecoded message from NATS.
type RawOp struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // ACK once the op is in the event log
	NakFunc   func() // NAK so JetStream redelivers after a delay
}

// SubjectConfig maps a subject pattern to the op type assumed when the
// payload carries no "op_type" field. An empty OpType means the payload
// must name it.
type SubjectConfig struct {
	Subject string
	OpType  string
}

// DefaultSubjects is the inbound subject layout.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "orium.ops.>"},
		{Subject: "orium.prices.>", OpType: event.OpTypeUpdatePrice.String()},
		{Subject: "orium.tokens.>"},
	}
}

// ResolveOpType returns the default op type for subject using the longest
// matching prefix, and whether any configured subject matched.
func ResolveOpType(subject string, subjects []SubjectConfig) (string, bool) {
	best := -1
	opType := ""
	for _, cfg := range subjects {
		prefix := strings.TrimSuffix(cfg.Subject, ">")
		if strings.HasPrefix(subject, prefix) && len(prefix) > best {
			best = len(prefix)
			opType = cfg.OpType
		}
	}
	return opType, best >= 0
}

func NewNATSSubscriber(js jetstream.JetStream, rawChan chan<- RawOp) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		rawChan: rawChan,
		logger:  observability.NewLogger("ingestion"),
	}
}

// Subscribe creates the core consumer over all configured subjects.
// Explicit ACK, ack_wait=30s and unlimited redelivery: the core needs
// every sequence, so the broker must never give up on a message. Poison
// payloads leave through the dead-letter stream instead.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	filters := make([]string, 0, len(subjects))
	for _, cfg := range subjects {
		filters = append(filters, cfg.Subject)
	}

	consumer, err := ns.js.CreateOrUpdateConsumer(ctx, OpsStream, jetstream.ConsumerConfig{
		Durable:        CoreConsumer,
		FilterSubjects: filters,
		AckPolicy:      jetstream.AckExplicitPolicy,
		AckWait:        30 * time.Second,
		MaxDeliver:     -1,
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", CoreConsumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawOp{
			Subject:   msg.Subject(),
			Data:      msg.Data(),
			Timestamp: time.Now(),
			AckFunc:   func() { _ = msg.Ack() },
			NakFunc:   func() { _ = msg.NakWithDelay(redeliveryDelay) },
		}

		select {
		case ns.rawChan <- raw:
		case <-ctx.Done():
			_ = msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", CoreConsumer, err)
	}

	ns.cc = cc
	ns.logger.Info().Strs("subjects", filters).Str("consumer", CoreConsumer).Msg("subscribed")
	return nil
}

// EnsureStreams creates the inbound stream if it does not exist.
// FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	subjects := make([]string, 0, len(DefaultSubjects()))
	for _, cfg := range DefaultSubjects() {
		subjects = append(subjects, cfg.Subject)
	}

	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      OpsStream,
		Subjects:  subjects,
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", OpsStream, err)
	}
	return nil
}

// Stop stops the consumer.
func (ns *NATSSubscriber) Stop() {
	if ns.cc != nil {
		ns.cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscriber stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("oriumd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
