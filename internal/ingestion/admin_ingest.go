package ingestion

import (
	"OriumLedger/internal/event"
	"OriumLedger/internal/observability"
	"context"
	"time"
)

// AdminIngestService injects operations submitted over HTTP. It is for
// operators and manual corrections, not bulk traffic; use NATS for that.
type AdminIngestService struct {
	out     chan<- Inbound
	metrics *observability.Metrics
}

func NewAdminIngestService(out chan<- Inbound, metrics *observability.Metrics) *AdminIngestService {
	return &AdminIngestService{out: out, metrics: metrics}
}

// Submit parses data exactly like a NATS payload and queues it for the
// core. The op is not yet applied when Submit returns.
func (s *AdminIngestService) Submit(ctx context.Context, data []byte) (event.Op, error) {
	op, err := ParseOp(data, "")
	if err != nil {
		s.count("invalid")
		return nil, err
	}

	select {
	case s.out <- Inbound{Op: op, Source: SourceAdmin, Received: time.Now()}:
		s.count("accepted")
		return op, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *AdminIngestService) count(result string) {
	if s.metrics != nil {
		s.metrics.IngestMessages.WithLabelValues(SourceAdmin, result).Inc()
	}
}
