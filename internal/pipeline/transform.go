package pipeline

import (
	"context"
	"log/slog"

	"github.com/hydrowatch/flood-telemetry-service/internal/domain"
	"github.com/hydrowatch/flood-telemetry-service/internal/processor"
)

// SampleTransformer implements Transformer by parsing the telemetry payload
// and running it through the derivation processor, which also persists the
// record.
type SampleTransformer struct {
	proc   *processor.Processor
	logger *slog.Logger
}

// NewTransformer creates a SampleTransformer around the given processor.
func NewTransformer(proc *processor.Processor, logger *slog.Logger) *SampleTransformer {
	return &SampleTransformer{
		proc:   proc,
		logger: logger,
	}
}

func (t *SampleTransformer) Transform(ctx context.Context, raw domain.RawSample) (domain.DerivedRecord, error) {
	sample, err := domain.ParseSample(raw)
	if err != nil {
		return domain.DerivedRecord{}, err
	}
	return t.proc.Process(ctx, sample), nil
}

// IngestPayload derives and stores a record from a bare JSON payload. The
// HTTP ingest endpoint shares the exact derivation path with the Kafka
// consumer through this method.
func (t *SampleTransformer) IngestPayload(ctx context.Context, payload []byte) (domain.DerivedRecord, error) {
	return t.Transform(ctx, domain.RawSample{Value: payload})
}
