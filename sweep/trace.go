package sweep

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fumin/blumecapel"
)

const (
	spanPoint = "sweep.point"
)

func (r *runner) startSpan(ctx context.Context, dir Direction, i int, p blumecapel.ModelPoint) (context.Context, trace.Span) {
	return r.opt.tracer.Start(ctx, spanPoint, trace.WithAttributes(
		attribute.String("sweep.param", r.grid.Param.String()),
		attribute.String("sweep.direction", dir.String()),
		attribute.Int("sweep.index", i),
		attribute.Float64("model.temperature", p.Temperature()),
		attribute.Float64("model.coupling", p.Coupling()),
		attribute.Float64("model.anisotropy", p.Anisotropy()),
	))
}

func endSpan(span trace.Span, rec Record) {
	span.SetAttributes(
		attribute.Bool("ctm.warm_started", rec.WarmStarted),
		attribute.Bool("ctm.converged", rec.Converged),
		attribute.Int("ctm.steps", rec.Steps),
	)
	if rec.Err != nil {
		span.RecordError(rec.Err)
		span.SetStatus(codes.Error, rec.Err.Error())
		return
	}
	span.SetAttributes(
		attribute.Float64("ctm.magnetization", rec.Magnetization),
		attribute.Float64("ctm.free_energy", rec.FreeEnergy),
	)
	if rec.CorrelationLength != 0 {
		span.SetAttributes(attribute.Float64("ctm.correlation_length", rec.CorrelationLength))
	}
	if rec.FixedMagnetization != 0 {
		span.SetAttributes(
			attribute.Float64("ctm.fixed_magnetization", rec.FixedMagnetization),
			attribute.Float64("ctm.log_fixed_ratio", rec.LogFixedRatio),
		)
	}
}
