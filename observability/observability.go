// Package observability wires OpenTelemetry metrics and traces for commands.
//
// Every command is wrapped by Track, which opens a span and records the RED
// triple (count, errors, duration) under the command name. Settlement adds
// two counters of its own. Without an OTLP endpoint the providers are no-ops.
package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"disputeflow/errs"
)

const instrumentation = "disputeflow"

type Config struct {
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint is a gRPC collector address such as localhost:4317. Empty
	// disables export.
	OTLPEndpoint string
	Insecure     bool
	Interval     time.Duration
}

// Provider owns the meter and tracer used by every service. A nil *Provider
// is valid and records nothing.
type Provider struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer

	commands      metric.Int64Counter
	commandErrors metric.Int64Counter
	duration      metric.Float64Histogram
	topupFailures metric.Int64Counter
	jurorPayouts  metric.Int64Counter
	payoutShort   metric.Int64Counter
}

// New builds OTLP exporters when cfg names an endpoint and no-op providers
// otherwise.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.OTLPEndpoint == "" {
		p := &Provider{tracer: tracenoop.NewTracerProvider().Tracer(instrumentation)}
		if err := p.initInstruments(metricnoop.NewMeterProvider().Meter(instrumentation)); err != nil {
			return nil, err
		}
		return p, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "disputeflow"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("observability: trace exporter: %w", err)
	}
	metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("observability: metric exporter: %w", err)
	}

	p := &Provider{
		tracerProvider: sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(traceExp),
		),
		meterProvider: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(cfg.Interval))),
		),
	}
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetMeterProvider(p.meterProvider)

	p.tracer = p.tracerProvider.Tracer(instrumentation)
	if err := p.initInstruments(p.meterProvider.Meter(instrumentation)); err != nil {
		return nil, err
	}
	return p, nil
}

// NewWithReader records metrics into reader and discards spans. Tests pass an
// sdkmetric.ManualReader.
func NewWithReader(reader sdkmetric.Reader) (*Provider, error) {
	p := &Provider{
		meterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		tracer:        tracenoop.NewTracerProvider().Tracer(instrumentation),
	}
	if err := p.initInstruments(p.meterProvider.Meter(instrumentation)); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) initInstruments(m metric.Meter) error {
	var err error
	if p.commands, err = m.Int64Counter("disputeflow.commands",
		metric.WithDescription("Commands executed"),
		metric.WithUnit("{command}"),
	); err != nil {
		return fmt.Errorf("observability: commands counter: %w", err)
	}
	if p.commandErrors, err = m.Int64Counter("disputeflow.command_errors",
		metric.WithDescription("Commands that returned an error"),
		metric.WithUnit("{error}"),
	); err != nil {
		return fmt.Errorf("observability: errors counter: %w", err)
	}
	if p.duration, err = m.Float64Histogram("disputeflow.command_duration_ms",
		metric.WithDescription("Command latency"),
		metric.WithUnit("ms"),
	); err != nil {
		return fmt.Errorf("observability: duration histogram: %w", err)
	}
	if p.topupFailures, err = m.Int64Counter("disputeflow.settlement.topup_failures",
		metric.WithDescription("Loser cost top-ups that could not be collected"),
	); err != nil {
		return fmt.Errorf("observability: topup counter: %w", err)
	}
	if p.jurorPayouts, err = m.Int64Counter("disputeflow.settlement.juror_payouts",
		metric.WithDescription("Juror rewards paid at settlement"),
	); err != nil {
		return fmt.Errorf("observability: payout counter: %w", err)
	}
	if p.payoutShort, err = m.Int64Counter("disputeflow.settlement.payout_deficits",
		metric.WithDescription("Juror rewards settled below the amount owed"),
	); err != nil {
		return fmt.Errorf("observability: deficit counter: %w", err)
	}
	return nil
}

// Track starts a span for command and returns the function that ends it.
func (p *Provider) Track(ctx context.Context, command string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if p == nil {
		return ctx, func(error) {}
	}
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, command, trace.WithAttributes(attrs...))
	base := append([]attribute.KeyValue{attribute.String("command", command)}, attrs...)

	return ctx, func(err error) {
		p.commands.Add(ctx, 1, metric.WithAttributes(base...))
		if err != nil {
			kind := "internal"
			if k := errs.Kind(err); k != nil {
				kind = k.Error()
			}
			p.commandErrors.Add(ctx, 1, metric.WithAttributes(append(base, attribute.String("kind", kind))...))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		p.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000, metric.WithAttributes(base...))
		span.End()
	}
}

// TopupFailed counts a settlement whose loser could not cover the shortfall.
func (p *Provider) TopupFailed(ctx context.Context, project string) {
	if p == nil {
		return
	}
	p.topupFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("project", project)))
}

// JurorPaid counts one reward payout.
func (p *Provider) JurorPaid(ctx context.Context) {
	if p == nil {
		return
	}
	p.jurorPayouts.Add(ctx, 1)
}

// PayoutDeficit counts a juror reward the dispute could not fund in full.
func (p *Provider) PayoutDeficit(ctx context.Context, project string) {
	if p == nil {
		return
	}
	p.payoutShort.Add(ctx, 1, metric.WithAttributes(attribute.String("project", project)))
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errList []error
	if p.tracerProvider != nil {
		errList = append(errList, p.tracerProvider.Shutdown(ctx))
	}
	if p.meterProvider != nil {
		errList = append(errList, p.meterProvider.Shutdown(ctx))
	}
	return errors.Join(errList...)
}
