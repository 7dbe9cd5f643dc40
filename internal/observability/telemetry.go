// internal/observability/telemetry.go
package observability

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
)

// shutdownTimeout bounds the final flush in Cleanup.
const shutdownTimeout = 5 * time.Second

// Telemetry owns the SDK providers and the collector connection.
type Telemetry struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	metrics        *Metrics
	conn           *grpc.ClientConn

	shutdownOnce sync.Once
	shutdownErr  error
}

// Init sets up the providers cfg asks for and installs them as the otel
// globals. The returned cleanup flushes and shuts everything down. With the
// none exporter Init returns a Telemetry whose accessors yield no-ops.
func Init(ctx context.Context, cfg *Config) (*Telemetry, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	tel := &Telemetry{config: cfg}
	if !cfg.ShouldEnable() || (!cfg.TracesEnabled && !cfg.MetricsEnabled) {
		return tel, func() {}, nil
	}

	if err := tel.start(ctx); err != nil {
		_ = tel.Shutdown(ctx)
		return nil, nil, err
	}
	return tel, tel.Cleanup, nil
}

func (t *Telemetry) start(ctx context.Context) error {
	cfg := t.config
	res, err := newResource(ctx, cfg)
	if err != nil {
		return err
	}

	if cfg.Exporter == ExporterOTLP {
		if t.conn, err = dialCollector(cfg.Endpoint); err != nil {
			return err
		}
	}

	if cfg.TracesEnabled {
		exp, err := newSpanExporter(ctx, cfg, t.conn)
		if err != nil {
			return err
		}
		t.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
		)
		otel.SetTracerProvider(t.tracerProvider)
	}

	if cfg.MetricsEnabled {
		exp, err := newMetricExporter(ctx, cfg, t.conn)
		if err != nil {
			return err
		}
		t.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(t.meterProvider)

		if t.metrics, err = InitMetrics(t.meterProvider); err != nil {
			return err
		}
	}
	return nil
}

// TracerProvider returns the tracer provider, or a no-op when tracing is off.
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	if t.tracerProvider != nil {
		return t.tracerProvider
	}
	return noop.NewTracerProvider()
}

// MeterProvider returns the meter provider, or a no-op when metrics are off.
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	if t.meterProvider != nil {
		return t.meterProvider
	}
	return metricnoop.NewMeterProvider()
}

// Metrics returns the metric instruments, or nil if disabled. The nil value
// is safe to record against.
func (t *Telemetry) Metrics() *Metrics {
	return t.metrics
}

// Shutdown flushes pending spans and metrics and closes the collector
// connection. Only the first call does work.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	t.shutdownOnce.Do(func() {
		var errs []error
		if t.tracerProvider != nil {
			errs = append(errs, t.tracerProvider.Shutdown(ctx))
		}
		// Shutdown runs a final collect and export on the periodic reader.
		if t.meterProvider != nil {
			errs = append(errs, t.meterProvider.Shutdown(ctx))
		}
		if t.conn != nil {
			errs = append(errs, t.conn.Close())
		}
		t.shutdownErr = errors.Join(errs...)
	})
	return t.shutdownErr
}

// Cleanup shuts down with a bounded timeout, for use with defer.
func (t *Telemetry) Cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = t.Shutdown(ctx)
}

// Config returns the telemetry configuration.
func (t *Telemetry) Config() *Config {
	return t.config
}
