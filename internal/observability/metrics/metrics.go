package metrics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes the domain instruments. A nil *Metrics is a valid no-op.
type Metrics struct {
	commissionsCreated    metric.Int64Counter
	commissionAmount      metric.Int64Counter
	intakeEvents          metric.Int64Counter
	withdrawalTransitions metric.Int64Counter
	rateLimitAllowed      metric.Int64Counter
	rateLimitDenied       metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)

	return provider, nil
}

// New creates the domain instruments on the given provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "affiliate-core"
	}
	meter := provider.Meter(name)

	var (
		m   Metrics
		err error
	)
	if m.commissionsCreated, err = meter.Int64Counter("affiliate_commissions_created_total"); err != nil {
		return nil, err
	}
	if m.commissionAmount, err = meter.Int64Counter("affiliate_commission_amount_minor_total"); err != nil {
		return nil, err
	}
	if m.intakeEvents, err = meter.Int64Counter("affiliate_intake_events_total"); err != nil {
		return nil, err
	}
	if m.withdrawalTransitions, err = meter.Int64Counter("affiliate_withdrawal_transitions_total"); err != nil {
		return nil, err
	}
	if m.rateLimitAllowed, err = meter.Int64Counter("affiliate_rate_limit_allowed_total"); err != nil {
		return nil, err
	}
	if m.rateLimitDenied, err = meter.Int64Counter("affiliate_rate_limit_denied_total"); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordCommission counts one created commission and its amount.
func (m *Metrics) RecordCommission(ctx context.Context, level int, status string, amount int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(
		attribute.String("level", strconv.Itoa(level)),
		attribute.String("status", strings.TrimSpace(status)),
	)...)
	m.commissionsCreated.Add(ctx, 1, attrs)
	m.commissionAmount.Add(ctx, amount, attrs)
}

func (m *Metrics) RecordIntakeEvent(ctx context.Context, source, outcome string) {
	if m == nil {
		return
	}
	m.intakeEvents.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("source", strings.TrimSpace(source)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)...))
}

func (m *Metrics) RecordWithdrawalTransition(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.withdrawalTransitions.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("status", strings.TrimSpace(status)),
	)...))
}

func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
	)...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Affiliate, order and visitor ids are unbounded and never become labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"level":       {},
	"status":      {},
	"source":      {},
	"outcome":     {},
	"endpoint":    {},
	"reason":      {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
