package metrics

import (
	"context"
	"fmt"
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

// Metrics exposes application-level instruments.
type Metrics struct {
	invoicesCreated        metric.Int64Counter
	invoicePayments        metric.Int64Counter
	creditsIssued          metric.Int64Counter
	remindersSent          metric.Int64Counter
	scheduledPayments      metric.Int64Counter
	reconciliationWarnings metric.Int64Counter
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
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "kitchenbill"
	}
	meter := provider.Meter(name)

	invoicesCreated, err := meter.Int64Counter("kitchenbill_invoices_created_total")
	if err != nil {
		return nil, err
	}
	invoicePayments, err := meter.Int64Counter("kitchenbill_invoice_payments_total")
	if err != nil {
		return nil, err
	}
	creditsIssued, err := meter.Int64Counter("kitchenbill_credits_issued_total")
	if err != nil {
		return nil, err
	}
	remindersSent, err := meter.Int64Counter("kitchenbill_reminders_sent_total")
	if err != nil {
		return nil, err
	}
	scheduledPayments, err := meter.Int64Counter("kitchenbill_scheduled_payments_total")
	if err != nil {
		return nil, err
	}
	reconciliationWarnings, err := meter.Int64Counter("kitchenbill_reconciliation_warnings_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		invoicesCreated:        invoicesCreated,
		invoicePayments:        invoicePayments,
		creditsIssued:          creditsIssued,
		remindersSent:          remindersSent,
		scheduledPayments:      scheduledPayments,
		reconciliationWarnings: reconciliationWarnings,
	}, nil
}

// NewNoop returns instruments backed by a no-op provider.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

// RecordInvoiceCreated increments invoice creation counts.
func (m *Metrics) RecordInvoiceCreated(ctx context.Context, invoiceType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("invoice_type", strings.TrimSpace(invoiceType)))
	m.invoicesCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordInvoicePayment counts paid and unpaid flips.
func (m *Metrics) RecordInvoicePayment(ctx context.Context, state string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("state", strings.TrimSpace(state)))
	m.invoicePayments.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordCreditIssued(ctx context.Context) {
	if m == nil {
		return
	}
	m.creditsIssued.Add(ctx, 1)
}

// RecordReminderSent increments reminder counts by stage.
func (m *Metrics) RecordReminderSent(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("stage", strings.TrimSpace(stage)))
	m.remindersSent.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordScheduledPayment counts deposit invoices created from a schedule.
func (m *Metrics) RecordScheduledPayment(ctx context.Context, slot, source string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("slot", strings.TrimSpace(slot)),
		attribute.String("source", strings.TrimSpace(source)),
	)
	m.scheduledPayments.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordReconciliationWarning(ctx context.Context) {
	if m == nil {
		return
	}
	m.reconciliationWarnings.Add(ctx, 1)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
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

var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":     {},
	"status_code":  {},
	"invoice_type": {},
	"state":        {},
	"stage":        {},
	"slot":         {},
	"source":       {},
	"reason":       {},
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
