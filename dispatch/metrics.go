package dispatch

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trackhub/domain"
)

const (
	dispatchTracerName  = "trackhub/dispatch"
	dispatchSpanName    = "dispatch.event"
	dispatchEventName   = "event.dispatched"
	dispatchEventDomain = "trackhub.dispatch"
)

// eventMetrics tracks one event's journey through the dispatcher and emits
// a span plus a structured log line when it finishes.
type eventMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	kind       domain.EventKind
	eventID    string
	recipients int
	delivered  int
	skipped    int
	abandoned  int
	transient  int
	errorStage string
}

func newEventMetrics(ctx context.Context, logger *log.Logger, ev domain.Event) (*eventMetrics, context.Context) {
	ctx, span := otel.Tracer(dispatchTracerName).Start(ctx, dispatchSpanName, trace.WithAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("event.kind", string(ev.Kind)),
		attribute.String("entity.id", ev.EntityID),
	))
	return &eventMetrics{
		logger:  logger,
		span:    span,
		start:   time.Now(),
		kind:    ev.Kind,
		eventID: ev.ID,
	}, ctx
}

func (m *eventMetrics) SetRecipients(n int)     { m.recipients = n }
func (m *eventMetrics) AddDelivered()           { m.delivered++ }
func (m *eventMetrics) AddSkipped()             { m.skipped++ }
func (m *eventMetrics) AddAbandoned()           { m.abandoned++ }
func (m *eventMetrics) AddTransient()           { m.transient++ }
func (m *eventMetrics) SetErrorStage(st string) { m.errorStage = st }

// Log closes the span and writes the observability event. Severity follows
// the outcome: ERROR on a hard failure, WARN when deliveries were deferred
// for retry, INFO otherwise.
func (m *eventMetrics) Log(err error) {
	if m == nil || m.logger == nil {
		return
	}

	severity, severityNumber := severityForOutcome(m.transient, err)

	attrs := []attribute.KeyValue{
		attribute.String("event.name", dispatchEventName),
		attribute.String("event.domain", dispatchEventDomain),
		attribute.String("severity_text", severity),
		attribute.Int("severity_number", severityNumber),
		attribute.Int("dispatch.recipients", m.recipients),
		attribute.Int("dispatch.delivered", m.delivered),
		attribute.Int("dispatch.skipped", m.skipped),
		attribute.Int("dispatch.abandoned", m.abandoned),
		attribute.Int("dispatch.transient", m.transient),
		attribute.Float64("dispatch.total_ms", durationToMillis(time.Since(m.start))),
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("dispatch.error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	if m.span != nil {
		m.span.AddEvent("observability.event", trace.WithAttributes(attrs...))
		if err != nil {
			m.span.SetStatus(codes.Error, err.Error())
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	fields := log.Fields{
		"event.name":      dispatchEventName,
		"event.domain":    dispatchEventDomain,
		"severity_text":   severity,
		"severity_number": severityNumber,
		"event_id":        m.eventID,
		"kind":            string(m.kind),
		"recipients":      m.recipients,
		"delivered":       m.delivered,
		"skipped":         m.skipped,
		"abandoned":       m.abandoned,
		"transient":       m.transient,
		"total_ms":        durationToMillis(time.Since(m.start)),
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	if sc := m.span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}

	entry := m.logger.WithFields(fields)
	switch severity {
	case "ERROR":
		entry.Error("observability.event")
	case "WARN":
		entry.Warn("observability.event")
	default:
		entry.Info("observability.event")
	}
}

func severityForOutcome(transient int, err error) (string, int) {
	switch {
	case err != nil:
		return "ERROR", 17
	case transient > 0:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
