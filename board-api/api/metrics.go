package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taskboard/board-api/domain"
)

const (
	tracerName          = "taskboard/board-api"
		commandsSpanName    = "board.command"
	commandsEventName   = "board.command.metrics"
	commandsEventDomain = "board-api"
	observabilityEvent  = "observability.event"
)

// Severity numbers follow the OpenTelemetry log data model.
const (
	severityInfo  = 9
	severityWarn  = 13
	severityError = 17
)

type commandMetrics struct {
	logger             *log.Logger
	span               trace.Span
	start              time.Time
	decodeDuration     time.Duration
	submitDuration     time.Duration
	commandType        string
	connectionProvided bool
	errorStage         string
}

func newCommandMetrics(ctx context.Context, logger *log.Logger) (*commandMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, commandsSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &commandMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
	}, ctx
}

func (m *commandMetrics) ObserveDecode(d time.Duration) {
	if d > 0 {
		m.decodeDuration = d
	}
}

func (m *commandMetrics) ObserveSubmit(d time.Duration) {
	if d > 0 {
		m.submitDuration = d
	}
}

func (m *commandMetrics) SetCommandType(kind string) {
	m.commandType = kind
}

func (m *commandMetrics) SetConnectionProvided(provided bool) {
	m.connectionProvided = provided
}

func (m *commandMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Log ends the span and emits one observability event for the request.
func (m *commandMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	attrs := map[string]any{
		"http.route":                        domain.CommandsPath,
		"http.status_code":                  status,
		"board.command.type":                m.commandType,
		"board.command.connection_provided": m.connectionProvided,
		"board.command.total_ms":            durationToMillis(time.Since(m.start)),
	}
	if m.decodeDuration > 0 {
		attrs["board.command.decode_ms"] = durationToMillis(m.decodeDuration)
	}
	if m.submitDuration > 0 {
		attrs["board.command.submit_ms"] = durationToMillis(m.submitDuration)
	}
	if m.errorStage != "" {
		attrs["board.command.error_stage"] = m.errorStage
	}
	if err != nil {
		attrs["error.message"] = err.Error()
	}

	severityText, severityNumber := severityForStatus(status, err)
	m.endSpan(attrs, severityText, severityNumber, err)

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      commandsEventName,
		"event.domain":    commandsEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attrs,
	}
	if sc := m.span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
		fields["span_id"] = sc.SpanID().String()
	}
	m.logger.WithFields(fields).Log(levelForSeverity(severityNumber), observabilityEvent)
}

func (m *commandMetrics) endSpan(attrs map[string]any, severityText string, severityNumber int, err error) {
	if m.span == nil {
		return
	}
	kvs := toAttributes(attrs)
	m.span.SetAttributes(kvs...)

	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", commandsEventName),
		attribute.String("event.domain", commandsEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	}, kvs...)
	m.span.AddEvent(observabilityEvent, trace.WithAttributes(eventAttrs...))

	if err != nil {
		m.span.RecordError(err)
	}
	if severityNumber >= severityError {
		desc := http.StatusText(attrs["http.status_code"].(int))
		if err != nil {
			desc = err.Error()
		} else if m.errorStage != "" {
			desc = fmt.Sprintf("%s failed", m.errorStage)
		}
		m.span.SetStatus(codes.Error, desc)
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.End()
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", severityError
	case status >= http.StatusBadRequest:
		return "WARN", severityWarn
	default:
		return "INFO", severityInfo
	}
}

func levelForSeverity(n int) log.Level {
	switch {
	case n >= severityError:
		return log.ErrorLevel
	case n >= severityWarn:
		return log.WarnLevel
	default:
		return log.InfoLevel
	}
}

func toAttributes(attrs map[string]any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			out = append(out, attribute.String(k, val))
		case int:
			out = append(out, attribute.Int(k, val))
		case bool:
			out = append(out, attribute.Bool(k, val))
		case float64:
			out = append(out, attribute.Float64(k, val))
		default:
			out = append(out, attribute.String(k, fmt.Sprint(val)))
		}
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
