package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName             = "todo-api/api"
	tasksSpanName          = "todo.tasks.request"
	tasksEventName         = "todo.tasks.request"
	tasksEventDomain       = "todo-api"
	observabilityEventName = "observability.event"

	attrOperation        = "todo.tasks.operation"
	attrTotalMs          = "todo.tasks.total_ms"
	attrAuthMs           = "todo.tasks.auth_ms"
	attrStoreMs          = "todo.tasks.store_ms"
	attrEncodeMs         = "todo.tasks.encode_ms"
	attrTaskID           = "todo.tasks.task_id"
	attrTasksReturned    = "todo.tasks.tasks_returned"
	attrIdempotencyKey   = "todo.tasks.idempotency_key_provided"
	attrIdempotentReplay = "todo.tasks.idempotent_replay"
	attrErrorStage       = "todo.tasks.error_stage"
	attrErrorCause       = "todo.tasks.error_cause"
)

const (
	severityInfo  = "INFO"
	severityWarn  = "WARN"
	severityError = "ERROR"
)

// taskRequestMetrics collects timings and outcome of a single task request and
// reports them once as a span plus a structured log entry.
type taskRequestMetrics struct {
	logger    *log.Logger
	span      trace.Span
	route     string
	operation string
	start     time.Time

	authDuration   time.Duration
	storeDuration  time.Duration
	encodeDuration time.Duration

	taskID         int64
	tasksReturned  int
	listed         bool
	idempotencyKey bool
	replayed       bool
	errorStage     string
	cause          error
}

func newTaskRequestMetrics(ctx context.Context, logger *log.Logger, route, operation string) (*taskRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, tasksSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.route", route),
			attribute.String(attrOperation, operation),
		),
	)
	return &taskRequestMetrics{
		logger:    logger,
		span:      span,
		route:     route,
		operation: operation,
		start:     time.Now(),
	}, spanCtx
}

func (m *taskRequestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *taskRequestMetrics) ObserveStore(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.storeDuration += duration
}

func (m *taskRequestMetrics) ObserveEncode(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.encodeDuration = duration
}

func (m *taskRequestMetrics) SetTaskID(id int64) {
	m.taskID = id
}

func (m *taskRequestMetrics) SetTasksReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.listed = true
	m.tasksReturned = count
}

func (m *taskRequestMetrics) SetIdempotencyKeyProvided(provided bool) {
	m.idempotencyKey = provided
}

func (m *taskRequestMetrics) SetReplayed(replayed bool) {
	m.replayed = replayed
}

// SetErrorStage records where the request failed and the error behind it.
// cause may be nil.
func (m *taskRequestMetrics) SetErrorStage(stage string, cause error) {
	if stage == "" {
		return
	}
	m.errorStage = stage
	m.cause = cause
}

// Log ends the span and writes the observability event. err is the error the
// handler returned to echo, if any.
func (m *taskRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	severityText, severityNumber := severityForStatus(status, err)
	attrs := m.attributes(status, err)

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		eventAttrs := make([]attribute.KeyValue, 0, len(attrs)+4)
		eventAttrs = append(eventAttrs,
			attribute.String("event.name", tasksEventName),
			attribute.String("event.domain", tasksEventDomain),
			attribute.String("severity_text", severityText),
			attribute.Int("severity_number", severityNumber),
		)
		eventAttrs = append(eventAttrs, attrs...)
		m.span.AddEvent(observabilityEventName, trace.WithAttributes(eventAttrs...))
		switch {
		case err != nil:
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		case severityText == severityError:
			m.span.SetStatus(codes.Error, http.StatusText(status))
		default:
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      tasksEventName,
		"event.domain":    tasksEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attributesToFields(attrs),
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	m.logger.WithFields(fields).Log(levelForSeverity(severityText), observabilityEventName)
}

func (m *taskRequestMetrics) attributes(status int, err error) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.route", m.route),
		attribute.Int("http.status_code", status),
		attribute.String(attrOperation, m.operation),
		attribute.Float64(attrTotalMs, durationToMillis(time.Since(m.start))),
		attribute.Bool(attrIdempotencyKey, m.idempotencyKey),
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64(attrAuthMs, durationToMillis(m.authDuration)))
	}
	if m.storeDuration > 0 {
		attrs = append(attrs, attribute.Float64(attrStoreMs, durationToMillis(m.storeDuration)))
	}
	if m.encodeDuration > 0 {
		attrs = append(attrs, attribute.Float64(attrEncodeMs, durationToMillis(m.encodeDuration)))
	}
	if m.taskID > 0 {
		attrs = append(attrs, attribute.Int64(attrTaskID, m.taskID))
	}
	if m.listed {
		attrs = append(attrs, attribute.Int(attrTasksReturned, m.tasksReturned))
	}
	if m.replayed {
		attrs = append(attrs, attribute.Bool(attrIdempotentReplay, true))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String(attrErrorStage, m.errorStage))
	}
	if m.cause != nil {
		attrs = append(attrs, attribute.String(attrErrorCause, m.cause.Error()))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}
	return attrs
}

// severityForStatus maps a response to OpenTelemetry log severity text and
// number (INFO=9, WARN=13, ERROR=17).
func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return severityError, 17
	case status >= http.StatusBadRequest:
		return severityWarn, 13
	default:
		return severityInfo, 9
	}
}

func levelForSeverity(severity string) log.Level {
	switch severity {
	case severityError:
		return log.ErrorLevel
	case severityWarn:
		return log.WarnLevel
	default:
		return log.InfoLevel
	}
}

func attributesToFields(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
