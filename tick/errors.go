package tick

import (
	"go.uber.org/zap"
)

// ErrorCategory classifies the abnormal paths reported through an ErrorSink.
type ErrorCategory string

// The reportable failure categories.
const (
	WorkerCrashed         ErrorCategory = "WORKER_CRASHED"
	WorkerTimeout         ErrorCategory = "WORKER_TIMEOUT"
	BatchProcessingFailed ErrorCategory = "BATCH_PROCESSING_FAILED"
	SchedulerError        ErrorCategory = "SCHEDULER_ERROR"
)

// Severity grades a reported failure.
type Severity int

// The severity levels, mildest first.
const (
	SeverityWarning Severity = iota
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// A Report describes one abnormal event. Every abnormal path in the engine
// reports exactly once, never silently.
type Report struct {
	Category ErrorCategory
	Severity Severity
	Message  string
	Context  map[string]any
	Err      error
}

// An ErrorSink accepts categorized failure reports. The host supplies one
// sink; the engine never decides recovery policy on its own.
type ErrorSink interface {
	Report(r Report)
}

// NopSink discards all reports.
type NopSink struct{}

// Report implements ErrorSink.
func (NopSink) Report(Report) {}

// ZapSink forwards reports to a zap logger at a level matching the report
// severity.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a ZapSink writing to logger.
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger}
}

// Report implements ErrorSink.
func (s *ZapSink) Report(r Report) {
	fields := make([]zap.Field, 0, len(r.Context)+3)
	fields = append(fields,
		zap.String("category", string(r.Category)),
		zap.String("severity", r.Severity.String()),
	)
	for k, v := range r.Context {
		fields = append(fields, zap.Any(k, v))
	}
	if r.Err != nil {
		fields = append(fields, zap.Error(r.Err))
	}

	switch r.Severity {
	case SeverityWarning:
		s.logger.Warn(r.Message, fields...)
	default:
		s.logger.Error(r.Message, fields...)
	}
}
