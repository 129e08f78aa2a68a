package errors

import (
	"net/http"
	"time"
)

// ProblemDetails represents RFC 7807 compliant error response.
// The HTTP layer is an external collaborator; this is the shape it is handed.
type ProblemDetails struct {
	Type      string       `json:"type"`
	Title     string       `json:"title"`
	Status    int          `json:"status"`
	Detail    string       `json:"detail"`
	Instance  string       `json:"instance,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	TraceID   string       `json:"traceId,omitempty"`
	Errors    []FieldError `json:"errors,omitempty"`
}

const problemBase = "https://api.pincex.com/errors/"

type problemMapping struct {
	slug   string
	title  string
	status int
}

var problems = map[string]problemMapping{
	KindValidation:        {"validation-error", "Validation Error", http.StatusBadRequest},
	KindInvalidTransition: {"invalid-transition", "Invalid State Transition", http.StatusConflict},
	KindConflict:          {"conflict", "Conflict", http.StatusConflict},
	KindNotFound:          {"not-found", "Not Found", http.StatusNotFound},
	KindOverfill:          {"overfill", "Fill Exceeds Remaining Quantity", http.StatusUnprocessableEntity},
	KindAlreadyResolved:   {"already-resolved", "Risk Event Already Resolved", http.StatusConflict},
	KindStorage:           {"storage-unavailable", "Storage Unavailable", http.StatusServiceUnavailable},
	KindAuditFailure:      {"audit-failure", "Audit Trail Failure", http.StatusInternalServerError},
	KindHalted:            {"trading-halted", "Trading Halted", http.StatusForbidden},
	KindBrokerUnavailable: {"broker-unavailable", "Broker Unavailable", http.StatusBadGateway},
}

// ToProblemDetails converts any error into RFC 7807 problem details, preserving its kind.
func ToProblemDetails(err error, instance string) *ProblemDetails {
	p := &ProblemDetails{
		Type:      problemBase + "internal-error",
		Title:     "Internal Server Error",
		Status:    http.StatusInternalServerError,
		Detail:    err.Error(),
		Instance:  instance,
		Timestamp: time.Now().UTC(),
	}

	var e *Error
	if !As(err, &e) {
		return p
	}
	if m, ok := problems[e.Kind]; ok {
		p.Type = problemBase + m.slug
		p.Title = m.title
		p.Status = m.status
	}
	if e.Message != "" {
		p.Detail = e.Message
	}
	p.Errors = e.Fields
	return p
}

// WithTraceID adds a trace ID to the problem details
func (p *ProblemDetails) WithTraceID(traceID string) *ProblemDetails {
	p.TraceID = traceID
	return p
}
