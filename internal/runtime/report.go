package runtime

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/canectors/cdp-inventory/pkg/inventory"
)

// ErrorsKey is the reserved report key holding per-job failures.
const ErrorsKey = "_errors"

// Outcome is the final status of a run.
type Outcome string

// Run outcomes
const (
	OutcomeSuccess           Outcome = "success"
	OutcomePartial           Outcome = "partial"
	OutcomeValidationFailure Outcome = "validation_failure"
	OutcomeUnexpectedFailure Outcome = "unexpected_failure"
	OutcomeNoPlatforms       Outcome = "no_platforms"
)

// Error codes of failure payloads
const (
	CodeValidationFailed  = "VALIDATION_FAILED"
	CodeUnexpectedFailure = "UNEXPECTED_FAILURE"
	CodeNoPlatforms       = "NO_PLATFORMS"
)

const (
	noPlatformsMessage    = "no supported platform could be resolved from the connections"
	defaultFailureMessage = "all jobs failed"
)

// StatusCode maps the outcome to its HTTP status.
func (o Outcome) StatusCode() int {
	switch o {
	case OutcomeSuccess, OutcomePartial:
		return http.StatusOK
	case OutcomeValidationFailure:
		return http.StatusBadRequest
	case OutcomeNoPlatforms:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Failed reports whether the run produced no result at all.
func (o Outcome) Failed() bool {
	return o != OutcomeSuccess && o != OutcomePartial
}

// Report is the merged result of a run.
type Report struct {
	RunID   string
	Outcome Outcome

	// Results holds the inventory of each successful job.
	Results map[string]*inventory.EntityInventory

	// Errors holds the failure of each failed job. A key is never in both maps.
	Errors map[string]inventory.ErrorDescriptor

	// Keys lists the result keys in job order.
	Keys []string

	// Failure is set when the run was rejected before any job executed
	// (e.g. a duplicate fan-out identifier).
	Failure *inventory.ErrorDescriptor

	StartedAt time.Time
	Duration  time.Duration
}

// ErrorBody is the payload of a run that produced no result.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a total failure.
type ErrorDetail struct {
	Code    string            `json:"code"`
	Kind    string            `json:"kind,omitempty"`
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func newReport(runID string, startedAt time.Time) *Report {
	return &Report{
		RunID:     runID,
		Results:   make(map[string]*inventory.EntityInventory),
		Errors:    make(map[string]inventory.ErrorDescriptor),
		StartedAt: startedAt,
	}
}

// StatusCode returns the HTTP status of the report.
func (r *Report) StatusCode() int {
	return r.Outcome.StatusCode()
}

// ErrorMessages returns the failure message of each failed job.
func (r *Report) ErrorMessages() map[string]string {
	if len(r.Errors) == 0 {
		return nil
	}
	out := make(map[string]string, len(r.Errors))
	for k, d := range r.Errors {
		out[k] = d.Message
	}
	return out
}

// Payload returns the response document: the results keyed by result key with
// failures under ErrorsKey, or an ErrorBody when nothing succeeded.
func (r *Report) Payload() interface{} {
	if !r.Outcome.Failed() {
		payload := make(map[string]interface{}, len(r.Results)+1)
		for k, inv := range r.Results {
			payload[k] = inv
		}
		if msgs := r.ErrorMessages(); msgs != nil {
			payload[ErrorsKey] = msgs
		}
		return payload
	}

	detail := ErrorDetail{Message: r.failureMessage(), Errors: r.ErrorMessages()}
	switch r.Outcome {
	case OutcomeNoPlatforms:
		detail.Code = CodeNoPlatforms
	case OutcomeValidationFailure:
		detail.Code = CodeValidationFailed
		detail.Kind = string(inventory.KindValidation)
	default:
		detail.Code = CodeUnexpectedFailure
		detail.Kind = string(inventory.KindUnexpected)
	}
	return ErrorBody{Error: detail}
}

// MarshalJSON implements json.Marshaler.
func (r *Report) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Payload())
}

// failureMessage joins the job failures as "key: message" in job order.
func (r *Report) failureMessage() string {
	if r.Outcome == OutcomeNoPlatforms {
		return noPlatformsMessage
	}
	if r.Failure != nil {
		return r.Failure.Message
	}
	parts := make([]string, 0, len(r.Errors))
	for _, k := range r.Keys {
		if d, ok := r.Errors[k]; ok {
			parts = append(parts, k+": "+d.Message)
		}
	}
	if len(parts) == 0 {
		return defaultFailureMessage
	}
	return strings.Join(parts, "; ")
}

// validationKeywords flag a failure as validation-class when its kind was lost.
var validationKeywords = []string{"permission", "required", "invalid"}

// classify computes the outcome from the merged maps.
func classify(results map[string]*inventory.EntityInventory, errs map[string]inventory.ErrorDescriptor) Outcome {
	switch {
	case len(results) > 0 && len(errs) > 0:
		return OutcomePartial
	case len(results) > 0:
		return OutcomeSuccess
	case len(errs) == 0:
		return OutcomeNoPlatforms
	}

	for _, d := range errs {
		if d.Kind == inventory.KindValidation {
			return OutcomeValidationFailure
		}
		msg := strings.ToLower(d.Message)
		for _, kw := range validationKeywords {
			if strings.Contains(msg, kw) {
				return OutcomeValidationFailure
			}
		}
	}
	return OutcomeUnexpectedFailure
}
