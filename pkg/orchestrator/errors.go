package orchestrator

import (
	"fmt"
	"net/http"
)

// ErrorKind names the closed set of orchestrator failures. The API layer maps
// each kind to its HTTP status.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation_failed"
	KindNotFound            ErrorKind = "not_found"
	KindPlanStale           ErrorKind = "plan_stale"
	KindHighRiskConfirm     ErrorKind = "high_risk_confirmation_required"
	KindRunnerNotConnected  ErrorKind = "runner_not_connected"
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	KindVerifyFailed        ErrorKind = "verify_failed"
	KindGitOpFailed         ErrorKind = "git_op_failed"
	KindPRAdapter           ErrorKind = "pr_adapter_failed"
)

// Error is a typed orchestrator failure with optional structured details
type Error struct {
	Kind    ErrorKind
	Message string
	Details map[string]interface{}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// HTTPStatus returns the status code the API layer responds with
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindPlanStale, KindHighRiskConfirm, KindRunnerNotConnected, KindVerifyFailed:
		return http.StatusConflict
	case KindProviderUnavailable:
		return http.StatusServiceUnavailable
	case KindPRAdapter:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) withDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}
