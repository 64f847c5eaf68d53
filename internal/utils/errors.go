package utils

import (
	"errors"
	"fmt"
	"net/http"
)

// Domain-level errors used by the service layer to provide
// fine-grained failure reasons. Callers match with errors.Is.
var (
	// Transport
	ErrTransient       = errors.New("transient_failure")
	ErrSessionExpired  = errors.New("session_expired")
	ErrUnauthenticated = errors.New("unauthenticated")

	// Remote API status mapping
	ErrBadRequest = errors.New("bad_request")
	ErrForbidden  = errors.New("forbidden")
	ErrNotFound   = errors.New("not_found")
	ErrConflict   = errors.New("conflict")

	// Instance / settlement validation
	ErrRewardOutOfRange     = errors.New("reward_out_of_range")
	ErrBidOutOfRange        = errors.New("bid_out_of_range")
	ErrShareOutOfRange      = errors.New("reward_share_out_of_range")
	ErrOutsideReviewWindow  = errors.New("outside_review_window")
	ErrWrongStatus          = errors.New("wrong_status")
	ErrInvalidPayload       = errors.New("invalid_payload")
	ErrRepositoryNotBound   = errors.New("repository_not_bound")
	ErrInvalidRepositoryURL = errors.New("invalid_repository_url")
)

// RangeError explains why a value was rejected. It unwraps to one of the
// *OutOfRange sentinels above.
type RangeError struct {
	Field string
	Value string
	Min   string
	Max   string
	Err   error
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s %s is outside the accepted range [%s, %s]", e.Field, e.Value, e.Min, e.Max)
}

func (e *RangeError) Unwrap() error {
	return e.Err
}

// AppError for structured error handling from services to controllers.
type AppError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// ToAppError maps domain and transport errors onto the status / code pair
// the render bridge reports. Unknown errors become a 500.
func ToAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var rangeErr *RangeError
	switch {
	case errors.As(err, &rangeErr):
		return &AppError{http.StatusUnprocessableEntity, ErrCodeValidation, rangeErr.Error(), err}
	case errors.Is(err, ErrOutsideReviewWindow):
		return &AppError{http.StatusConflict, ErrCodeOutsideReviewWindow, "Payment can only be blocked during the review window", err}
	case errors.Is(err, ErrWrongStatus):
		return &AppError{http.StatusConflict, ErrCodeWrongStatus, "Instance is not in a state that accepts this operation", err}
	case errors.Is(err, ErrSessionExpired):
		return &AppError{http.StatusUnauthorized, ErrCodeTokenExpired, "Session expired, please log in again", err}
	case errors.Is(err, ErrUnauthenticated):
		return &AppError{http.StatusUnauthorized, ErrCodeUnauthorized, "Not logged in", err}
	case errors.Is(err, ErrTransient):
		return &AppError{http.StatusBadGateway, ErrCodeTryAgain, "Marketplace API unavailable, try again", err}
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrRepositoryNotBound):
		return &AppError{http.StatusNotFound, ErrCodeNotFound, "Not found", err}
	case errors.Is(err, ErrConflict):
		return &AppError{http.StatusConflict, ErrCodeConflict, "Conflict", err}
	case errors.Is(err, ErrForbidden):
		return &AppError{http.StatusForbidden, ErrCodeForbidden, "Forbidden", err}
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrInvalidRepositoryURL):
		return &AppError{http.StatusBadRequest, ErrCodeInvalidPayload, err.Error(), err}
	}
	return &AppError{http.StatusInternalServerError, ErrCodeInternal, "An unexpected error occurred", err}
}

// HandleAppError centralizes responding to AppErrors.
func HandleAppError(w http.ResponseWriter, err error) {
	appErr := ToAppError(err)
	RespondErrorWithCode(w, appErr.StatusCode, appErr.Code, appErr.Message, nil, appErr.Err)
}
