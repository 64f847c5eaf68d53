package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/GroupLang/agent-market-client/internal/utils"
)

// APIError is a non-2xx response from the marketplace API. It matches the
// utils sentinel for its status class under errors.Is.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", strings.ToLower(http.StatusText(e.StatusCode)), e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case utils.ErrBadRequest:
		return e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnprocessableEntity
	case utils.ErrUnauthenticated:
		return e.StatusCode == http.StatusUnauthorized
	case utils.ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	case utils.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case utils.ErrConflict:
		return e.StatusCode == http.StatusConflict
	case utils.ErrTransient:
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
	}
	return false
}

// NetworkError wraps a failure to get any response at all.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("failed to make request: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) Is(target error) bool {
	return target == utils.ErrTransient
}

// ExhaustedError is returned once the retry budget is spent on transient
// failures. It still matches utils.ErrTransient so callers can offer a
// manual "try again".
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// errorBody covers the shapes the API uses: {"detail": "..."} and
// {"error": "..."}. detail may also be a list of validation items.
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
	Error  string          `json:"error"`
}

func parseAPIError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	msg := strings.TrimSpace(string(bodyBytes))
	var body errorBody
	if err := json.Unmarshal(bodyBytes, &body); err == nil {
		switch {
		case body.Error != "":
			msg = body.Error
		case len(body.Detail) > 0:
			var s string
			if json.Unmarshal(body.Detail, &s) == nil {
				msg = s
			} else {
				msg = string(body.Detail)
			}
		}
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: msg}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if sec, err := strconv.Atoi(ra); err == nil {
			apiErr.RetryAfter = time.Duration(sec) * time.Second
		}
	}
	return apiErr
}
