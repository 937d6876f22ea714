package cloudsdk

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/imroc/req/v3"
)

var (
	ErrNoServerURL      = errors.New("sdk: server url missing")
	ErrInvalidServerURL = errors.New("sdk: invalid server url")

	// ErrTransport wraps every failure that is not a response from the api itself:
	// network errors, timeouts, and bodies that are not a valid envelope
	ErrTransport = errors.New("sdk: transport error")
)

// APIError is an application level failure reported by the server
type APIError struct {
	Op      string
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s: code=%d status=%d: %s", e.Op, e.Code, e.Status, e.Message)
}

// IsAPIError reports whether err carries an *APIError
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// IsNotFound reports whether the server answered that the node does not exist
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsTransportError reports whether err is a transport failure
func IsTransportError(err error) bool {
	return errors.Is(err, ErrTransport)
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func transportError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}

// handleAPIError maps a response into nil, *APIError or a transport error
func handleAPIError(resp *req.Response, requestErr error, op string, body *errorBody) error {
	if requestErr != nil {
		return transportError(op, requestErr)
	}

	if resp.IsErrorState() {
		if body != nil && (body.Code != 0 || body.Message != "") {
			return &APIError{Op: op, Status: resp.StatusCode, Code: body.Code, Message: body.Message}
		}
		return transportError(op, fmt.Errorf("unexpected status %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
	}

	if !resp.IsSuccessState() {
		return transportError(op, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	return nil
}
