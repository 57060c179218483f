package bitget

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Venue status codes that indicate a credential/signature problem. These are
// definite rejections: retrying cannot succeed and the user's auto-trading
// should be disabled.
var authCodes = map[string]bool{
	"40001": true, // ACCESS-KEY header missing
	"40002": true, // ACCESS-SIGN header missing
	"40006": true, // invalid ACCESS-KEY
	"40009": true, // signature mismatch
	"40012": true, // incorrect passphrase
	"40013": true, // user frozen
	"40037": true, // api key does not exist
}

// APIError describes a failed venue call. HTTPStatus and Code are both kept
// because the venue reports its own status independently of HTTP.
type APIError struct {
	Path       string
	HTTPStatus int
	Code       string
	Msg        string
	Err        error // transport-level cause, if any
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bitget %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("bitget %s: http %d code %s: %s", e.Path, e.HTTPStatus, e.Code, e.Msg)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is worth retrying: network errors,
// timeouts, throttling and server-side 5xx. Definite rejections are not.
func (e *APIError) Transient() bool {
	if e.IsAuth() {
		return false
	}
	if e.Err != nil {
		var netErr net.Error
		if errors.As(e.Err, &netErr) {
			return true
		}
		if errors.Is(e.Err, context.DeadlineExceeded) {
			return true
		}
		// Undecoded body on a 5xx is still a server problem.
		return e.HTTPStatus == 0 || e.HTTPStatus >= 500
	}
	return e.HTTPStatus == 429 || e.HTTPStatus >= 500
}

// IsAuth reports whether the venue rejected the credentials themselves.
func (e *APIError) IsAuth() bool {
	if e.HTTPStatus == 401 || e.HTTPStatus == 403 {
		return true
	}
	return authCodes[e.Code]
}
