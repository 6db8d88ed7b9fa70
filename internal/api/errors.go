package api

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind buckets every client failure into one actionable category.
type Kind string

const (
	KindNetwork    Kind = "network"     // transport unreachable, no HTTP response
	KindAuth       Kind = "auth"        // 401
	KindQuota      Kind = "quota"       // 402
	KindTier       Kind = "tier"        // 403
	KindRateLimit  Kind = "rate_limit"  // 429
	KindBadRequest Kind = "bad_request" // 400
	KindServer     Kind = "server"      // 5xx
	KindProtocol   Kind = "protocol"    // well-formed response, wrong shape
	KindCancelled  Kind = "cancelled"   // user abort
)

// Error is the normalized failure shape for every generation and account
// call. Status 0 means the transport failed before any HTTP response.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	Code    string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func networkError(err error) *Error {
	return &Error{Kind: KindNetwork, Message: err.Error(), Status: 0}
}

func cancelledError() *Error {
	return &Error{Kind: KindCancelled, Message: "generation cancelled"}
}

func protocolError(msg string) *Error {
	return &Error{Kind: KindProtocol, Message: msg}
}

func classify(status int, message, code string) *Error {
	kind := KindProtocol
	switch {
	case status == 0:
		kind = KindNetwork
	case status == 401:
		kind = KindAuth
	case status == 402:
		kind = KindQuota
	case status == 403:
		kind = KindTier
	case status == 429:
		kind = KindRateLimit
	case status == 400:
		kind = KindBadRequest
	case status >= 500:
		kind = KindServer
	case status >= 400:
		kind = KindBadRequest
	}
	if message == "" {
		message = "request failed"
	}
	return &Error{Kind: kind, Message: message, Status: status, Code: code}
}

// errorBody matches the JSON error payloads the service produces, both the
// nested {"error": {...}} shape and the flat one.
type errorBody struct {
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Detail  string `json:"detail"`
}

// errorFromBody builds a classified error from a response body, falling back
// to the raw text when it is not JSON.
func errorFromBody(status int, body []byte) *Error {
	msg, code, ok := parseErrorBody(body)
	if !ok {
		msg = trimmedBody(body)
	}
	return classify(status, msg, code)
}

func parseErrorBody(body []byte) (message, code string, ok bool) {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return "", "", false
	}
	switch {
	case eb.Error != nil && eb.Error.Message != "":
		return eb.Error.Message, eb.Error.Code, true
	case eb.Message != "":
		return eb.Message, eb.Code, true
	case eb.Detail != "":
		return eb.Detail, eb.Code, true
	}
	return "", "", false
}

func trimmedBody(body []byte) string {
	const max = 200
	s := string(body)
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}

// IsCancelled reports whether the error is a user-initiated abort.
func IsCancelled(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == KindCancelled
}

// UserMessage turns any client error into a short, actionable sentence for
// display, both as a toast and inline in the failed message record.
func UserMessage(err error) string {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return fmt.Sprintf("Something went wrong: %v", err)
	}
	switch apiErr.Kind {
	case KindNetwork:
		return "Could not reach the generation service. Check your connection and try again."
	case KindAuth:
		return "Your API key was rejected. Sign in again or update the key."
	case KindQuota:
		return "Not enough pollen for this request. Top up your balance and retry."
	case KindTier:
		return "This model needs a higher account tier."
	case KindRateLimit:
		return "Rate limited. Wait a moment before sending again."
	case KindBadRequest:
		return fmt.Sprintf("The service rejected the request: %s", apiErr.Message)
	case KindServer:
		return "The model is unavailable right now. Try again shortly."
	case KindCancelled:
		return "Generation stopped."
	default:
		return fmt.Sprintf("Unexpected response from the service: %s", apiErr.Message)
	}
}
