package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/iWaraxe/L3StructuredOutput-sub000/llm"
)

// StatusOverloaded is the non-standard status some vendors use for an
// overloaded model.
const StatusOverloaded = 529

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// ErrorBody is the OpenAI-style error envelope.
type ErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
		Param   string `json:"param"`
	} `json:"error"`
}

// code returns the vendor error code as a string ("" when absent).
func (b *ErrorBody) code() string {
	switch c := b.Error.Code.(type) {
	case string:
		return c
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	default:
		return ""
	}
}

// ReadError reads and parses an error response body. msg falls back to the
// raw text when the body is not the standard envelope.
func ReadError(body io.Reader) (msg string, parsed *ErrorBody) {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return "failed to read error response", nil
	}
	var eb ErrorBody
	if err := json.Unmarshal(data, &eb); err == nil && eb.Error.Message != "" {
		if eb.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", eb.Error.Message, eb.Error.Type), &eb
		}
		return eb.Error.Message, &eb
	}
	return strings.TrimSpace(string(data)), nil
}

// MapHTTPError classifies an HTTP failure into a *llm.ProviderError. The
// vendor's structured error code refines 400 and 403 responses; the
// message text is never inspected.
func MapHTTPError(resp *http.Response, provider string) *llm.ProviderError {
	msg, body := ReadError(resp.Body)
	vendorCode := ""
	if body != nil {
		vendorCode = body.code()
		if vendorCode == "" {
			vendorCode = body.Error.Type
		}
	}

	var e *llm.ProviderError
	status := resp.StatusCode
	switch {
	case isContentFilterCode(vendorCode):
		e = llm.ContentFiltered(msg)
	case status == http.StatusUnauthorized:
		e = llm.Fatal(llm.CodeUnauthorized, msg)
	case status == http.StatusForbidden:
		e = llm.Fatal(llm.CodeForbidden, msg)
	case status == http.StatusTooManyRequests:
		if vendorCode == "insufficient_quota" {
			e = llm.Fatal(llm.CodeQuotaExceeded, msg)
		} else {
			e = llm.RateLimited(msg, ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()))
		}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e = llm.Transient(llm.CodeUpstreamTimeout, msg)
	case status == StatusOverloaded:
		e = llm.Transient(llm.CodeOverloaded, msg)
	case status >= 500:
		e = llm.Transient(llm.CodeUpstreamError, msg)
	case vendorCode == "insufficient_quota":
		e = llm.Fatal(llm.CodeQuotaExceeded, msg)
	default:
		e = llm.Fatal(llm.CodeInvalidRequest, msg)
	}
	e.HTTPStatus = status
	e.Provider = provider
	return e
}

func isContentFilterCode(code string) bool {
	switch code {
	case "content_filter", "content_policy_violation", "content_filtered":
		return true
	}
	return false
}

// ParseRetryAfter parses a Retry-After header in either delta-seconds or
// HTTP-date form. Unparseable or past values yield zero.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
