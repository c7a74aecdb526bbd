package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

const (
	formContentType = "application/x-www-form-urlencoded"
	jsonContentType = "application/json"
)

// HTTPResult is what the router wrote for one request
type HTTPResult struct {
	Code    int
	Error   error
	Headers http.Header
	Body    []byte
}

// Location parses the Location header, nil when there is none
func (r HTTPResult) Location() *url.URL {
	location := r.Headers.Get("Location")
	if location == "" {
		return nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil
	}
	return u
}

// RequestOption adjusts a request before it is served
type RequestOption func(*http.Request)

func WithContentType(contentType string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set("Content-Type", contentType)
	}
}

// Do serves one request against router. When response is non-nil and the
// body is not empty, the body is decoded into it as JSON.
func Do(
	router http.Handler,
	method string,
	target string,
	body io.Reader,
	response any,
	opts ...RequestOption,
) HTTPResult {
	req := httptest.NewRequest(method, target, body)
	for _, opt := range opts {
		opt(req)
	}
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	result := HTTPResult{Code: res.Code, Headers: res.Header(), Body: res.Body.Bytes()}
	if response != nil && len(result.Body) > 0 {
		if err := json.Unmarshal(result.Body, response); err != nil {
			result.Error = fmt.Errorf("failed to decode JSON: %v\n%s", err, result.Body)
		}
	}
	return result
}

func Get(
	router http.Handler,
	target string,
	response any,
) HTTPResult {
	return Do(router, http.MethodGet, target, nil, response)
}

func PostForm(
	router http.Handler,
	target string,
	values url.Values,
	response any,
) HTTPResult {
	return Do(router, http.MethodPost, target, strings.NewReader(values.Encode()), response,
		WithContentType(formContentType))
}

func PostJSON(
	router http.Handler,
	target string,
	body string,
	response any,
) HTTPResult {
	return Do(router, http.MethodPost, target, strings.NewReader(body), response,
		WithContentType(jsonContentType))
}

// LoginForm is the body the login page posts
func LoginForm(
	interaction string,
	handle string,
	secret string,
) url.Values {
	return url.Values{
		"interaction": {interaction},
		"handle":      {handle},
		"secret":      {secret},
	}
}

// TokenForm is a code exchange for the demo client
func TokenForm(
	code string,
	pkce PKCE,
) url.Values {
	return url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {DemoRedirect},
		"client_id":     {DemoClient},
		"code_verifier": {pkce.Verifier},
	}
}

func ExpectStatus(
	t *testing.T,
	expected int,
	result HTTPResult,
) {
	t.Helper()
	if result.Error != nil {
		t.Fatalf("request error: %v", result.Error)
	}
	if result.Code != expected {
		t.Fatalf("expected status %d, got %d. Body: %s", expected, result.Code, string(result.Body))
	}
}

// ExpectRedirect checks for a 303 and returns where it points
func ExpectRedirect(
	t *testing.T,
	result HTTPResult,
) *url.URL {
	t.Helper()
	if result.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect (303), got %d. Body: %s", result.Code, string(result.Body))
	}
	location := result.Location()
	if location == nil {
		t.Fatalf("expected a valid Location header, got %q", result.Headers.Get("Location"))
	}
	return location
}

// ExpectOAuthError checks an RFC 6749 error body from the token endpoint
func ExpectOAuthError(
	t *testing.T,
	status int,
	code string,
	result HTTPResult,
) {
	t.Helper()
	if result.Code != status {
		t.Fatalf("expected status %d, got %d. Body: %s", status, result.Code, string(result.Body))
	}
	var body struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(result.Body, &body); err != nil {
		t.Fatalf("token error is not JSON: %v\n%s", err, result.Body)
	}
	if body.Error != code {
		t.Fatalf("error = %q (%s), want %q", body.Error, body.ErrorDescription, code)
	}
	if result.Headers.Get("Cache-Control") != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", result.Headers.Get("Cache-Control"))
	}
}
