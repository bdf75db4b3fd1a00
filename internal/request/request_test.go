package request

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"feedwatch/internal/testutil"
)

func testClient(h http.Handler) *http.Client {
	return &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			return w.Result(), nil
		}),
	}
}

type roundTripFunc func(r *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestMake(t *testing.T) {
	t.Parallel()

	httpc := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		testutil.AssertEqual(t, r.Method, http.MethodPost)
		testutil.AssertEqual(t, r.Header.Get("Content-Type"), "application/json")
		w.Write([]byte(`{"ok": true}`))
	}))

	resp, err := Make[struct {
		OK bool `json:"ok"`
	}](context.Background(), Params{
		Method:     http.MethodPost,
		URL:        "https://example.com/api",
		Body:       map[string]string{"hello": "world"},
		HTTPClient: httpc,
	})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, resp.OK, true)
}

func TestMakeIgnoreResponse(t *testing.T) {
	t.Parallel()

	httpc := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("certainly not JSON"))
	}))

	_, err := Make[IgnoreResponse](context.Background(), Params{
		Method:     http.MethodGet,
		URL:        "https://example.com/api",
		HTTPClient: httpc,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestMakeStatusError(t *testing.T) {
	t.Parallel()

	httpc := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusTeapot)
	}))

	_, err := Make[IgnoreResponse](context.Background(), Params{
		Method:     http.MethodGet,
		URL:        "https://example.com/api",
		HTTPClient: httpc,
	})

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("want StatusError, got %v", err)
	}
	testutil.AssertEqual(t, statusErr.StatusCode, http.StatusTeapot)
}

func TestScrubber(t *testing.T) {
	t.Parallel()

	httpc := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token s3cr3t is invalid", http.StatusBadRequest)
	}))

	_, err := Make[IgnoreResponse](context.Background(), Params{
		Method:     http.MethodGet,
		URL:        "https://example.com/api",
		HTTPClient: httpc,
		Scrubber:   strings.NewReplacer("s3cr3t", "[EXPUNGED]"),
	})
	if err == nil {
		t.Fatal("want error")
	}
	if strings.Contains(err.Error(), "s3cr3t") {
		t.Fatalf("error message %q leaks the token", err)
	}
	if !strings.Contains(err.Error(), "[EXPUNGED]") {
		t.Fatalf("error message %q is not scrubbed", err)
	}
}
