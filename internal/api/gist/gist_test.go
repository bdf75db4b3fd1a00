package gist

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"feedwatch/internal/testutil"
)

func testClient(t *testing.T, h http.HandlerFunc) *Client {
	return &Client{
		Token: "test",
		HTTPClient: &http.Client{
			Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
				w := httptest.NewRecorder()
				h.ServeHTTP(w, r)
				return w.Result(), nil
			}),
		},
	}
}

type roundTripFunc func(r *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestGet(t *testing.T) {
	t.Parallel()

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		testutil.AssertEqual(t, r.Method, http.MethodGet)
		testutil.AssertEqual(t, r.URL.Path, "/gists/test")
		testutil.AssertEqual(t, r.Header.Get("Authorization"), "Bearer test")
		json.NewEncoder(w).Encode(&Gist{
			Files: map[string]File{"seen.json": {Content: "{}"}},
		})
	})

	g, err := c.Get(context.Background(), "test")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, g.Files["seen.json"].Content, "{}")
}

func TestUpdate(t *testing.T) {
	t.Parallel()

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		testutil.AssertEqual(t, r.Method, http.MethodPatch)
		b, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatal(err)
		}
		g := testutil.UnmarshalJSON[*Gist](t, b)
		testutil.AssertEqual(t, g.Files["seen.json"].Content, `{"count":0}`)
		w.Write(b)
	})

	_, err := c.Update(context.Background(), "test", &Gist{
		Files: map[string]File{"seen.json": {Content: `{"count":0}`}},
	})
	if err != nil {
		t.Fatal(err)
	}
}
