package workload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-engine/pkg/types"
)

func postsServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/posts":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `[{"id":1,"title":"a"},{"id":2,"title":"b"}]`)
		case "/echo":
			body, _ := io.ReadAll(r.Body)
			w.Header().Set("X-Method", r.Method)
			w.Header().Set("X-Token", r.Header.Get("X-Token"))
			_, _ = w.Write(body)
		case "/missing":
			http.NotFound(w, r)
		case "/slow":
			select {
			case <-time.After(500 * time.Millisecond):
			case <-r.Context().Done():
			}
			fmt.Fprint(w, "late")
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewHTTPWorkload_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  HTTPConfig
	}{
		{"missing url", HTTPConfig{}},
		{"blank url", HTTPConfig{URL: "   "}},
		{"bad scheme", HTTPConfig{URL: "ftp://example.com"}},
		{"bad check", HTTPConfig{URL: "http://example.com", Checks: []CheckConfig{{Name: "nothing"}}}},
		{"bad jsonpath", HTTPConfig{URL: "http://example.com", Checks: []CheckConfig{{JSONPath: "$[[["}}}},
		{"bad script", HTTPConfig{URL: "http://example.com", Checks: []CheckConfig{{Script: "r.status ==="}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHTTPWorkload(tt.cfg)
			require.Error(t, err)
			var cfgErr *types.ConfigError
			assert.True(t, errors.As(err, &cfgErr), "want ConfigError, got %T", err)
		})
	}
}

func TestHTTPWorkload_Defaults(t *testing.T) {
	w, err := NewHTTPWorkload(HTTPConfig{URL: "http://example.com/x", Method: "post"})
	require.NoError(t, err)
	defer w.Close()

	cfg := w.Config()
	assert.Equal(t, http.MethodPost, cfg.Method)
	assert.Equal(t, int64(defaultMaxBodyBytes), cfg.MaxBodyBytes)
	assert.Equal(t, DefaultExpectedStatuses, w.expected)
}

func TestHTTPWorkload_Execute(t *testing.T) {
	srv := postsServer(t)

	w, err := NewHTTPWorkload(HTTPConfig{
		URL: srv.URL + "/posts",
		Checks: []CheckConfig{
			{Name: "status is 200", Status: 200},
			{Name: "response time < 500ms", MaxDuration: 500 * time.Millisecond},
			{Name: "response has posts", Script: "r.json().length > 0"},
			{Name: "first id", JSONPath: "$[0].id", Equals: "1"},
		},
	})
	require.NoError(t, err)
	defer w.Close()

	out, err := w.Execute(context.Background())
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, http.StatusOK, out.Status)
	assert.True(t, out.OK)
	assert.Empty(t, out.Error)
	assert.Positive(t, out.BytesSent)
	assert.Greater(t, out.BytesReceived, int64(len(`[{"id":1,"title":"a"},{"id":2,"title":"b"}]`)))

	tm := out.Timings
	assert.Positive(t, tm.Duration)
	assert.Equal(t, tm.Sending+tm.Waiting+tm.Receiving, tm.Duration)
	assert.Zero(t, tm.TLSHandshaking)

	require.Len(t, out.Checks, 4)
	for _, c := range out.Checks {
		assert.True(t, c.Passed, "check %q: %s", c.Name, c.Error)
	}
	assert.Equal(t, []string{"status is 200", "response time < 500ms", "response has posts", "first id"}, w.Checks())
}

func TestHTTPWorkload_MethodHeadersBody(t *testing.T) {
	srv := postsServer(t)

	w, err := NewHTTPWorkload(HTTPConfig{
		Method:  "PUT",
		URL:     srv.URL + "/echo",
		Headers: map[string]string{"X-Token": "abc"},
		Body:    `{"hello":"world"}`,
		Checks: []CheckConfig{
			{Name: "echoed", BodyContains: "world"},
			{Name: "method", Script: `r.headers["X-Method"] === "PUT" && r.headers["X-Token"] === "abc"`},
		},
	})
	require.NoError(t, err)
	defer w.Close()

	out, err := w.Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, out.Checks, 2)
	assert.True(t, out.Checks[0].Passed)
	assert.True(t, out.Checks[1].Passed, out.Checks[1].Error)
	assert.Greater(t, out.BytesSent, int64(len(`{"hello":"world"}`)))
}

func TestHTTPWorkload_UnexpectedStatus(t *testing.T) {
	srv := postsServer(t)

	w, err := NewHTTPWorkload(HTTPConfig{URL: srv.URL + "/missing"})
	require.NoError(t, err)
	defer w.Close()

	out, err := w.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, out.Status)
	assert.False(t, out.OK)
	assert.Contains(t, out.Error, "404")

	w, err = NewHTTPWorkload(HTTPConfig{
		URL:              srv.URL + "/missing",
		ExpectedStatuses: []StatusRange{{Min: 404, Max: 404}},
	})
	require.NoError(t, err)
	defer w.Close()

	out, err = w.Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, out.OK)
}

func TestHTTPWorkload_FailOnCheck(t *testing.T) {
	srv := postsServer(t)

	for _, failOnCheck := range []bool{false, true} {
		t.Run(fmt.Sprintf("fail_on_check=%v", failOnCheck), func(t *testing.T) {
			w, err := NewHTTPWorkload(HTTPConfig{
				URL:         srv.URL + "/posts",
				FailOnCheck: failOnCheck,
				Checks:      []CheckConfig{{Name: "is 201", Status: 201}},
			})
			require.NoError(t, err)
			defer w.Close()

			out, err := w.Execute(context.Background())
			require.NoError(t, err)
			require.Len(t, out.Checks, 1)
			assert.False(t, out.Checks[0].Passed)
			assert.Equal(t, !failOnCheck, out.OK)
		})
	}
}

func TestHTTPWorkload_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	w, err := NewHTTPWorkload(HTTPConfig{URL: url})
	require.NoError(t, err)
	defer w.Close()

	out, err := w.Execute(context.Background())
	require.Error(t, err)
	require.NotNil(t, out)
	assert.False(t, out.OK)
	assert.NotEmpty(t, out.Error)
	assert.Zero(t, out.Status)
}

func TestHTTPWorkload_ContextDeadline(t *testing.T) {
	srv := postsServer(t)

	w, err := NewHTTPWorkload(HTTPConfig{URL: srv.URL + "/slow"})
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	out, err := w.Execute(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, out.OK)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestHTTPWorkload_ConcurrentUse(t *testing.T) {
	srv := postsServer(t)

	w, err := NewHTTPWorkload(HTTPConfig{
		URL:    srv.URL + "/posts",
		Checks: []CheckConfig{{Name: "has posts", Script: "r.json().length === 2"}},
	})
	require.NoError(t, err)
	defer w.Close()

	const workers = 8
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			for j := 0; j < 10; j++ {
				out, err := w.Execute(context.Background())
				if err != nil {
					errs <- err
					return
				}
				if !out.Checks[0].Passed {
					errs <- fmt.Errorf("check failed: %s", out.Checks[0].Error)
					return
				}
			}
			errs <- nil
		}()
	}
	for i := 0; i < workers; i++ {
		require.NoError(t, <-errs)
	}
}

func TestTracerTimings(t *testing.T) {
	base := time.Unix(1700000000, 0)
	at := func(ms int) time.Time { return base.Add(time.Duration(ms) * time.Millisecond) }

	tr := &tracer{
		start:        at(0),
		connectStart: at(2),
		connectDone:  at(5),
		tlsStart:     at(5),
		tlsDone:      at(9),
		gotConn:      at(10),
		wroteRequest: at(11),
		firstByte:    at(31),
		end:          at(36),
	}
	tm := tr.timings()
	assert.Equal(t, 3*time.Millisecond, tm.Connecting)
	assert.Equal(t, 4*time.Millisecond, tm.TLSHandshaking)
	assert.Equal(t, 3*time.Millisecond, tm.Blocked)
	assert.Equal(t, 1*time.Millisecond, tm.Sending)
	assert.Equal(t, 20*time.Millisecond, tm.Waiting)
	assert.Equal(t, 5*time.Millisecond, tm.Receiving)
	assert.Equal(t, 26*time.Millisecond, tm.Duration)

	partial := &tracer{start: at(0), gotConn: at(1), wroteRequest: at(2), end: at(50)}
	tm = partial.timings()
	assert.Equal(t, 48*time.Millisecond, tm.Waiting)
	assert.Zero(t, tm.Receiving)
	assert.Equal(t, 49*time.Millisecond, tm.Duration)
}
