// Package workload provides the HTTP request workload driven by each VU, with
// k6 style timing breakdown and response checks.
package workload

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync"
	"time"

	"yqhp/load-engine/pkg/types"
)

const (
	defaultMethod       = http.MethodGet
	defaultMaxBodyBytes = 10 << 20
	defaultMaxRedirects = 10
)

// StatusRange is an inclusive range of expected status codes.
type StatusRange struct {
	Min int `yaml:"min" json:"min"`
	Max int `yaml:"max" json:"max"`
}

// Contains reports whether code is inside the range.
func (r StatusRange) Contains(code int) bool {
	return code >= r.Min && code <= r.Max
}

// DefaultExpectedStatuses marks 2xx and 3xx responses as successful.
var DefaultExpectedStatuses = []StatusRange{{Min: 200, Max: 399}}

// HTTPConfig describes the request each iteration sends.
type HTTPConfig struct {
	Method           string            `yaml:"method" json:"method"`
	URL              string            `yaml:"url" json:"url"`
	Headers          map[string]string `yaml:"headers" json:"headers,omitempty"`
	Body             string            `yaml:"body" json:"body,omitempty"`
	ExpectedStatuses []StatusRange     `yaml:"expected_statuses" json:"expected_statuses,omitempty"`
	Checks           []CheckConfig     `yaml:"checks" json:"checks,omitempty"`
	FailOnCheck      bool              `yaml:"fail_on_check" json:"fail_on_check"`
	DiscardBody      bool              `yaml:"discard_body" json:"discard_body"`
	MaxBodyBytes     int64             `yaml:"max_body_bytes" json:"max_body_bytes,omitempty"`
	Insecure         bool              `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
	NoKeepAlive      bool              `yaml:"no_keep_alive" json:"no_keep_alive"`
	FollowRedirects  *bool             `yaml:"follow_redirects" json:"follow_redirects,omitempty"`
}

// HTTPWorkload sends one request per iteration. It is safe for concurrent use by
// all VUs.
type HTTPWorkload struct {
	cfg      HTTPConfig
	client   *http.Client
	checks   []Check
	expected []StatusRange
}

// NewHTTPWorkload validates cfg, compiles its checks and builds the shared client.
func NewHTTPWorkload(cfg HTTPConfig) (*HTTPWorkload, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, types.NewConfigError("target.url", ErrNoURL)
	}
	if cfg.Method == "" {
		cfg.Method = defaultMethod
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	probe, err := http.NewRequest(cfg.Method, cfg.URL, nil)
	if err != nil {
		return nil, types.NewConfigError("target.url", err)
	}
	if probe.URL.Scheme != "http" && probe.URL.Scheme != "https" {
		return nil, types.NewConfigError("target.url", fmt.Errorf("unsupported scheme %q", probe.URL.Scheme))
	}

	w := &HTTPWorkload{cfg: cfg, expected: cfg.ExpectedStatuses}
	if len(w.expected) == 0 {
		w.expected = DefaultExpectedStatuses
	}
	for i, cc := range cfg.Checks {
		c, err := CompileCheck(cc)
		if err != nil {
			return nil, types.NewConfigError(fmt.Sprintf("target.checks[%d]", i), err)
		}
		w.checks = append(w.checks, c)
	}

	w.client = &http.Client{
		Transport:     w.buildTransport(),
		CheckRedirect: w.checkRedirect,
	}
	return w, nil
}

func (w *HTTPWorkload) buildTransport() *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 0
	transport.MaxIdleConnsPerHost = 1000
	transport.IdleConnTimeout = 90 * time.Second
	transport.DisableKeepAlives = w.cfg.NoKeepAlive
	if w.cfg.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return transport
}

func (w *HTTPWorkload) checkRedirect(_ *http.Request, via []*http.Request) error {
	if w.cfg.FollowRedirects != nil && !*w.cfg.FollowRedirects {
		return http.ErrUseLastResponse
	}
	if len(via) >= defaultMaxRedirects {
		return fmt.Errorf("stopped after %d redirects", defaultMaxRedirects)
	}
	return nil
}

// Config returns the effective request configuration.
func (w *HTTPWorkload) Config() HTTPConfig {
	return w.cfg
}

// Checks returns the names of the compiled checks in declaration order.
func (w *HTTPWorkload) Checks() []string {
	names := make([]string, len(w.checks))
	for i, c := range w.checks {
		names[i] = c.Name()
	}
	return names
}

// Close drops idle keep-alive connections.
func (w *HTTPWorkload) Close() {
	w.client.CloseIdleConnections()
}

// Execute sends the request and measures it. A transport failure returns both a
// failed outcome carrying the timings gathered so far and the error.
func (w *HTTPWorkload) Execute(ctx context.Context) (*types.Outcome, error) {
	var body io.Reader
	if w.cfg.Body != "" {
		body = strings.NewReader(w.cfg.Body)
	}
	req, err := http.NewRequestWithContext(ctx, w.cfg.Method, w.cfg.URL, body)
	if err != nil {
		return nil, err
	}
	for k, v := range w.cfg.Headers {
		if strings.EqualFold(k, "host") {
			req.Host = v
			continue
		}
		req.Header.Set(k, v)
	}

	tr := &tracer{}
	req = req.WithContext(httptrace.WithClientTrace(ctx, tr.clientTrace()))
	sent := requestSize(req, int64(len(w.cfg.Body)))

	tr.start = time.Now()
	resp, err := w.client.Do(req)
	if err != nil {
		tr.finish(time.Now())
		out := &types.Outcome{Timings: tr.timings(), BytesSent: tr.sentBytes(sent), Error: err.Error()}
		return out, err
	}
	defer resp.Body.Close()

	var payload []byte
	var read int64
	if w.cfg.DiscardBody && len(w.checks) == 0 {
		read, err = io.Copy(io.Discard, resp.Body)
	} else {
		payload, err = io.ReadAll(io.LimitReader(resp.Body, w.cfg.MaxBodyBytes))
		read = int64(len(payload))
		if err == nil {
			var rest int64
			rest, err = io.Copy(io.Discard, resp.Body)
			read += rest
		}
	}
	tr.finish(time.Now())

	out := &types.Outcome{
		Status:        resp.StatusCode,
		Timings:       tr.timings(),
		BytesSent:     sent,
		BytesReceived: responseHeaderSize(resp) + read,
	}
	if err != nil {
		out.Error = err.Error()
		return out, fmt.Errorf("read response body: %w", err)
	}

	out.OK = w.statusExpected(resp.StatusCode)
	if !out.OK {
		out.Error = fmt.Sprintf("%s: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	if len(w.checks) > 0 {
		view := &Response{
			Status:  resp.StatusCode,
			Headers: flattenHeaders(resp.Header),
			Body:    payload,
			Timings: out.Timings,
		}
		out.Checks = make([]types.CheckResult, 0, len(w.checks))
		for _, c := range w.checks {
			res := c.Run(ctx, view)
			out.Checks = append(out.Checks, res)
			if !res.Passed && w.cfg.FailOnCheck && out.OK {
				out.OK = false
				out.Error = "check failed: " + res.Name
			}
		}
	}
	return out, nil
}

func (w *HTTPWorkload) statusExpected(code int) bool {
	for _, r := range w.expected {
		if r.Contains(code) {
			return true
		}
	}
	return false
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

// tracer records connection lifecycle instants. Dial callbacks can fire on other
// goroutines, hence the mutex.
type tracer struct {
	mu sync.Mutex

	start        time.Time
	gotConn      time.Time
	connectStart time.Time
	connectDone  time.Time
	tlsStart     time.Time
	tlsDone      time.Time
	wroteRequest time.Time
	firstByte    time.Time
	end          time.Time
	wrote        bool
}

func (t *tracer) mark(dst *time.Time, onlyFirst bool) {
	now := time.Now()
	t.mu.Lock()
	if !onlyFirst || dst.IsZero() {
		*dst = now
	}
	t.mu.Unlock()
}

func (t *tracer) clientTrace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		ConnectStart:         func(string, string) { t.mark(&t.connectStart, true) },
		ConnectDone:          func(string, string, error) { t.mark(&t.connectDone, false) },
		TLSHandshakeStart:    func() { t.mark(&t.tlsStart, false) },
		TLSHandshakeDone:     func(tls.ConnectionState, error) { t.mark(&t.tlsDone, false) },
		GotConn:              func(httptrace.GotConnInfo) { t.mark(&t.gotConn, false) },
		GotFirstResponseByte: func() { t.mark(&t.firstByte, false) },
		WroteRequest: func(httptrace.WroteRequestInfo) {
			t.mark(&t.wroteRequest, false)
			t.mu.Lock()
			t.wrote = true
			t.mu.Unlock()
		},
	}
}

func (t *tracer) finish(now time.Time) {
	t.mu.Lock()
	t.end = now
	t.mu.Unlock()
}

func (t *tracer) sentBytes(size int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.wrote {
		return size
	}
	return 0
}

func span(from, to time.Time) time.Duration {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return 0
	}
	return to.Sub(from)
}

// timings derives the k6 breakdown. Duration is sending + waiting + receiving;
// blocked covers everything before the connection was ready other than dialing
// and the TLS handshake.
func (t *tracer) timings() types.Timings {
	t.mu.Lock()
	defer t.mu.Unlock()

	var tm types.Timings
	tm.Connecting = span(t.connectStart, t.connectDone)
	tm.TLSHandshaking = span(t.tlsStart, t.tlsDone)

	connReady := t.gotConn
	if connReady.IsZero() {
		connReady = t.end
	}
	if b := span(t.start, connReady) - tm.Connecting - tm.TLSHandshaking; b > 0 {
		tm.Blocked = b
	}

	switch {
	case t.gotConn.IsZero():
	case t.wroteRequest.IsZero():
		tm.Sending = span(t.gotConn, t.end)
	case t.firstByte.IsZero():
		tm.Sending = span(t.gotConn, t.wroteRequest)
		tm.Waiting = span(t.wroteRequest, t.end)
	default:
		tm.Sending = span(t.gotConn, t.wroteRequest)
		tm.Waiting = span(t.wroteRequest, t.firstByte)
		tm.Receiving = span(t.firstByte, t.end)
	}
	tm.Duration = tm.Sending + tm.Waiting + tm.Receiving
	return tm
}

type countingWriter int64

func (c *countingWriter) Write(p []byte) (int, error) {
	*c += countingWriter(len(p))
	return len(p), nil
}

// requestSize approximates the bytes put on the wire for req.
func requestSize(req *http.Request, bodyLen int64) int64 {
	var n countingWriter
	fmt.Fprintf(&n, "%s %s HTTP/1.1\r\nHost: %s\r\n", req.Method, req.URL.RequestURI(), req.URL.Host)
	_ = req.Header.Write(&n)
	fmt.Fprint(&n, "\r\n")
	return int64(n) + bodyLen
}

func responseHeaderSize(resp *http.Response) int64 {
	var n countingWriter
	fmt.Fprintf(&n, "%s %s\r\n", resp.Proto, resp.Status)
	_ = resp.Header.Write(&n)
	fmt.Fprint(&n, "\r\n")
	return int64(n)
}
