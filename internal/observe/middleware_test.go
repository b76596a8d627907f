package observe

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup wires metrics and an in-memory tracer for middleware tests.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	m, reader := newTestMetrics(t)
	return m, reader, useTestTracer(t)
}

// testMux mirrors the shape of the application's routes.
func testMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /session", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("POST /session/mute", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("GET /boom", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	return mux
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

// durationPoint returns the histogram point labelled with route, or nil.
func durationPoint(t *testing.T, reader *sdkmetric.ManualReader, route string) *metricdata.HistogramDataPoint[float64] {
	t.Helper()
	met := findMetric(collect(t, reader), "livevoice.http.request.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("duration metric is not a histogram")
	}
	for i, dp := range hist.DataPoints {
		if v, ok := dp.Attributes.Value("route"); ok && v.AsString() == route {
			return &hist.DataPoints[i]
		}
	}
	return nil
}

// ── Routing labels ──────────────────────────────────────────────────────────

func TestMiddleware_LabelsRoutePattern(t *testing.T) {
	m, reader, exp := testSetup(t)
	h := Middleware(m)(testMux())

	if rec := serve(h, "POST", "/session"); rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if got := spans[0].Name; got != "HTTP POST /session" {
		t.Errorf("span name = %q, want %q", got, "HTTP POST /session")
	}
	if got, _ := spanAttr(spans[0].Attributes, "http.route"); got != "/session" {
		t.Errorf("http.route = %q, want /session", got)
	}

	dp := durationPoint(t, reader, "/session")
	if dp == nil {
		t.Fatal("no duration sample for /session")
	}
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	if v, _ := dp.Attributes.Value("status"); v.AsInt64() != http.StatusAccepted {
		t.Errorf("status attribute = %d, want 202", v.AsInt64())
	}
}

func TestMiddleware_UnmatchedPathsShareOneLabel(t *testing.T) {
	m, reader, exp := testSetup(t)
	h := Middleware(m)(testMux())

	serve(h, "GET", "/nope/1")
	serve(h, "GET", "/nope/2")

	dp := durationPoint(t, reader, unmatchedRoute)
	if dp == nil {
		t.Fatal("no duration sample for unmatched requests")
	}
	if dp.Count != 2 {
		t.Errorf("sample count = %d, want 2", dp.Count)
	}
	if got := exp.GetSpans()[0].Name; got != "HTTP GET unmatched" {
		t.Errorf("span name = %q, want %q", got, "HTTP GET unmatched")
	}
}

func TestMiddleware_ServerErrorMarksSpan(t *testing.T) {
	m, _, exp := testSetup(t)
	h := Middleware(m)(testMux())

	serve(h, "GET", "/boom")
	serve(h, "POST", "/session/mute")

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	if got := spans[0].Status.Code; got != codes.Error {
		t.Errorf("500 span status = %v, want Error", got)
	}
	if got := spans[1].Status.Code; got == codes.Error {
		t.Error("404 span marked as error")
	}
}

// ── Session tagging ─────────────────────────────────────────────────────────

func TestMiddleware_TagsSessionRoutes(t *testing.T) {
	m, _, exp := testSetup(t)
	buf := captureLog(t)
	lookups := 0
	h := Middleware(m, WithSessionLookup(func() (string, string) {
		lookups++
		return "s-9", "gemini"
	}))(testMux())

	serve(h, "POST", "/session")
	serve(h, "GET", "/healthz")

	if lookups != 1 {
		t.Errorf("session lookups = %d, want 1", lookups)
	}
	spans := exp.GetSpans()
	if got, _ := spanAttr(spans[0].Attributes, AttrSessionID); got != "s-9" {
		t.Errorf("session.id = %q, want s-9", got)
	}
	if _, ok := spanAttr(spans[1].Attributes, AttrSessionID); ok {
		t.Error("/healthz span carries session.id")
	}
	if logged := buf.String(); !containsAll(logged, "route=/session", "session_id=s-9", "provider=gemini") {
		t.Errorf("access log missing session fields, got: %s", logged)
	}
}

func TestMiddleware_NoSessionNoTag(t *testing.T) {
	m, _, exp := testSetup(t)
	h := Middleware(m, WithSessionLookup(func() (string, string) { return "", "" }))(testMux())

	serve(h, "POST", "/session/mute")

	if _, ok := spanAttr(exp.GetSpans()[0].Attributes, AttrSessionID); ok {
		t.Error("span tagged although no session exists")
	}
}

// ── Trace context ───────────────────────────────────────────────────────────

func TestMiddleware_PropagatesW3CTraceContext(t *testing.T) {
	m, _, _ := testSetup(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	var seen string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/any", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != traceID {
		t.Errorf("correlation ID = %q, want %q", seen, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
}

func TestMiddleware_StatusRecorderUnwraps(t *testing.T) {
	m, _, _ := testSetup(t)
	var flushErr error
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		flushErr = http.NewResponseController(w).Flush()
	}))

	rec := serve(h, "GET", "/stream")
	if flushErr != nil {
		t.Errorf("Flush through middleware: %v", flushErr)
	}
	if !rec.Flushed {
		t.Error("underlying recorder was not flushed")
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
