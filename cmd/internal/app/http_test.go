package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newOpsMux(t *testing.T, cfg Config) *http.ServeMux {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mux := http.NewServeMux()
	registerHTTP(mux, log, cfg, nil, false, NewMetrics(), nil, nil)
	return mux
}

func TestHealthz(t *testing.T) {
	mux := newOpsMux(t, Config{})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status: %d", rr.Code)
	}
	if rr.Body.String() != "ok\n" {
		t.Fatalf("healthz body: %q", rr.Body.String())
	}
}

func TestReadyz_InMemoryMode(t *testing.T) {
	mux := newOpsMux(t, Config{})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("readyz status: %d", rr.Code)
	}
}

func TestReadyz_RequiresDB(t *testing.T) {
	mux := newOpsMux(t, Config{ReadinessRequireDB: true})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz should fail without a database: %d", rr.Code)
	}
}

func TestMetricsEndpointMounted(t *testing.T) {
	mux := newOpsMux(t, Config{})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status: %d", rr.Code)
	}
}
