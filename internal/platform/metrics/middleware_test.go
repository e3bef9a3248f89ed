package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newRouter(m *Metrics) *chi.Mux {
	r := chi.NewRouter()
	r.Use(RequestMiddleware(m))
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/{session_id}", func(w http.ResponseWriter, r *http.Request) {
			if chi.URLParam(r, "session_id") == "missing" {
				w.WriteHeader(http.StatusNotFound)
			}
		})
	})
	r.Post("/media/{media_id}/license", func(w http.ResponseWriter, r *http.Request) {})
	return r
}

func serve(r http.Handler, method, path string) {
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(method, path, nil))
}

func TestRequestMiddleware_labels_by_route_pattern(t *testing.T) {
	m := New()
	r := newRouter(m)

	serve(r, http.MethodGet, "/sessions/a")
	serve(r, http.MethodGet, "/sessions/b")
	serve(r, http.MethodGet, "/sessions/missing")
	serve(r, http.MethodPost, "/media/drm/license")
	serve(r, http.MethodGet, "/nowhere")

	tests := []struct {
		method, route string
		want          float64
	}{
		{http.MethodGet, "/sessions/{session_id}", 3},
		{http.MethodPost, "/media/{media_id}/license", 1},
		{http.MethodGet, unmatchedRoute, 1},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues(tt.method, tt.route)); got != tt.want {
			t.Errorf("requests{%s %s} = %v, want %v", tt.method, tt.route, got, tt.want)
		}
	}

	if got := testutil.ToFloat64(m.errorsTotal.WithLabelValues("/sessions/{session_id}", "404")); got != 1 {
		t.Errorf("session 404s = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.errorsTotal.WithLabelValues(unmatchedRoute, "404")); got != 1 {
		t.Errorf("unmatched 404s = %v, want 1", got)
	}
}

func TestRequestMiddleware_nil_metrics(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/a", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
