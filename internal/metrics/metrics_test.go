package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestRecorders(t *testing.T) {
	RecordRequest("GET", "/v1/deadlines", 200, 100*time.Millisecond)
	RecordDeadlineCreated("tenant-1")
	RecordTriggersScheduled(false, 3)
	RecordTriggersScheduled(true, 1)
	RecordReminder("delivered", "webhook", 12*time.Second)
	RecordReminder("failed", "email", -time.Second)
	RecordDigest("delivered")
	RecordDigest("empty")
	ObservePoll("reminder", 40*time.Millisecond)
	RecordRateLimitRejection("tenant-2")
	SetBreakerState("sms", 1)
	SetDBConnections(3)
}

func TestHandlerExposesDomainMetrics(t *testing.T) {
	RecordReminder("delivered", "log", time.Second)
	RecordDigest("duplicate")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"deadlines_reminders_fired_total", "deadlines_digests_total", "deadlines_reminder_lag_seconds"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/deadlines/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/deadlines/abc", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}

	out := httptest.NewRecorder()
	Handler().ServeHTTP(out, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(out.Body.String(), `path="/v1/deadlines/{id}"`) {
		t.Error("request metric should be labelled with the route pattern")
	}
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}
	rw.Write([]byte("test"))
	if rw.status != http.StatusOK {
		t.Errorf("expected default status 200, got %d", rw.status)
	}

	rw = &responseWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	rw.WriteHeader(http.StatusNotFound)
	if rw.status != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rw.status)
	}
}
