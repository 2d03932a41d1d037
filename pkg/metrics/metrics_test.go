package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrationCounters(t *testing.T) {
	m := New()

	m.ObserveRegistration("created")
	m.ObserveRegistration("created")
	m.ObserveRegistration("DEVICE_LIMIT_EXCEEDED")
	m.ObserveCollision()
	m.ObserveLimitExceeded()
	m.ObserveSimilarity(0.9)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.registrations.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.registrations.WithLabelValues("DEVICE_LIMIT_EXCEEDED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.collisions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.limitExceeded))
	assert.Equal(t, 1, testutil.CollectAndCount(m.similarityScore))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/devices/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/devices/"+id, nil))
		require.Equal(t, http.StatusNotFound, w.Code)
	}

	assert.Equal(t, 1, testutil.CollectAndCount(m.requestDuration))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveCollision()

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "device_hash_collisions_total 1")
}
