// Package audit records administrative requests against the device API
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/tendant/simple-device/pkg/client"
)

const defaultSendTimeout = 5 * time.Second

// Config holds the configuration for the audit middleware
type Config struct {
	// Source identifies the service emitting the events
	Source string
	// EventType is attached to every event
	EventType string
	// Sink receives the events
	Sink Sink
	// SendTimeout bounds a single delivery
	SendTimeout time.Duration
}

// Middleware handles HTTP request auditing
type Middleware struct {
	config Config
}

// NewMiddleware creates a new audit middleware instance
func NewMiddleware(config Config) (*Middleware, error) {
	if config.Sink == nil {
		return nil, fmt.Errorf("audit sink is required")
	}
	if config.Source == "" {
		config.Source = "simple-device"
	}
	if config.EventType == "" {
		config.EventType = "audit.device.admin"
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = defaultSendTimeout
	}
	return &Middleware{config: config}, nil
}

// Event is one audited request
type Event struct {
	Source    string
	Type      string
	UserID    uuid.UUID
	URI       string
	Method    string
	Route     string
	Status    int
	Message   string
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// WithMetadata adds metadata to the audit event
func (e Event) WithMetadata(key string, value interface{}) Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// Handler audits the request after it has been served so the response status is known.
// It must run after client.AuthUserMiddleware.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		event := Event{
			Source:    m.config.Source,
			Type:      m.config.EventType,
			URI:       r.RequestURI,
			Method:    r.Method,
			Timestamp: time.Now().UTC(),
		}
		if authUser := client.GetAuthUser(r); authUser != nil {
			event.UserID = authUser.UserUuid
		} else {
			event.Message = "No jwt token"
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		event.Status = ww.Status()
		if event.Status == 0 {
			event.Status = http.StatusOK
		}
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			event.Route = rctx.RoutePattern()
			if target := rctx.URLParam("userID"); target != "" {
				event = event.WithMetadata("target_user", target)
			}
			if deviceID := rctx.URLParam("id"); deviceID != "" {
				event = event.WithMetadata("device", deviceID)
			}
		}

		go m.send(event)
	})
}

func (m *Middleware) send(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.SendTimeout)
	defer cancel()
	if err := m.config.Sink.Send(ctx, event); err != nil {
		slog.Warn("Failed to send audit event", "uri", event.URI, "method", event.Method, "err", err)
	}
}
