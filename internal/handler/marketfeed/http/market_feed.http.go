package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/market-feed-service/internal/entity"
	"github.com/krobus00/market-feed-service/internal/handler/auth"
	"github.com/sirupsen/logrus"
)

const defaultReadinessTimeout = 2 * time.Second

type SubscriptionLister interface {
	Subscriptions(ctx context.Context) ([]entity.SubscriptionStatus, error)
}

type SnapshotLoader interface {
	Load(ctx context.Context, key entity.InstrumentKey) (entity.TickEvent, bool, error)
}

// ReadinessCheck reports nil when a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

type Handler struct {
	registry  SubscriptionLister
	snapshots SnapshotLoader
	checks    map[string]ReadinessCheck
}

func NewMarketFeedHTTPHandler(registry SubscriptionLister, snapshots SnapshotLoader, checks map[string]ReadinessCheck) *Handler {
	return &Handler{
		registry:  registry,
		snapshots: snapshots,
		checks:    checks,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/market-feed/v1/subscriptions", auth.RequireAPIKey(http.HandlerFunc(h.ListSubscriptions), rejectAPIKey))
	mux.Handle("/market-feed/v1/snapshots", auth.RequireAPIKey(http.HandlerFunc(h.GetSnapshot), rejectAPIKey))
	mux.HandleFunc("/healthz", h.Healthz)
	mux.HandleFunc("/readyz", h.Readyz)
}

func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	statuses, err := h.registry.Subscriptions(r.Context())
	if err != nil {
		if errors.Is(err, entity.ErrRegistryStopped) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
			return
		}
		logrus.WithError(err).Error("list subscriptions failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": statuses})
}

func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	key := entity.InstrumentKey(strings.TrimSpace(r.URL.Query().Get("instrument_key")))
	if !key.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": entity.ErrInvalidInstrumentKey.Error()})
		return
	}

	if h.snapshots == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "snapshot store is disabled"})
		return
	}

	event, found, err := h.snapshots.Load(r.Context(), key)
	if err != nil {
		logrus.WithField("instrument_key", key).WithError(err).Error("load snapshot failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no snapshot for instrument key"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": event})
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), defaultReadinessTimeout)
	defer cancel()

	failures := make(map[string]string)
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}

	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "errors": failures})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func rejectAPIKey(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
