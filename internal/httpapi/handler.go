// Package httpapi exposes the accrual engine over REST.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Meridian-Network/mining_layer/internal/domain/network"
	"github.com/Meridian-Network/mining_layer/internal/domain/session"
	"github.com/Meridian-Network/mining_layer/internal/metrics"
	"github.com/Meridian-Network/mining_layer/internal/middleware"
	"github.com/Meridian-Network/mining_layer/internal/mining"
	"github.com/Meridian-Network/mining_layer/internal/storage"
	"github.com/Meridian-Network/mining_layer/internal/wallet"
	"github.com/Meridian-Network/mining_layer/pkg/logger"
)

// StatsReader supplies the network aggregate endpoint.
type StatsReader interface {
	Current() network.Stats
}

// Handler bundles the HTTP endpoints over the engine services.
type Handler struct {
	manager    *mining.Manager
	accountant *mining.Accountant
	wallets    *wallet.Service
	stats      StatsReader
	log        *logger.Logger
}

// Options for router construction.
type Options struct {
	RateLimit *middleware.RateLimiter
	CORS      *middleware.CORS
}

// NewRouter returns the API router with middleware applied.
func NewRouter(manager *mining.Manager, accountant *mining.Accountant, wallets *wallet.Service, stats StatsReader, log *logger.Logger, opts Options) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &Handler{
		manager:    manager,
		accountant: accountant,
		wallets:    wallets,
		stats:      stats,
		log:        log,
	}

	r := mux.NewRouter()
	r.Use(middleware.Metrics())
	r.Use(middleware.Logging(log))
	if opts.CORS != nil {
		r.Use(opts.CORS.Handler)
	}

	api := r.PathPrefix("/v1").Subrouter()
	if opts.RateLimit != nil {
		api.Use(opts.RateLimit.Handler)
	}
	api.HandleFunc("/users/{id}/session", h.startSession).Methods(http.MethodPost)
	api.HandleFunc("/users/{id}/session", h.stopSession).Methods(http.MethodDelete)
	api.HandleFunc("/users/{id}/session", h.sessionStatus).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}/claims", h.claim).Methods(http.MethodPost)
	api.HandleFunc("/users/{id}/wallet", h.walletSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/network/stats", h.networkStats).Methods(http.MethodGet)

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return r
}

// --- session endpoints ------------------------------------------------------

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	sess, err := h.manager.Start(r.Context(), userID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, sessionPayload(sess))
	case errors.Is(err, mining.ErrSessionActive):
		// Idempotent: the existing session is the result, not a failure.
		writeJSON(w, http.StatusOK, sessionPayload(sess))
	default:
		var cooldown *mining.CooldownError
		if errors.As(err, &cooldown) {
			writeJSON(w, http.StatusConflict, map[string]interface{}{
				"error":             "cooldown active",
				"remaining_seconds": int(cooldown.Remaining.Seconds()),
			})
			return
		}
		h.writeDomainError(w, err)
	}
}

func (h *Handler) stopSession(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	sess, err := h.manager.Stop(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(sess))
}

func (h *Handler) sessionStatus(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	status, err := h.manager.Status(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	payload := map[string]interface{}{"active": status.Active}
	if status.Active {
		payload["session"] = sessionPayload(*status.Session)
		payload["progress"] = status.Progress
		payload["current_earnings"] = status.CurrentEarnings.String()
		payload["next_checkpoint_seconds"] = int(status.NextCheckpointIn.Seconds())
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) claim(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	amount, err := h.accountant.Claim(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"claimed": amount.String()})
}

// --- wallet and aggregate endpoints -----------------------------------------

func (h *Handler) walletSnapshot(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	snap, err := h.wallets.Snapshot(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":      snap.UserID,
		"address":      snap.Address,
		"balance":      snap.Balance.String(),
		"refreshed_at": snap.RefreshedAt.Format(time.RFC3339),
	})
}

func (h *Handler) networkStats(w http.ResponseWriter, r *http.Request) {
	stats := h.stats.Current()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active_sessions": stats.ActiveSessions,
		"total_settled":   stats.TotalSettled.String(),
		"computed_at":     stats.ComputedAt.Format(time.RFC3339),
	})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- helpers ----------------------------------------------------------------

func sessionPayload(sess session.Session) map[string]interface{} {
	payload := map[string]interface{}{
		"id":           sess.ID,
		"user_id":      sess.UserID,
		"start_time":   sess.StartTime.Format(time.RFC3339),
		"rate":         sess.Rate.String(),
		"active":       sess.Active,
		"total_earned": sess.TotalEarned.String(),
		"checkpoints":  sess.Checkpoints,
		"progress":     sess.Progress,
	}
	if sess.EndTime != nil {
		payload["end_time"] = sess.EndTime.Format(time.RFC3339)
	}
	return payload
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, mining.ErrNoActiveSession):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, mining.ErrNothingToClaim):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		h.log.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
