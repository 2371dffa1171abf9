package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/trebol/internal/dispatch"
	"github.com/nidhogg/trebol/internal/knowledge"
)

const (
	defaultLogsLimit = 100
	maxChatBody      = 1 << 20
)

// Services reports which external dependencies are configured. It reflects
// configuration only, not live reachability.
type Services struct {
	Completion     bool `json:"completion"`
	KnowledgeStore bool `json:"knowledge_store"`
	Cache          bool `json:"cache"`
}

// Options configures the HTTP surface.
type Options struct {
	AllowedOrigins []string
	Services       Services
}

// cacheInvalidator is implemented by stores that keep a read-through cache.
type cacheInvalidator interface {
	Invalidate(ctx context.Context, resource string) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	dispatcher *dispatch.Dispatcher
	store      knowledge.Store
	opts       Options
	logger     *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(d *dispatch.Dispatcher, store knowledge.Store, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if store == nil {
		store = knowledge.Disabled()
	}
	return &Handler{dispatcher: d, store: store, opts: opts, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	r.Post("/chat", h.chat)
	r.Get("/health", h.healthCheck)
	r.Get("/stats", h.stats)
	r.Get("/logs", h.listLogs)
	r.Post("/logs/clear", h.clearLogs)
	r.Post("/cache/clear", h.clearCache)

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"backend":   h.dispatcher.Profile().Label,
		"timestamp": time.Now().Format(time.RFC3339Nano),
		"services":  h.opts.Services,
	})
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	req := parseChatRequest(io.LimitReader(r.Body, maxChatBody))
	req.RemoteAddr = r.RemoteAddr
	req.Method = r.Method

	resp := h.dispatcher.Handle(r.Context(), req)
	writeJSON(w, resp.Status, resp)
}

// parseChatRequest never fails: a missing, non-JSON or mistyped field keeps
// its default.
func parseChatRequest(body io.Reader) dispatch.ChatRequest {
	req := dispatch.ChatRequest{UserID: dispatch.DefaultUserID}

	var fields map[string]json.RawMessage
	if err := json.NewDecoder(body).Decode(&fields); err != nil {
		return req
	}
	var s string
	if raw, ok := fields["userId"]; ok && json.Unmarshal(raw, &s) == nil && s != "" {
		req.UserID = s
	}
	s = ""
	if raw, ok := fields["message"]; ok && json.Unmarshal(raw, &s) == nil {
		req.Message = s
	}
	var b bool
	if raw, ok := fields["isSubscriber"]; ok && json.Unmarshal(raw, &b) == nil {
		req.IsSubscriber = b
	}
	return req
}

type ticketCounts struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	Sold      int `json:"sold"`
	Reserved  int `json:"reserved"`
	Other     int `json:"other"`
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	backend := h.dispatcher.Profile().Label
	res := h.store.Fetch(r.Context(), knowledge.Query{
		Resource: knowledge.ResourceTickets,
		Select:   []string{"status"},
	})
	if !res.OK() {
		h.logger.Warn("stats query failed", zap.Error(res.Err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"backend": backend,
			"error":   "Error al obtener estadísticas: " + res.Err.Error(),
		})
		return
	}

	var counts ticketCounts
	for _, raw := range res.Records {
		var row struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(raw, &row); err != nil {
			continue
		}
		counts.Total++
		switch row.Status {
		case knowledge.StatusAvailable:
			counts.Available++
		case knowledge.StatusSold:
			counts.Sold++
		case knowledge.StatusReserved:
			counts.Reserved++
		default:
			counts.Other++
		}
	}

	rec := h.dispatcher.Recorder()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"backend":  backend,
		"data":     counts,
		"requests": h.dispatcher.Stats(),
		"traces": map[string]interface{}{
			"retained": rec.Len(),
			"max":      rec.Max(),
			"appended": rec.Total(),
		},
	})
}

func (h *Handler) listLogs(w http.ResponseWriter, r *http.Request) {
	rec := h.dispatcher.Recorder()

	if id := r.URL.Query().Get("request_id"); id != "" {
		logs := rec.Query(id)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":    true,
			"logs":       logs,
			"count":      len(logs),
			"request_id": id,
		})
		return
	}

	limit := defaultLogsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	logs := rec.Recent(limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"logs":       logs,
		"count":      len(logs),
		"total_logs": rec.Len(),
	})
}

func (h *Handler) clearLogs(w http.ResponseWriter, r *http.Request) {
	h.dispatcher.Recorder().Clear()
	h.logger.Info("trace log cleared")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Logs limpiados exitosamente",
	})
}

// clearCache drops cached store records for ?resource= (knowledge by
// default) so edited rows are served before their TTL runs out.
func (h *Handler) clearCache(w http.ResponseWriter, r *http.Request) {
	resource := r.URL.Query().Get("resource")
	if resource == "" {
		resource = knowledge.ResourceKnowledge
	}
	inv, ok := h.store.(cacheInvalidator)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"cleared":  false,
			"resource": resource,
			"message":  "Caché no configurada",
		})
		return
	}
	if err := inv.Invalidate(r.Context(), resource); err != nil {
		h.logger.Warn("cache invalidation failed", zap.String("resource", resource), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success":  false,
			"resource": resource,
			"error":    "Error al limpiar la caché: " + err.Error(),
		})
		return
	}
	h.logger.Info("store cache cleared", zap.String("resource", resource))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"cleared":  true,
		"resource": resource,
		"message":  "Caché limpiada exitosamente",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
