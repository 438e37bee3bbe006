package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"biz-agent/internal/aggregator"
	"biz-agent/internal/app"
	"biz-agent/internal/core"
	"biz-agent/internal/obs"
)

const maxBodyBytes = 1 << 20

// Inbox accepts inbound fragments; *aggregator.Aggregator satisfies it.
type Inbox interface {
	Ingest(f aggregator.Fragment) error
}

type Config struct {
	JWTSecret      string
	AllowedOrigins []string
	// InboundRatePerSec and InboundBurst bound fragments per sender; zero disables the limit.
	InboundRatePerSec float64
	InboundBurst      int
}

// Handler holds the ApplicationService, the inbound aggregator and the chi router.
type Handler struct {
	svc       app.ApplicationService
	inbox     Inbox
	limiter   *senderLimiter
	jwtSecret string
	now       func() time.Time
	log       zerolog.Logger
}

// NewHandler creates and wires the chi router with all routes. Background
// maintenance stops when ctx is done.
func NewHandler(ctx context.Context, svc app.ApplicationService, inbox Inbox, cfg Config, log zerolog.Logger) http.Handler {
	h := &Handler{
		svc:       svc,
		inbox:     inbox,
		limiter:   newSenderLimiter(cfg.InboundRatePerSec, cfg.InboundBurst),
		jwtSecret: cfg.JWTSecret,
		now:       time.Now,
		log:       log,
	}
	h.limiter.startPurge(ctx)

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(obs.Instrument)
	r.Use(Logger(log))
	r.Use(Recoverer(log))
	r.Use(CORS(cfg.AllowedOrigins))

	// ── Public ───────────────────────────────────────────────────────────────
	r.Get("/api/health", h.health)
	r.Handle("/metrics", obs.Handler())

	r.Group(func(r chi.Router) {
		r.Use(RequestBodyLimit(maxBodyBytes))

		// Inbound envelopes from the chat transport.
		r.Post("/api/messages", h.inbound)

		// ── Protected API (401 JSON if unauthenticated) ──────────────────────
		r.Group(func(r chi.Router) {
			r.Use(h.RequireAuth)
			r.Post("/api/actions", h.executeAction)
			r.Get("/api/summary", h.dailySummary)
			r.Get("/api/products", h.listProducts)
			r.Get("/api/customers", h.listCustomers)
			r.Post("/api/reminders", h.sendReminders)
		})
	})

	return r
}

// health handles GET /api/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

type inboundResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id,omitempty"`
}

// inbound handles POST /api/messages with one transport envelope.
func (h *Handler) inbound(w http.ResponseWriter, r *http.Request) {
	var f aggregator.Fragment
	if !decodeJSON(w, r, &f) {
		return
	}
	switch f.Kind {
	case "":
		f.Kind = aggregator.KindText
		if f.Text == "" && f.MediaRef != "" {
			f.Kind = aggregator.KindMedia
		}
	case aggregator.KindText, aggregator.KindMedia:
	default:
		writeError(w, r, "kind must be text or media", string(core.KindValidation), http.StatusBadRequest)
		return
	}
	if f.SenderID == "" {
		writeError(w, r, "sender_id is required", string(core.KindValidation), http.StatusBadRequest)
		return
	}
	// message_id keys duplicate suppression here and idempotency downstream.
	if strings.TrimSpace(f.MessageID) == "" {
		writeError(w, r, "message_id is required", string(core.KindValidation), http.StatusBadRequest)
		return
	}
	if !h.limiter.allow(f.SenderID, h.now()) {
		w.Header().Set("Retry-After", "1")
		writeError(w, r, "too many messages from this sender", "rate_limited", http.StatusTooManyRequests)
		return
	}

	err := h.inbox.Ingest(f)
	switch {
	case err == nil:
		writeJSONStatus(w, http.StatusAccepted, inboundResponse{Status: "accepted", MessageID: f.MessageID})
	case errors.Is(err, aggregator.ErrDuplicateFragment):
		writeJSON(w, inboundResponse{Status: "duplicate", MessageID: f.MessageID})
	case errors.Is(err, aggregator.ErrEmptyFragment):
		writeError(w, r, "message has no text or media", string(core.KindValidation), http.StatusBadRequest)
	case errors.Is(err, aggregator.ErrClosed):
		writeError(w, r, "shutting down", "unavailable", http.StatusServiceUnavailable)
	default:
		h.log.Error().Err(err).Str("sender", f.SenderID).Msg("failed to ingest fragment")
		writeError(w, r, "internal server error", string(core.KindInternal), http.StatusInternalServerError)
	}
}

// executeAction handles POST /api/actions. The message id comes from the
// body or the Idempotency-Key header.
func (h *Handler) executeAction(w http.ResponseWriter, r *http.Request) {
	var req app.ExecuteActionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.MessageID == "" {
		req.MessageID = r.Header.Get("Idempotency-Key")
	}
	if req.MessageID == "" {
		writeError(w, r, "message_id or Idempotency-Key is required", string(core.KindValidation), http.StatusBadRequest)
		return
	}
	if req.SenderID == "" {
		if claims := authFromContext(r.Context()); claims != nil {
			req.SenderID = claims.Subject
		}
	}

	res, err := h.svc.ExecuteAction(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if !res.Success && res.Error != nil {
		status = statusForKind(res.Error.Kind)
	}
	writeJSONStatus(w, status, res)
}

// dailySummary handles GET /api/summary?date=YYYY-MM-DD.
func (h *Handler) dailySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.GetDailySummary(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, summary)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ListProducts(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ListCustomers(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// sendReminders handles POST /api/reminders?days=N.
func (h *Handler) sendReminders(w http.ResponseWriter, r *http.Request) {
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, r, "days must be a positive integer", string(core.KindValidation), http.StatusBadRequest)
			return
		}
		days = n
	}
	res, err := h.svc.SendOverdueReminders(r.Context(), days)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// decodeJSON decodes the request body into v and returns false + writes an
// error response on failure: 413 when the body exceeds the limit set by
// RequestBodyLimit, 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "request_too_large", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), string(core.KindValidation), http.StatusBadRequest)
		return false
	}
	return true
}
