package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	domainticket "ticketpilot/internal/domain/ticket"
	"ticketpilot/internal/errs"
	"ticketpilot/internal/ports"
	"ticketpilot/internal/usecase/meter"
	"ticketpilot/internal/usecase/pipeline"
)

// Handler exposes the trigger, session and ticket surfaces over HTTP.
type Handler struct {
	runner   *pipeline.Runner
	tickets  *pipeline.Service
	sessions *meter.Service
	cache    ports.Cache
}

func NewHandler(runner *pipeline.Runner, tickets *pipeline.Service, sessions *meter.Service, cache ports.Cache) *Handler {
	return &Handler{
		runner:   runner,
		tickets:  tickets,
		sessions: sessions,
		cache:    cache,
	}
}

func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/triggers/{kind}", h.runTrigger)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.createSession)
			r.Get("/{id}", h.getSession)
			r.Post("/{id}/renew", h.renewSession)
		})

		r.Route("/tickets", func(r chi.Router) {
			r.Get("/", h.listTickets)
			r.Get("/{key}", h.getTicket)
			r.Post("/{key}/cancel", h.cancelTicket)
			r.Post("/{key}/restart", h.restartTicket)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	providers, found, err := h.cache.Get(r.Context(), "health.providers")
	if err != nil || !found {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok","providers":` + providers + `}`))
}

// runTrigger fires one pipeline trigger. A run skipped by the overlap guard
// answers 409 so schedulers can tell "done" from "still busy".
func (h *Handler) runTrigger(w http.ResponseWriter, r *http.Request) {
	kind, err := pipeline.ParseTriggerKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.runner.RunOnce(r.Context(), kind)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if result.Skipped {
		writeJSON(w, http.StatusConflict, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type createSessionRequest struct {
	Customer       string  `json:"customer"`
	PurchasedHours float64 `json:"purchased_hours"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	session, err := h.sessions.Create(r.Context(), req.Customer, req.PurchasedHours)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionView(session))
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	session, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(session))
}

type renewSessionRequest struct {
	AdditionalHours float64 `json:"additional_hours"`
}

func (h *Handler) renewSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var req renewSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	session, err := h.sessions.Renew(r.Context(), id, req.AdditionalHours)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(session))
}

func (h *Handler) listTickets(w http.ResponseWriter, r *http.Request) {
	filter := ports.TicketFilter{Limit: 100}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := domainticket.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		filter.Statuses = []domainticket.Status{status}
	}

	tickets, err := h.tickets.List(r.Context(), filter)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	views := make([]map[string]any, 0, len(tickets))
	for _, t := range tickets {
		views = append(views, ticketView(t))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) getTicket(w http.ResponseWriter, r *http.Request) {
	t, err := h.tickets.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ticketView(t))
}

func (h *Handler) cancelTicket(w http.ResponseWriter, r *http.Request) {
	t, err := h.tickets.Cancel(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ticketView(t))
}

func (h *Handler) restartTicket(w http.ResponseWriter, r *http.Request) {
	t, err := h.tickets.Restart(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ticketView(t))
}

func sessionView(s ports.Session) map[string]any {
	return map[string]any{
		"id":                 s.ID,
		"customer":           s.Customer,
		"status":             s.Status,
		"purchased_hours":    s.PurchasedHours,
		"consumed_hours":     s.ConsumedHours,
		"remaining_hours":    s.RemainingHours,
		"processed_tickets":  s.ProcessedTickets,
		"successful_tickets": s.SuccessfulTickets,
		"failed_tickets":     s.FailedTickets,
	}
}

func ticketView(t ports.Ticket) map[string]any {
	view := map[string]any{
		"id":          t.ID,
		"tracker_key": t.TrackerKey,
		"summary":     t.Summary,
		"status":      t.Status,
		"priority":    t.Priority,
		"retry_count": t.RetryCount,
	}
	if t.SessionID != nil {
		view["session_id"] = *t.SessionID
	}
	if t.ErrorMessage != nil {
		view["error_message"] = *t.ErrorMessage
	}
	if t.HoursConsumed != nil {
		view["hours_consumed"] = *t.HoursConsumed
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ports.ErrTicketNotFound), errors.Is(err, ports.ErrSessionNotFound):
		return http.StatusNotFound
	case errs.Classify(err) == errs.KindBusiness:
		return http.StatusConflict
	case errs.Classify(err) == errs.KindConfig:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
