package kitchen

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/appetiteclub/pacer/pkg/enums/ticketstatus"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const MaxBodyBytes = 1 << 20

type HandlerDeps struct {
	Orchestrator *Orchestrator
}

type Handler struct {
	orch   *Orchestrator
	logger apt.Logger
	tlm    *telemetry.HTTP
}

func NewHandler(deps HandlerDeps, logger apt.Logger) *Handler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Handler{
		orch:   deps.Orchestrator,
		logger: logger,
		tlm:    telemetry.NewHTTP(),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/preorders", h.CreateTicket)

	r.Route("/tickets", func(r chi.Router) {
		r.Get("/", h.ListTickets)
		r.Get("/{id}", h.GetTicket)
		r.Patch("/{id}/fire", h.FireTicket)
		r.Patch("/{id}/hold", h.HoldTicket)
		r.Patch("/{id}/ready", h.ReadyTicket)
		r.Patch("/{id}/served", h.ServeTicket)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Post("/reload-cache", h.ReloadCache)
		r.Post("/sweep", h.Sweep)
	})
}

func (h *Handler) log(r *http.Request) apt.Logger {
	return h.logger.With("request_id", apt.RequestIDFrom(r.Context()))
}

type preOrderRequest struct {
	Reservation Reservation    `json:"reservation"`
	Items       []PreOrderItem `json:"items"`
}

// CreateTicket accepts a confirmed pre-order pushed over HTTP. The NATS
// subscriber is the usual path; both end in the same orchestrator call.
func (h *Handler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CreateTicket")
	defer finish()
	log := h.log(r)

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		apt.RespondError(w, http.StatusBadRequest, "Could not read request body")
		return
	}

	var req preOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		apt.RespondError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	ticket, err := h.orch.CreateTicketForPreOrder(r.Context(), req.Reservation, req.Items)
	if err != nil {
		h.respondServiceError(w, log, err, "Could not create ticket")
		return
	}

	apt.Respond(w, http.StatusCreated, ticket, nil)
}

func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListTickets")
	defer finish()
	log := h.log(r)

	query := r.URL.Query()
	restaurantID := strings.TrimSpace(query.Get("restaurant"))
	if restaurantID == "" {
		apt.RespondError(w, http.StatusBadRequest, "Restaurant is required")
		return
	}

	filter, err := parseTicketFilter(query.Get("status"), query.Get("limit"), query.Get("offset"))
	if err != nil {
		apt.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	tickets, err := h.orch.ListActive(r.Context(), restaurantID, filter)
	if err != nil {
		h.respondServiceError(w, log, err, "Could not list tickets")
		return
	}
	if tickets == nil {
		tickets = []Ticket{}
	}

	apt.Respond(w, http.StatusOK, map[string]interface{}{
		"tickets": tickets,
	}, nil)
}

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetTicket")
	defer finish()
	log := h.log(r)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apt.RespondError(w, http.StatusBadRequest, "Invalid ticket ID")
		return
	}

	ticket, err := h.orch.Get(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, log, err, "Could not get ticket")
		return
	}

	apt.Respond(w, http.StatusOK, ticket, nil)
}

func (h *Handler) FireTicket(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, ActionFire)
}

func (h *Handler) HoldTicket(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, ActionHold)
}

func (h *Handler) ReadyTicket(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, ActionReady)
}

func (h *Handler) ServeTicket(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, ActionServed)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, action Action) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Transition."+string(action))
	defer finish()
	log := h.log(r)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apt.RespondError(w, http.StatusBadRequest, "Invalid ticket ID")
		return
	}

	ticket, err := h.orch.RequestTransition(r.Context(), id, action)
	if errors.Is(err, ErrInvalidTransition) && ticket != nil {
		// The display is out of sync; hand it the real state.
		apt.Respond(w, http.StatusConflict, map[string]interface{}{
			"error":  err.Error(),
			"ticket": ticket,
		}, nil)
		return
	}
	if err != nil {
		h.respondServiceError(w, log, err, "Could not update ticket")
		return
	}

	apt.Respond(w, http.StatusOK, ticket, nil)
}

// ReloadCache rebuilds the broadcast cache from the store.
func (h *Handler) ReloadCache(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ReloadCache")
	defer finish()
	log := h.log(r)

	if err := h.orch.Warm(r.Context()); err != nil {
		h.respondServiceError(w, log, err, "Could not reload cache")
		return
	}

	apt.Respond(w, http.StatusOK, map[string]interface{}{
		"tickets": h.orch.cache.Count(),
	}, nil)
}

// Sweep runs one pacing sweep for a restaurant out of schedule.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Sweep")
	defer finish()
	log := h.log(r)

	restaurantID := strings.TrimSpace(r.URL.Query().Get("restaurant"))
	if restaurantID == "" {
		apt.RespondError(w, http.StatusBadRequest, "Restaurant is required")
		return
	}

	result, err := h.orch.RecomputePacingSweep(r.Context(), restaurantID)
	if err != nil {
		h.respondServiceError(w, log, err, "Could not sweep tickets")
		return
	}

	apt.Respond(w, http.StatusOK, map[string]interface{}{
		"restaurant_id": result.RestaurantID,
		"evaluated":     result.Evaluated,
		"broadcast":     result.Broadcast,
		"pruned":        result.Pruned,
	}, nil)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, log apt.Logger, err error, msg string) {
	switch {
	case errors.Is(err, ErrInvalidPreOrder), errors.Is(err, ErrUnknownAction):
		apt.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrTicketNotFound):
		apt.RespondError(w, http.StatusNotFound, "Ticket not found")
	case errors.Is(err, ErrDuplicateTicket), errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrStaleTicket):
		apt.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrStoreUnavailable):
		log.Errorf("%s: %v", strings.ToLower(msg), err)
		apt.RespondError(w, http.StatusServiceUnavailable, "Ticket store unavailable")
	default:
		log.Errorf("%s: %v", strings.ToLower(msg), err)
		apt.RespondError(w, http.StatusInternalServerError, msg)
	}
}

func parseTicketFilter(statuses, limit, offset string) (TicketFilter, error) {
	var filter TicketFilter

	if statuses != "" {
		for _, raw := range strings.Split(statuses, ",") {
			status := ticketstatus.ByName(raw)
			if status == nil || status.Terminal() {
				return filter, errors.New("invalid status: " + strings.TrimSpace(raw))
			}
			filter.Statuses = append(filter.Statuses, status.Code())
		}
	}

	if limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return filter, errors.New("invalid limit")
		}
		filter.Limit = n
	}

	if offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			return filter, errors.New("invalid offset")
		}
		filter.Offset = n
	}

	return filter, nil
}
