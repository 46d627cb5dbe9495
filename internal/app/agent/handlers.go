package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"fulfillment-sync/internal/common/httpx"
	"fulfillment-sync/internal/common/logger"
	"fulfillment-sync/internal/domain"
	"fulfillment-sync/internal/identity"
	"fulfillment-sync/internal/loader"
	"fulfillment-sync/internal/ordersync"
	"fulfillment-sync/internal/status"
)

// Core is the part of the synchronization core the HTTP surface uses.
type Core interface {
	Orders(name domain.Collection) []domain.Order
	Pagination(name domain.Collection) domain.Pagination
	Stats() (domain.Stats, bool)
	Loading(name domain.Collection) bool
	Refreshing(name domain.Collection) bool
	History(orderID string) ([]domain.ProcessingStep, bool)
	AvailableStatuses(ctx context.Context, orderID string) ([]domain.Status, error)
	State() ordersync.State

	Refresh(ctx context.Context, name domain.Collection) domain.Result
	LoadMore(ctx context.Context, name domain.Collection) (loader.Outcome, domain.Result)
	AutoLoad(ctx context.Context, name domain.Collection) (loader.Outcome, domain.Result)
	ToggleFilterView(ctx context.Context, f domain.Filters) domain.Result
	Take(ctx context.Context, orderID, comment string) domain.Result
	Release(ctx context.Context, orderID, comment string) domain.Result
	Advance(ctx context.Context, orderID string, target domain.Status, comment string) domain.Result
	Cancel(ctx context.Context, orderID, comment string) domain.Result
	Reconnect(ctx context.Context) error
}

type Handler struct {
	core Core
	lg   *logger.Logger
}

func NewHandler(core Core, lg *logger.Logger) *Handler {
	return &Handler{core: core, lg: lg}
}

func Router(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/state", h.GetState)
	mux.HandleFunc("GET /api/v1/collections/{name}", h.GetCollection)
	mux.HandleFunc("POST /api/v1/collections/{name}/refresh", h.Refresh)
	mux.HandleFunc("POST /api/v1/collections/{name}/load-more", h.LoadMore)
	mux.HandleFunc("POST /api/v1/filters", h.SetFilters)
	mux.HandleFunc("POST /api/v1/reconnect", h.Reconnect)
	mux.HandleFunc("GET /api/v1/orders/{id}/history", h.GetHistory)
	mux.HandleFunc("GET /api/v1/orders/{id}/statuses", h.GetStatuses)
	mux.HandleFunc("POST /api/v1/orders/{id}/{action}", h.Act)
	return mux
}

// withToken forwards the bearer token to the identity provider.
func withToken(r *http.Request) context.Context {
	auth := r.Header.Get("Authorization")
	if tok, ok := strings.CutPrefix(auth, "Bearer "); ok && tok != "" {
		return identity.WithToken(r.Context(), tok)
	}
	return r.Context()
}

func collection(r *http.Request) (domain.Collection, bool) {
	c := domain.Collection(r.PathValue("name"))
	return c, c.IsValid()
}

func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.core.State())
}

func (h *Handler) GetCollection(w http.ResponseWriter, r *http.Request) {
	name, ok := collection(r)
	if !ok {
		httpx.WriteProblem(w, http.StatusNotFound, "not_found", "unknown collection", nil)
		return
	}
	if name == domain.CollectionStats {
		stats, ok := h.core.Stats()
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"data": stats, "loaded": ok,
			"loading": h.core.Loading(name), "refreshing": h.core.Refreshing(name),
		})
		return
	}
	orders := h.core.Orders(name)
	if limit := httpx.AtoiDefault(r.URL.Query().Get("limit"), 0); limit > 0 && limit < len(orders) {
		orders = orders[:limit]
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"data":       orders,
		"pagination": h.core.Pagination(name),
		"loading":    h.core.Loading(name),
		"refreshing": h.core.Refreshing(name),
	})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	name, ok := collection(r)
	if !ok && r.PathValue("name") != "all" {
		httpx.WriteProblem(w, http.StatusNotFound, "not_found", "unknown collection", nil)
		return
	}
	if !ok {
		name = ""
	}
	h.writeResult(w, h.core.Refresh(withToken(r), name), nil)
}

func (h *Handler) LoadMore(w http.ResponseWriter, r *http.Request) {
	name, ok := collection(r)
	if !ok || name == domain.CollectionStats {
		httpx.WriteProblem(w, http.StatusNotFound, "not_found", "unknown collection", nil)
		return
	}
	load := h.core.LoadMore
	if r.URL.Query().Get("auto") == "true" {
		load = h.core.AutoLoad
	}
	out, res := load(withToken(r), name)
	h.writeResult(w, res, out)
}

func (h *Handler) SetFilters(w http.ResponseWriter, r *http.Request) {
	var f domain.Filters
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		httpx.WriteProblem(w, http.StatusBadRequest, "bad_json", err.Error(), nil)
		return
	}
	for _, s := range f.Statuses {
		if !s.IsValid() {
			httpx.WriteProblem(w, http.StatusBadRequest, "bad_status", "unknown status "+string(s), nil)
			return
		}
	}
	h.writeResult(w, h.core.ToggleFilterView(withToken(r), f), nil)
}

func (h *Handler) Reconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.core.Reconnect(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	steps, ok := h.core.History(id)
	if !ok {
		httpx.WriteProblem(w, http.StatusNotFound, "not_found", "order not found", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order_id": id, "steps": steps})
}

type statusView struct {
	Status domain.Status `json:"status"`
	Label  string        `json:"label"`
}

func (h *Handler) GetStatuses(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	list, err := h.core.AvailableStatuses(withToken(r), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]statusView, 0, len(list))
	for _, s := range list {
		out = append(out, statusView{Status: s, Label: status.Label(s)})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order_id": id, "statuses": out})
}

type actionBody struct {
	Comment      string        `json:"comment"`
	TargetStatus domain.Status `json:"target_status"`
}

func (h *Handler) Act(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body actionBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpx.WriteProblem(w, http.StatusBadRequest, "bad_json", err.Error(), nil)
			return
		}
	}
	ctx := withToken(r)

	var res domain.Result
	switch domain.ActionKind(r.PathValue("action")) {
	case domain.ActionTake:
		res = h.core.Take(ctx, id, body.Comment)
	case domain.ActionRelease:
		res = h.core.Release(ctx, id, body.Comment)
	case domain.ActionAdvance:
		res = h.core.Advance(ctx, id, body.TargetStatus, body.Comment)
	case domain.ActionCancel:
		res = h.core.Cancel(ctx, id, body.Comment)
	default:
		httpx.WriteProblem(w, http.StatusNotFound, "not_found", "unknown action", nil)
		return
	}
	h.writeResult(w, res, nil)
}

func (h *Handler) writeResult(w http.ResponseWriter, res domain.Result, payload any) {
	if !res.Success {
		h.writeError(w, res.Err)
		return
	}
	body := map[string]any{"success": true}
	if payload != nil {
		body["result"] = payload
	}
	httpx.WriteJSON(w, http.StatusOK, body)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	kind := domain.ClassifyError(err)
	extra := map[string]any{"success": false, "silent": kind == domain.KindUnauthorized}
	switch {
	case kind == domain.KindUnauthorized:
		httpx.WriteProblem(w, http.StatusUnauthorized, kind.String(), err.Error(), extra)
	case errors.Is(err, domain.ErrNotFound):
		httpx.WriteProblem(w, http.StatusNotFound, "not_found", err.Error(), extra)
	case kind == domain.KindConflict:
		httpx.WriteProblem(w, http.StatusConflict, kind.String(), err.Error(), extra)
	default:
		httpx.WriteProblem(w, http.StatusBadGateway, kind.String(), err.Error(), extra)
	}
}
