package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/honeynil/ReWearExchange/internal/infrastructure/auth"
	"github.com/honeynil/ReWearExchange/internal/models"
	service "github.com/honeynil/ReWearExchange/internal/services"
	pkgerrors "github.com/honeynil/ReWearExchange/pkg/errors"
	"github.com/lib/pq"
)

type Handler struct {
	exchanges service.ExchangeService
	items     service.ItemService
	accounts  service.AccountService
}

func NewHandler(exchanges service.ExchangeService, items service.ItemService, accounts service.AccountService) *Handler {
	return &Handler{exchanges: exchanges, items: items, accounts: accounts}
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps an error kind to the HTTP status returned to the caller.
func statusFor(err error) int {
	switch pkgerrors.Kind(err) {
	case pkgerrors.ErrNotFound:
		return http.StatusNotFound
	case pkgerrors.ErrInvalidState, pkgerrors.ErrInvalidInput, pkgerrors.ErrInsufficientFunds:
		return http.StatusBadRequest
	case pkgerrors.ErrForbidden:
		return http.StatusForbidden
	case pkgerrors.ErrConflict:
		return http.StatusConflict
	case pkgerrors.ErrTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

// fail writes err with the status of its kind. Infrastructure failures only
// ever expose the bare kind; the cause stays in the log.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	kind := pkgerrors.Kind(err)
	var pqErr *pq.Error
	if kind == pkgerrors.ErrInternal || kind == pkgerrors.ErrTransient || errors.As(err, &pqErr) {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
		err = kind
	}
	h.writeError(w, status, err)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RegisterProtectedRoutes mounts every exchange, item and account route. r must
// already carry the auth middleware.
func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/items", h.CreateItem).Methods("POST")
	r.HandleFunc("/items", h.ListItems).Methods("GET")
	r.HandleFunc("/items/{id:[0-9]+}", h.GetItem).Methods("GET")
	r.HandleFunc("/items/{id:[0-9]+}", h.UpdateItem).Methods("PATCH")
	r.HandleFunc("/items/{id:[0-9]+}", h.DeleteItem).Methods("DELETE")

	r.HandleFunc("/swaps/request", h.RequestSwap).Methods("POST")
	r.HandleFunc("/swaps/redeem", h.Redeem).Methods("POST")
	r.HandleFunc("/swaps", h.GetExchangeHistory).Methods("GET")
	r.HandleFunc("/swaps/{id:[0-9]+}", h.GetExchange).Methods("GET")
	r.HandleFunc("/swaps/{id:[0-9]+}/status", h.UpdateStatus).Methods("PATCH")

	r.HandleFunc("/balance", h.GetBalance).Methods("GET")

	r.HandleFunc("/admin/items/{id:[0-9]+}/approve", h.SetApproved).Methods("PATCH")
	r.HandleFunc("/admin/accounts", h.OpenAccount).Methods("POST")
}

func actorFrom(r *http.Request) (models.Actor, bool) {
	return auth.ActorFromContext(r.Context())
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

type itemRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Type        string   `json:"type"`
	Size        string   `json:"size"`
	Condition   string   `json:"condition"`
	Tags        []string `json:"tags"`
	ImageURLs   []string `json:"image_urls"`
	PointsValue int64    `json:"points_value"`
}

func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	item, err := h.items.Create(r.Context(), actor, &models.Item{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Type:        req.Type,
		Size:        req.Size,
		Condition:   req.Condition,
		Tags:        req.Tags,
		ImageURLs:   req.ImageURLs,
		PointsValue: req.PointsValue,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	q := r.URL.Query()
	var filter models.ItemFilter
	if v := q.Get("category"); v != "" {
		filter.Category = &v
	}
	if v := q.Get("size"); v != "" {
		filter.Size = &v
	}
	if v := q.Get("status"); v != "" {
		status := models.ItemStatus(v)
		if !status.Valid() {
			h.writeError(w, http.StatusBadRequest, pkgerrors.ErrInvalidStatus)
			return
		}
		filter.Status = &status
	}
	if v := q.Get("approved"); v != "" {
		approved, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, errors.New("approved must be a boolean"))
			return
		}
		filter.Approved = &approved
	}
	if v := q.Get("owner_id"); v != "" {
		owner, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, errors.New("owner_id must be an integer"))
			return
		}
		filter.OwnerID = &owner
	}

	items, err := h.items.List(r.Context(), actor, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, items)
}

func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	item, err := h.items.Get(r.Context(), actor, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, item)
}

func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Title       *string  `json:"title"`
		Description *string  `json:"description"`
		Category    *string  `json:"category"`
		Type        *string  `json:"type"`
		Size        *string  `json:"size"`
		Condition   *string  `json:"condition"`
		Tags        []string `json:"tags"`
		ImageURLs   []string `json:"image_urls"`
		PointsValue *int64   `json:"points_value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	item, err := h.items.UpdateDetails(r.Context(), actor, id, models.ItemDetails{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Type:        req.Type,
		Size:        req.Size,
		Condition:   req.Condition,
		Tags:        req.Tags,
		ImageURLs:   req.ImageURLs,
		PointsValue: req.PointsValue,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, item)
}

func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.items.Delete(r.Context(), actor, id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetApproved(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	req := struct {
		Approved *bool `json:"approved"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	approved := true
	if req.Approved != nil {
		approved = *req.Approved
	}

	item, err := h.items.SetApproved(r.Context(), actor, id, approved)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, item)
}

func (h *Handler) RequestSwap(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	var req struct {
		RequestedItemID int64  `json:"requested_item_id"`
		OfferedItemID   *int64 `json:"offered_item_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.RequestedItemID <= 0 {
		h.writeError(w, http.StatusBadRequest, errors.New("requested_item_id is required"))
		return
	}

	ex, err := h.exchanges.RequestSwap(r.Context(), actor.ID, req.RequestedItemID, req.OfferedItemID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, ex)
}

func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	var req struct {
		ItemID    int64  `json:"item_id"`
		RequestID string `json:"request_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ItemID <= 0 {
		h.writeError(w, http.StatusBadRequest, errors.New("item_id is required"))
		return
	}
	if req.RequestID == "" {
		req.RequestID = r.Header.Get("Idempotency-Key")
	}

	ex, err := h.exchanges.Redeem(r.Context(), actor.ID, req.ItemID, req.RequestID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, ex)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Status models.ExchangeStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	ex, err := h.exchanges.UpdateStatus(r.Context(), id, actor, req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ex)
}

func (h *Handler) GetExchangeHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	history, err := h.exchanges.GetExchangeHistory(r.Context(), actor.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, history)
}

func (h *Handler) GetExchange(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	ex, err := h.exchanges.GetExchange(r.Context(), id, actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ex)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	balance, err := h.exchanges.GetBalance(r.Context(), actor.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	var req struct {
		UserID  int64       `json:"user_id"`
		Role    models.Role `json:"role"`
		Balance int64       `json:"balance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	account, err := h.accounts.OpenAccount(r.Context(), actor, &models.Account{
		UserID:  req.UserID,
		Role:    req.Role,
		Balance: req.Balance,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, account)
}
