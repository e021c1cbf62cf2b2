package stock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/varejo-erp/varejo-erp/internal/platform/httpx"
	"github.com/varejo-erp/varejo-erp/internal/shared"
)

// Handler wires HTTP endpoints for the stock engine.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/stock", func(r chi.Router) {
		r.Post("/batches", h.createBatch)
		r.Get("/batches", h.listBatches)
		r.Post("/withdrawals", h.withdraw)
		r.Post("/adjustments", h.adjust)
		r.Get("/movements", h.listMovements)
		r.Get("/positions/{productID}", h.getSnapshot)
		r.Get("/availability", h.checkAvailability)
		r.Get("/overview", h.overview)
	})
	r.Route("/reservations", func(r chi.Router) {
		r.Post("/", h.createReservation)
		r.Get("/{id}", h.getReservation)
		r.Post("/{id}/complete", h.completeReservation)
		r.Post("/{id}/cancel", h.cancelReservation)
	})
}

type createBatchRequest struct {
	ProductID      int64      `json:"product_id" validate:"required,gt=0"`
	StoreID        int64      `json:"store_id" validate:"required,gt=0"`
	Quantity       int64      `json:"quantity" validate:"required,gt=0"`
	UnitCost       int64      `json:"unit_cost" validate:"gte=0"`
	BatchNumber    string     `json:"batch_number"`
	EntryDate      *time.Time `json:"entry_date"`
	ExpiryDate     *time.Time `json:"expiry_date"`
	Supplier       string     `json:"supplier"`
	Notes          string     `json:"notes"`
	IdempotencyKey string     `json:"idempotency_key"`
}

func (h *Handler) createBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	input := EntryInput{
		ProductID:      req.ProductID,
		StoreID:        req.StoreID,
		Quantity:       req.Quantity,
		UnitCost:       req.UnitCost,
		BatchNumber:    req.BatchNumber,
		ExpiryDate:     req.ExpiryDate,
		Supplier:       req.Supplier,
		Notes:          req.Notes,
		IdempotencyKey: req.IdempotencyKey,
	}
	if req.EntryDate != nil {
		input.EntryDate = *req.EntryDate
	}
	batch, err := h.service.CreateEntry(r.Context(), input)
	if err != nil {
		h.logger.Error("create batch failed", slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, batch)
}

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := BatchFilter{
		ProductID:       queryInt(q.Get("product_id")),
		StoreID:         queryInt(q.Get("store_id")),
		IncludeDepleted: q.Get("include_depleted") == "true",
		Status:          BatchStatus(q.Get("status")),
		Limit:           int(queryInt(q.Get("limit"))),
	}
	views, err := h.service.ListBatches(r.Context(), filter)
	if err != nil {
		h.logger.Error("list batches failed", slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, views)
}

type withdrawRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	StoreID   int64  `json:"store_id" validate:"required,gt=0"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	Reason    string `json:"reason" validate:"required"`
	OrderRef  string `json:"order_ref"`
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.Withdraw(r.Context(), WithdrawalInput{
		ProductID: req.ProductID,
		StoreID:   req.StoreID,
		Quantity:  req.Quantity,
		Reason:    req.Reason,
		OrderRef:  req.OrderRef,
	})
	if err != nil {
		h.logger.Error("withdraw failed", slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type adjustRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	StoreID   int64  `json:"store_id" validate:"required,gt=0"`
	Quantity  int64  `json:"quantity" validate:"required"`
	UnitCost  int64  `json:"unit_cost" validate:"gte=0"`
	Reason    string `json:"reason" validate:"required"`
	Notes     string `json:"notes"`
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	if err := h.service.Adjust(r.Context(), AdjustmentInput{
		ProductID: req.ProductID,
		StoreID:   req.StoreID,
		Quantity:  req.Quantity,
		UnitCost:  req.UnitCost,
		Reason:    req.Reason,
		Notes:     req.Notes,
	}); err != nil {
		h.logger.Error("adjustment failed", slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := MovementFilter{
		ProductID: queryInt(q.Get("product_id")),
		StoreID:   queryInt(q.Get("store_id")),
		Type:      MovementType(q.Get("type")),
		Limit:     int(queryInt(q.Get("limit"))),
	}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid from date")
			return
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid to date")
			return
		}
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	movements, err := h.service.QueryMovements(r.Context(), filter)
	if err != nil {
		h.logger.Error("list movements failed", slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	storeID := queryInt(r.URL.Query().Get("store_id"))
	if storeID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "store_id required")
		return
	}
	snap, err := h.service.GetSnapshot(r.Context(), productID, storeID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) checkAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	productID := queryInt(q.Get("product_id"))
	storeID := queryInt(q.Get("store_id"))
	if productID == 0 || storeID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "product_id and store_id required")
		return
	}
	available, err := h.service.CheckAvailability(r.Context(), productID, storeID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"available": available})
}

func (h *Handler) overview(w http.ResponseWriter, r *http.Request) {
	storeID := queryInt(r.URL.Query().Get("store_id"))
	overview, err := h.service.GetOverview(r.Context(), storeID)
	if err != nil {
		h.logger.Error("overview failed", slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, overview)
}

type createReservationRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	StoreID   int64  `json:"store_id" validate:"required,gt=0"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	OrderRef  string `json:"order_ref"`
}

func (h *Handler) createReservation(w http.ResponseWriter, r *http.Request) {
	var req createReservationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	reservation, err := h.service.CreateReservation(r.Context(), req.ProductID, req.StoreID, req.Quantity, req.OrderRef)
	if err != nil {
		h.logger.Error("create reservation failed", slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, reservation)
}

func (h *Handler) getReservation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid reservation id")
		return
	}
	reservation, err := h.service.GetReservation(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, reservation)
}

type completeReservationRequest struct {
	OrderRef string `json:"order_ref"`
}

func (h *Handler) completeReservation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid reservation id")
		return
	}
	var req completeReservationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	result, err := h.service.CompleteReservation(r.Context(), id, req.OrderRef)
	if err != nil {
		h.logger.Error("complete reservation failed", slog.Int64("id", id), slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) cancelReservation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid reservation id")
		return
	}
	if err := h.service.CancelReservation(r.Context(), id); err != nil {
		h.logger.Error("cancel reservation failed", slog.Int64("id", id), slog.Any("error", err))
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrReservationExpired):
		httpx.Problem(w, http.StatusGone, "Reservation Expired", err.Error())
	case errors.Is(err, ErrDuplicateBatchNumber), errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidUnitCost), errors.Is(err, ErrInvalidOrderRef), errors.Is(err, ErrUnknownValuationMethod):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, ErrBatchNotFound), errors.Is(err, ErrReservationNotFound), errors.Is(err, ErrPositionNotFound), errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func queryInt(value string) int64 {
	if value == "" {
		return 0
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
