package transaction

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/farepay/farepay-api/internal/domain/ledger"
	"github.com/farepay/farepay-api/internal/domain/token"
	"github.com/farepay/farepay-api/internal/middleware"
	"github.com/farepay/farepay-api/internal/pkg/errorhandler"
	"github.com/farepay/farepay-api/internal/pkg/response"
	"github.com/farepay/farepay-api/internal/pkg/validator"
)

// Handler handles payment and transaction HTTP requests
type Handler struct {
	processor *Processor
	receipts  *ReceiptArchiver
}

// NewHandler creates transaction handler. receipts may be nil when archival is off.
func NewHandler(processor *Processor, receipts *ReceiptArchiver) *Handler {
	return &Handler{processor: processor, receipts: receipts}
}

var transactionErrors = append([]errorhandler.Mapping{
	{Err: ErrInvalidPaymentMethod, Status: http.StatusUnprocessableEntity, Code: "VALIDATION_ERROR", Message: "payment_method must be one of wallet, qr, nfc"},
	{Err: ErrSelfPayment, Status: http.StatusUnprocessableEntity, Code: "SELF_PAYMENT", Message: "You cannot pay your own token"},
	{Err: ledger.ErrInsufficientFunds, Status: http.StatusPaymentRequired, Code: "INSUFFICIENT_FUNDS", Message: "Insufficient balance"},
	{Err: ErrTransactionNotFound, Status: http.StatusNotFound, Code: "TRANSACTION_NOT_FOUND", Message: "Transaction not found"},
	{Err: ErrInvalidTransition, Status: http.StatusConflict, Code: "INVALID_TRANSITION", Message: "Only completed transactions can be reversed"},
	{Err: ErrForbidden, Status: http.StatusForbidden, Code: "FORBIDDEN", Message: "Only the merchant owner can reverse this transaction"},
	{Err: ErrReceiptNotFound, Status: http.StatusNotFound, Code: "RECEIPT_NOT_FOUND", Message: "Receipt not found"},
}, token.ErrorMappings...)

func actorFrom(r *http.Request) Actor {
	return Actor{
		UserID:  middleware.GetUserID(r.Context()),
		IsAdmin: middleware.GetRole(r.Context()) == "admin",
	}
}

// Pay handles POST /payments
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	var req PayRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	result, err := h.processor.Pay(r.Context(), middleware.GetUserID(r.Context()), req)
	if err != nil {
		errorhandler.Handle(r.Context(), w, err, transactionErrors...)
		return
	}
	response.OK(w, result)
}

// Methods handles GET /payments/methods
func (h *Handler) Methods(w http.ResponseWriter, r *http.Request) {
	response.OK(w, PaymentMethods())
}

// List handles GET /transactions?limit=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.processor.List(r.Context(), middleware.GetUserID(r.Context()), limit)
	if err != nil {
		errorhandler.HandleInternal(r.Context(), w, err)
		return
	}

	out := make([]Response, 0, len(items))
	for _, t := range items {
		out = append(out, t.ToResponse())
	}
	response.OK(w, out)
}

// Stats handles GET /transactions/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.processor.Stats(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		errorhandler.HandleInternal(r.Context(), w, err)
		return
	}
	response.OK(w, stats)
}

// Get handles GET /transactions/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.processor.Get(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		errorhandler.Handle(r.Context(), w, err, transactionErrors...)
		return
	}
	response.OK(w, t.ToResponse())
}

// Reverse handles POST /transactions/{id}/reverse
func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	t, err := h.processor.Reverse(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		errorhandler.Handle(r.Context(), w, err, transactionErrors...)
		return
	}
	response.OK(w, t.ToResponse())
}

// Receipt handles GET /transactions/{id}/receipt
func (h *Handler) Receipt(w http.ResponseWriter, r *http.Request) {
	if h.receipts == nil {
		response.NotFound(w, "Receipts are not enabled")
		return
	}
	t, err := h.processor.Get(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err == nil {
		var receipt *Receipt
		receipt, err = h.receipts.Load(r.Context(), t)
		if err == nil {
			response.OK(w, receipt)
			return
		}
	}
	errorhandler.Handle(r.Context(), w, err, transactionErrors...)
}
