package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/peershare/rental-bookings/internal/booking"
	"github.com/peershare/rental-bookings/internal/config"
	"github.com/peershare/rental-bookings/internal/domain"
	"github.com/peershare/rental-bookings/internal/idempotency"
	"github.com/peershare/rental-bookings/internal/payments"
	"github.com/peershare/rental-bookings/internal/sweeper"
)

var validate = validator.New()

const dayLayout = "2006-01-02"

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	cfg   *config.Config
	svc   *booking.Service
	idemp *idempotency.Idempotency
	sweep *sweeper.Sweeper
	db    Pinger
}

func NewHandlers(cfg *config.Config, svc *booking.Service, idemp *idempotency.Idempotency, sweep *sweeper.Sweeper, db Pinger) *Handlers {
	return &Handlers{
		cfg:   cfg,
		svc:   svc,
		idemp: idemp,
		sweep: sweep,
		db:    db,
	}
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	key, done := h.beginIdempotent(w, r)
	if done {
		return
	}
	defer h.idemp.Release(r.Context(), key)

	var req struct {
		ListingID        uuid.UUID `json:"listing_id" validate:"required"`
		StartDay         string    `json:"start_day" validate:"required,datetime=2006-01-02"`
		EndDay           string    `json:"end_day" validate:"required,datetime=2006-01-02"`
		IncludeInsurance bool      `json:"include_insurance"`
		PointsApplied    int64     `json:"points_applied" validate:"gte=0"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	dates, err := parseRange(req.StartDay, req.EndDay)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b, err := h.svc.Request(r.Context(), booking.RequestParams{
		ListingID:        req.ListingID,
		RenterID:         actorFrom(r.Context()),
		Dates:            dates,
		IncludeInsurance: req.IncludeInsurance,
		PointsApplied:    req.PointsApplied,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	data := h.writeBooking(w, http.StatusCreated, b, nil)
	h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusCreated, Result: data})
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	b, rec, err := h.svc.Get(r.Context(), id, actorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeBooking(w, http.StatusOK, b, rec)
}

func (h *Handlers) ApproveBooking(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Approve)
}

func (h *Handlers) DeclineBooking(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Decline)
}

func (h *Handlers) ActivateBooking(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Activate)
}

func (h *Handlers) CompleteBooking(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Complete)
}

func (h *Handlers) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID, uuid.UUID) (*domain.Booking, error)) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	b, err := op(r.Context(), id, actorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeBooking(w, http.StatusOK, b, nil)
}

func (h *Handlers) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	key, done := h.beginIdempotent(w, r)
	if done {
		return
	}
	defer h.idemp.Release(r.Context(), key)

	var req struct {
		PaymentMethod string `json:"payment_method" validate:"required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// The submission key doubles as the processor idempotency scope, so
	// a network retry of this request cannot charge twice.
	b, err := h.svc.SubmitPayment(r.Context(), id, actorFrom(r.Context()), req.PaymentMethod, key)
	if err != nil {
		writeError(w, err)
		return
	}

	data := h.writeBooking(w, http.StatusOK, b, nil)
	h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusOK, Result: data})
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req struct {
		RefundKind  string `json:"refund_kind" validate:"required,oneof=FULL PARTIAL NONE"`
		AmountCents int64  `json:"amount_cents" validate:"gte=0"`
		Reason      string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	decision := domain.RefundDecision{
		Kind:        domain.RefundKind(req.RefundKind),
		AmountCents: req.AmountCents,
		Reason:      req.Reason,
	}
	b, err := h.svc.Cancel(r.Context(), id, actorFrom(r.Context()), decision)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeBooking(w, http.StatusOK, b, nil)
}

// ProcessorWebhook takes payment events from the processor's feed. A
// non-2xx answer makes the processor redeliver, so only malformed
// events are rejected for good.
func (h *Handlers) ProcessorWebhook(w http.ResponseWriter, r *http.Request) {
	var event payments.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err := h.svc.HandleProcessorEvent(r.Context(), event)
	if errors.Is(err, domain.ErrInvalidInput) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "unknown booking", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) ListingAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	dates, err := parseRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries, err := h.svc.Availability(r.Context(), id, dates)
	if err != nil {
		writeError(w, err)
		return
	}

	days := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		days = append(days, map[string]interface{}{
			"day":    e.Day.Format(dayLayout),
			"status": e.Status,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"listing_id": id,
		"from":       dates.Start.Format(dayLayout),
		"to":         dates.End.Format(dayLayout),
		"days":       days,
	})
}

func (h *Handlers) BlockListingDays(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req struct {
		StartDay string `json:"start_day" validate:"required,datetime=2006-01-02"`
		EndDay   string `json:"end_day" validate:"required,datetime=2006-01-02"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	dates, err := parseRange(req.StartDay, req.EndDay)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.svc.BlockDates(r.Context(), id, actorFrom(r.Context()), dates, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) UnblockListingDays(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	dates, err := parseRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.svc.UnblockDates(r.Context(), id, actorFrom(r.Context()), dates); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.sweep.Sweep(r.Context(), time.Now().UTC())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"expired":    res.Expired,
		"skipped":    res.Skipped,
		"reconciled": res.Reconciled,
	})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		http.Error(w, "database unreachable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

// beginIdempotent replays a stored response for the request's key, or
// claims the key. done reports that a response was already written.
func (h *Handlers) beginIdempotent(w http.ResponseWriter, r *http.Request) (key string, done bool) {
	key = r.Header.Get("Idempotency-Key")
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return key, true
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return key, true
	}
	claimed, err := h.idemp.Claim(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return key, true
	}
	if !claimed {
		http.Error(w, "request with this key already in flight", http.StatusConflict)
		return key, true
	}
	return key, false
}

func (h *Handlers) writeBooking(w http.ResponseWriter, status int, b *domain.Booking, rec *domain.PaymentRecord) []byte {
	resp := map[string]interface{}{
		"id":                b.ID,
		"listing_id":        b.ListingID,
		"renter_id":         b.RenterID,
		"owner_id":          b.OwnerID,
		"start_day":         b.Dates.Start.Format(dayLayout),
		"end_day":           b.Dates.End.Format(dayLayout),
		"status":            b.Status,
		"pricing":           b.Pricing,
		"approval_deadline": b.ApprovalDeadline.Format(time.RFC3339),
		"created_at":        b.CreatedAt.Format(time.RFC3339),
		"status_changed_at": b.StatusChangedAt.Format(time.RFC3339),
	}
	if !b.HoldExpiresAt.IsZero() {
		resp["hold_expires_at"] = b.HoldExpiresAt.Format(time.RFC3339)
	}
	if b.PaymentReference != "" {
		resp["payment_reference"] = b.PaymentReference
	}
	if rec != nil {
		resp["payment"] = map[string]interface{}{
			"processor_reference":      rec.ProcessorReference,
			"amount_authorized_cents":  rec.AmountAuthorizedCents,
			"amount_captured_cents":    rec.AmountCapturedCents,
			"amount_transferred_cents": rec.AmountTransferredCents,
			"amount_refunded_cents":    rec.AmountRefundedCents,
			"last_processor_status":    rec.LastProcessorStatus,
		}
	}
	return writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, resp interface{}) []byte {
	data, _ := json.Marshal(resp)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	return data
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrUnauthorized):
		http.Error(w, "not a party to this booking", http.StatusForbidden)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrStateConflict), errors.Is(err, domain.ErrAvailabilityConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrPaymentDeclined):
		http.Error(w, "payment declined", http.StatusPaymentRequired)
	case errors.Is(err, domain.ErrPaymentTransient), errors.Is(err, domain.ErrSerializationFailure):
		http.Error(w, "temporarily unavailable, retry", http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func parseRange(from, to string) (domain.DateRange, error) {
	start, err := time.Parse(dayLayout, from)
	if err != nil {
		return domain.DateRange{}, err
	}
	end, err := time.Parse(dayLayout, to)
	if err != nil {
		return domain.DateRange{}, err
	}
	return domain.NewDateRange(start, end)
}
