package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"salonbook/internal/booking"
	"salonbook/internal/livesync"
	"salonbook/internal/metrics"
	"salonbook/internal/models"
	"salonbook/internal/report"
)

type availabilityQuery struct {
	StaffID    string `json:"staff_id"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	Duration   int    `json:"duration" validate:"omitempty,min=1,max=1440"`
	ServiceIDs string `json:"service_ids" validate:"required_without=Duration"`
	OwnerToken string `json:"owner_token"`
}

type availabilityResponse struct {
	MerchantID      string            `json:"merchant_id"`
	StaffID         string            `json:"staff_id,omitempty"`
	Date            string            `json:"date"`
	DurationMinutes int               `json:"duration_minutes"`
	Slots           []models.SlotView `json:"slots"`
}

// resolveDuration takes an explicit duration, or the total of the listed services.
func (s *Server) resolveDuration(ctx context.Context, merchantID string, duration int, serviceIDs string) (int, error) {
	if duration > 0 {
		return duration, nil
	}
	quote, err := s.deps.Quotes.QuoteServices(ctx, merchantID, splitList(serviceIDs))
	if err != nil {
		return 0, err
	}
	return quote.DurationMinutes, nil
}

func (s *Server) parseAvailability(r *http.Request) (models.AvailabilityRequest, error) {
	q := r.URL.Query()
	params := availabilityQuery{
		StaffID:    q.Get("staff_id"),
		Date:       q.Get("date"),
		ServiceIDs: q.Get("service_ids"),
		OwnerToken: q.Get("owner_token"),
	}
	if raw := q.Get("duration"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil {
			return models.AvailabilityRequest{}, ValidationErrors{{Field: "duration", Message: "must be a number of minutes"}}
		}
		params.Duration = d
	}
	if err := s.check(params); err != nil {
		return models.AvailabilityRequest{}, err
	}

	merchantID := chi.URLParam(r, "merchantID")
	duration, err := s.resolveDuration(r.Context(), merchantID, params.Duration, params.ServiceIDs)
	if err != nil {
		return models.AvailabilityRequest{}, err
	}
	return models.AvailabilityRequest{
		MerchantID:      merchantID,
		StaffID:         params.StaffID,
		Date:            params.Date,
		DurationMinutes: duration,
		OwnerToken:      params.OwnerToken,
	}, nil
}

// GET /api/v1/merchants/{merchantID}/availability
func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("availability")

	req, err := s.parseAvailability(r)
	if err != nil {
		writeError(w, err)
		return
	}
	views, err := s.deps.Availability.GetAvailability(r.Context(), req)
	if err != nil {
		s.logger.Warn().Err(err).Str("merchant_id", req.MerchantID).Msg("Availability read failed")
		writeError(w, err)
		return
	}
	if views == nil {
		views = []models.SlotView{}
	}
	writeJSON(w, http.StatusOK, availabilityResponse{
		MerchantID:      req.MerchantID,
		StaffID:         req.StaffID,
		Date:            req.Date,
		DurationMinutes: req.DurationMinutes,
		Slots:           views,
	})
}

type lockRequest struct {
	MerchantID      string   `json:"merchant_id" validate:"required"`
	StaffID         string   `json:"staff_id" validate:"required"`
	Date            string   `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime       string   `json:"start_time" validate:"required,clock"`
	DurationMinutes int      `json:"duration_minutes" validate:"omitempty,min=1,max=1440"`
	ServiceIDs      []string `json:"service_ids" validate:"required_without=DurationMinutes"`
	OwnerToken      string   `json:"owner_token"`
}

type lockResponse struct {
	Success    bool          `json:"success"`
	Reason     models.Reason `json:"reason,omitempty"`
	Message    string        `json:"message,omitempty"`
	OwnerToken string        `json:"owner_token,omitempty"`
	ExpiresAt  *time.Time    `json:"expires_at,omitempty"`
}

func (s *Server) lockRange(ctx context.Context, req lockRequest) (models.SlotRange, error) {
	start, err := models.ParseClock(req.StartTime)
	if err != nil {
		return models.SlotRange{}, err
	}
	duration, err := s.resolveDuration(ctx, req.MerchantID, req.DurationMinutes, strings.Join(req.ServiceIDs, ","))
	if err != nil {
		return models.SlotRange{}, err
	}
	return models.SlotRange{
		MerchantID:      req.MerchantID,
		StaffID:         req.StaffID,
		Date:            req.Date,
		StartMinute:     start,
		DurationMinutes: duration,
	}, nil
}

// POST /api/v1/locks
func (s *Server) handleAcquireLock(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("lock_acquire")

	var req lockRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rng, err := s.lockRange(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	var grant models.LockGrant
	if req.OwnerToken != "" {
		grant, err = s.deps.Locks.Renew(r.Context(), rng, req.OwnerToken)
	} else {
		grant, err = s.deps.Locks.Acquire(r.Context(), rng)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if !grant.Granted {
		writeJSON(w, http.StatusConflict, lockResponse{
			Reason:  grant.Reason,
			Message: models.UserMessage(models.ErrSlotUnavailable),
		})
		return
	}
	expires := grant.ExpiresAt
	writeJSON(w, http.StatusOK, lockResponse{Success: true, OwnerToken: grant.OwnerToken, ExpiresAt: &expires})
}

// DELETE /api/v1/locks
func (s *Server) handleReleaseLock(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("lock_release")

	var req lockRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.OwnerToken == "" {
		writeError(w, ValidationErrors{{Field: "owner_token", Message: "is required"}})
		return
	}
	rng, err := s.lockRange(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Locks.Release(r.Context(), rng, req.OwnerToken); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lockResponse{Success: true})
}

// POST /api/v1/bookings
func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("booking_create")

	var req booking.CreateBookingRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	writeOutcome(w, http.StatusCreated, s.deps.Coordinator.CreateBooking(r.Context(), req))
}

// GET /api/v1/bookings/{id}
func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("booking_get")

	b, err := s.deps.Bookings.GetBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type statusRequest struct {
	Status      models.BookingStatus `json:"status" validate:"required,oneof=confirmed completed cancelled"`
	ActorUserID string               `json:"actor_user_id" validate:"required"`
}

// POST /api/v1/bookings/{id}/status
func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("booking_status")

	var req statusRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	writeOutcome(w, http.StatusOK, s.deps.Statuses.SetStatus(r.Context(), chi.URLParam(r, "id"), req.Status, req.ActorUserID))
}

type bookingList struct {
	Bookings []models.Booking `json:"bookings"`
	page
}

// GET /api/v1/merchants/{merchantID}/bookings
func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("booking_list")

	q := r.URL.Query()
	params := reportQuery{From: q.Get("from"), To: q.Get("to"), ActorUserID: q.Get("actor_user_id")}
	if err := s.check(params); err != nil {
		writeError(w, err)
		return
	}
	n, per, err := parsePage(r)
	if err != nil {
		writeError(w, err)
		return
	}
	merchantID := chi.URLParam(r, "merchantID")
	if err := s.deps.Access.RequireMember(r.Context(), merchantID, params.ActorUserID); err != nil {
		writeError(w, err)
		return
	}

	all, err := s.deps.Bookings.ListMerchantBookings(r.Context(), merchantID, params.From, params.To)
	if err != nil {
		writeError(w, err)
		return
	}
	p := paginate(len(all), n, per)
	writeJSON(w, http.StatusOK, bookingList{Bookings: append([]models.Booking{}, all[p.start:p.end]...), page: p})
}

type reportQuery struct {
	From        string `json:"from" validate:"required,datetime=2006-01-02"`
	To          string `json:"to" validate:"required,datetime=2006-01-02"`
	ActorUserID string `json:"actor_user_id" validate:"required"`
}

// GET /api/v1/merchants/{merchantID}/report.xlsx
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("report")

	q := r.URL.Query()
	params := reportQuery{From: q.Get("from"), To: q.Get("to"), ActorUserID: q.Get("actor_user_id")}
	if err := s.check(params); err != nil {
		writeError(w, err)
		return
	}
	merchantID := chi.URLParam(r, "merchantID")
	if err := s.deps.Access.RequireMember(r.Context(), merchantID, params.ActorUserID); err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := s.deps.Reports.Write(r.Context(), merchantID, params.From, params.To, &buf); err != nil {
		s.logger.Error().Err(err).Str("merchant_id", merchantID).Msg("Report generation failed")
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, report.Filename(merchantID, params.From, params.To)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// POST /api/v1/merchants/{merchantID}/report/sheets
func (s *Server) handleExportSheets(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("report_sheets")

	q := r.URL.Query()
	params := reportQuery{From: q.Get("from"), To: q.Get("to"), ActorUserID: q.Get("actor_user_id")}
	if err := s.check(params); err != nil {
		writeError(w, err)
		return
	}
	merchantID := chi.URLParam(r, "merchantID")
	if err := s.deps.Access.RequireMember(r.Context(), merchantID, params.ActorUserID); err != nil {
		writeError(w, err)
		return
	}

	if err := s.deps.Sheets.Export(r.Context(), merchantID, params.From, params.To); err != nil {
		s.logger.Error().Err(err).Str("merchant_id", merchantID).Msg("Sheets export failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"merchant_id": merchantID,
		"tabs":        []string{report.TabTitle(merchantID, report.SheetBookings), report.TabTitle(merchantID, report.SheetEarnings)},
	})
}

// GET /api/v1/merchants/{merchantID}/availability/stream
//
// Server-Sent Events: a "snapshot" event with the current view, then one
// event per live signal.
func (s *Server) handleAvailabilityStream(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("availability_stream")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errors.New("streaming unsupported"))
		return
	}
	req, err := s.parseAvailability(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.deps.Live.Watch(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sess.Close()

	if raw := r.URL.Query().Get("selected"); raw != "" {
		if minute, err := models.ParseClock(raw); err == nil {
			sess.Select(minute, req.OwnerToken)
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "snapshot", livesync.Signal{Kind: livesync.SignalRefreshed, Views: sess.Views()}); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case sig, ok := <-sess.Signals():
			if !ok {
				return
			}
			if err := writeEvent(w, string(sig.Kind), sig); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
