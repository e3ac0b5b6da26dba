// Package api exposes the booking core over HTTP.
package api

import (
	"context"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"salonbook/internal/booking"
	"salonbook/internal/livesync"
	"salonbook/internal/models"
)

type AvailabilityReader interface {
	GetAvailability(ctx context.Context, req models.AvailabilityRequest) ([]models.SlotView, error)
}

type ServiceQuoter interface {
	QuoteServices(ctx context.Context, merchantID string, serviceIDs []string) (models.ServiceQuote, error)
}

type Locker interface {
	Acquire(ctx context.Context, r models.SlotRange) (models.LockGrant, error)
	Renew(ctx context.Context, r models.SlotRange, ownerToken string) (models.LockGrant, error)
	Release(ctx context.Context, r models.SlotRange, ownerToken string) error
}

type BookingCreator interface {
	CreateBooking(ctx context.Context, req booking.CreateBookingRequest) models.Outcome
}

type StatusSetter interface {
	SetStatus(ctx context.Context, bookingID string, to models.BookingStatus, actor string) models.Outcome
}

type BookingReader interface {
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	ListMerchantBookings(ctx context.Context, merchantID, from, to string) ([]models.Booking, error)
}

type Watcher interface {
	Watch(ctx context.Context, req models.AvailabilityRequest) (*livesync.Session, error)
}

type ReportWriter interface {
	Write(ctx context.Context, merchantID, from, to string, out io.Writer) error
}

type SheetExporter interface {
	Export(ctx context.Context, merchantID, from, to string) error
}

type MemberChecker interface {
	RequireMember(ctx context.Context, merchantID, userID string) error
}

// Check is a named readiness check.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

// Deps are the components the API serves.
type Deps struct {
	Availability AvailabilityReader
	Quotes       ServiceQuoter
	Locks        Locker
	Bookings     BookingReader
	Coordinator  BookingCreator
	Statuses     StatusSetter
	Live         Watcher
	Reports      ReportWriter
	Sheets       SheetExporter // optional
	Access       MemberChecker
	Checks       []Check
}

// Server routes HTTP requests to the booking core.
type Server struct {
	deps      Deps
	validate  *validator.Validate
	logger    zerolog.Logger
	heartbeat time.Duration
}

func NewServer(deps Deps, logger zerolog.Logger) *Server {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := models.ParseClock(fl.Field().String())
		return err == nil
	})

	return &Server{
		deps:      deps,
		validate:  v,
		logger:    logger.With().Str("component", "api").Logger(),
		heartbeat: 15 * time.Second,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		// Streams stay open, so they are outside the request timeout.
		r.Get("/merchants/{merchantID}/availability/stream", s.handleAvailabilityStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(15 * time.Second))

			r.Get("/merchants/{merchantID}/availability", s.handleAvailability)
			r.Get("/merchants/{merchantID}/bookings", s.handleListBookings)
			r.Get("/merchants/{merchantID}/report.xlsx", s.handleReport)
			if s.deps.Sheets != nil {
				r.Post("/merchants/{merchantID}/report/sheets", s.handleExportSheets)
			}

			r.Post("/locks", s.handleAcquireLock)
			r.Delete("/locks", s.handleReleaseLock)

			r.Post("/bookings", s.handleCreateBooking)
			r.Get("/bookings/{id}", s.handleGetBooking)
			r.Post("/bookings/{id}/status", s.handleSetStatus)
		})
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(started)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(s.deps.Checks))
	for _, c := range s.deps.Checks {
		if err := c.Run(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[c.Name] = err.Error()
			continue
		}
		results[c.Name] = "ok"
	}
	writeJSON(w, status, results)
}
