// Package report builds merchant booking and earnings workbooks.
package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"salonbook/internal/models"
)

const (
	SheetBookings = "Bookings"
	SheetEarnings = "Earnings"
)

// Source reads the data a report covers.
type Source interface {
	ListMerchantBookings(ctx context.Context, merchantID, from, to string) ([]models.Booking, error)
	StaffNames(ctx context.Context, merchantID string) (map[string]string, error)
}

// Generator renders reports from a Source.
type Generator struct {
	source Source
}

func NewGenerator(source Source) *Generator {
	return &Generator{source: source}
}

// Filename is the download name of a merchant report.
func Filename(merchantID, from, to string) string {
	return fmt.Sprintf("%s_%s_%s.xlsx", merchantID, from, to)
}

type staffTotals struct {
	name      string
	completed int
	upcoming  int
	cancelled int
	earned    int64
}

// tableWriter receives the report sheet by sheet.
type tableWriter interface {
	addSheet(name string) error
	writeHeader(columns ...string) error
	writeRow(values ...any) error
}

// Write renders the bookings between from and to (inclusive dates) with a
// per-stylist earnings summary as an xlsx workbook. Only completed bookings
// count as earned.
func (g *Generator) Write(ctx context.Context, merchantID, from, to string, out io.Writer) error {
	w := newSheetWriter()
	defer w.close()

	if err := g.render(ctx, merchantID, from, to, w); err != nil {
		return err
	}
	if err := w.save(out); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func (g *Generator) render(ctx context.Context, merchantID, from, to string, w tableWriter) error {
	fromDate, err := time.Parse(models.DateLayout, from)
	if err != nil {
		return fmt.Errorf("%w: invalid from date %q", models.ErrInvalidRequest, from)
	}
	toDate, err := time.Parse(models.DateLayout, to)
	if err != nil {
		return fmt.Errorf("%w: invalid to date %q", models.ErrInvalidRequest, to)
	}
	if toDate.Before(fromDate) {
		return fmt.Errorf("%w: range ends before it starts", models.ErrInvalidRequest)
	}

	bookings, err := g.source.ListMerchantBookings(ctx, merchantID, from, to)
	if err != nil {
		return fmt.Errorf("list bookings: %w", err)
	}
	names, err := g.source.StaffNames(ctx, merchantID)
	if err != nil {
		return fmt.Errorf("staff names: %w", err)
	}

	if err := w.addSheet(SheetBookings); err != nil {
		return err
	}
	if err := w.writeHeader("Booking", "Date", "Start", "End", "Stylist", "Services", "Status", "Payment", "Amount"); err != nil {
		return err
	}

	totals := make(map[string]*staffTotals)
	for _, b := range bookings {
		name := names[b.StaffID]
		if name == "" {
			name = b.StaffID
		}
		err := w.writeRow(
			b.ID, b.Date,
			models.FormatMinute(b.StartMinute), models.FormatMinute(b.StartMinute+b.DurationMinutes),
			name, strings.Join(b.ServiceIDs, ", "),
			string(b.Status), string(b.PaymentStatus), float64(b.AmountCents)/100,
		)
		if err != nil {
			return err
		}

		t := totals[b.StaffID]
		if t == nil {
			t = &staffTotals{name: name}
			totals[b.StaffID] = t
		}
		switch b.Status {
		case models.StatusCompleted:
			t.completed++
			t.earned += b.AmountCents
		case models.StatusPending, models.StatusConfirmed:
			t.upcoming++
		case models.StatusCancelled:
			t.cancelled++
		}
	}

	if err := w.addSheet(SheetEarnings); err != nil {
		return err
	}
	if err := w.writeHeader("Stylist", "Completed", "Upcoming", "Cancelled", "Earned"); err != nil {
		return err
	}

	ids := make([]string, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var all staffTotals
	for _, id := range ids {
		t := totals[id]
		if err := w.writeRow(t.name, t.completed, t.upcoming, t.cancelled, float64(t.earned)/100); err != nil {
			return err
		}
		all.completed += t.completed
		all.upcoming += t.upcoming
		all.cancelled += t.cancelled
		all.earned += t.earned
	}
	return w.writeRow("Total", all.completed, all.upcoming, all.cancelled, float64(all.earned)/100)
}
