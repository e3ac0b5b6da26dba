package availability

import (
	"context"

	"salonbook/internal/models"
)

// Invalidator drops cached views touched by a committed change. It is
// installed as a change-event sink ahead of the live feeds, so viewers that
// refresh on the same event never read the stale entry.
type Invalidator struct {
	query *Query
}

func NewInvalidator(q *Query) *Invalidator {
	return &Invalidator{query: q}
}

func (i *Invalidator) Publish(ctx context.Context, ev models.ChangeEvent) error {
	if ev.MerchantID == "" || ev.Date == "" {
		return nil
	}
	i.query.Invalidate(context.WithoutCancel(ctx), ev.MerchantID, ev.StaffID, ev.Date)
	return nil
}
