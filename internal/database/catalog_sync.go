package database

import (
	"context"
	"fmt"

	"salonbook/internal/config"
	"salonbook/internal/models"
)

// SyncCatalog applies catalog.yaml to the database. Merchants, staff,
// services, holidays, members and contacts are upserted; staff missing from
// the file are marked inactive so their history stays intact.
func (db *DB) SyncCatalog(ctx context.Context, cat *config.Catalog) error {
	if cat == nil {
		return fmt.Errorf("catalog is nil")
	}

	for _, m := range cat.Merchants {
		merchant := models.Merchant{ID: m.ID, Name: m.Name, Timezone: m.Timezone}
		if err := db.UpsertMerchant(ctx, merchant, m.Hours.WeeklyHours()); err != nil {
			return err
		}

		keep := make([]string, 0, len(m.Staff))
		for _, s := range m.Staff {
			if err := db.UpsertStaff(ctx, m.StaffModel(s)); err != nil {
				return err
			}
			keep = append(keep, s.ID)
		}
		if n, err := db.DeactivateMissingStaff(ctx, m.ID, keep); err != nil {
			return err
		} else if n > 0 {
			db.logger.Info().Str("merchant_id", m.ID).Int64("count", n).Msg("Deactivated staff missing from catalog")
		}

		for _, s := range m.Services {
			err := db.UpsertService(ctx, models.Service{
				ID:              s.ID,
				MerchantID:      m.ID,
				Name:            s.Name,
				DurationMinutes: s.DurationMinutes,
				PriceCents:      s.PriceCents,
			})
			if err != nil {
				return err
			}
		}

		for _, h := range m.Holidays {
			if err := db.AddHoliday(ctx, models.Holiday{MerchantID: m.ID, Date: h.Date, Name: h.Name}); err != nil {
				return err
			}
		}

		for _, mem := range m.Members {
			if err := db.UpsertMember(ctx, models.Member{MerchantID: m.ID, UserID: mem.UserID, Role: mem.Role}); err != nil {
				return err
			}
		}
	}

	for _, c := range cat.Contacts {
		if err := db.UpsertContact(ctx, models.Contact{UserID: c.UserID, ChatID: c.ChatID}); err != nil {
			return err
		}
	}

	db.logger.Info().Str("catalog", cat.String()).Msg("Catalog synced")
	return nil
}
