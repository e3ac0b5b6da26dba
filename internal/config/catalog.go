package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"salonbook/internal/models"
)

// Catalog is the merchant setup synced into the database.
type Catalog struct {
	Merchants []MerchantConfig `yaml:"merchants"`
	Contacts  []ContactConfig  `yaml:"contacts"`
}

type MerchantConfig struct {
	ID       string          `yaml:"id"`
	Name     string          `yaml:"name"`
	Timezone string          `yaml:"timezone"`
	Hours    HoursConfig     `yaml:"hours"`
	Holidays []HolidayConfig `yaml:"holidays"`
	Staff    []StaffConfig   `yaml:"staff"`
	Services []ServiceConfig `yaml:"services"`
	Members  []MemberConfig  `yaml:"members"`
}

// HoursConfig is a weekly window with optional days off (1=Mon..7=Sun).
type HoursConfig struct {
	Open    string `yaml:"open"`
	Close   string `yaml:"close"`
	DaysOff []int  `yaml:"days_off"`
}

type HolidayConfig struct {
	Date string `yaml:"date"`
	Name string `yaml:"name"`
}

type StaffConfig struct {
	ID     string       `yaml:"id"`
	Name   string       `yaml:"name"`
	Active *bool        `yaml:"active"`
	Hours  *HoursConfig `yaml:"hours"`
	Leaves []string     `yaml:"leaves"`
}

type ServiceConfig struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	DurationMinutes int    `yaml:"duration_minutes"`
	PriceCents      int64  `yaml:"price_cents"`
}

type MemberConfig struct {
	UserID string `yaml:"user_id"`
	Role   string `yaml:"role"`
}

type ContactConfig struct {
	UserID string `yaml:"user_id"`
	ChatID int64  `yaml:"chat_id"`
}

// LoadCatalog reads and validates catalog.yaml.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var c Catalog
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}
	return &c, nil
}

// Validate checks ids, clock formats and dates.
func (c *Catalog) Validate() error {
	if len(c.Merchants) == 0 {
		return fmt.Errorf("no merchants defined")
	}

	merchants := make(map[string]bool)
	staff := make(map[string]bool)
	services := make(map[string]bool)

	for i, m := range c.Merchants {
		if m.ID == "" {
			return fmt.Errorf("merchant[%d]: id is required", i)
		}
		if merchants[m.ID] {
			return fmt.Errorf("merchant[%d]: duplicate id %q", i, m.ID)
		}
		merchants[m.ID] = true

		if err := validateHours(m.Hours, fmt.Sprintf("merchant[%s].hours", m.ID)); err != nil {
			return err
		}
		for j, h := range m.Holidays {
			if _, err := time.Parse(models.DateLayout, h.Date); err != nil {
				return fmt.Errorf("merchant[%s].holidays[%d]: invalid date %q, expected YYYY-MM-DD", m.ID, j, h.Date)
			}
		}
		for j, s := range m.Staff {
			if s.ID == "" {
				return fmt.Errorf("merchant[%s].staff[%d]: id is required", m.ID, j)
			}
			if staff[s.ID] {
				return fmt.Errorf("merchant[%s].staff[%d]: duplicate id %q", m.ID, j, s.ID)
			}
			staff[s.ID] = true
			if s.Hours != nil {
				if err := validateHours(*s.Hours, fmt.Sprintf("staff[%s].hours", s.ID)); err != nil {
					return err
				}
			}
			for _, d := range s.Leaves {
				if _, err := time.Parse(models.DateLayout, d); err != nil {
					return fmt.Errorf("staff[%s]: invalid leave date %q", s.ID, d)
				}
			}
		}
		for j, s := range m.Services {
			if s.ID == "" || services[s.ID] {
				return fmt.Errorf("merchant[%s].services[%d]: missing or duplicate id %q", m.ID, j, s.ID)
			}
			services[s.ID] = true
			if s.DurationMinutes <= 0 {
				return fmt.Errorf("service[%s]: duration_minutes must be positive", s.ID)
			}
		}
		for j, mem := range m.Members {
			if mem.UserID == "" {
				return fmt.Errorf("merchant[%s].members[%d]: user_id is required", m.ID, j)
			}
			if mem.Role != "" && mem.Role != models.RoleOwner && mem.Role != models.RoleStaff {
				return fmt.Errorf("merchant[%s].members[%d]: unknown role %q", m.ID, j, mem.Role)
			}
		}
	}
	return nil
}

func validateHours(h HoursConfig, prefix string) error {
	open, err := models.ParseClock(h.Open)
	if err != nil {
		return fmt.Errorf("%s.open: %w", prefix, err)
	}
	closeAt, err := models.ParseClock(h.Close)
	if err != nil {
		return fmt.Errorf("%s.close: %w", prefix, err)
	}
	if open == closeAt {
		return fmt.Errorf("%s: open and close are equal", prefix)
	}
	for _, d := range h.DaysOff {
		if d < 1 || d > 7 {
			return fmt.Errorf("%s.days_off: invalid day %d, must be 1-7 (1=Mon, 7=Sun)", prefix, d)
		}
	}
	return nil
}

// WeeklyHours expands a weekly window into per-day hours, skipping days off.
func (h HoursConfig) WeeklyHours() []models.DayHours {
	open, _ := models.ParseClock(h.Open)
	closeAt, _ := models.ParseClock(h.Close)

	off := make(map[int]bool, len(h.DaysOff))
	for _, d := range h.DaysOff {
		off[d] = true
	}

	out := make([]models.DayHours, 0, 7)
	for day := 1; day <= 7; day++ {
		if off[day] {
			continue
		}
		out = append(out, models.DayHours{Weekday: day, OpenMinute: open, CloseMinute: closeAt})
	}
	return out
}

// StaffModel resolves a staff entry against its merchant's defaults.
func (m MerchantConfig) StaffModel(s StaffConfig) models.Staff {
	hours := m.Hours
	if s.Hours != nil {
		hours = *s.Hours
	}
	active := true
	if s.Active != nil {
		active = *s.Active
	}
	return models.Staff{
		ID:         s.ID,
		MerchantID: m.ID,
		Name:       s.Name,
		Active:     active,
		Hours:      hours.WeeklyHours(),
		Leaves:     s.Leaves,
	}
}

func (c *Catalog) String() string {
	staff, services := 0, 0
	for _, m := range c.Merchants {
		staff += len(m.Staff)
		services += len(m.Services)
	}
	return fmt.Sprintf("Catalog: %d merchants, %d staff, %d services", len(c.Merchants), staff, services)
}
