// Package google writes report tabs to a Google Sheets spreadsheet.
package google

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	oauthgoogle "golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsService replaces whole tabs of one spreadsheet.
type SheetsService struct {
	service       *sheets.Service
	spreadsheetID string
	logger        zerolog.Logger
}

// NewSheetsService authenticates with a service account key file.
func NewSheetsService(ctx context.Context, credentialsFile, spreadsheetID string, logger zerolog.Logger) (*SheetsService, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read google credentials: %w", err)
	}
	creds, err := oauthgoogle.CredentialsFromJSON(ctx, data, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse google credentials: %w", err)
	}
	return NewSheetsServiceWithOptions(ctx, spreadsheetID, logger, option.WithCredentials(creds))
}

// NewSheetsServiceWithOptions builds the client from explicit options.
func NewSheetsServiceWithOptions(ctx context.Context, spreadsheetID string, logger zerolog.Logger, opts ...option.ClientOption) (*SheetsService, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &SheetsService{
		service:       srv,
		spreadsheetID: spreadsheetID,
		logger:        logger.With().Str("component", "sheets").Logger(),
	}, nil
}

// ReplaceSheet creates the tab when missing, clears it and writes rows from A1.
func (s *SheetsService) ReplaceSheet(ctx context.Context, title string, rows [][]any) error {
	if err := s.ensureTab(ctx, title); err != nil {
		return err
	}

	tab := quoteTitle(title)
	if _, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, tab, &sheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", title, err)
	}
	if len(rows) == 0 {
		return nil
	}

	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, tab+"!A1", &sheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", title, err)
	}

	s.logger.Info().Str("tab", title).Int("rows", len(rows)).Msg("Sheet replaced")
	return nil
}

func (s *SheetsService) ensureTab(ctx context.Context, title string) error {
	doc, err := s.service.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}
	for _, sh := range doc.Sheets {
		if sh.Properties != nil && sh.Properties.Title == title {
			return nil
		}
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: title}},
		}},
	}
	if _, err := s.service.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add tab %s: %w", title, err)
	}
	s.logger.Info().Str("tab", title).Msg("Sheet tab created")
	return nil
}

// quoteTitle turns a tab title into an A1 sheet reference.
func quoteTitle(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}
