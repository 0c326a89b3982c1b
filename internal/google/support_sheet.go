package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"sync"

	"tourbook/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	escalationsSheet = "Escalations"
	escalationsKeys  = escalationsSheet + "!A:A"
	timeLayout       = "2006-01-02 15:04:05"
)

var errRowNotFound = errors.New("escalation row not found")

var updatedRowPattern = regexp.MustCompile(`![A-Z]+(\d+)`)

// SupportSheet keeps one spreadsheet row per escalated checkout attempt.
type SupportSheet struct {
	service       *sheets.Service
	spreadsheetID string
	rowCache      map[string]int
	cacheMu       sync.RWMutex
}

func NewSupportSheet(ctx context.Context, credentialsFile, spreadsheetID string) (*SupportSheet, error) {
	// service account key
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	return newSupportSheet(srv, spreadsheetID), nil
}

func newSupportSheet(srv *sheets.Service, spreadsheetID string) *SupportSheet {
	return &SupportSheet{
		service:       srv,
		spreadsheetID: spreadsheetID,
		rowCache:      make(map[string]int),
	}
}

// TestConnection reads one cell of the escalation tab.
func (s *SupportSheet) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, escalationsSheet+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// UpsertEscalation rewrites the row of e.AttemptID or appends a new one.
func (s *SupportSheet) UpsertEscalation(ctx context.Context, e *models.Escalation) error {
	if e == nil {
		return fmt.Errorf("escalation is nil")
	}

	rowIdx, err := s.FindEscalationRow(ctx, e.AttemptID)
	if err != nil {
		if errors.Is(err, errRowNotFound) {
			return s.appendEscalation(ctx, e)
		}
		return err
	}

	rangeData := fmt.Sprintf("%s!A%d:K%d", escalationsSheet, rowIdx, rowIdx)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, &sheets.ValueRange{
		Values: [][]interface{}{escalationRowValues(e)},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

func (s *SupportSheet) appendEscalation(ctx context.Context, e *models.Escalation) error {
	resp, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, escalationsKeys, &sheets.ValueRange{
		Values: [][]interface{}{escalationRowValues(e)},
	}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return err
	}

	if resp.Updates != nil {
		if row, ok := rowFromRange(resp.Updates.UpdatedRange); ok {
			s.setCachedRow(e.AttemptID, row)
		}
	}
	return nil
}

// FindEscalationRow locates the 1-based row of attemptID in column A.
func (s *SupportSheet) FindEscalationRow(ctx context.Context, attemptID string) (int, error) {
	if attemptID == "" {
		return 0, fmt.Errorf("attempt id is required")
	}

	if row, ok := s.getCachedRow(attemptID); ok {
		return row, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, escalationsKeys).Context(ctx).Do()
	if err != nil {
		return 0, err
	}

	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if v, ok := row[0].(string); ok && v == attemptID {
			rowIdx := i + 1
			s.setCachedRow(attemptID, rowIdx)
			return rowIdx, nil
		}
	}

	return 0, errRowNotFound
}

func (s *SupportSheet) getCachedRow(attemptID string) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[attemptID]
	return row, ok
}

func (s *SupportSheet) setCachedRow(attemptID string, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[attemptID] = row
}

// ClearCache clears the row index cache.
func (s *SupportSheet) ClearCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache = make(map[string]int)
}

func rowFromRange(updatedRange string) (int, bool) {
	m := updatedRowPattern.FindStringSubmatch(updatedRange)
	if len(m) != 2 {
		return 0, false
	}
	row, err := strconv.Atoi(m[1])
	if err != nil || row <= 0 {
		return 0, false
	}
	return row, true
}

func escalationRowValues(e *models.Escalation) []interface{} {
	reason := e.Reason
	if e.LastError != nil && *e.LastError != "" {
		reason = fmt.Sprintf("%s (delivery: %s)", e.Reason, *e.LastError)
	}
	return []interface{}{
		e.AttemptID,
		e.PaymentIntentID,
		e.ActivityID,
		e.UserID,
		e.Date,
		e.SlotID,
		e.Guests,
		e.Status,
		reason,
		e.RetryCount,
		e.CreatedAt.Format(timeLayout),
	}
}
