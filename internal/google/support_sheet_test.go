package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tourbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

func setupMockServer(t *testing.T) (*http.ServeMux, *SupportSheet) {
	t.Helper()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	srv, err := sheets.NewService(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	return mux, newSupportSheet(srv, "support_tid")
}

func testEscalation(attemptID string) *models.Escalation {
	return &models.Escalation{
		ID:              7,
		AttemptID:       attemptID,
		ActivityID:      "act-1",
		UserID:          "user-1",
		Date:            "2025-06-20",
		SlotID:          "slot-1",
		Guests:          2,
		PaymentIntentID: "pi_123",
		Reason:          "booking call timed out",
		Status:          models.EscalationPending,
		CreatedAt:       time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestSupportSheet_TestConnection(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/support_tid/values/Escalations!A1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"Attempt"}}})
	})
	assert.NoError(t, s.TestConnection(context.Background()))
}

func TestSupportSheet_UpsertAppendsNewAttempt(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/support_tid/values/Escalations!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"Attempt"}, {"att-other"}}})
	})

	var appended sheets.ValueRange
	mux.HandleFunc("/v4/spreadsheets/support_tid/values/Escalations!A:A:append", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "RAW", r.URL.Query().Get("valueInputOption"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&appended))
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{
			Updates: &sheets.UpdateValuesResponse{UpdatedRange: "Escalations!A3:K3"},
		})
	})

	require.NoError(t, s.UpsertEscalation(context.Background(), testEscalation("att-1")))

	require.Len(t, appended.Values, 1)
	row := appended.Values[0]
	assert.Equal(t, "att-1", row[0])
	assert.Equal(t, "pi_123", row[1])
	assert.Equal(t, "2025-06-10 12:00:00", row[10])

	cached, ok := s.getCachedRow("att-1")
	assert.True(t, ok)
	assert.Equal(t, 3, cached)
}

func TestSupportSheet_UpsertRewritesExistingRow(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/support_tid/values/Escalations!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"Attempt"}, {"att-0"}, {"att-1"}}})
	})
	updates := 0
	mux.HandleFunc("/v4/spreadsheets/support_tid/values/Escalations!A3:K3", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		updates++
		_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
	})
	mux.HandleFunc("/v4/spreadsheets/support_tid/values/Escalations!A:A:append", func(w http.ResponseWriter, r *http.Request) {
		t.Error("existing attempt must not be appended again")
	})

	e := testEscalation("att-1")
	require.NoError(t, s.UpsertEscalation(context.Background(), e))
	require.NoError(t, s.UpsertEscalation(context.Background(), e))
	assert.Equal(t, 2, updates)
}

func TestSupportSheet_FindEscalationRow(t *testing.T) {
	_, s := setupMockServer(t)
	_, err := s.FindEscalationRow(context.Background(), "")
	assert.Error(t, err)

	s.setCachedRow("att-9", 12)
	row, err := s.FindEscalationRow(context.Background(), "att-9")
	require.NoError(t, err)
	assert.Equal(t, 12, row)

	s.ClearCache()
	_, ok := s.getCachedRow("att-9")
	assert.False(t, ok)
}

func TestSupportSheet_UpsertPropagatesAPIError(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/support_tid/values/Escalations!A:A", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"forbidden"}}`, http.StatusForbidden)
	})
	assert.Error(t, s.UpsertEscalation(context.Background(), testEscalation("att-1")))
	assert.Error(t, s.UpsertEscalation(context.Background(), nil))
}

func TestRowFromRange(t *testing.T) {
	row, ok := rowFromRange("Escalations!A14:K14")
	assert.True(t, ok)
	assert.Equal(t, 14, row)

	_, ok = rowFromRange("")
	assert.False(t, ok)
}

func TestEscalationRowValues_IncludesDeliveryError(t *testing.T) {
	e := testEscalation("att-1")
	lastErr := "chat not found"
	e.LastError = &lastErr
	e.RetryCount = 2

	row := escalationRowValues(e)
	require.Len(t, row, 11)
	assert.Equal(t, "booking call timed out (delivery: chat not found)", row[8])
	assert.Equal(t, 2, row[9])
}
