package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tourbook/internal/config"
	"tourbook/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	return NewClient(config.BackendConfig{
		BaseURL:   ts.URL + "/",
		AuthToken: "secret",
		Timeout:   2 * time.Second,
	}, nil)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestGetTimeSlots(t *testing.T) {
	var gotQuery, gotPath, gotAuth, gotRequestID string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-ID")
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{
				"timeSlots": []map[string]any{
					{"slotId": "s1", "display": "09:00 - 11:00", "remaining": 4},
					{"slotId": "s2", "display": "14:00 - 16:00", "remaining": 2},
				},
				"dayFullyBooked":       false,
				"remainingDayCapacity": 5,
				"maxGuestsPerDay":      6,
			},
		})
	})

	date := models.NewDate(2025, time.July, 4)
	quotes, err := client.GetTimeSlots(context.Background(), "act-1", date, 2)
	require.NoError(t, err)

	assert.Equal(t, "/getTimeSlots/act-1", gotPath)
	assert.Equal(t, "date=2025-07-04&requestedGuests=2", gotQuery)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.NotEmpty(t, gotRequestID)

	assert.True(t, quotes.Matches(date, 2))
	require.Len(t, quotes.Slots, 2)
	assert.Equal(t, "s1", quotes.Slots[0].SlotID)
	assert.Equal(t, "09:00 - 11:00", quotes.Slots[0].Label)
	assert.Equal(t, 5, quotes.RemainingDayCapacity)
	assert.Equal(t, 6, quotes.MaxGuestsPerDay)
}

func TestGetTimeSlots_RemainingNeverExceedsDailyMax(t *testing.T) {
	tests := []struct {
		name          string
		data          map[string]any
		wantRemaining int
		wantMax       int
	}{
		{
			name:          "above max",
			data:          map[string]any{"remainingDayCapacity": 9, "maxGuestsPerDay": 6},
			wantRemaining: 6,
			wantMax:       6,
		},
		{
			name:          "negative",
			data:          map[string]any{"remainingDayCapacity": -2, "maxGuestsPerDay": 6},
			wantRemaining: 0,
			wantMax:       6,
		},
		{
			name:          "fully booked with leftover count",
			data:          map[string]any{"remainingDayCapacity": 3, "maxGuestsPerDay": 6, "dayFullyBooked": true},
			wantRemaining: 0,
			wantMax:       6,
		},
		{
			name:          "max missing",
			data:          map[string]any{"remainingDayCapacity": 4},
			wantRemaining: 4,
			wantMax:       4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": tt.data})
			})

			for guests := 1; guests <= 8; guests++ {
				quotes, err := client.GetTimeSlots(context.Background(), "act", models.NewDate(2025, time.May, 1), guests)
				require.NoError(t, err)
				assert.LessOrEqual(t, quotes.RemainingDayCapacity, quotes.MaxGuestsPerDay)
				assert.GreaterOrEqual(t, quotes.RemainingDayCapacity, 0)
				assert.Equal(t, tt.wantRemaining, quotes.RemainingDayCapacity)
				assert.Equal(t, tt.wantMax, quotes.MaxGuestsPerDay)
			}
		})
	}
}

func TestGetTimeSlots_InvalidArguments(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := client.GetTimeSlots(context.Background(), "", models.NewDate(2025, time.May, 1), 1)
	assert.Error(t, err)
	_, err = client.GetTimeSlots(context.Background(), "act", models.Date{}, 1)
	assert.Error(t, err)
	_, err = client.GetTimeSlots(context.Background(), "act", models.NewDate(2025, time.May, 1), 0)
	assert.Error(t, err)
}

func TestClientErrors(t *testing.T) {
	t.Run("server error message verbatim", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Activity is not published"})
		})

		_, err := client.GetTimeSlots(context.Background(), "act", models.NewDate(2025, time.May, 1), 1)
		var se *ServerError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusBadRequest, se.Status)
		assert.Equal(t, "Activity is not published", se.Message)
		assert.False(t, IsCapacityExceeded(err))
	})

	t.Run("success false on 200", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "Invalid date"})
		})

		_, err := client.GetTimeSlots(context.Background(), "act", models.NewDate(2025, time.May, 1), 1)
		var se *ServerError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, "Invalid date", se.Message)
	})

	t.Run("plain text body", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream timeout", http.StatusBadGateway)
		})

		_, err := client.GetActivity(context.Background(), "act")
		var se *ServerError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusBadGateway, se.Status)
		assert.Equal(t, "upstream timeout", se.Message)
	})

	t.Run("network error", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		ts.Close()
		client := NewClient(config.BackendConfig{BaseURL: ts.URL, Timeout: time.Second}, nil)

		_, err := client.GetTimeSlots(context.Background(), "act", models.NewDate(2025, time.May, 1), 1)
		var ne *NetworkError
		assert.True(t, errors.As(err, &ne))
	})

	t.Run("cancelled context", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := client.GetTimeSlots(ctx, "act", models.NewDate(2025, time.May, 1), 1)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestCapacityDetection(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   map[string]any
	}{
		{"conflict status", http.StatusConflict, map[string]any{"success": false, "message": "Rejected"}},
		{"code", http.StatusBadRequest, map[string]any{"success": false, "code": "CAPACITY_EXCEEDED"}},
		{"wording", http.StatusBadRequest, map[string]any{"success": false, "message": "Not enough capacity for 3 guests"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})

			_, err := client.CreatePaymentIntent(context.Background(), "act", models.BookingDraft{
				Date: models.NewDate(2025, time.May, 1), SlotID: "s1", Guests: 3, UserID: "u1",
			})
			require.Error(t, err)
			assert.True(t, IsCapacityExceeded(err))

			var se *ServerError
			assert.True(t, errors.As(err, &se), "capacity errors are server errors too")
		})
	}
}

func TestCreatePaymentIntent(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/createPaymentIntent/act-1", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "paymentIntentId": "pi_1", "clientSecret": "pi_1_secret"})
	})

	ref, err := client.CreatePaymentIntent(context.Background(), "act-1", models.BookingDraft{
		Date: models.NewDate(2025, time.May, 1), SlotID: "s1", Guests: 2, UserID: "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentIntentRef{PaymentIntentID: "pi_1", ClientSecret: "pi_1_secret"}, ref)
	assert.Equal(t, map[string]any{"date": "2025-05-01", "slotId": "s1", "requestedGuests": float64(2), "userId": "u1"}, body)
}

func TestCreatePaymentIntent_MissingSecret(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "paymentIntentId": "pi_1"})
	})

	_, err := client.CreatePaymentIntent(context.Background(), "act", models.BookingDraft{})
	var se *ServerError
	assert.True(t, errors.As(err, &se))
}

func TestBookTimeSlot(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bookTimeSlot/act-1", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})

	draft := models.BookingDraft{Date: models.NewDate(2025, time.May, 1), SlotID: "s1", Guests: 2, UserID: "u1"}
	require.NoError(t, client.BookTimeSlot(context.Background(), "act-1", draft, "pi_1"))
	assert.Equal(t, "pi_1", body["paymentIntentId"])
	assert.Equal(t, "2025-05-01", body["date"])

	assert.ErrorIs(t, client.BookTimeSlot(context.Background(), "act-1", draft, ""), ErrMissingPaymentIntent)
}

func TestGetActivity_Cached(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{
				"_id":              "act-1",
				"title":            "Kayak tour",
				"startDate":        "2025-05-01T00:00:00.000Z",
				"endDate":          "2025-09-30",
				"maxGuestsPerDay":  6,
				"maxGuestsPerTime": 4,
			},
		})
	})
	client.UseRedisCache(rdb, time.Minute)

	for i := 0; i < 2; i++ {
		w, err := client.GetActivity(context.Background(), "act-1")
		require.NoError(t, err)
		assert.Equal(t, "Kayak tour", w.Title)
		assert.Equal(t, models.NewDate(2025, time.May, 1), w.Start)
		assert.Equal(t, models.NewDate(2025, time.September, 30), w.End)
		assert.Equal(t, 4, w.MaxGuestsPerTime)
	}
	assert.Equal(t, 1, calls)
	assert.True(t, mr.Exists("activity:act-1"))
}

func TestGetTimeSlots_NeverCached(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"maxGuestsPerDay": 6, "remainingDayCapacity": 6}})
	})
	client.UseRedisCache(rdb, time.Minute)

	for i := 0; i < 3; i++ {
		_, err := client.GetTimeSlots(context.Background(), "act", models.NewDate(2025, time.May, 1), 1)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)
	assert.Empty(t, mr.Keys())
}
