package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tourbook/internal/config"
	"tourbook/internal/metrics"
	"tourbook/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	endpointTimeSlots     = "getTimeSlots"
	endpointPaymentIntent = "createPaymentIntent"
	endpointBookTimeSlot  = "bookTimeSlot"
	endpointActivity      = "getActivity"

	maxErrorBody = 64 << 10
)

// Client talks to the marketplace REST backend.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	limiter    *endpointLimiter
	logger     *zerolog.Logger

	redis    *redis.Client
	cacheTTL time.Duration
}

// NewClient constructs a backend client from config.
func NewClient(cfg config.BackendConfig, logger *zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		authToken:  cfg.AuthToken,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    newEndpointLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		logger:     logger,
	}
}

// UseRedisCache enables caching of listing data. Slot quotes are never cached.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

type apiStatus struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func (s apiStatus) status() apiStatus { return s }

func (s apiStatus) text() string {
	if s.Message != "" {
		return s.Message
	}
	return s.Error
}

type statusCarrier interface {
	status() apiStatus
}

type timeSlotsResponse struct {
	apiStatus
	Data struct {
		TimeSlots            []models.Slot `json:"timeSlots"`
		DayFullyBooked       bool          `json:"dayFullyBooked"`
		RemainingDayCapacity int           `json:"remainingDayCapacity"`
		MaxGuestsPerDay      int           `json:"maxGuestsPerDay"`
	} `json:"data"`
}

type paymentIntentResponse struct {
	apiStatus
	PaymentIntentID string `json:"paymentIntentId"`
	ClientSecret    string `json:"clientSecret"`
}

type bookResponse struct {
	apiStatus
}

type activityResponse struct {
	apiStatus
	Data struct {
		ID               string      `json:"_id"`
		Title            string      `json:"title"`
		StartDate        models.Date `json:"startDate"`
		EndDate          models.Date `json:"endDate"`
		MaxGuestsPerDay  int         `json:"maxGuestsPerDay"`
		MaxGuestsPerTime int         `json:"maxGuestsPerTime"`
	} `json:"data"`
}

type draftBody struct {
	Date            string `json:"date"`
	SlotID          string `json:"slotId"`
	RequestedGuests int    `json:"requestedGuests"`
	UserID          string `json:"userId"`
	PaymentIntentID string `json:"paymentIntentId,omitempty"`
}

func newDraftBody(d models.BookingDraft) draftBody {
	return draftBody{
		Date:            d.Date.String(),
		SlotID:          d.SlotID,
		RequestedGuests: d.Guests,
		UserID:          d.UserID,
	}
}

// GetTimeSlots fetches a fresh capacity snapshot for one (date, guests) pair.
func (c *Client) GetTimeSlots(ctx context.Context, activityID string, date models.Date, guests int) (*models.DaySlotQuotes, error) {
	if activityID == "" {
		return nil, errors.New("activity id is required")
	}
	if date.IsZero() {
		return nil, errors.New("date is required")
	}
	if guests < models.MinGuests {
		return nil, fmt.Errorf("requested guests must be at least %d, got %d", models.MinGuests, guests)
	}

	query := url.Values{}
	query.Set("date", date.String())
	query.Set("requestedGuests", strconv.Itoa(guests))
	path := fmt.Sprintf("/getTimeSlots/%s?%s", url.PathEscape(activityID), query.Encode())

	var resp timeSlotsResponse
	if err := c.call(ctx, endpointTimeSlots, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	quotes := &models.DaySlotQuotes{
		Date:                 date,
		RequestedGuests:      guests,
		Slots:                resp.Data.TimeSlots,
		DayFullyBooked:       resp.Data.DayFullyBooked,
		RemainingDayCapacity: resp.Data.RemainingDayCapacity,
		MaxGuestsPerDay:      resp.Data.MaxGuestsPerDay,
	}
	c.normalizeQuotes(activityID, quotes)
	return quotes, nil
}

// normalizeQuotes enforces 0 <= remainingDayCapacity <= maxGuestsPerDay
// whatever the backend sent.
func (c *Client) normalizeQuotes(activityID string, q *models.DaySlotQuotes) {
	log := c.logger.With().Str("activity_id", activityID).Str("date", q.Date.String()).Logger()

	if q.MaxGuestsPerDay <= 0 {
		log.Warn().Int("remaining", q.RemainingDayCapacity).Msg("maxGuestsPerDay missing from quotes, using remaining capacity")
		q.MaxGuestsPerDay = max(q.RemainingDayCapacity, 0)
	}
	if q.RemainingDayCapacity < 0 {
		log.Warn().Int("remaining", q.RemainingDayCapacity).Msg("negative remaining day capacity")
		q.RemainingDayCapacity = 0
	}
	if q.RemainingDayCapacity > q.MaxGuestsPerDay {
		log.Warn().
			Int("remaining", q.RemainingDayCapacity).
			Int("max_per_day", q.MaxGuestsPerDay).
			Msg("remaining day capacity above daily maximum, clamping")
		q.RemainingDayCapacity = q.MaxGuestsPerDay
	}
	if q.DayFullyBooked {
		q.RemainingDayCapacity = 0
	}
	for i := range q.Slots {
		if q.Slots[i].Remaining < 0 {
			q.Slots[i].Remaining = 0
		}
	}
}

// CreatePaymentIntent requests a fresh single-use intent for the draft.
func (c *Client) CreatePaymentIntent(ctx context.Context, activityID string, draft models.BookingDraft) (models.PaymentIntentRef, error) {
	path := "/createPaymentIntent/" + url.PathEscape(activityID)

	var resp paymentIntentResponse
	if err := c.call(ctx, endpointPaymentIntent, http.MethodPost, path, newDraftBody(draft), &resp); err != nil {
		return models.PaymentIntentRef{}, err
	}
	if resp.PaymentIntentID == "" || resp.ClientSecret == "" {
		return models.PaymentIntentRef{}, &ServerError{
			Endpoint: endpointPaymentIntent,
			Status:   http.StatusOK,
			Message:  "payment intent response is missing its id or client secret",
		}
	}
	return models.PaymentIntentRef{PaymentIntentID: resp.PaymentIntentID, ClientSecret: resp.ClientSecret}, nil
}

// BookTimeSlot is the commit point: it turns a paid intent into a booking.
func (c *Client) BookTimeSlot(ctx context.Context, activityID string, draft models.BookingDraft, paymentIntentID string) error {
	if paymentIntentID == "" {
		return ErrMissingPaymentIntent
	}
	body := newDraftBody(draft)
	body.PaymentIntentID = paymentIntentID

	var resp bookResponse
	return c.call(ctx, endpointBookTimeSlot, http.MethodPost, "/bookTimeSlot/"+url.PathEscape(activityID), body, &resp)
}

// GetActivity loads the availability window of a listing.
func (c *Client) GetActivity(ctx context.Context, activityID string) (models.AvailabilityWindow, error) {
	cacheKey := "activity:" + activityID
	var window models.AvailabilityWindow
	if c.readCache(ctx, cacheKey, &window) {
		return window, nil
	}

	var resp activityResponse
	if err := c.call(ctx, endpointActivity, http.MethodGet, "/getActivity/"+url.PathEscape(activityID), nil, &resp); err != nil {
		return models.AvailabilityWindow{}, err
	}

	window = models.AvailabilityWindow{
		ActivityID:       resp.Data.ID,
		Title:            resp.Data.Title,
		Start:            resp.Data.StartDate,
		End:              resp.Data.EndDate,
		MaxGuestsPerDay:  resp.Data.MaxGuestsPerDay,
		MaxGuestsPerTime: resp.Data.MaxGuestsPerTime,
	}
	if window.ActivityID == "" {
		window.ActivityID = activityID
	}
	c.writeCache(ctx, cacheKey, window)
	return window, nil
}

func (c *Client) call(ctx context.Context, endpoint, method, path string, body any, out statusCarrier) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveAPI(endpoint, resultLabel(err), time.Since(start))
	}()

	if err := c.limiter.wait(ctx, endpoint); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &NetworkError{Endpoint: endpoint, Err: err}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", endpoint, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", endpoint, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Str("request_id", requestID).Msg("backend unreachable")
		return &NetworkError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("backend call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.decodeFailure(endpoint, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &ServerError{Endpoint: endpoint, Status: resp.StatusCode, Message: "malformed response: " + err.Error()}
	}

	st := out.status()
	if st.Success != nil && !*st.Success {
		return newServerError(endpoint, resp.StatusCode, st.Code, st.text())
	}
	return nil
}

func (c *Client) decodeFailure(endpoint string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var st apiStatus
	message := ""
	if err := json.Unmarshal(raw, &st); err == nil {
		message = st.text()
	} else if text := strings.TrimSpace(string(raw)); text != "" && !strings.HasPrefix(text, "<") {
		message = text
	}

	c.logger.Warn().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Str("code", st.Code).
		Str("message", message).
		Msg("backend rejected request")

	return newServerError(endpoint, resp.StatusCode, st.Code, message)
}

func resultLabel(err error) string {
	var (
		netErr *NetworkError
		srvErr *ServerError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case IsCapacityExceeded(err):
		return "capacity"
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &srvErr):
		return "server"
	default:
		return "error"
	}
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.cacheTTL).Err(); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("activity cache write failed")
	}
}
