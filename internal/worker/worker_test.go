package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"tourbook/internal/database"
	"tourbook/internal/events"
	"tourbook/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestProcessTaskSuccess(t *testing.T) {
	db := newTestDB(t)
	sheet := &fakeSheet{}
	notifier := &fakeNotifier{}
	worker := NewEscalationWorker(db, sheet, notifier, nil, RetryPolicy{}, nil)

	ctx := context.Background()
	if err := worker.Escalate(ctx, testEscalation("att-1")); err != nil {
		t.Fatalf("escalate: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected escalation in local queue")
	}
	worker.processTask(ctx, &task)

	stored := loadEscalation(t, db, task.ID)
	if stored.Status != models.EscalationDelivered {
		t.Fatalf("expected status=delivered, got %s", stored.Status)
	}
	if stored.DeliveredAt == nil {
		t.Fatalf("expected delivered_at to be set")
	}
	if sheet.calls != 1 || notifier.calls != 1 {
		t.Fatalf("expected one sheet and one notify call, got %d/%d", sheet.calls, notifier.calls)
	}
	if sheet.last.PaymentIntentID != "pi_att-1" {
		t.Fatalf("sheet got wrong intent %q", sheet.last.PaymentIntentID)
	}
}

func TestProcessTaskRetry(t *testing.T) {
	db := newTestDB(t)
	sheet := &fakeSheet{err: errors.New("quota exceeded")}
	notifier := &fakeNotifier{}
	worker := NewEscalationWorker(db, sheet, notifier, nil, RetryPolicy{MaxRetries: 3, InitialDelay: time.Second}, nil)

	ctx := context.Background()
	if err := worker.Escalate(ctx, testEscalation("att-2")); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	task, _ := worker.tryLocalQueue()
	worker.processTask(ctx, &task)

	stored := loadEscalation(t, db, task.ID)
	if stored.Status != models.EscalationRetry {
		t.Fatalf("expected status=retry, got %s", stored.Status)
	}
	if stored.RetryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", stored.RetryCount)
	}
	if stored.NextRetryAt == nil || stored.NextRetryAt.Before(time.Now()) {
		t.Fatalf("expected next_retry_at in future, got %v", stored.NextRetryAt)
	}
	if notifier.calls != 0 {
		t.Fatalf("notifier must not run before the sheet row exists")
	}

	// not due yet
	worker.processTask(ctx, &task)
	if sheet.calls != 1 {
		t.Fatalf("expected no delivery before next_retry_at, got %d calls", sheet.calls)
	}
}

func TestProcessTaskFail(t *testing.T) {
	db := newTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	worker := NewEscalationWorker(db, nil, &fakeNotifier{err: errors.New("chat not found")}, rdb, RetryPolicy{MaxRetries: 1}, nil)

	ctx := context.Background()
	if err := worker.Escalate(ctx, testEscalation("att-3")); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	task, ok := worker.tryRedis(ctx)
	if !ok {
		t.Fatalf("expected escalation in redis queue")
	}
	worker.processTask(ctx, &task)

	stored := loadEscalation(t, db, task.ID)
	if stored.Status != models.EscalationFailed {
		t.Fatalf("expected status=failed, got %s", stored.Status)
	}
	if stored.LastError == nil || *stored.LastError != "support notification: chat not found" {
		t.Fatalf("unexpected last_error %v", stored.LastError)
	}

	dead, err := rdb.LRange(ctx, "escalations:deadletter", 0, -1).Result()
	if err != nil {
		t.Fatalf("lrange: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("expected one deadletter entry, got %d", len(dead))
	}
	var parked models.Escalation
	if err := json.Unmarshal([]byte(dead[0]), &parked); err != nil {
		t.Fatalf("decode deadletter: %v", err)
	}
	if parked.AttemptID != "att-3" {
		t.Fatalf("unexpected deadletter attempt %q", parked.AttemptID)
	}
}

func TestProcessTaskSkipsSettled(t *testing.T) {
	db := newTestDB(t)
	sheet := &fakeSheet{}
	worker := NewEscalationWorker(db, sheet, nil, nil, RetryPolicy{}, nil)

	ctx := context.Background()
	e := testEscalation("att-4")
	if err := worker.Escalate(ctx, e); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	task, _ := worker.tryLocalQueue()
	worker.processTask(ctx, &task)
	worker.processTask(ctx, &task)

	if sheet.calls != 1 {
		t.Fatalf("expected a single delivery, got %d", sheet.calls)
	}
}

func TestEscalateIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	worker := NewEscalationWorker(db, &fakeSheet{}, nil, nil, RetryPolicy{}, nil)

	ctx := context.Background()
	first := testEscalation("att-5")
	if err := worker.Escalate(ctx, first); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	task, _ := worker.tryLocalQueue()
	worker.processTask(ctx, &task)

	again := testEscalation("att-5")
	if err := worker.Escalate(ctx, again); err != nil {
		t.Fatalf("escalate again: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected the journaled row, got id %d vs %d", again.ID, first.ID)
	}
	if _, ok := worker.tryLocalQueue(); ok {
		t.Fatalf("settled escalation must not be queued again")
	}
}

func TestEscalate_RequiresAttemptID(t *testing.T) {
	worker := NewEscalationWorker(newTestDB(t), nil, nil, nil, RetryPolicy{}, nil)
	if err := worker.Escalate(context.Background(), &models.Escalation{}); err == nil {
		t.Fatalf("expected error for missing attempt id")
	}
}

func TestHandleFinalizeFailed(t *testing.T) {
	db := newTestDB(t)
	bus := events.NewEventBus()
	worker := NewEscalationWorker(db, nil, nil, nil, RetryPolicy{}, nil)
	bus.Subscribe(events.EventFinalizeFailed, worker.HandleFinalizeFailed)

	err := bus.PublishJSON(events.EventFinalizeFailed, events.CheckoutEventPayload{
		AttemptID:       "att-6",
		ActivityID:      "act-1",
		UserID:          "user-1",
		Date:            "2025-06-20",
		SlotID:          "slot-9",
		Guests:          3,
		PaymentIntentID: "pi_6",
		Error:           "network error",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	stored, err := db.GetEscalationByAttempt(context.Background(), "att-6")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if stored.PaymentIntentID != "pi_6" || stored.Guests != 3 || stored.Reason != "network error" {
		t.Fatalf("unexpected journal row %+v", stored)
	}
	if _, ok := worker.tryLocalQueue(); !ok {
		t.Fatalf("expected escalation to be queued")
	}
}

func TestStartDrainsPendingAndStops(t *testing.T) {
	db := newTestDB(t)
	sheet := &fakeSheet{}
	worker := NewEscalationWorker(db, sheet, nil, nil, RetryPolicy{}, nil)
	worker.pollInterval = 10 * time.Millisecond

	// journaled directly, as after a restart
	e := testEscalation("att-7")
	if err := db.CreateEscalation(context.Background(), e); err != nil {
		t.Fatalf("create: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if loadEscalation(t, db, e.ID).Status == models.EscalationDelivered {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop")
	}
	if loadEscalation(t, db, e.ID).Status != models.EscalationDelivered {
		t.Fatalf("expected pending escalation to be delivered")
	}
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}
	d1 := policy.NextDelay(1)
	d2 := policy.NextDelay(2)
	d3 := policy.NextDelay(5)

	if d1 != time.Second {
		t.Fatalf("attempt1 expected 1s, got %s", d1)
	}
	if d2 != 2*time.Second {
		t.Fatalf("attempt2 expected 2s, got %s", d2)
	}
	if d3 != 5*time.Second {
		t.Fatalf("attempt5 expected capped 5s, got %s", d3)
	}
	if d := (RetryPolicy{}).NextDelay(0); d != time.Second {
		t.Fatalf("zero policy expected 1s, got %s", d)
	}
}

func TestRetryPolicyDefaults(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3}.withDefaults()
	if policy.MaxRetries != 3 {
		t.Fatalf("explicit max retries overwritten: %d", policy.MaxRetries)
	}
	if policy.InitialDelay != 2*time.Second || policy.MaxDelay != time.Minute || policy.BackoffFactor != 2 {
		t.Fatalf("unexpected defaults: %+v", policy)
	}
	if policy.Exhausted(2) || !policy.Exhausted(3) {
		t.Fatalf("expected the third attempt to be the last")
	}
}

type fakeSheet struct {
	calls int
	last  models.Escalation
	err   error
}

func (f *fakeSheet) UpsertEscalation(_ context.Context, e *models.Escalation) error {
	f.calls++
	f.last = *e
	return f.err
}

type fakeNotifier struct {
	calls int
	err   error
}

func (f *fakeNotifier) NotifyEscalation(_ context.Context, _ *models.Escalation) error {
	f.calls++
	return f.err
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(":memory:", nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testEscalation(attemptID string) *models.Escalation {
	return &models.Escalation{
		AttemptID:       attemptID,
		ActivityID:      "act-1",
		UserID:          "user-1",
		Date:            "2025-06-20",
		SlotID:          "slot-1",
		Guests:          2,
		PaymentIntentID: "pi_" + attemptID,
		Reason:          "booking call timed out",
	}
}

func loadEscalation(t *testing.T, db *database.DB, id int64) *models.Escalation {
	t.Helper()
	e, err := db.GetEscalation(context.Background(), id)
	if err != nil {
		t.Fatalf("load escalation %d: %v", id, err)
	}
	return e
}
