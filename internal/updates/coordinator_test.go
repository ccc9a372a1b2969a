package updates

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mailpane/mailpane/internal/gmail"
)

// memStore is an in-memory DurableStore for subscription tests.
type memStore struct {
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Get(key string) ([]byte, bool, error) {
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Set(key string, value []byte) error {
	s.data[key] = value
	return nil
}

func (s *memStore) Delete(key string) error {
	delete(s.data, key)
	return nil
}

func (s *memStore) Keys(prefix string) ([]string, error) {
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// stubClock returns a fixed time and fires timers immediately so backoff
// loops run without waiting.
type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStubClock() *stubClock {
	return &stubClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

func (c *stubClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingNotifier captures dispatched notifications.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []Notification
	err   error
}

func (n *recordingNotifier) HandleNotification(ctx context.Context, userID string, historyID uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, Notification{UserID: userID, HistoryID: historyID})
	return n.err
}

func (n *recordingNotifier) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type coordFixture struct {
	api       *gmail.MockAPI
	subs      *Subscriptions
	notifier  *recordingNotifier
	clock     *stubClock
	coord     *Coordinator
	pollCalls int
}

func newCoordFixture(t *testing.T, topic string) *coordFixture {
	t.Helper()
	f := &coordFixture{
		api:      gmail.NewMockAPI(),
		subs:     NewSubscriptions(newMemStore()),
		notifier: &recordingNotifier{},
		clock:    newStubClock(),
	}
	poll := func(ctx context.Context, userID string) error {
		f.pollCalls++
		return nil
	}
	f.coord = NewCoordinator(f.api, f.subs, f.notifier, poll, "u1", topic, WithClock(f.clock))
	return f
}

func TestSubscriptionRoundTrip(t *testing.T) {
	subs := NewSubscriptions(newMemStore())

	if _, ok := subs.Get("u1"); ok {
		t.Error("absent subscription should read as missing")
	}

	want := Subscription{
		Active:     true,
		Topic:      "projects/p/topics/mail",
		HistoryID:  42,
		Expiration: time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC),
	}
	if err := subs.Set("u1", want); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok := subs.Get("u1")
	if !ok {
		t.Fatal("subscription should be found after Set")
	}
	if got.Topic != want.Topic || got.HistoryID != 42 || !got.Active {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if !got.Expiration.Equal(want.Expiration) {
		t.Errorf("expiration = %v, want %v", got.Expiration, want.Expiration)
	}
}

func TestSubscriptionMalformedReadsAsMissing(t *testing.T) {
	store := newMemStore()
	store.data["pushSubscription:u1"] = []byte("{broken")

	if _, ok := NewSubscriptions(store).Get("u1"); ok {
		t.Error("malformed record should read as missing")
	}
}

func TestEnsureWatchRegistersAndPersists(t *testing.T) {
	f := newCoordFixture(t, "projects/p/topics/mail")
	f.api.WatchResult = &gmail.WatchResponse{
		HistoryID:  77,
		Expiration: f.clock.Now().Add(7 * 24 * time.Hour),
	}

	f.coord.EnsureWatch(context.Background())

	if got := f.coord.State(); got != StateActive {
		t.Errorf("state = %v, want active", got)
	}
	if len(f.api.WatchCalls) != 1 || f.api.WatchCalls[0] != "projects/p/topics/mail" {
		t.Errorf("watch calls = %v", f.api.WatchCalls)
	}
	sub, ok := f.subs.Get("u1")
	if !ok || !sub.Active || sub.HistoryID != 77 {
		t.Errorf("subscription not persisted: %+v ok=%v", sub, ok)
	}
}

func TestEnsureWatchReusesFreshSubscription(t *testing.T) {
	f := newCoordFixture(t, "projects/p/topics/mail")
	f.subs.Set("u1", Subscription{
		Active:     true,
		Topic:      "projects/p/topics/mail",
		Expiration: f.clock.Now().Add(5 * 24 * time.Hour),
	})

	f.coord.EnsureWatch(context.Background())

	if len(f.api.WatchCalls) != 0 {
		t.Errorf("fresh subscription should be reused, got %d watch calls", len(f.api.WatchCalls))
	}
	if got := f.coord.State(); got != StateActive {
		t.Errorf("state = %v, want active", got)
	}
}

func TestEnsureWatchRenewsWithStoredTopic(t *testing.T) {
	f := newCoordFixture(t, "projects/p/topics/new")
	f.subs.Set("u1", Subscription{
		Active:     true,
		Topic:      "projects/p/topics/original",
		Expiration: f.clock.Now().Add(12 * time.Hour), // inside the renewal window
	})
	f.api.WatchResult = &gmail.WatchResponse{
		HistoryID:  90,
		Expiration: f.clock.Now().Add(7 * 24 * time.Hour),
	}

	f.coord.EnsureWatch(context.Background())

	if len(f.api.WatchCalls) != 1 {
		t.Fatalf("expected renewal watch call, got %d", len(f.api.WatchCalls))
	}
	if f.api.WatchCalls[0] != "projects/p/topics/original" {
		t.Errorf("renewal used topic %q, want the stored one", f.api.WatchCalls[0])
	}
}

func TestEnsureWatchFailureDegradesAndSuppressesRetry(t *testing.T) {
	f := newCoordFixture(t, "projects/p/topics/mail")
	f.api.WatchError = errors.New("pubsub unavailable")

	f.coord.EnsureWatch(context.Background())

	if len(f.api.WatchCalls) != 5 {
		t.Errorf("watch attempts = %d, want 5", len(f.api.WatchCalls))
	}
	if got := f.coord.State(); got != StateDegraded {
		t.Errorf("state = %v, want degraded", got)
	}

	// Within the cooldown no new registration is attempted.
	f.coord.EnsureWatch(context.Background())
	if len(f.api.WatchCalls) != 5 {
		t.Errorf("retry inside cooldown: %d calls", len(f.api.WatchCalls))
	}

	// After the cooldown, registration is tried again.
	f.clock.advance(6 * time.Minute)
	f.coord.EnsureWatch(context.Background())
	if len(f.api.WatchCalls) != 10 {
		t.Errorf("retry after cooldown: %d calls, want 10", len(f.api.WatchCalls))
	}
}

func TestEnsureWatchAuthExpiryStopsRetrying(t *testing.T) {
	f := newCoordFixture(t, "projects/p/topics/mail")
	f.api.WatchError = gmail.ErrAuthExpired

	f.coord.EnsureWatch(context.Background())

	if len(f.api.WatchCalls) != 1 {
		t.Errorf("watch attempts = %d, want 1 (no retry on expired auth)", len(f.api.WatchCalls))
	}
	if got := f.coord.State(); got != StateDegraded {
		t.Errorf("state = %v, want degraded", got)
	}
}

func TestStopWatchClearsSubscription(t *testing.T) {
	f := newCoordFixture(t, "projects/p/topics/mail")
	f.subs.Set("u1", Subscription{Active: true})

	if err := f.coord.StopWatch(context.Background()); err != nil {
		t.Fatalf("StopWatch() error = %v", err)
	}

	if f.api.StopCalls != 1 {
		t.Errorf("stop calls = %d, want 1", f.api.StopCalls)
	}
	if _, ok := f.subs.Get("u1"); ok {
		t.Error("subscription record should be cleared")
	}
	if got := f.coord.State(); got != StateInactive {
		t.Errorf("state = %v, want inactive", got)
	}
}

func TestNotifyDispatchesToEngine(t *testing.T) {
	f := newCoordFixture(t, "") // no topic: skip watch registration
	if err := f.coord.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer f.coord.Stop()

	f.coord.Notify(Notification{UserID: "u1", HistoryID: 123})

	deadline := time.After(2 * time.Second)
	for f.notifier.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("notification never reached the engine")
		case <-time.After(5 * time.Millisecond):
		}
	}

	f.notifier.mu.Lock()
	got := f.notifier.calls[0]
	f.notifier.mu.Unlock()
	if got.UserID != "u1" || got.HistoryID != 123 {
		t.Errorf("dispatched %+v", got)
	}
}

func TestPollTickInvokesPoll(t *testing.T) {
	f := newCoordFixture(t, "")

	f.coord.pollTick(context.Background())

	if f.pollCalls != 1 {
		t.Errorf("poll calls = %d, want 1", f.pollCalls)
	}
}
