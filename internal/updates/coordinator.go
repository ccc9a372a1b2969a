package updates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mailpane/mailpane/internal/gmail"
	"github.com/mailpane/mailpane/internal/mail"
)

const (
	// Watch registration backoff: 1s doubling to a 30s cap, five tries.
	baseBackoff    = 1 * time.Second
	maxBackoff     = 30 * time.Second
	maxAttempts    = 5
	setupCooldown  = 5 * time.Minute
	renewalWindow  = 24 * time.Hour
	pollSchedule   = "@every 5m"
	notifyChanSize = 16
)

// State is the coordinator's push-channel state.
type State int

const (
	StateInactive     State = iota // no watch, not trying
	StateEstablishing              // watch registration in progress
	StateActive                    // watch registered, push flowing
	StateDegraded                  // watch failed, poll-only until cooldown passes
)

func (s State) String() string {
	switch s {
	case StateEstablishing:
		return "establishing"
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	default:
		return "inactive"
	}
}

// Notification is one mailbox-change signal, as delivered by the
// Pub/Sub webhook.
type Notification struct {
	UserID    string
	HistoryID uint64
}

// Notifier consumes change notifications; the sync engine implements it.
type Notifier interface {
	HandleNotification(ctx context.Context, userID string, historyID uint64) error
}

// PollFunc refreshes the inbox directly, bypassing push.
type PollFunc func(ctx context.Context, userID string) error

// Coordinator owns the push channel for one user: it registers and
// renews the Gmail watch, feeds incoming notifications to the sync
// engine, and polls the inbox on a fixed schedule as a safety net. The
// poll runs even while push is active; a missed or dropped notification
// then costs at most one poll interval of staleness.
type Coordinator struct {
	watcher  gmail.Watcher
	subs     *Subscriptions
	notifier Notifier
	poll     PollFunc
	clock    gmail.Clock
	logger   *slog.Logger
	userID   string
	topic    string

	cron   *cron.Cron
	notifC chan Notification

	mu            sync.Mutex
	state         State
	suppressUntil time.Time
	wg            sync.WaitGroup
	cancel        context.CancelFunc
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithClock sets the time source (used by tests).
func WithClock(clk gmail.Clock) CoordinatorOption {
	return func(c *Coordinator) {
		c.clock = clk
	}
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// NewCoordinator creates a coordinator for one user's mailbox.
func NewCoordinator(watcher gmail.Watcher, subs *Subscriptions, notifier Notifier, poll PollFunc, userID, topic string, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		watcher:  watcher,
		subs:     subs,
		notifier: notifier,
		poll:     poll,
		clock:    realClock{},
		logger:   slog.Default(),
		userID:   userID,
		topic:    topic,
		cron:     cron.New(),
		notifC:   make(chan Notification, notifyChanSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start establishes the watch, begins dispatching notifications, and
// schedules the fallback poll.
func (c *Coordinator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if c.topic != "" {
		c.EnsureWatch(ctx)
	}

	if _, err := c.cron.AddFunc(pollSchedule, func() { c.pollTick(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule poll: %w", err)
	}
	c.cron.Start()

	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

// Stop halts the poll schedule and dispatch loop and waits for in-flight
// work to finish.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.cron.Stop().Done()
	c.wg.Wait()
}

// State returns the current push-channel state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Notify enqueues a mailbox-change signal. It never blocks: when the
// queue is full the signal is dropped, and the fallback poll covers the
// loss.
func (c *Coordinator) Notify(n Notification) {
	select {
	case c.notifC <- n:
	default:
		c.logger.Warn("notification queue full, dropping", "user", n.UserID)
	}
}

func (c *Coordinator) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-c.notifC:
			if err := c.notifier.HandleNotification(ctx, n.UserID, n.HistoryID); err != nil {
				if errors.Is(err, gmail.ErrAuthExpired) {
					c.logger.Error("authorization expired, push updates halted", "user", n.UserID)
					c.setState(StateInactive)
					return
				}
				c.logger.Warn("notification handling failed", "user", n.UserID, "error", err)
			}
		}
	}
}

// EnsureWatch makes sure a watch is registered and fresh. An existing
// subscription is reused until it enters the renewal window; a failed
// registration leaves the coordinator degraded and suppresses retries
// for the cooldown period.
func (c *Coordinator) EnsureWatch(ctx context.Context) {
	now := c.clock.Now()

	c.mu.Lock()
	if now.Before(c.suppressUntil) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	topic := c.topic
	if sub, ok := c.subs.Get(c.userID); ok && sub.Active {
		if sub.Expiration.Sub(now) > renewalWindow {
			c.setState(StateActive)
			return
		}
		// Renew with the topic the subscription was registered under.
		if sub.Topic != "" {
			topic = sub.Topic
		}
		c.logger.Info("watch expiring soon, renewing", "user", c.userID, "expiration", sub.Expiration)
	}

	c.setState(StateEstablishing)

	resp, err := c.registerWatch(ctx, topic)
	if err != nil {
		c.logger.Warn("watch registration failed, poll-only until cooldown passes",
			"user", c.userID, "error", err)
		c.mu.Lock()
		c.suppressUntil = c.clock.Now().Add(setupCooldown)
		c.state = StateDegraded
		c.mu.Unlock()
		return
	}

	sub := Subscription{
		Active:     true,
		Topic:      topic,
		HistoryID:  resp.HistoryID,
		Expiration: resp.Expiration,
	}
	if err := c.subs.Set(c.userID, sub); err != nil {
		c.logger.Warn("failed to persist subscription", "user", c.userID, "error", err)
	}
	c.setState(StateActive)
	c.logger.Info("watch active", "user", c.userID, "expiration", resp.Expiration)
}

// registerWatch retries registration with exponential backoff.
func (c *Coordinator) registerWatch(ctx context.Context, topic string) (*gmail.WatchResponse, error) {
	backoff := baseBackoff
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.clock.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		resp, err := c.watcher.Watch(ctx, topic, []string{mail.LabelInbox})
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, gmail.ErrAuthExpired) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("watch failed after %d attempts: %w", maxAttempts, lastErr)
}

// StopWatch cancels the active watch and clears the subscription record.
func (c *Coordinator) StopWatch(ctx context.Context) error {
	if err := c.watcher.StopWatch(ctx); err != nil {
		return err
	}
	if err := c.subs.Clear(c.userID); err != nil {
		c.logger.Warn("failed to clear subscription", "user", c.userID, "error", err)
	}
	c.setState(StateInactive)
	return nil
}

// pollTick runs one fallback poll and re-checks watch freshness.
func (c *Coordinator) pollTick(ctx context.Context) {
	if err := c.poll(ctx, c.userID); err != nil {
		c.logger.Warn("fallback poll failed", "user", c.userID, "error", err)
	}
	if c.topic != "" {
		c.EnsureWatch(ctx)
	}
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
