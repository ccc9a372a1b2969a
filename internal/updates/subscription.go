// Package updates keeps live mailbox updates flowing: it owns the Gmail
// push watch lifecycle, dispatches change notifications into the sync
// engine, and runs a periodic inbox poll so updates still arrive when
// push is unavailable.
package updates

import (
	"encoding/json"
	"time"

	"github.com/mailpane/mailpane/internal/cache"
)

const subscriptionKeyPrefix = "pushSubscription:"

// Subscription is the durable record of a registered mailbox watch.
type Subscription struct {
	Active     bool      `json:"active"`
	Topic      string    `json:"topic"`
	HistoryID  uint64    `json:"historyId,string"`
	Expiration time.Time `json:"expiration"`
}

// Subscriptions persists watch records per user. Reads treat malformed
// records as absent so a corrupt entry can only cost one extra watch
// registration.
type Subscriptions struct {
	store cache.DurableStore
}

// NewSubscriptions creates a subscription store over the given durable tier.
func NewSubscriptions(store cache.DurableStore) *Subscriptions {
	return &Subscriptions{store: store}
}

// Get returns the stored subscription for the user.
func (s *Subscriptions) Get(userID string) (Subscription, bool) {
	data, ok, err := s.store.Get(subscriptionKeyPrefix + userID)
	if err != nil || !ok {
		return Subscription{}, false
	}
	var sub Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return Subscription{}, false
	}
	return sub, true
}

// Set stores the subscription for the user.
func (s *Subscriptions) Set(userID string, sub Subscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return s.store.Set(subscriptionKeyPrefix+userID, data)
}

// Clear removes the user's subscription record.
func (s *Subscriptions) Clear(userID string) error {
	return s.store.Delete(subscriptionKeyPrefix + userID)
}
