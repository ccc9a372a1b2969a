package cache

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mailpane/mailpane/internal/mail"
)

func TestListKey(t *testing.T) {
	cases := []struct {
		category  mail.Category
		pageToken string
		userID    string
		want      string
	}{
		{mail.CategoryInbox, "", "u1", "u1:inbox:first"},
		{mail.CategoryInbox, "t2", "u2", "u2:inbox:t2"},
		{mail.CategoryStarred, "", "", "anonymous:starred:first"},
	}
	for _, tc := range cases {
		if got := ListKey(tc.category, tc.pageToken, tc.userID); got != tc.want {
			t.Errorf("ListKey(%s, %q, %q) = %q, want %q", tc.category, tc.pageToken, tc.userID, got, tc.want)
		}
	}
}

func TestSearchKeyDoesNotCollideWithCategories(t *testing.T) {
	search := SearchKey("in:inbox deadline", "", "u1")
	list := ListKey(mail.CategoryInbox, "", "u1")
	if search == list {
		t.Fatalf("search key %q collides with category key", search)
	}
	if SearchKey("a b", "", "u1") == SearchKey("a+b", "", "u1") {
		t.Error("distinct queries must produce distinct keys")
	}
}

func TestInboxFirstPageUsesShortTTL(t *testing.T) {
	clk := newFakeClock()
	l := NewLists(NewManager(WithPersistent(newFakeStore()), WithNow(clk.Now)))

	resp := page("m1")
	l.Put(mail.CategoryInbox, resp, "", "uX")

	clk.Advance(29 * time.Second)
	got, ok := l.Get(mail.CategoryInbox, "", "uX")
	if !ok {
		t.Fatal("inbox first page should be valid at t+29s")
	}
	if diff := cmp.Diff(resp, got); diff != "" {
		t.Errorf("wrong page (-want +got):\n%s", diff)
	}

	clk.Advance(2 * time.Second)
	if _, ok := l.Get(mail.CategoryInbox, "", "uX"); ok {
		t.Error("inbox first page should expire after 30s")
	}
}

func TestOtherPagesUseDefaultTTL(t *testing.T) {
	clk := newFakeClock()
	l := NewLists(NewManager(WithPersistent(newFakeStore()), WithNow(clk.Now)))

	l.Put(mail.CategoryStarred, page("mA"), "", "u1")
	l.Put(mail.CategoryInbox, page("mB"), "page2", "u1") // paginated inbox: long TTL

	clk.Advance(4*time.Minute + 59*time.Second)
	if _, ok := l.Get(mail.CategoryStarred, "", "u1"); !ok {
		t.Error("starred page should still be valid just under 5m")
	}
	if _, ok := l.Get(mail.CategoryInbox, "page2", "u1"); !ok {
		t.Error("paginated inbox page should still be valid just under 5m")
	}

	clk.Advance(2 * time.Second)
	if _, ok := l.Get(mail.CategoryStarred, "", "u1"); ok {
		t.Error("starred page should expire after 5m")
	}
}

func TestEmptyPageUsesShortTTL(t *testing.T) {
	clk := newFakeClock()
	l := NewLists(NewManager(WithNow(clk.Now)))

	l.Put(mail.CategoryTrash, mail.ListPage{}, "", "u1")

	clk.Advance(59 * time.Second)
	if _, ok := l.Get(mail.CategoryTrash, "", "u1"); !ok {
		t.Error("empty page should be valid under 60s")
	}
	clk.Advance(2 * time.Second)
	if _, ok := l.Get(mail.CategoryTrash, "", "u1"); ok {
		t.Error("empty page should expire after 60s")
	}
}

func TestInvalidateCategoryScopedToUser(t *testing.T) {
	store := newFakeStore()
	l := NewLists(NewManager(WithPersistent(store)))

	u1Inbox := page("i1")
	u1Starred := page("s1")
	u2Inbox := page("i2")

	l.Put(mail.CategoryInbox, u1Inbox, "", "u1")
	l.Put(mail.CategoryStarred, u1Starred, "", "u1")
	l.Put(mail.CategoryInbox, u2Inbox, "", "u2")

	l.InvalidateCategory(mail.CategoryInbox, "u1")

	if _, ok := l.Get(mail.CategoryInbox, "", "u1"); ok {
		t.Error("u1 inbox should be invalidated")
	}
	if got, ok := l.Get(mail.CategoryStarred, "", "u1"); !ok {
		t.Error("u1 starred should be untouched")
	} else if diff := cmp.Diff(u1Starred, got); diff != "" {
		t.Errorf("u1 starred changed (-want +got):\n%s", diff)
	}
	if got, ok := l.Get(mail.CategoryInbox, "", "u2"); !ok {
		t.Error("u2 inbox should be untouched")
	} else if diff := cmp.Diff(u2Inbox, got); diff != "" {
		t.Errorf("u2 inbox changed (-want +got):\n%s", diff)
	}
}

func TestSearchPagesRoundTrip(t *testing.T) {
	l := NewLists(NewManager(WithPersistent(newFakeStore())))

	resp := page("hit1", "hit2")
	l.PutSearch("from:alice deadline", resp, "", "u1")

	got, ok := l.GetSearch("from:alice deadline", "", "u1")
	if !ok {
		t.Fatal("search page should be cached")
	}
	if diff := cmp.Diff(resp, got); diff != "" {
		t.Errorf("wrong page (-want +got):\n%s", diff)
	}

	if _, ok := l.GetSearch("from:bob", "", "u1"); ok {
		t.Error("different query should miss")
	}
}
