package mail

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWithLabelsKeepsFlagsInStep(t *testing.T) {
	m := Message{ID: "m1", LabelIDs: []string{LabelInbox, LabelUnread}, IsUnread: true}

	starred := m.WithStarred(true)
	if !starred.IsStarred || !starred.HasLabel(LabelStarred) {
		t.Errorf("starred copy out of step: flag=%v labels=%v", starred.IsStarred, starred.LabelIDs)
	}
	if m.IsStarred || m.HasLabel(LabelStarred) {
		t.Errorf("original mutated: %v", m.LabelIDs)
	}

	unstarred := starred.WithStarred(false)
	if unstarred.IsStarred || unstarred.HasLabel(LabelStarred) {
		t.Errorf("unstarred copy out of step: flag=%v labels=%v", unstarred.IsStarred, unstarred.LabelIDs)
	}
}

func TestWithStarredIdempotent(t *testing.T) {
	m := Message{ID: "m1", LabelIDs: []string{LabelStarred}, IsStarred: true}
	again := m.WithStarred(true)
	if diff := cmp.Diff(m, again); diff != "" {
		t.Errorf("starring an already-starred message changed it (-want +got):\n%s", diff)
	}
}

func TestWithRead(t *testing.T) {
	m := Message{ID: "m1", LabelIDs: []string{LabelInbox, LabelUnread}, IsUnread: true}
	read := m.WithRead()
	if read.IsUnread || read.HasLabel(LabelUnread) {
		t.Errorf("read copy out of step: flag=%v labels=%v", read.IsUnread, read.LabelIDs)
	}
	if !read.HasLabel(LabelInbox) {
		t.Errorf("unrelated label dropped: %v", read.LabelIDs)
	}
}

func TestWithLabelsDoesNotAliasReceiver(t *testing.T) {
	m := Message{ID: "m1", LabelIDs: []string{LabelInbox}}
	c := m.WithLabels([]string{LabelStarred}, nil)
	c.LabelIDs[0] = "MUTATED"
	if m.LabelIDs[0] != LabelInbox {
		t.Error("copy shares backing array with receiver")
	}
}

func TestCategoryQuery(t *testing.T) {
	cases := map[Category]string{
		CategoryInbox:   "in:inbox -in:spam -in:trash",
		CategoryStarred: "is:starred -in:trash",
		CategorySpam:    "in:spam",
		CategoryTrash:   "in:trash",
		CategorySearch:  "",
	}
	for cat, want := range cases {
		if got := cat.Query(); got != want {
			t.Errorf("Query(%s) = %q, want %q", cat, got, want)
		}
	}
}

func TestPageCloneIsDeep(t *testing.T) {
	p := ListPage{Messages: []Message{{ID: "a", LabelIDs: []string{LabelInbox}}}}
	c := p.Clone()
	c.Messages[0].LabelIDs[0] = "MUTATED"
	c.Messages[0].ID = "b"
	if p.Messages[0].ID != "a" || p.Messages[0].LabelIDs[0] != LabelInbox {
		t.Errorf("clone aliases original: %+v", p.Messages[0])
	}
}
