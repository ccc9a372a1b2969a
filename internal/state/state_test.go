package state

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mailpane/mailpane/internal/mail"
)

func msg(id string, labels ...string) mail.Message {
	m := mail.Message{ID: id, LabelIDs: labels}
	m.IsUnread = m.HasLabel(mail.LabelUnread)
	m.IsStarred = m.HasLabel(mail.LabelStarred)
	return m
}

func ids(msgs []mail.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestSetEmailsReplacesWholesale(t *testing.T) {
	s := Reduce(Emails{}, SetEmails{mail.CategoryInbox, []mail.Message{msg("a"), msg("b")}})
	s = Reduce(s, SetEmails{mail.CategoryInbox, []mail.Message{msg("c")}})

	if diff := cmp.Diff([]string{"c"}, ids(s.Inbox)); diff != "" {
		t.Errorf("inbox (-want +got):\n%s", diff)
	}
}

func TestSetEmailsDoesNotAliasInput(t *testing.T) {
	in := []mail.Message{msg("a")}
	s := Reduce(Emails{}, SetEmails{mail.CategoryInbox, in})
	in[0].ID = "mutated"
	if s.Inbox[0].ID != "a" {
		t.Error("state aliases the caller's slice")
	}
}

func TestAppendEmails(t *testing.T) {
	s := Reduce(Emails{}, SetEmails{mail.CategoryStarred, []mail.Message{msg("a")}})
	s = Reduce(s, AppendEmails{mail.CategoryStarred, []mail.Message{msg("b"), msg("c")}})

	if diff := cmp.Diff([]string{"a", "b", "c"}, ids(s.Starred)); diff != "" {
		t.Errorf("starred (-want +got):\n%s", diff)
	}
}

func TestAppendDoesNotMutatePrevious(t *testing.T) {
	prev := Reduce(Emails{}, SetEmails{mail.CategoryInbox, []mail.Message{msg("a")}})
	next := Reduce(prev, AppendEmails{mail.CategoryInbox, []mail.Message{msg("b")}})

	if len(prev.Inbox) != 1 {
		t.Errorf("previous state mutated: %v", ids(prev.Inbox))
	}
	if len(next.Inbox) != 2 {
		t.Errorf("next state wrong: %v", ids(next.Inbox))
	}
}

func TestPrependEmailIsIdempotentOnID(t *testing.T) {
	s := Reduce(Emails{}, SetEmails{mail.CategoryInbox, []mail.Message{msg("a")}})
	s = Reduce(s, PrependEmail{mail.CategoryInbox, msg("new")})
	s = Reduce(s, PrependEmail{mail.CategoryInbox, msg("new")})

	if diff := cmp.Diff([]string{"new", "a"}, ids(s.Inbox)); diff != "" {
		t.Errorf("inbox after double prepend (-want +got):\n%s", diff)
	}
}

func TestPrependOrdering(t *testing.T) {
	var s Emails
	for _, id := range []string{"a", "b", "c"} {
		s = Reduce(s, PrependEmail{mail.CategoryInbox, msg(id)})
	}
	// Sequential prepends reverse their source order.
	if diff := cmp.Diff([]string{"c", "b", "a"}, ids(s.Inbox)); diff != "" {
		t.Errorf("inbox (-want +got):\n%s", diff)
	}
}

func TestUpdateEmailTouchesOnlyMatch(t *testing.T) {
	s := Reduce(Emails{}, SetEmails{mail.CategoryInbox, []mail.Message{
		msg("a", mail.LabelInbox),
		msg("b", mail.LabelInbox),
	}})
	s = Reduce(s, UpdateEmail{mail.CategoryInbox, "b", func(m mail.Message) mail.Message {
		return m.WithStarred(true)
	}})

	if s.Inbox[0].IsStarred {
		t.Error("non-matching entry changed")
	}
	if !s.Inbox[1].IsStarred || !s.Inbox[1].HasLabel(mail.LabelStarred) {
		t.Errorf("matching entry not updated atomically: %+v", s.Inbox[1])
	}
}

func TestUpdateEmailNoMatchKeepsSliceIdentity(t *testing.T) {
	orig := []mail.Message{msg("a")}
	s := Emails{Inbox: orig}
	next := Reduce(s, UpdateEmail{mail.CategoryInbox, "zzz", func(m mail.Message) mail.Message { return m }})
	if &next.Inbox[0] != &orig[0] {
		t.Error("untouched category should keep its slice identity")
	}
}

func TestUpdateEmailAllCategories(t *testing.T) {
	shared := msg("x", mail.LabelInbox)
	s := Emails{
		Inbox:   []mail.Message{shared},
		Starred: []mail.Message{shared},
		Search:  []mail.Message{shared},
	}
	s = Reduce(s, UpdateEmailAllCategories{"x", func(m mail.Message) mail.Message {
		return m.WithStarred(true)
	}})

	for _, c := range []mail.Category{mail.CategoryInbox, mail.CategoryStarred, mail.CategorySearch} {
		list := s.Category(c)
		if !list[0].IsStarred {
			t.Errorf("%s entry not updated", c)
		}
	}
}

func TestMarkEmailReadAcrossAllCategories(t *testing.T) {
	unread := msg("x", mail.LabelInbox, mail.LabelUnread)
	s := Emails{
		Inbox:   []mail.Message{unread, msg("other", mail.LabelUnread)},
		Starred: []mail.Message{unread},
	}
	s = Reduce(s, MarkEmailRead{"x"})

	for _, m := range []mail.Message{s.Inbox[0], s.Starred[0]} {
		if m.IsUnread || m.HasLabel(mail.LabelUnread) {
			t.Errorf("flag and label must clear together: %+v", m)
		}
	}
	if !s.Inbox[1].IsUnread {
		t.Error("other message should stay unread")
	}
}

func TestRemoveEmailOnlyNamedCategory(t *testing.T) {
	shared := msg("x")
	s := Emails{
		Inbox:   []mail.Message{shared, msg("keep")},
		Starred: []mail.Message{shared},
	}
	s = Reduce(s, RemoveEmail{mail.CategoryInbox, "x"})

	if diff := cmp.Diff([]string{"keep"}, ids(s.Inbox)); diff != "" {
		t.Errorf("inbox (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"x"}, ids(s.Starred)); diff != "" {
		t.Errorf("starred should be untouched (-want +got):\n%s", diff)
	}
}

func TestClearCategory(t *testing.T) {
	s := Emails{Search: []mail.Message{msg("a"), msg("b")}}
	s = Reduce(s, ClearCategory{mail.CategorySearch})
	if len(s.Search) != 0 {
		t.Errorf("search should be empty, got %v", ids(s.Search))
	}
}

func TestStoreLoadingAndPageTokens(t *testing.T) {
	st := New()
	st.SetLoading(mail.CategoryInbox, true)
	if !st.Loading(mail.CategoryInbox) || st.Loading(mail.CategoryTrash) {
		t.Error("loading flags wrong")
	}

	st.SetPageToken(mail.CategoryInbox, "tok1")
	if st.PageToken(mail.CategoryInbox) != "tok1" {
		t.Error("page token not stored")
	}
	st.SetPageToken(mail.CategoryInbox, "")
	if st.PageToken(mail.CategoryInbox) != "" {
		t.Error("page token not cleared")
	}
}

func TestStoreCounts(t *testing.T) {
	st := New()
	st.Dispatch(SetEmails{mail.CategoryInbox, []mail.Message{msg("a"), msg("b")}})
	st.Dispatch(SetEmails{mail.CategorySpam, []mail.Message{msg("c")}})

	counts := st.Counts()
	if counts[mail.CategoryInbox] != 2 || counts[mail.CategorySpam] != 1 || counts[mail.CategoryTrash] != 0 {
		t.Errorf("counts = %v", counts)
	}
}
