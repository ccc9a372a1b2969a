package mail

// ListPage is one page of a category or search fetch, as returned by the
// upstream list API. HistoryID is the mailbox change-stream position
// observed at fetch time; it is only populated on first-page fetches.
type ListPage struct {
	Messages           []Message `json:"messages"`
	NextPageToken      string    `json:"nextPageToken,omitempty"`
	ResultSizeEstimate int64     `json:"resultSizeEstimate"`
	HistoryID          uint64    `json:"historyId,string,omitempty"`
}

// Clone returns a deep copy of the page. Cached pages are shared between
// readers; mutating a returned page must never leak into the cache.
func (p ListPage) Clone() ListPage {
	out := p
	out.Messages = make([]Message, len(p.Messages))
	for i, m := range p.Messages {
		out.Messages[i] = m
		out.Messages[i].LabelIDs = append([]string(nil), m.LabelIDs...)
	}
	return out
}
