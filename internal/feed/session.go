package feed

import (
	"context"
	"errors"
	"sync"

	"reddot-watch/feedcache/internal/models"
)

// ErrRequestInFlight is returned when LoadMore is called while a fetch is outstanding.
var ErrRequestInFlight = errors.New("a page request is already in flight")

// Session accumulates pages of one user's feed the way a scrolling client does.
// At most one fetch runs at a time; changing filters restarts from the first page.
type Session struct {
	pager  Pager
	userID string
	limit  int

	// slot holds a token while a fetch is outstanding.
	slot chan struct{}

	mu         sync.Mutex
	filters    Filters
	cursor     *string
	items      []models.RankedItem
	seen       map[int64]struct{}
	hasMore    bool
	err        error
	generation uint64
}

// NewSession starts an empty session. A non-positive limit uses DefaultLimit.
func NewSession(pager Pager, userID string, limit int) *Session {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Session{
		pager:   pager,
		userID:  userID,
		limit:   limit,
		slot:    make(chan struct{}, 1),
		seen:    make(map[int64]struct{}),
		hasMore: true,
	}
}

// LoadMore fetches the next page and appends the items not seen before. It returns
// how many items were appended. On error the accumulated items are kept and the same
// page can be requested again.
func (s *Session) LoadMore(ctx context.Context) (int, error) {
	select {
	case s.slot <- struct{}{}:
	default:
		return 0, ErrRequestInFlight
	}
	defer func() { <-s.slot }()
	return s.load(ctx)
}

func (s *Session) load(ctx context.Context) (int, error) {
	s.mu.Lock()
	if !s.hasMore {
		s.mu.Unlock()
		return 0, nil
	}
	req := Request{UserID: s.userID, Filters: s.filters, Limit: s.limit}
	if s.cursor != nil {
		req.Cursor = *s.cursor
	}
	generation := s.generation
	s.mu.Unlock()

	page, err := s.pager.FetchPage(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation {
		// Filters changed while the request was out; its page belongs to the old feed.
		return 0, nil
	}
	if err != nil {
		s.err = err
		return 0, err
	}
	s.err = nil

	added := 0
	for _, item := range page.Items {
		if _, dup := s.seen[item.ID]; dup {
			continue
		}
		s.seen[item.ID] = struct{}{}
		s.items = append(s.items, item)
		added++
	}
	s.cursor = page.NextCursor
	s.hasMore = page.NextCursor != nil && len(page.Items) >= s.limit
	return added, nil
}

// Reload discards the accumulated feed and fetches the first page again. A fetch
// already in flight is left to finish, its page is dropped, and Reload waits for it
// instead of failing with ErrRequestInFlight.
func (s *Session) Reload(ctx context.Context) (int, error) {
	s.Reset()
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { <-s.slot }()
	return s.load(ctx)
}

// SetFilters switches filters. A change resets the session to the first page.
func (s *Session) SetFilters(f Filters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f == s.filters {
		return
	}
	s.filters = f
	s.resetLocked()
}

// Reset clears accumulated items and the cursor, keeping the filters.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Session) resetLocked() {
	s.generation++
	s.cursor = nil
	s.items = nil
	s.seen = make(map[int64]struct{})
	s.hasMore = true
	s.err = nil
}

// Items returns a copy of the accumulated items in feed order.
func (s *Session) Items() []models.RankedItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RankedItem, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Session) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Err is the error of the last fetch, cleared by the next successful one.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) UserID() string {
	return s.userID
}

func (s *Session) Filters() Filters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters
}
