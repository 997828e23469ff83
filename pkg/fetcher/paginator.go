package fetcher

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/canopy-network/arcadex/pkg/logging"
	"github.com/canopy-network/arcadex/pkg/retry"
)

var (
	ErrNoNextPage = errors.New("no next page")
	ErrNoPrevPage = errors.New("no previous page")
)

// Page is one cursor-paginated response. An empty NextCursor means the last page.
type Page[T any] struct {
	Items      []T
	NextCursor string
	Endpoint   string
}

// PageFunc fetches the page starting at cursor ("" for the first page).
type PageFunc[T any] func(ctx context.Context, cursor string) (Page[T], error)

// PageState is a copy of the paginator position.
type PageState struct {
	CurrentCursor       string
	PrevCursors         []string
	NextCursor          string
	CurrentPage         int
	HasNext             bool
	InitialLoadComplete bool
}

// Paginator walks a cursor-paginated listing forward and backward. Forward moves push the
// current cursor on a stack; backward moves pop it.
type Paginator[T any] struct {
	fetch  PageFunc[T]
	onPage func(Page[T])
	retry  retry.Config
	logger *zap.Logger

	mu          sync.Mutex
	current     string
	prev        []string
	next        string
	page        int
	items       []T
	initialDone bool
}

// PaginatorOpts configures a Paginator. OnPage sees every fetched page, typically to merge
// it into a store.
type PaginatorOpts[T any] struct {
	OnPage func(Page[T])
	Retry  retry.Config
	Logger *zap.Logger
}

func NewPaginator[T any](fetch PageFunc[T], o PaginatorOpts[T]) *Paginator[T] {
	return &Paginator[T]{
		fetch:  fetch,
		onPage: o.OnPage,
		retry:  o.Retry,
		logger: logging.OrNop(o.Logger),
	}
}

func (p *Paginator[T]) load(ctx context.Context, cursor string) (Page[T], error) {
	page, err := retry.DoValue(ctx, p.retry, p.logger, "fetch page", func(ctx context.Context) (Page[T], error) {
		return p.fetch(ctx, cursor)
	})
	if err != nil {
		return Page[T]{}, err
	}
	if p.onPage != nil {
		p.onPage(page)
	}
	return page, nil
}

// First loads the first page, discarding any previous position.
func (p *Paginator[T]) First(ctx context.Context) ([]T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	page, err := p.load(ctx, "")
	if err != nil {
		return nil, err
	}
	p.current, p.prev, p.next, p.page, p.items = "", nil, page.NextCursor, 1, page.Items
	return page.Items, nil
}

// Next advances one page.
func (p *Paginator[T]) Next(ctx context.Context) ([]T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.page == 0 {
		page, err := p.load(ctx, "")
		if err != nil {
			return nil, err
		}
		p.page, p.next, p.items = 1, page.NextCursor, page.Items
		return page.Items, nil
	}
	if p.next == "" {
		return nil, ErrNoNextPage
	}

	page, err := p.load(ctx, p.next)
	if err != nil {
		return nil, err
	}
	p.prev = append(p.prev, p.current)
	p.current = p.next
	p.next = page.NextCursor
	p.page++
	p.items = page.Items
	return page.Items, nil
}

// Prev goes back one page.
func (p *Paginator[T]) Prev(ctx context.Context) ([]T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.prev) == 0 {
		return nil, ErrNoPrevPage
	}
	cursor := p.prev[len(p.prev)-1]
	page, err := p.load(ctx, cursor)
	if err != nil {
		return nil, err
	}
	p.prev = p.prev[:len(p.prev)-1]
	p.current = cursor
	p.next = page.NextCursor
	p.page--
	p.items = page.Items
	return page.Items, nil
}

// AutoFetch requests pages from the start until the listing is exhausted and returns every
// item in order. InitialLoadComplete is set only once the last page arrived.
func (p *Paginator[T]) AutoFetch(ctx context.Context) ([]T, error) {
	var all []T
	items, err := p.First(ctx)
	if err != nil {
		return nil, err
	}
	all = append(all, items...)
	for {
		items, err = p.Next(ctx)
		if errors.Is(err, ErrNoNextPage) {
			break
		}
		if err != nil {
			return all, err
		}
		all = append(all, items...)
	}

	p.mu.Lock()
	p.initialDone = true
	p.mu.Unlock()
	return all, nil
}

// Reset forgets the position; the next call starts from the first page.
func (p *Paginator[T]) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current, p.prev, p.next, p.page, p.items, p.initialDone = "", nil, "", 0, nil, false
}

// Items returns the current page.
func (p *Paginator[T]) Items() []T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.items
}

func (p *Paginator[T]) State() PageState {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := make([]string, len(p.prev))
	copy(prev, p.prev)
	return PageState{
		CurrentCursor:       p.current,
		PrevCursors:         prev,
		NextCursor:          p.next,
		CurrentPage:         p.page,
		HasNext:             p.page > 0 && p.next != "",
		InitialLoadComplete: p.initialDone,
	}
}
