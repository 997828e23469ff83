package fetcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/canopy-network/arcadex/pkg/logging"
)

// DefaultMaxConcurrency caps in-flight endpoint fetches. Fleets with hundreds of projects
// would otherwise open one connection per project at once.
const DefaultMaxConcurrency = 16

// Kind discriminates a Result.
type Kind int

const (
	KindData Kind = iota
	KindError
	KindMetadata
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindError:
		return "error"
	case KindMetadata:
		return "metadata"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Progress counts endpoints that reached a terminal state.
type Progress struct {
	Completed int  `json:"completed"`
	Total     int  `json:"total"`
	IsLast    bool `json:"isLast"`
}

// Result is one item of a coordinator stream. Exactly one of Data, Err, Metadata is
// meaningful, selected by Kind.
type Result[T any] struct {
	Kind     Kind
	Endpoint string
	Data     T
	Err      error
	Metadata Progress
}

// Yield hands one page of results from an endpoint to the coordinator. A non-nil return
// stops the endpoint.
type Yield[T any] func(T) error

// SourceFunc produces zero or more pages for one endpoint, in order.
type SourceFunc[T any] func(ctx context.Context, endpoint string, yield Yield[T]) error

// Handlers receive a Run's results. They are invoked from a single goroutine, one at a
// time, so they may mutate caller state without locking.
type Handlers[T any] struct {
	// OnData may return an error; the endpoint is then reported through OnError and its
	// remaining pages are discarded.
	OnData     func(endpoint string, data T) error
	OnError    func(endpoint string, err error)
	OnProgress func(completed, total int)
	OnComplete func(hasError bool)
}

// EndpointError tags a failure with the endpoint that produced it.
type EndpointError struct {
	Endpoint string
	Err      error
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("endpoint %s: %v", e.Endpoint, e.Err)
}

func (e *EndpointError) Unwrap() error { return e.Err }

// Coordinator fans a fetch out across independent endpoints through a bounded worker pool.
type Coordinator struct {
	logger *zap.Logger
	pool   pond.Pool
}

// Opts configures a Coordinator.
type Opts struct {
	MaxConcurrency int
	Logger         *zap.Logger
}

// NewCoordinator creates a coordinator with its own worker pool.
func NewCoordinator(o Opts) *Coordinator {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = DefaultMaxConcurrency
	}
	return &Coordinator{
		logger: logging.OrNop(o.Logger),
		pool:   pond.NewPool(o.MaxConcurrency),
	}
}

// Close waits for running tasks and releases the pool.
func (c *Coordinator) Close() {
	c.pool.StopAndWait()
}

type event[T any] struct {
	endpoint string
	data     T
	err      error
	done     bool
}

// Stream starts fetching every endpoint and returns the discriminated result sequence.
// Within one endpoint results keep the order the source yielded them; across endpoints
// there is no ordering. A metadata result follows each endpoint's terminal signal, the
// last one with IsLast set. The channel is closed after that, or as soon as ctx is done,
// in which case in-flight results are dropped.
// Free function rather than a method: methods cannot take type parameters.
func Stream[T any](ctx context.Context, c *Coordinator, endpoints []string, source SourceFunc[T]) <-chan Result[T] {
	out := make(chan Result[T])
	total := len(endpoints)

	if total == 0 {
		go func() {
			defer close(out)
			select {
			case out <- Result[T]{Kind: KindMetadata, Metadata: Progress{IsLast: true}}:
			case <-ctx.Done():
			}
		}()
		return out
	}

	events := make(chan event[T])
	group := c.pool.NewGroup()

	send := func(ev event[T]) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for _, endpoint := range endpoints {
		endpoint := endpoint
		group.Submit(func() {
			if ctx.Err() != nil {
				return
			}
			err := runSource(ctx, endpoint, source, func(data T) error {
				if !send(event[T]{endpoint: endpoint, data: data}) {
					return ctx.Err()
				}
				return nil
			})
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				c.logger.Warn("Endpoint fetch failed", zap.String("endpoint", endpoint), zap.Error(err))
				if !send(event[T]{endpoint: endpoint, err: err}) {
					return
				}
			}
			send(event[T]{endpoint: endpoint, done: true})
		})
	}

	go func() {
		if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
			c.logger.Warn("Fetch group ended with error", zap.Error(err))
		}
		close(events)
	}()

	go func() {
		defer close(out)
		completed := 0
		emit := func(r Result[T]) bool {
			select {
			case out <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for {
			select {
			case <-ctx.Done():
				// Unblock any worker still trying to send.
				go func() {
					for range events {
					}
				}()
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				switch {
				case ev.done:
					completed++
					if !emit(Result[T]{Kind: KindMetadata, Metadata: Progress{Completed: completed, Total: total, IsLast: completed == total}}) {
						continue
					}
				case ev.err != nil:
					if !emit(Result[T]{Kind: KindError, Endpoint: ev.endpoint, Err: ev.err}) {
						continue
					}
				default:
					if !emit(Result[T]{Kind: KindData, Endpoint: ev.endpoint, Data: ev.data}) {
						continue
					}
				}
			}
		}
	}()

	return out
}

// runSource invokes a source, turning a panic into an error for that endpoint only.
func runSource[T any](ctx context.Context, endpoint string, source SourceFunc[T], yield Yield[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while fetching %s: %v", endpoint, r)
		}
	}()
	return source(ctx, endpoint, yield)
}

// Run drives Stream to completion, dispatching to handlers. It returns ctx.Err() when the
// session is aborted; OnComplete is not called in that case.
func Run[T any](ctx context.Context, c *Coordinator, endpoints []string, source SourceFunc[T], h Handlers[T]) error {
	failed := make(map[string]bool, len(endpoints))
	hasError := false
	completed := false

	fail := func(endpoint string, err error) {
		if failed[endpoint] {
			return
		}
		failed[endpoint] = true
		hasError = true
		if h.OnError != nil {
			h.OnError(endpoint, &EndpointError{Endpoint: endpoint, Err: err})
		}
	}

	for r := range Stream(ctx, c, endpoints, source) {
		switch r.Kind {
		case KindData:
			if failed[r.Endpoint] || h.OnData == nil {
				continue
			}
			if err := callData(h.OnData, r.Endpoint, r.Data); err != nil {
				c.logger.Warn("Processing endpoint data failed", zap.String("endpoint", r.Endpoint), zap.Error(err))
				fail(r.Endpoint, err)
			}
		case KindError:
			fail(r.Endpoint, r.Err)
		case KindMetadata:
			if h.OnProgress != nil {
				h.OnProgress(r.Metadata.Completed, r.Metadata.Total)
			}
			if r.Metadata.IsLast {
				completed = true
				if h.OnComplete != nil {
					h.OnComplete(hasError)
				}
			}
		}
	}

	if !completed {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func callData[T any](fn func(string, T) error, endpoint string, data T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing %s: %v", endpoint, r)
		}
	}()
	return fn(endpoint, data)
}
