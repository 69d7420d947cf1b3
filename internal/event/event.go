package event

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	defaultPoolSize = 10000
	defaultTimeout  = 30 * time.Second
)

type Event interface {
	Name() string
}

// Keyed events are delivered one at a time, in publish order, among events sharing the same key.
// Events of different keys, and unkeyed events, are delivered concurrently.
type Keyed interface {
	Key() string
}

type Handler func(ctx context.Context, e Event) error

// Bus is an in-memory event bus.
type Bus struct {
	pool     chan struct{}
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	handlers map[string][]Handler

	lanesMu sync.Mutex
	lanes   map[string]*lane
}

type lane struct {
	jobs []func()
}

// NewBus create a new event bus. Caller should call Stop for graceful shutdown the bus.
func NewBus() *Bus {
	return &Bus{
		pool:     make(chan struct{}, defaultPoolSize),
		wg:       new(sync.WaitGroup),
		handlers: make(map[string][]Handler),
		lanes:    make(map[string]*lane),
	}
}

// Subscribe to an event
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[name] = append(b.handlers[name], h)
}

// Publish an event
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[e.Name()]...)
	b.mu.RUnlock()

	if len(hs) == 0 {
		return
	}

	if k, ok := e.(Keyed); ok {
		b.enqueue(k.Key(), func() {
			for _, h := range hs {
				run(ctx, h, e)
			}
		})
		return
	}

	for _, h := range hs {
		// TODO: isolate pool size for each handler, so a slow handler won't block other handlers
		b.dispatch(ctx, h, e)
	}
}

func (b *Bus) dispatch(ctx context.Context, h Handler, e Event) {
	b.wg.Add(1)

	b.pool <- struct{}{}

	go func() {
		defer func() {
			<-b.pool
			b.wg.Done()
		}()

		run(ctx, h, e)
	}()
}

func (b *Bus) enqueue(key string, job func()) {
	b.wg.Add(1)

	b.lanesMu.Lock()
	l, running := b.lanes[key]
	if !running {
		l = &lane{}
		b.lanes[key] = l
	}
	l.jobs = append(l.jobs, job)
	b.lanesMu.Unlock()

	if running {
		return
	}

	b.pool <- struct{}{}
	go b.drain(key, l)
}

func (b *Bus) drain(key string, l *lane) {
	defer func() { <-b.pool }()

	for {
		b.lanesMu.Lock()
		if len(l.jobs) == 0 {
			delete(b.lanes, key)
			b.lanesMu.Unlock()
			return
		}
		job := l.jobs[0]
		l.jobs = l.jobs[1:]
		b.lanesMu.Unlock()

		job()
		b.wg.Done()
	}
}

func run(ctx context.Context, h Handler, e Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultTimeout)
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "event: handler panic",
				"event", e.Name(),
				"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
			)
		}

		cancel()
	}()

	if err := h(ctx, e); err != nil {
		slog.ErrorContext(ctx, "event: handle event failed",
			"event", e.Name(),
			"error", err,
		)
	}
}

// Stop waits for all handlers to finish
func (b *Bus) Stop() {
	b.wg.Wait()
}
