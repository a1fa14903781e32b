package provider

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/user/llmeter/internal/logging"
)

const DefaultTimeout = 30 * time.Second

// Registry is the fixed id -> provider table. Registration order is the
// canonical display order.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
	log       log.FieldLogger
}

func NewRegistry(logger log.FieldLogger) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		log:       logging.OrDiscard(logger),
	}
}

func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.Meta().ID
	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("provider with ID '%s' already registered", id)
	}
	r.providers[id] = p
	r.order = append(r.order, id)
	return nil
}

func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// All returns providers in registration order.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ps := make([]Provider, 0, len(r.order))
	for _, id := range r.order {
		ps = append(ps, r.providers[id])
	}
	return ps
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) Metas() []Meta {
	ps := r.All()
	out := make([]Meta, len(ps))
	for i, p := range ps {
		out[i] = p.Meta()
	}
	return out
}

// DefaultEnabled lists the ids enabled out of the box, in canonical order.
func (r *Registry) DefaultEnabled() []string {
	var ids []string
	for _, m := range r.Metas() {
		if m.DefaultEnabled {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// FetchAll invokes every listed provider concurrently and returns one
// result per id, in the order given. It never fails as a whole: unknown
// ids, timeouts and panics all become error results.
func (r *Registry) FetchAll(ctx context.Context, ids []string, settings map[string]Settings, timeout time.Duration) []Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	results := make([]Result, len(ids))
	var wg sync.WaitGroup

	for i, id := range ids {
		wg.Add(1)
		go func(idx int, id string) {
			defer wg.Done()
			results[idx] = r.fetchOne(ctx, id, settings[id], timeout)
		}(i, id)
	}

	wg.Wait()
	return results
}

func (r *Registry) fetchOne(parent context.Context, id string, settings Settings, timeout time.Duration) Result {
	p, ok := r.Get(id)
	if !ok {
		return Result{
			ProviderID:  id,
			DisplayName: id,
			RateWindows: []RateWindow{},
			FetchedAt:   time.Now(),
			Error:       &ErrorInfo{Kind: KindInternal, Message: fmt.Sprintf("unknown provider: %s", id)},
		}
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.log.WithField("provider", id).Errorf("provider panicked: %v\n%s", rec, debug.Stack())
				done <- failedResult(p, &ErrorInfo{Kind: KindInternal, Message: fmt.Sprintf("internal error: %v", rec)})
			}
		}()
		done <- p.Invoke(ctx, settings)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		// The invocation keeps running until its own requests observe the
		// cancelled context; its result is dropped.
		msg := fmt.Sprintf("timed out after %s", timeout)
		if parent.Err() != nil && ctx.Err() == context.Canceled {
			msg = "cancelled"
		}
		return failedResult(p, &ErrorInfo{Kind: KindTimeout, Message: msg})
	}
}

func failedResult(p Provider, info *ErrorInfo) Result {
	res := newResult(p.Meta())
	if p.variant() == CategoryAPI {
		res.Source = SourceAPI
		res.CostIsPrimaryDisplay = true
	}
	res.FetchedAt = time.Now()
	res.Error = info
	return res
}
