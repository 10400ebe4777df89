package monitor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/setevik/eventwatch/internal/event"
	"github.com/setevik/eventwatch/internal/source"
)

// Callback is invoked for every matching record.
type Callback func(event.Record)

// Subscription is one active watch of one filter on one host.
type Subscription struct {
	ID         string
	Host       string
	Filter     string
	Persistent bool
	Generation uint64
	Handle     source.Handle
	Started    time.Time

	callback Callback
}

// MonitorInfo is a point-in-time view of a registered subscription.
type MonitorInfo struct {
	SubscriptionID string        `json:"subscription_id"`
	Host           string        `json:"host"`
	Filter         string        `json:"filter"`
	Persistent     bool          `json:"persistent"`
	Started        time.Time     `json:"started"`
	Handle         source.Handle `json:"-"`
}

// Registry is the in-memory table of active subscriptions.
type Registry struct {
	mu   sync.Mutex
	subs map[string]*Subscription
	gen  uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]*Subscription)}
}

// NextID reserves a subscription ID for host. Generations only increase,
// so an ID is never handed out twice.
func (r *Registry) NextID(host string) (string, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	return fmt.Sprintf("%s#%d", host, r.gen), r.gen
}

// Add registers sub. It fails if the ID is taken or the host is already
// watched with the same filter.
func (r *Registry) Add(sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[sub.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, sub.ID)
	}
	for _, existing := range r.subs {
		if existing.Host == sub.Host && existing.Filter == sub.Filter {
			return fmt.Errorf("%w: %s already watched as %s", ErrDuplicate, sub.Host, existing.ID)
		}
	}
	r.subs[sub.ID] = sub
	return nil
}

// Remove unregisters the subscription with the given ID.
func (r *Registry) Remove(id string) (*Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
	}
	return sub, ok
}

// Get returns the subscription with the given ID.
func (r *Registry) Get(id string) (*Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	return sub, ok
}

// ListAll returns the registered subscriptions ordered by host, then by
// generation.
func (r *Registry) ListAll() []*Subscription {
	r.mu.Lock()
	out := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	r.mu.Unlock()

	sortSubscriptions(out)
	return out
}

// FindByHost returns the registered subscriptions for host.
func (r *Registry) FindByHost(host string) []*Subscription {
	r.mu.Lock()
	var out []*Subscription
	for _, sub := range r.subs {
		if sub.Host == host {
			out = append(out, sub)
		}
	}
	r.mu.Unlock()

	sortSubscriptions(out)
	return out
}

// Find returns the subscription watching host with filter.
func (r *Registry) Find(host, filter string) (*Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.Host == host && sub.Filter == filter {
			return sub, true
		}
	}
	return nil, false
}

// Len returns the number of registered subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func sortSubscriptions(subs []*Subscription) {
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].Host != subs[j].Host {
			return subs[i].Host < subs[j].Host
		}
		return subs[i].Generation < subs[j].Generation
	})
}
