// Package eventbus keeps the set of attached presentation surfaces and
// delivers coordinator events to them without blocking the publisher.
package eventbus

import (
	"context"
	"sort"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/signally/schema"
)

const defaultDepth = 256

// DropObserver is told how many deliveries were dropped for a surface kind.
type DropObserver func(kind schema.SurfaceKind, count int)

// Option configures a Bus.
type Option func(*Bus)

// WithDepth sets the per-subscriber channel buffer.
func WithDepth(depth int) Option {
	return func(b *Bus) {
		if depth > 0 {
			b.depth = depth
		}
	}
}

// WithDropObserver registers a callback for dropped deliveries.
func WithDropObserver(fn DropObserver) Option {
	return func(b *Bus) {
		b.onDrop = fn
	}
}

type surfaceSubs struct {
	kind schema.SurfaceKind
	subs map[chan schema.Event]struct{}
}

// Bus fans events out to attached surfaces. A surface ID may hold several
// subscriptions (for example a reconnecting page).
type Bus struct {
	mu       sync.Mutex
	surfaces map[schema.SurfaceID]*surfaceSubs
	log      pslog.Logger
	depth    int
	onDrop   DropObserver
}

// New constructs a Bus.
func New(logger pslog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	b := &Bus{
		surfaces: make(map[schema.SurfaceID]*surfaceSubs),
		log:      logger,
		depth:    defaultDepth,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Subscribe attaches a surface and returns its event channel and a cancel
// func. Cancel detaches the subscription and closes the channel.
func (b *Bus) Subscribe(surface schema.Surface) (<-chan schema.Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan schema.Event, b.depth)
	b.mu.Lock()
	entry := b.surfaces[surface.ID]
	if entry == nil {
		entry = &surfaceSubs{kind: surface.Kind, subs: make(map[chan schema.Event]struct{})}
		b.surfaces[surface.ID] = entry
	}
	entry.kind = surface.Kind
	entry.subs[ch] = struct{}{}
	count := len(b.surfaces)
	b.mu.Unlock()
	b.log.With("surface", surface.ID, "kind", surface.Kind).Debug("eventbus subscribe", "surfaces", count)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if entry := b.surfaces[surface.ID]; entry != nil {
				delete(entry.subs, ch)
				if len(entry.subs) == 0 {
					delete(b.surfaces, surface.ID)
				}
			}
			b.mu.Unlock()
			close(ch)
			b.log.With("surface", surface.ID, "kind", surface.Kind).Debug("eventbus unsubscribe")
		})
	}
}

// OnEvent publishes an event to every attached surface.
func (b *Bus) OnEvent(event schema.Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	targets := make(map[schema.SurfaceKind][]chan schema.Event)
	for _, entry := range b.surfaces {
		for sub := range entry.subs {
			targets[entry.kind] = append(targets[entry.kind], sub)
		}
	}
	b.mu.Unlock()
	for kind, subs := range targets {
		b.deliver(kind, "", subs, event)
	}
}

// Send delivers an event to a single surface. It reports whether the
// surface was attached.
func (b *Bus) Send(id schema.SurfaceID, event schema.Event) bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	entry := b.surfaces[id]
	if entry == nil {
		b.mu.Unlock()
		return false
	}
	kind := entry.kind
	subs := make([]chan schema.Event, 0, len(entry.subs))
	for sub := range entry.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()
	b.deliver(kind, id, subs, event)
	return true
}

// FirstOfKind returns an attached surface of the given kind.
func (b *Bus) FirstOfKind(kind schema.SurfaceKind) (schema.SurfaceID, bool) {
	for _, surface := range b.Surfaces() {
		if surface.Kind == kind {
			return surface.ID, true
		}
	}
	return "", false
}

// Surfaces lists attached surfaces ordered by ID.
func (b *Bus) Surfaces() []schema.Surface {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	out := make([]schema.Surface, 0, len(b.surfaces))
	for id, entry := range b.surfaces {
		out = append(out, schema.Surface{ID: id, Kind: entry.kind})
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (b *Bus) deliver(kind schema.SurfaceKind, id schema.SurfaceID, subs []chan schema.Event, event schema.Event) {
	dropped := 0
	for _, sub := range subs {
		if !trySend(sub, event) {
			dropped++
		}
	}
	if dropped == 0 {
		return
	}
	log := b.log.With("kind", kind)
	if id != "" {
		log = log.With("surface", id)
	}
	log.Trace("eventbus dropped", "type", event.Type, "count", dropped)
	if b.onDrop != nil {
		b.onDrop(kind, dropped)
	}
}

// trySend never blocks. A channel closed by a concurrent cancel counts as
// a drop.
func trySend(ch chan schema.Event, event schema.Event) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case ch <- event:
		return true
	default:
		return false
	}
}
