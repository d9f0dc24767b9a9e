package resource

import (
	"container/list"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/graphite/device"
)

// Provider errors.
var (
	// ErrClosed is returned when operating on a closed provider.
	ErrClosed = errors.New("resource: provider closed")

	// ErrInvalidDescriptor is returned for zero-sized or unsupported descriptors.
	ErrInvalidDescriptor = errors.New("resource: invalid descriptor")
)

// DefaultMaxBudgetedBytes is the default cache budget (256 MB).
const DefaultMaxBudgetedBytes = 256 << 20

// Stats contains provider statistics.
type Stats struct {
	// BudgetBytes is the budget in bytes.
	BudgetBytes uint64
	// BudgetedBytes is the size of all live budgeted resources.
	BudgetedBytes uint64
	// IdleBytes is the size of the idle scratch resources.
	IdleBytes uint64
	// Live is the number of live resources, idle included.
	Live int
	// Idle is the number of idle scratch resources.
	Idle int
	// Reuses counts scratch requests served from the cache.
	Reuses uint64
	// Evictions counts idle resources destroyed by budget trimming or purges.
	Evictions uint64
}

// String returns a human-readable summary.
func (s Stats) String() string {
	return fmt.Sprintf("Resources[%d live, %d idle, %d/%d MB budgeted, %d reuses, %d evictions]",
		s.Live, s.Idle, s.BudgetedBytes>>20, s.BudgetBytes>>20, s.Reuses, s.Evictions)
}

// Provider allocates device resources and caches idle scratch resources.
//
// Provider is safe for concurrent use: Recorders on their own goroutines
// allocate through it while the Context goroutine drops command refs.
type Provider struct {
	mu  sync.Mutex
	dev device.Device
	log *slog.Logger
	now func() time.Time

	nextID uint64

	budget   uint64
	budgeted uint64
	idleSize uint64

	textures map[device.Texture]*Resource
	buffers  map[device.Buffer]*Resource

	// idle scratch resources: per key (most recent last) and global LRU
	// (front = most recently idled).
	idleByKey map[Key][]*Resource
	lru       *list.List

	reuses    uint64
	evictions uint64

	closed bool
}

// NewProvider creates a provider for dev. A budget of 0 selects
// DefaultMaxBudgetedBytes. A nil logger discards output.
func NewProvider(dev device.Device, budget uint64, log *slog.Logger) *Provider {
	if budget == 0 {
		budget = DefaultMaxBudgetedBytes
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Provider{
		dev:       dev,
		log:       log,
		now:       time.Now,
		budget:    budget,
		textures:  make(map[device.Texture]*Resource),
		buffers:   make(map[device.Buffer]*Resource),
		idleByKey: make(map[Key][]*Resource),
		lru:       list.New(),
	}
}

// FindOrCreateScratchTexture returns an idle texture matching desc or
// allocates one. The result holds one usage ref.
func (p *Provider) FindOrCreateScratchTexture(desc device.TextureDesc) (*Resource, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("%w: %dx%d texture", ErrInvalidDescriptor, desc.Width, desc.Height)
	}
	return p.findOrCreate(TextureKey(desc), desc.Label, true, true)
}

// FindOrCreateScratchBuffer returns an idle buffer matching desc or
// allocates one. The result holds one usage ref.
func (p *Provider) FindOrCreateScratchBuffer(desc device.BufferDesc) (*Resource, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("%w: empty buffer", ErrInvalidDescriptor)
	}
	return p.findOrCreate(BufferKey(desc), desc.Label, true, true)
}

// CreateTexture allocates a non-scratch texture. It is destroyed, not
// cached, when both ref counts reach zero. The result holds one usage ref.
func (p *Provider) CreateTexture(desc device.TextureDesc, budgeted bool) (*Resource, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("%w: %dx%d texture", ErrInvalidDescriptor, desc.Width, desc.Height)
	}
	return p.findOrCreate(TextureKey(desc), desc.Label, false, budgeted)
}

func (p *Provider) findOrCreate(key Key, label string, scratch, budgeted bool) (*Resource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}

	if scratch {
		if r := p.takeIdleLocked(key); r != nil {
			p.reuses++
			r.usageRefs = 1
			p.log.Debug("resource: reused", "resource", r.String())
			return r, nil
		}
	}

	r, err := p.allocateLocked(key, label)
	if errors.Is(err, device.ErrOutOfMemory) && p.lru.Len() > 0 {
		n := p.purgeLocked(func(*Resource) bool { return true })
		p.log.Debug("resource: out of memory, purged idle cache", "purged", n)
		r, err = p.allocateLocked(key, label)
	}
	if err != nil {
		return nil, err
	}

	p.nextID++
	r.id = p.nextID
	r.provider = p
	r.key = key
	r.scratch = scratch
	r.budgeted = budgeted
	r.usageRefs = 1
	if budgeted {
		p.budgeted += r.size
	}
	if r.tex != nil {
		p.textures[r.tex] = r
	} else {
		p.buffers[r.buf] = r
	}

	p.log.Debug("resource: created", "resource", r.String(), "scratch", scratch)
	p.trimLocked()
	return r, nil
}

// allocateLocked creates the device object. Caller must hold mu.
func (p *Provider) allocateLocked(key Key, label string) (*Resource, error) {
	switch key.Kind {
	case KindTexture:
		desc := key.Texture
		desc.Label = label
		t, err := p.dev.CreateTexture(desc)
		if err != nil {
			return nil, fmt.Errorf("resource: create texture %dx%d: %w", desc.Width, desc.Height, err)
		}
		return &Resource{tex: t, size: textureBytes(desc)}, nil
	default:
		desc := key.Buffer
		desc.Label = label
		b, err := p.dev.CreateBuffer(desc)
		if err != nil {
			return nil, fmt.Errorf("resource: create buffer (%d bytes): %w", desc.Size, err)
		}
		return &Resource{buf: b, size: desc.Size}, nil
	}
}

// LookupTexture returns the live resource backing t.
func (p *Provider) LookupTexture(t device.Texture) (*Resource, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.textures[t]
	if !ok || r.destroyed {
		return nil, false
	}
	return r, true
}

// LookupBuffer returns the live resource backing b.
func (p *Provider) LookupBuffer(b device.Buffer) (*Resource, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.buffers[b]
	if !ok || r.destroyed {
		return nil, false
	}
	return r, true
}

// Owns reports whether r is a live resource of this provider.
func (p *Provider) Owns(r *Resource) bool {
	if r == nil || r.provider != p {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return !r.destroyed
}

// Ref adds a usage ref.
func (p *Provider) Ref(r *Resource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r.destroyed {
		return
	}
	r.usageRefs++
}

// Unref drops a usage ref.
func (p *Provider) Unref(r *Resource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r.destroyed || r.usageRefs == 0 {
		return
	}
	r.usageRefs--
	p.releaseIfIdleLocked(r)
}

// RefCommand adds a command ref for a pending or in-flight submission.
func (p *Provider) RefCommand(r *Resource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r.destroyed {
		return
	}
	r.commandRefs++
}

// UnrefCommand drops a command ref once its submission completed or failed.
func (p *Provider) UnrefCommand(r *Resource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r.destroyed || r.commandRefs == 0 {
		return
	}
	r.commandRefs--
	p.releaseIfIdleLocked(r)
}

// releaseIfIdleLocked caches or destroys r once nothing references it.
// Caller must hold mu.
func (p *Provider) releaseIfIdleLocked(r *Resource) {
	if r.usageRefs > 0 || r.commandRefs > 0 {
		return
	}
	if !r.scratch || p.closed {
		p.destroyLocked(r)
		return
	}

	r.idleSince = p.now()
	r.idle = p.lru.PushFront(r)
	p.idleByKey[r.key] = append(p.idleByKey[r.key], r)
	p.idleSize += r.size
	p.trimLocked()
}

// takeIdleLocked removes and returns the most recently idled resource for key.
func (p *Provider) takeIdleLocked(key Key) *Resource {
	rs := p.idleByKey[key]
	if len(rs) == 0 {
		return nil
	}
	r := rs[len(rs)-1]
	p.unidleLocked(r)
	return r
}

func (p *Provider) unidleLocked(r *Resource) {
	rs := p.idleByKey[r.key]
	for i, x := range rs {
		if x == r {
			rs = append(rs[:i], rs[i+1:]...)
			break
		}
	}
	if len(rs) == 0 {
		delete(p.idleByKey, r.key)
	} else {
		p.idleByKey[r.key] = rs
	}
	p.lru.Remove(r.idle)
	r.idle = nil
	p.idleSize -= r.size
}

func (p *Provider) destroyLocked(r *Resource) {
	if r.destroyed {
		return
	}
	if r.idle != nil {
		p.unidleLocked(r)
	}
	if r.tex != nil {
		delete(p.textures, r.tex)
		p.dev.DestroyTexture(r.tex)
	} else {
		delete(p.buffers, r.buf)
		p.dev.DestroyBuffer(r.buf)
	}
	if r.budgeted {
		p.budgeted -= r.size
	}
	r.destroyed = true
	p.log.Debug("resource: destroyed", "resource", r.String())
}

// trimLocked evicts idle resources, oldest first, while over budget.
func (p *Provider) trimLocked() {
	for p.budgeted > p.budget && p.lru.Len() > 0 {
		r, ok := p.lru.Back().Value.(*Resource)
		if !ok {
			break
		}
		p.destroyLocked(r)
		p.evictions++
	}
}

func (p *Provider) purgeLocked(match func(*Resource) bool) int {
	n := 0
	for e := p.lru.Back(); e != nil; {
		prev := e.Prev()
		if r, ok := e.Value.(*Resource); ok && match(r) {
			p.destroyLocked(r)
			p.evictions++
			n++
		}
		e = prev
	}
	return n
}

// Purge destroys every idle scratch resource. Returns the number destroyed.
func (p *Provider) Purge() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.purgeLocked(func(*Resource) bool { return true })
}

// PurgeOlderThan destroys idle scratch resources unused for at least age.
func (p *Provider) PurgeOlderThan(age time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := p.now().Add(-age)
	return p.purgeLocked(func(r *Resource) bool { return !r.idleSince.After(cutoff) })
}

// MaxBudgetedBytes returns the budget.
func (p *Provider) MaxBudgetedBytes() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.budget
}

// SetMaxBudgetedBytes updates the budget, trimming the idle cache if the
// new budget is lower than current usage.
func (p *Provider) SetMaxBudgetedBytes(n uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.budget = n
	p.trimLocked()
}

// CurrentBudgetedBytes returns the size of all live budgeted resources.
func (p *Provider) CurrentBudgetedBytes() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.budgeted
}

// Stats returns current statistics.
func (p *Provider) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		BudgetBytes:   p.budget,
		BudgetedBytes: p.budgeted,
		IdleBytes:     p.idleSize,
		Live:          len(p.textures) + len(p.buffers),
		Idle:          p.lru.Len(),
		Reuses:        p.reuses,
		Evictions:     p.evictions,
	}
}

// Close destroys every resource without command refs, usage refs
// notwithstanding. Resources still held by a submission are destroyed when
// their last command ref is dropped. Close is idempotent.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true

	var n, kept int
	for _, r := range p.textures {
		if r.commandRefs > 0 {
			kept++
			continue
		}
		p.destroyLocked(r)
		n++
	}
	for _, r := range p.buffers {
		if r.commandRefs > 0 {
			kept++
			continue
		}
		p.destroyLocked(r)
		n++
	}
	p.log.Debug("resource: provider closed", "destroyed", n, "inFlight", kept)
}
