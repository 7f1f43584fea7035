package components

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignitionstack/ember/pkg/artifact"
	"github.com/ignitionstack/ember/pkg/engine/errors"
	"github.com/ignitionstack/ember/pkg/engine/logging"
	"github.com/ignitionstack/ember/pkg/engine/utils"
	"golang.org/x/sync/singleflight"
)

// LoadFunc loads the artifact found at loc.
type LoadFunc func(ctx context.Context, ref artifact.Reference, loc artifact.Location) (artifact.Module, error)

type CacheOptions struct {
	// How long an unused artifact stays loaded
	TTL time.Duration
	// How often the background sweep runs
	SweepInterval time.Duration
	// Upper bound on a single load, independent of any caller's deadline
	LoadTimeout time.Duration
}

func DefaultCacheOptions() CacheOptions {
	return CacheOptions{
		TTL:           5 * time.Minute,
		SweepInterval: 5 * time.Second,
		LoadTimeout:   10 * time.Second,
	}
}

// Handle is a loaded artifact shared by the cache and every invocation that
// acquired it. It is unloaded only once its access count is zero.
type Handle struct {
	ref      artifact.Reference
	loc      artifact.Location
	module   artifact.Module
	loadedAt time.Time
	owner    *ArtifactCache
	// order in which the load started
	seq uint64

	// guarded by the owning cache's mutex
	refs     int64
	lastUsed time.Time
	retired  bool
	unloaded bool
	// lost to a newer load before it was stored; its own waiters may still use it
	superseded bool
}

func (h *Handle) Ref() artifact.Reference      { return h.ref }
func (h *Handle) Location() artifact.Location { return h.loc }
func (h *Handle) Module() artifact.Module     { return h.module }
func (h *Handle) LoadedAt() time.Time         { return h.loadedAt }

// Retain adds a reference on behalf of work that may outlive the caller's
// own reference. No-op for handles not owned by a cache.
func (h *Handle) Retain() {
	if h.owner != nil {
		h.owner.Retain(h)
	}
}

// Release drops a reference taken with Retain or Acquire.
func (h *Handle) Release() {
	if h.owner != nil {
		h.owner.Release(h)
	}
}

// NewHandle wraps a module that is not owned by any cache.
func NewHandle(ref artifact.Reference, loc artifact.Location, module artifact.Module) *Handle {
	now := time.Now()
	return &Handle{ref: ref, loc: loc, module: module, loadedAt: now, lastUsed: now}
}

// HandleInfo is a snapshot of a cached handle.
type HandleInfo struct {
	Ref         artifact.Reference `json:"ref"`
	Fingerprint string             `json:"fingerprint"`
	Refs        int64              `json:"refs"`
	LoadedAt    time.Time          `json:"loaded_at"`
	LastUsed    time.Time          `json:"last_used"`
	Retired     bool               `json:"retired"`
}

// CacheStats are cumulative counters since the cache was created.
type CacheStats struct {
	Hits         uint64 `json:"hits"`
	Misses       uint64 `json:"misses"`
	Loads        uint64 `json:"loads"`
	LoadFailures uint64 `json:"load_failures"`
	Evictions    uint64 `json:"evictions"`
	Resident     int    `json:"resident"`
	InUse        int64  `json:"in_use"`
}

// ArtifactCache maps references to loaded artifacts. Concurrent misses on the
// same reference and fingerprint share one load. A fingerprint change retires
// the cached handle, which is unloaded once nobody uses it.
type ArtifactCache struct {
	mu      sync.Mutex
	entries map[artifact.Reference]*Handle
	retired []*Handle
	loadSeq uint64

	group    singleflight.Group
	load     LoadFunc
	opts     CacheOptions
	logger   logging.Logger
	logStore *logging.FunctionLogStore
	now      func() time.Time

	hits         atomic.Uint64
	misses       atomic.Uint64
	loads        atomic.Uint64
	loadFailures atomic.Uint64
	evictions    atomic.Uint64

	sweepTicker *time.Ticker
}

// NewArtifactCache creates a cache that loads through load. logStore may be nil.
func NewArtifactCache(load LoadFunc, logger logging.Logger, logStore *logging.FunctionLogStore, options CacheOptions) *ArtifactCache {
	defaults := DefaultCacheOptions()
	if options.TTL <= 0 {
		options.TTL = defaults.TTL
	}
	if options.SweepInterval <= 0 {
		options.SweepInterval = defaults.SweepInterval
	}
	if options.LoadTimeout <= 0 {
		options.LoadTimeout = defaults.LoadTimeout
	}
	return &ArtifactCache{
		entries:  make(map[artifact.Reference]*Handle),
		load:     load,
		opts:     options,
		logger:   logger,
		logStore: logStore,
		now:      time.Now,
	}
}

// Acquire returns a handle for ref loaded from loc and increments its access
// count. The caller must Release it exactly once.
func (c *ArtifactCache) Acquire(ctx context.Context, ref artifact.Reference, loc artifact.Location) (*Handle, error) {
	for {
		if h := c.lookup(ref, loc); h != nil {
			c.hits.Add(1)
			return h, nil
		}
		c.misses.Add(1)

		ch := c.group.DoChan(ref.String()+"#"+loc.Fingerprint, func() (interface{}, error) {
			return c.loadAndStore(ref, loc)
		})

		select {
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			if h := res.Val.(*Handle); c.claim(h) {
				return h, nil
			}
			// swept or superseded before this caller could claim it
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// lookup returns a claimed handle on a hit. A cached handle with a different
// fingerprint is retired.
func (c *ArtifactCache) lookup(ref artifact.Reference, loc artifact.Location) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.entries[ref]
	if !ok {
		return nil
	}
	if h.loc.Fingerprint != loc.Fingerprint {
		c.retireLocked(h)
		c.audit(ref, logging.LevelInfo, "artifact changed (%s -> %s), previous version retired", h.loc.Fingerprint, loc.Fingerprint)
		return nil
	}
	h.refs++
	h.lastUsed = c.now()
	return h
}

func (c *ArtifactCache) claim(h *Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h.unloaded || (h.retired && !h.superseded) {
		return false
	}
	h.refs++
	h.lastUsed = c.now()
	return true
}

func (c *ArtifactCache) loadAndStore(ref artifact.Reference, loc artifact.Location) (*Handle, error) {
	// a load that finished just before this flight started
	c.mu.Lock()
	if h, ok := c.entries[ref]; ok && h.loc.Fingerprint == loc.Fingerprint {
		c.mu.Unlock()
		return h, nil
	}
	c.loadSeq++
	seq := c.loadSeq
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.LoadTimeout)
	defer cancel()

	c.loads.Add(1)
	start := c.now()
	module, err := utils.ExecuteWithContext(ctx, func() (artifact.Module, error) {
		return c.load(ctx, ref, loc)
	}, func(late artifact.Module) {
		late.Close(context.Background())
	})
	if err != nil {
		c.loadFailures.Add(1)
		err = classifyLoadError(ref, err)
		c.logger.Errorf("Failed to load %s: %v", ref, err)
		c.audit(ref, logging.LevelError, "load failed: %v", err)
		return nil, err
	}

	now := c.now()
	h := &Handle{ref: ref, loc: loc, module: module, loadedAt: now, lastUsed: now, owner: c, seq: seq}

	c.mu.Lock()
	if cur, ok := c.entries[ref]; ok && cur.seq > seq {
		// a load that started later already won; serve this flight's
		// waiters and let the sweep unload it after them
		h.superseded = true
		c.retireLocked(h)
		c.mu.Unlock()
		c.logger.Debugf("Load of %s (fingerprint %s) superseded by %s", ref, loc.Fingerprint, cur.loc.Fingerprint)
		return h, nil
	}
	if old, ok := c.entries[ref]; ok {
		c.retireLocked(old)
	}
	c.entries[ref] = h
	c.mu.Unlock()

	c.logger.Printf("Loaded %s (fingerprint %s) in %s", ref, loc.Fingerprint, now.Sub(start))
	c.audit(ref, logging.LevelInfo, "artifact loaded from %s", loc.Path)
	return h, nil
}

func classifyLoadError(ref artifact.Reference, err error) error {
	code := errors.CodeLoadFailed
	message := "Failed to load artifact"
	switch {
	case stderrors.Is(err, artifact.ErrArtifactNotFound):
		code, message = errors.CodeArtifactNotFound, "Artifact not found"
	case errors.Is(err, errors.DomainExecution, errors.CodeTimeout):
		code, message = errors.CodeLoadTimeout, "Artifact load timed out"
	}
	return errors.Wrap(errors.DomainArtifact, code, message, err).WithRef(ref.String())
}

// Retain adds a reference to a handle the caller already holds, for work that
// may outlive the caller's own reference.
func (c *ArtifactCache) Retain(h *Handle) {
	c.mu.Lock()
	h.refs++
	c.mu.Unlock()
}

// Release drops one reference. It never unloads; the sweep does.
func (c *ArtifactCache) Release(h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h.refs <= 0 {
		c.logger.Errorf("Release of %s with no outstanding references", h.ref)
		return
	}
	h.refs--
	h.lastUsed = c.now()
}

func (c *ArtifactCache) retireLocked(h *Handle) {
	if h.retired {
		return
	}
	h.retired = true
	if c.entries[h.ref] == h {
		delete(c.entries, h.ref)
	}
	c.retired = append(c.retired, h)
}

// Invalidate retires the cached handle for ref. It is unloaded now if idle,
// otherwise by the sweep after its last user releases it.
func (c *ArtifactCache) Invalidate(ctx context.Context, ref artifact.Reference) bool {
	c.mu.Lock()
	h, ok := c.entries[ref]
	if ok {
		c.retireLocked(h)
	}
	victims := c.collectRetiredLocked()
	c.mu.Unlock()

	c.unload(ctx, victims, "invalidated")
	return ok
}

// Sweep unloads idle handles whose last use is older than the TTL and retired
// handles nobody uses anymore. It returns the number of handles unloaded.
func (c *ArtifactCache) Sweep(ctx context.Context, now time.Time) int {
	c.mu.Lock()
	var victims []*Handle
	for ref, h := range c.entries {
		if h.refs == 0 && now.Sub(h.lastUsed) > c.opts.TTL {
			delete(c.entries, ref)
			h.unloaded = true
			victims = append(victims, h)
		}
	}
	victims = append(victims, c.collectRetiredLocked()...)
	c.mu.Unlock()

	c.unload(ctx, victims, "idle")
	return len(victims)
}

func (c *ArtifactCache) collectRetiredLocked() []*Handle {
	var victims []*Handle
	kept := c.retired[:0]
	for _, h := range c.retired {
		if h.refs == 0 {
			h.unloaded = true
			victims = append(victims, h)
		} else {
			kept = append(kept, h)
		}
	}
	c.retired = kept
	return victims
}

func (c *ArtifactCache) unload(ctx context.Context, victims []*Handle, reason string) {
	for _, h := range victims {
		c.evictions.Add(1)
		if err := h.module.Close(ctx); err != nil {
			c.logger.Errorf("Failed to unload %s: %v", h.ref, err)
		}
		c.logger.Debugf("Unloaded %s (%s)", h.ref, reason)
		c.audit(h.ref, logging.LevelInfo, "artifact unloaded (%s)", reason)
	}
}

// StartSweeper runs Sweep every SweepInterval until ctx is done.
func (c *ArtifactCache) StartSweeper(ctx context.Context) {
	c.logger.Printf("Starting artifact sweep every %s (ttl %s)", c.opts.SweepInterval, c.opts.TTL)
	ticker := time.NewTicker(c.opts.SweepInterval)
	c.mu.Lock()
	c.sweepTicker = ticker
	c.mu.Unlock()

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := c.Sweep(ctx, c.now()); n > 0 {
					c.logger.Debugf("Sweep unloaded %d artifacts", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the sweeper and unloads everything, in use or not.
func (c *ArtifactCache) Shutdown(ctx context.Context) {
	c.mu.Lock()
	if c.sweepTicker != nil {
		c.sweepTicker.Stop()
	}
	victims := append([]*Handle(nil), c.retired...)
	for ref, h := range c.entries {
		victims = append(victims, h)
		delete(c.entries, ref)
	}
	for _, h := range victims {
		h.unloaded = true
	}
	c.retired = nil
	c.mu.Unlock()

	c.unload(ctx, victims, "shutdown")
}

// Info returns a snapshot of the cached handle for ref.
func (c *ArtifactCache) Info(ref artifact.Reference) (HandleInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.entries[ref]
	if !ok {
		return HandleInfo{}, false
	}
	return infoLocked(h), true
}

// Refs returns the current access count of h.
func (c *ArtifactCache) Refs(h *Handle) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return h.refs
}

// List returns snapshots of every resident handle, retired ones included,
// sorted by reference.
func (c *ArtifactCache) List() []HandleInfo {
	c.mu.Lock()
	infos := make([]HandleInfo, 0, len(c.entries)+len(c.retired))
	for _, h := range c.entries {
		infos = append(infos, infoLocked(h))
	}
	for _, h := range c.retired {
		infos = append(infos, infoLocked(h))
	}
	c.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Ref == infos[j].Ref {
			return !infos[i].Retired && infos[j].Retired
		}
		return infos[i].Ref.String() < infos[j].Ref.String()
	})
	return infos
}

func infoLocked(h *Handle) HandleInfo {
	return HandleInfo{
		Ref:         h.ref,
		Fingerprint: h.loc.Fingerprint,
		Refs:        h.refs,
		LoadedAt:    h.loadedAt,
		LastUsed:    h.lastUsed,
		Retired:     h.retired,
	}
}

// Stats returns the cache counters.
func (c *ArtifactCache) Stats() CacheStats {
	c.mu.Lock()
	resident := len(c.entries) + len(c.retired)
	var inUse int64
	for _, h := range c.entries {
		inUse += h.refs
	}
	for _, h := range c.retired {
		inUse += h.refs
	}
	c.mu.Unlock()

	return CacheStats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Loads:        c.loads.Load(),
		LoadFailures: c.loadFailures.Load(),
		Evictions:    c.evictions.Load(),
		Resident:     resident,
		InUse:        inUse,
	}
}

func (c *ArtifactCache) audit(ref artifact.Reference, level logging.LogLevel, format string, args ...interface{}) {
	if c.logStore != nil {
		c.logStore.Addf(ref.String(), level, format, args...)
	}
}
