package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"hamlet/api/log"
	"hamlet/api/model"
	"hamlet/api/service/gridpkg"
	"hamlet/api/service/mappkg"
)

var (
	ErrUnknownVillage = errors.New("village unknown")
	// ErrVillageChanged is returned by a load whose metadata was replaced while it ran.
	ErrVillageChanged = errors.New("village metadata changed during load")
)

const DefaultLoadTimeout = time.Minute

// VillageState is the runtime's view of one village: Unknown -> MetadataKnown -> Loading -> Loaded.
type VillageState int

const (
	StateUnknown VillageState = iota
	StateMetadataKnown
	StateLoading
	StateLoaded
)

func (s VillageState) String() string {
	switch s {
	case StateMetadataKnown:
		return "metadata_known"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	default:
		return "unknown"
	}
}

func (s VillageState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// LoadedVillage is published only once its collision set is complete and is never mutated after.
type LoadedVillage struct {
	Metadata  model.VillageMetadata     `json:"metadata"`
	Map       *mappkg.TiledMap          `json:"-"`
	Tilesets  []*mappkg.ResolvedTileset `json:"tilesets"`
	LoadedAt  time.Time                 `json:"loadedAt"`
	collision map[string]struct{}
}

// Blocked reports whether the local tile is in the village's obstacle set.
func (lv *LoadedVillage) Blocked(localX, localY int) bool {
	_, ok := lv.collision[gridpkg.GridKey(localX, localY)]
	return ok
}

func (lv *LoadedVillage) CollisionCount() int { return len(lv.collision) }

// VillageSource is the read side of the village metadata store.
type VillageSource interface {
	Get(ctx context.Context, slug string) (*model.VillageMetadata, error)
	GetAll(ctx context.Context) ([]model.VillageMetadata, error)
	GetNearby(ctx context.Context, gx, gy int) ([]model.VillageMetadata, error)
}

type MapLoader interface {
	Load(ctx context.Context, v model.VillageMetadata) (*mappkg.Bundle, error)
}

// VillageStatus is a snapshot row of World.Villages.
type VillageStatus struct {
	Slug     string                `json:"slug"`
	State    VillageState          `json:"state"`
	Metadata model.VillageMetadata `json:"metadata"`
}

// World is the live view of known and loaded villages. The grid index, the nearby cache and
// the loaded map are only mutated through its methods.
type World struct {
	source VillageSource
	loader MapLoader
	index  *gridpkg.Index

	mu     sync.RWMutex
	loaded map[string]*LoadedVillage
	nearby map[string]model.VillageMetadata
	states map[string]VillageState

	flight      singleflight.Group
	loadTimeout time.Duration

	subMu sync.Mutex
	subs  map[chan struct{}]struct{}

	now func() time.Time
}

func NewWorld(source VillageSource, loader MapLoader) *World {
	return &World{
		source: source,
		loader: loader,
		index:  gridpkg.NewIndex(),
		loaded: make(map[string]*LoadedVillage),
		nearby: make(map[string]model.VillageMetadata),
		states: make(map[string]VillageState),
		subs:   make(map[chan struct{}]struct{}),
		now:    time.Now,

		loadTimeout: DefaultLoadTimeout,
	}
}

// SetLoadTimeout bounds a single shared village load.
func (w *World) SetLoadTimeout(d time.Duration) {
	if d > 0 {
		w.loadTimeout = d
	}
}

/* ---------- queries ---------- */

// IsCollisionAt fails closed: cells with no known village and villages not yet loaded are blocked.
func (w *World) IsCollisionAt(worldX, worldY int) bool {
	g := gridpkg.WorldToGrid(worldX, worldY)
	slug, ok := w.index.Lookup(g.X, g.Y)
	if !ok {
		return true
	}
	w.mu.RLock()
	lv := w.loaded[slug]
	w.mu.RUnlock()
	if lv == nil || !lv.Metadata.Contains(g.X, g.Y) {
		return true
	}
	// local coordinates are relative to the village origin, not the queried cell
	local := gridpkg.WorldToLocalInVillage(worldX, worldY, lv.Metadata.GridX, lv.Metadata.GridY)
	return lv.Blocked(local.X, local.Y)
}

// HasVillageAt is true when the containing cell is indexed, loaded or not.
func (w *World) HasVillageAt(worldX, worldY int) bool {
	g := gridpkg.WorldToGrid(worldX, worldY)
	_, ok := w.index.Lookup(g.X, g.Y)
	return ok
}

func (w *World) VillageSlugAtGrid(gx, gy int) (string, bool) {
	return w.index.Lookup(gx, gy)
}

// LoadedVillageAtGrid returns nil when the cell is unknown or its village is not loaded yet.
func (w *World) LoadedVillageAtGrid(gx, gy int) *LoadedVillage {
	slug, ok := w.index.Lookup(gx, gy)
	if !ok {
		return nil
	}
	return w.Loaded(slug)
}

func (w *World) Loaded(slug string) *LoadedVillage {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.loaded[slug]
}

func (w *World) State(slug string) VillageState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.states[slug]
}

// LoadedSlugs returns a sorted snapshot of the loaded village set.
func (w *World) LoadedSlugs() []string {
	w.mu.RLock()
	out := make([]string, 0, len(w.loaded))
	for slug := range w.loaded {
		out = append(out, slug)
	}
	w.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Villages lists every village the runtime has seen, sorted by slug.
func (w *World) Villages() []VillageStatus {
	w.mu.RLock()
	out := make([]VillageStatus, 0, len(w.nearby))
	for slug, v := range w.nearby {
		out = append(out, VillageStatus{Slug: slug, State: w.states[slug], Metadata: v})
	}
	w.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// NearestOpenTile walks square rings around (x, y) out to radius and returns the first
// non-colliding tile.
func (w *World) NearestOpenTile(x, y, radius int) (int, int, bool) {
	for r := 0; r <= radius; r++ {
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				if max(abs(dx), abs(dy)) != r {
					continue
				}
				if !w.IsCollisionAt(x+dx, y+dy) {
					return x + dx, y + dy, true
				}
			}
		}
	}
	return 0, 0, false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

/* ---------- metadata ---------- */

// observe merges villages into the grid index and the nearby cache.
func (w *World) observe(villages []model.VillageMetadata) {
	if len(villages) == 0 {
		return
	}
	w.index.Update(villages)
	w.mu.Lock()
	for _, v := range villages {
		w.nearby[v.Slug] = v
		if w.states[v.Slug] == StateUnknown {
			w.states[v.Slug] = StateMetadataKnown
		}
	}
	w.mu.Unlock()
}

func (w *World) RefreshNearby(ctx context.Context, gx, gy int) ([]model.VillageMetadata, error) {
	villages, err := w.source.GetNearby(ctx, gx, gy)
	if err != nil {
		return nil, fmt.Errorf("refresh nearby (%d,%d): %w", gx, gy, err)
	}
	w.observe(villages)
	return villages, nil
}

func (w *World) RefreshAll(ctx context.Context) ([]model.VillageMetadata, error) {
	villages, err := w.source.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh all: %w", err)
	}
	w.observe(villages)
	return villages, nil
}

/* ---------- loading ---------- */

// LoadVillage fetches metadata and map, then publishes the village in one step. Concurrent
// calls for one slug share a single load, which runs detached from any one caller's ctx.
func (w *World) LoadVillage(ctx context.Context, slug string) (*LoadedVillage, error) {
	if lv := w.Loaded(slug); lv != nil {
		return lv, nil
	}
	ch := w.flight.DoChan(slug, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.loadTimeout)
		defer cancel()
		return w.load(lctx, slug)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*LoadedVillage), nil
	}
}

func (w *World) load(ctx context.Context, slug string) (*LoadedVillage, error) {
	if lv := w.Loaded(slug); lv != nil {
		return lv, nil
	}

	w.mu.RLock()
	meta, ok := w.nearby[slug]
	w.mu.RUnlock()
	if !ok {
		v, err := w.source.Get(ctx, slug)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownVillage, slug)
		}
		meta = *v
		w.observe([]model.VillageMetadata{meta})
	}

	w.setState(slug, StateLoading)
	bundle, err := w.loader.Load(ctx, meta)
	if err != nil {
		w.setState(slug, StateMetadataKnown)
		return nil, err
	}

	lv := &LoadedVillage{
		Metadata:  meta,
		Map:       bundle.Map,
		Tilesets:  bundle.LoadedTilesets(),
		LoadedAt:  w.now(),
		collision: bundle.Collision,
	}
	w.mu.Lock()
	current, known := w.nearby[slug]
	if !known {
		// removed while loading
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: %s removed during load", ErrUnknownVillage, slug)
	}
	if !sameGeometry(current, meta) {
		w.mu.Unlock()
		log.Infof("village %s changed while loading, bundle discarded", slug)
		return nil, fmt.Errorf("%w: %s", ErrVillageChanged, slug)
	}
	w.loaded[slug] = lv
	w.states[slug] = StateLoaded
	w.mu.Unlock()

	log.Infof("village %s loaded: %d tilesets, %d blocked tiles", slug, len(lv.Tilesets), lv.CollisionCount())
	w.notify()
	return lv, nil
}

// sameGeometry compares everything a loaded village is derived from.
func sameGeometry(a, b model.VillageMetadata) bool {
	aw, ah := a.Size()
	bw, bh := b.Size()
	return a.GridX == b.GridX && a.GridY == b.GridY && aw == bw && ah == bh &&
		a.TmjURL == b.TmjURL && a.TilesetBaseURL == b.TilesetBaseURL
}

func (w *World) setState(slug string, s VillageState) {
	w.mu.Lock()
	if _, known := w.nearby[slug]; known {
		w.states[slug] = s
	}
	w.mu.Unlock()
}

// LoadAround refreshes the neighbourhood of the cell holding (worldX, worldY) and loads every
// village in it. Individual load failures are logged and leave the village unloaded.
func (w *World) LoadAround(ctx context.Context, worldX, worldY int) ([]string, error) {
	g := gridpkg.WorldToGrid(worldX, worldY)
	villages, err := w.RefreshNearby(ctx, g.X, g.Y)
	if err != nil {
		return nil, err
	}

	var (
		eg     errgroup.Group
		mu     sync.Mutex
		loaded []string
	)
	for _, v := range villages {
		slug := v.Slug
		eg.Go(func() error {
			if _, err := w.LoadVillage(ctx, slug); err != nil {
				log.Warnf("village %s: load failed: %v", slug, err)
				return nil
			}
			mu.Lock()
			loaded = append(loaded, slug)
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	sort.Strings(loaded)
	return loaded, nil
}

// RemoveVillage drops the village from the index, the nearby cache and the loaded set. A load
// in flight is forgotten so the next LoadVillage starts over with fresh metadata.
func (w *World) RemoveVillage(slug string) {
	w.flight.Forget(slug)
	w.index.Remove(slug)
	w.mu.Lock()
	_, wasLoaded := w.loaded[slug]
	delete(w.loaded, slug)
	delete(w.nearby, slug)
	delete(w.states, slug)
	w.mu.Unlock()
	if wasLoaded {
		w.notify()
	}
}

/* ---------- change signal ---------- */

// Subscribe returns a channel signalled whenever the loaded set changes. Signals coalesce: a
// slow reader sees at most one pending notification. Call cancel to unsubscribe.
func (w *World) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	w.subMu.Lock()
	w.subs[ch] = struct{}{}
	w.subMu.Unlock()
	return ch, func() {
		w.subMu.Lock()
		delete(w.subs, ch)
		w.subMu.Unlock()
	}
}

func (w *World) notify() {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	for ch := range w.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
