package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hamlet/api/model"
	"hamlet/api/service/gridpkg"
	"hamlet/api/service/mappkg"
)

type memSource struct {
	mu       sync.Mutex
	villages map[string]model.VillageMetadata
	err      error
}

func newMemSource(vs ...model.VillageMetadata) *memSource {
	s := &memSource{villages: make(map[string]model.VillageMetadata)}
	for _, v := range vs {
		s.villages[v.Slug] = v
	}
	return s
}

func (s *memSource) Get(_ context.Context, slug string) (*model.VillageMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	v, ok := s.villages[slug]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s *memSource) GetAll(_ context.Context) ([]model.VillageMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]model.VillageMetadata, 0, len(s.villages))
	for _, v := range s.villages {
		out = append(out, v)
	}
	return out, nil
}

func (s *memSource) GetNearby(_ context.Context, gx, gy int) ([]model.VillageMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []model.VillageMetadata
	for _, v := range s.villages {
		for _, c := range gridpkg.NeighborCells(gx, gy) {
			if v.Contains(c.X, c.Y) {
				out = append(out, v)
				break
			}
		}
	}
	return out, nil
}

// stubLoader hands out bundles whose collision set is given per slug. A non-nil gate blocks
// Load until it is closed.
type stubLoader struct {
	collision map[string][]string
	fail      map[string]bool
	gate      chan struct{}
	calls     atomic.Int32
}

func (l *stubLoader) Load(ctx context.Context, v model.VillageMetadata) (*mappkg.Bundle, error) {
	l.calls.Add(1)
	if l.gate != nil {
		select {
		case <-l.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.fail[v.Slug] {
		return nil, mappkg.ErrMapDocument
	}
	set := make(map[string]struct{})
	for _, k := range l.collision[v.Slug] {
		set[k] = struct{}{}
	}
	return &mappkg.Bundle{Map: &mappkg.TiledMap{Type: "map"}, Collision: set}, nil
}

var (
	happyVillage    = model.VillageMetadata{Slug: "happy-village", TmjURL: "happy.tmj"}
	uncommonVillage = model.VillageMetadata{Slug: "uncommon-village", GridX: -1, GridY: 1, GridWidth: 2, GridHeight: 1, TmjURL: "uncommon.tmj"}
)

func TestWorldScenario(t *testing.T) {
	w := NewWorld(newMemSource(happyVillage, uncommonVillage), &stubLoader{})
	if _, err := w.RefreshAll(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	g := gridpkg.WorldToGrid(10, 5)
	if g.X != 0 || g.Y != 0 {
		t.Fatalf("WorldToGrid(10,5) = %+v", g)
	}
	if slug, _ := w.VillageSlugAtGrid(0, 0); slug != "happy-village" {
		t.Fatalf("slug at (0,0) = %q", slug)
	}
	for _, c := range []model.GridPoint{{X: -1, Y: 1}, {X: 0, Y: 1}} {
		if slug, _ := w.VillageSlugAtGrid(c.X, c.Y); slug != "uncommon-village" {
			t.Fatalf("slug at %+v = %q", c, slug)
		}
	}
	if w.State("happy-village") != StateMetadataKnown {
		t.Fatalf("state = %v", w.State("happy-village"))
	}
}

func TestCollisionFailsClosed(t *testing.T) {
	loader := &stubLoader{collision: map[string][]string{"happy-village": {"3,4"}}}
	w := NewWorld(newMemSource(happyVillage), loader)
	ctx := context.Background()

	if !w.IsCollisionAt(500, 500) {
		t.Fatalf("unknown cell must be blocked")
	}
	if _, err := w.RefreshAll(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !w.HasVillageAt(10, 5) {
		t.Fatalf("indexed cell should report a village")
	}
	if !w.IsCollisionAt(10, 5) {
		t.Fatalf("village not loaded yet must be blocked")
	}
	if w.LoadedVillageAtGrid(0, 0) != nil {
		t.Fatalf("nothing loaded yet")
	}

	if _, err := w.LoadVillage(ctx, "happy-village"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if w.IsCollisionAt(10, 5) {
		t.Fatalf("open tile reported blocked after load")
	}
	if !w.IsCollisionAt(3, 4) {
		t.Fatalf("obstacle tile not blocked")
	}
	if lv := w.LoadedVillageAtGrid(0, 0); lv == nil || lv.Metadata.Slug != "happy-village" {
		t.Fatalf("loaded village at (0,0) = %+v", lv)
	}
}

func TestCollisionUsesVillageOrigin(t *testing.T) {
	// local (21,2) lies in the second cell of uncommon-village, world (-20+21, 20+2)
	loader := &stubLoader{collision: map[string][]string{"uncommon-village": {"21,2"}}}
	w := NewWorld(newMemSource(uncommonVillage), loader)
	if _, err := w.LoadVillage(context.Background(), "uncommon-village"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !w.IsCollisionAt(1, 22) {
		t.Fatalf("tile in second cell should be blocked")
	}
	if w.IsCollisionAt(-19, 22) {
		t.Fatalf("same local offset in the first cell must not be blocked")
	}
}

func TestLoadIsNotVisibleBeforePublish(t *testing.T) {
	loader := &stubLoader{gate: make(chan struct{})}
	w := NewWorld(newMemSource(happyVillage), loader)
	ctx := context.Background()
	if _, err := w.RefreshAll(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := w.LoadVillage(ctx, "happy-village")
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for w.State("happy-village") != StateLoading {
		if time.Now().After(deadline) {
			t.Fatalf("load never started")
		}
		time.Sleep(time.Millisecond)
	}
	if !w.IsCollisionAt(10, 5) {
		t.Fatalf("loading village must stay blocked")
	}
	close(loader.gate)
	if err := <-done; err != nil {
		t.Fatalf("load: %v", err)
	}
	if w.IsCollisionAt(10, 5) || w.State("happy-village") != StateLoaded {
		t.Fatalf("village not published")
	}
}

func TestLoadDedupsConcurrentCalls(t *testing.T) {
	loader := &stubLoader{gate: make(chan struct{})}
	w := NewWorld(newMemSource(happyVillage), loader)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.LoadVillage(context.Background(), "happy-village"); err != nil {
				t.Errorf("load: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(loader.gate)
	wg.Wait()

	if n := loader.calls.Load(); n != 1 {
		t.Fatalf("map loaded %d times", n)
	}
}

func TestLoadFailureLeavesVillageUnloaded(t *testing.T) {
	loader := &stubLoader{fail: map[string]bool{"happy-village": true}}
	w := NewWorld(newMemSource(happyVillage), loader)

	_, err := w.LoadVillage(context.Background(), "happy-village")
	if !errors.Is(err, mappkg.ErrMapDocument) {
		t.Fatalf("want ErrMapDocument, got %v", err)
	}
	if w.State("happy-village") != StateMetadataKnown {
		t.Fatalf("state = %v", w.State("happy-village"))
	}
	if !w.IsCollisionAt(10, 5) {
		t.Fatalf("failed village must stay blocked")
	}
	if _, err := w.LoadVillage(context.Background(), "nowhere"); !errors.Is(err, ErrUnknownVillage) {
		t.Fatalf("want ErrUnknownVillage, got %v", err)
	}
}

func TestLoadAroundAndSubscribe(t *testing.T) {
	far := model.VillageMetadata{Slug: "far", GridX: 9, GridY: 9, TmjURL: "far.tmj"}
	broken := model.VillageMetadata{Slug: "broken", GridX: 1, GridY: 0, TmjURL: "broken.tmj"}
	loader := &stubLoader{fail: map[string]bool{"broken": true}}
	w := NewWorld(newMemSource(happyVillage, uncommonVillage, far, broken), loader)

	changes, cancel := w.Subscribe()
	defer cancel()

	loaded, err := w.LoadAround(context.Background(), 10, 5)
	if err != nil {
		t.Fatalf("load around: %v", err)
	}
	if len(loaded) != 2 || loaded[0] != "happy-village" || loaded[1] != "uncommon-village" {
		t.Fatalf("loaded = %v", loaded)
	}
	if w.State("far") != StateUnknown {
		t.Fatalf("far village should not be touched")
	}
	select {
	case <-changes:
	default:
		t.Fatalf("no change signal after load")
	}
	select {
	case <-changes:
		t.Fatalf("signals should coalesce")
	default:
	}
}

func TestRemoveVillage(t *testing.T) {
	w := NewWorld(newMemSource(happyVillage), &stubLoader{})
	if _, err := w.LoadVillage(context.Background(), "happy-village"); err != nil {
		t.Fatalf("load: %v", err)
	}
	w.RemoveVillage("happy-village")
	if w.HasVillageAt(10, 5) || !w.IsCollisionAt(10, 5) || len(w.LoadedSlugs()) != 0 {
		t.Fatalf("village survived removal")
	}
	if w.State("happy-village") != StateUnknown {
		t.Fatalf("state = %v", w.State("happy-village"))
	}
}

func TestNearestOpenTile(t *testing.T) {
	loader := &stubLoader{collision: map[string][]string{"happy-village": {"5,5", "4,5", "6,5", "5,4", "5,6", "4,4", "6,4", "4,6"}}}
	w := NewWorld(newMemSource(happyVillage), loader)
	if _, err := w.LoadVillage(context.Background(), "happy-village"); err != nil {
		t.Fatalf("load: %v", err)
	}

	x, y, ok := w.NearestOpenTile(5, 5, 3)
	if !ok || x != 6 || y != 6 {
		t.Fatalf("nearest open = (%d,%d,%v), want (6,6)", x, y, ok)
	}
	if _, _, ok := w.NearestOpenTile(500, 500, 2); ok {
		t.Fatalf("no open tile expected in unknown territory")
	}
}

func (s *memSource) put(v model.VillageMetadata) {
	s.mu.Lock()
	s.villages[v.Slug] = v
	s.mu.Unlock()
}

func waitForState(t *testing.T, w *World, slug string, want VillageState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for w.State(slug) != want {
		if time.Now().After(deadline) {
			t.Fatalf("%s never reached %v, now %v", slug, want, w.State(slug))
		}
		time.Sleep(time.Millisecond)
	}
}

func TestMovedVillageIsNotPublishedWithOldGeometry(t *testing.T) {
	wide := model.VillageMetadata{Slug: "a", GridWidth: 2, GridHeight: 1, TmjURL: "a.tmj"}
	src := newMemSource(wide)
	loader := &stubLoader{gate: make(chan struct{}), collision: map[string][]string{"a": {"0,0"}}}
	w := NewWorld(src, loader)
	ctx := context.Background()
	if _, err := w.RefreshAll(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := w.LoadVillage(ctx, "a")
		done <- err
	}()
	waitForState(t, w, "a", StateLoading)

	// the admin save path: store updated, then the world forgets and re-reads the neighbourhood
	moved := model.VillageMetadata{Slug: "a", GridX: 1, TmjURL: "a.tmj"}
	src.put(moved)
	w.RemoveVillage("a")
	if _, err := w.RefreshNearby(ctx, 1, 0); err != nil {
		t.Fatalf("refresh nearby: %v", err)
	}
	close(loader.gate)

	if err := <-done; !errors.Is(err, ErrVillageChanged) {
		t.Fatalf("want ErrVillageChanged, got %v", err)
	}
	if w.Loaded("a") != nil {
		t.Fatalf("bundle built from the old geometry was published")
	}
	if !w.IsCollisionAt(20, 0) || !w.IsCollisionAt(21, 0) {
		t.Fatalf("unloaded village must stay blocked")
	}

	lv, err := w.LoadVillage(ctx, "a")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if lv.Metadata.GridX != 1 {
		t.Fatalf("reloaded with origin %d", lv.Metadata.GridX)
	}
	if !w.IsCollisionAt(20, 0) {
		t.Fatalf("obstacle at the new origin reported open")
	}
	if w.IsCollisionAt(21, 0) {
		t.Fatalf("open tile at the new origin reported blocked")
	}
	if w.HasVillageAt(0, 0) {
		t.Fatalf("old cell still indexed")
	}
}

func TestSharedLoadSurvivesCallerCancel(t *testing.T) {
	loader := &stubLoader{gate: make(chan struct{})}
	w := NewWorld(newMemSource(happyVillage), loader)
	if _, err := w.RefreshAll(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := w.LoadVillage(cctx, "happy-village")
		first <- err
	}()
	waitForState(t, w, "happy-village", StateLoading)

	second := make(chan error, 1)
	go func() {
		_, err := w.LoadVillage(context.Background(), "happy-village")
		second <- err
	}()

	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller got %v", err)
	}
	close(loader.gate)
	if err := <-second; err != nil {
		t.Fatalf("waiting caller failed with the first caller's cancel: %v", err)
	}
	if w.Loaded("happy-village") == nil || loader.calls.Load() != 1 {
		t.Fatalf("loaded=%v calls=%d", w.Loaded("happy-village") != nil, loader.calls.Load())
	}
}
