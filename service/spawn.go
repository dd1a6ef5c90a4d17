package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"hamlet/api/log"
	"hamlet/api/model"
	"hamlet/api/service/gridpkg"
)

const (
	DefaultMovementMode  = "random"
	DefaultSpawnInterval = 5 * time.Second
	agentFetchRetry      = 5 * time.Second
)

// SpawnWorld is what the gate needs from the world runtime.
type SpawnWorld interface {
	IsCollisionAt(worldX, worldY int) bool
	VillageSlugAtGrid(gx, gy int) (string, bool)
	LoadedSlugs() []string
	Subscribe() (<-chan struct{}, func())
}

// SearchFunc looks for a free tile near a blocked spawn position.
type SearchFunc func(x, y int) (int, int, bool)

// AgentLister is the external agent list, fetched once per process.
type AgentLister interface {
	FetchAgents(ctx context.Context) ([]model.AgentPlacement, error)
}

type SpawnOptions struct {
	DefaultMovementMode string
	SpawnInterval       time.Duration
	Search              SearchFunc
	// Recheck re-runs the pass periodically so agents deferred on a blocked position are
	// retried without a village change. Zero disables it.
	Recheck time.Duration
}

// SpawnGate turns agent placements into spawn events, at most once per agent URL, as soon as
// the agent's village is loaded. Every pass re-evaluates all agents from scratch.
type SpawnGate struct {
	world    SpawnWorld
	registry *AgentRegistry
	opts     SpawnOptions

	mu      sync.Mutex
	agents  []model.AgentPlacement
	spawned map[string]struct{}

	sinkMu sync.RWMutex
	sinks  []func(model.SpawnEvent)

	newID func() string
	now   func() time.Time
}

func NewSpawnGate(world SpawnWorld, registry *AgentRegistry, opts SpawnOptions) *SpawnGate {
	if opts.DefaultMovementMode == "" {
		opts.DefaultMovementMode = DefaultMovementMode
	}
	if opts.SpawnInterval <= 0 {
		opts.SpawnInterval = DefaultSpawnInterval
	}
	if registry == nil {
		registry = NewAgentRegistry()
	}
	return &SpawnGate{
		world:    world,
		registry: registry,
		opts:     opts,
		spawned:  make(map[string]struct{}),
		newID:    func() string { return uuid.NewString() },
		now:      time.Now,
	}
}

// OnSpawn registers a consumer of spawn events. Consumers run after the pass completes.
func (g *SpawnGate) OnSpawn(fn func(model.SpawnEvent)) {
	g.sinkMu.Lock()
	g.sinks = append(g.sinks, fn)
	g.sinkMu.Unlock()
}

// SetAgents replaces the agent snapshot and runs a pass.
func (g *SpawnGate) SetAgents(agents []model.AgentPlacement) []model.SpawnEvent {
	g.mu.Lock()
	g.agents = append([]model.AgentPlacement(nil), agents...)
	g.mu.Unlock()
	return g.Evaluate()
}

// Evaluate runs one spawn pass and returns the agents spawned by it.
func (g *SpawnGate) Evaluate() []model.SpawnEvent {
	g.mu.Lock()
	events := g.pass()
	g.mu.Unlock()

	if len(events) == 0 {
		return nil
	}
	g.sinkMu.RLock()
	sinks := g.sinks
	g.sinkMu.RUnlock()
	for _, ev := range events {
		for _, fn := range sinks {
			fn(ev)
		}
	}
	return events
}

func (g *SpawnGate) pass() []model.SpawnEvent {
	loaded := make(map[string]bool)
	for _, slug := range g.world.LoadedSlugs() {
		loaded[slug] = true
	}

	var out []model.SpawnEvent
	for _, a := range g.agents {
		if a.URL == "" {
			continue
		}
		if _, done := g.spawned[a.URL]; done {
			continue
		}
		if g.registry.Has(a.URL) {
			g.spawned[a.URL] = struct{}{}
			continue
		}

		slug := a.MapName
		if slug == "" {
			cell := gridpkg.WorldToGrid(a.X, a.Y)
			s, ok := g.world.VillageSlugAtGrid(cell.X, cell.Y)
			if !ok {
				log.Debugf("agent %s deferred: no village at cell (%d,%d)", a.URL, cell.X, cell.Y)
				continue
			}
			slug = s
		}
		if !loaded[slug] {
			log.Debugf("agent %s deferred: village %s not loaded", a.URL, slug)
			continue
		}

		x, y := a.X, a.Y
		if g.world.IsCollisionAt(x, y) {
			if g.opts.Search == nil {
				log.Debugf("agent %s deferred: spawn (%d,%d) blocked", a.URL, x, y)
				continue
			}
			nx, ny, ok := g.opts.Search(x, y)
			if !ok {
				log.Warnf("agent %s deferred: no free tile near (%d,%d)", a.URL, x, y)
				continue
			}
			x, y = nx, ny
		}

		mode := a.MovementMode
		if mode == "" {
			mode = g.opts.DefaultMovementMode
		}
		ev := model.SpawnEvent{
			ID:            g.newID(),
			AgentURL:      a.URL,
			Name:          a.Name,
			Sprite:        a.Sprite,
			X:             x,
			Y:             y,
			Village:       slug,
			MovementMode:  mode,
			SpawnInterval: g.opts.SpawnInterval,
			SpawnedAt:     g.now(),
		}
		g.spawned[a.URL] = struct{}{}
		if !g.registry.Add(ev) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Pending lists agents not spawned yet.
func (g *SpawnGate) Pending() []model.AgentPlacement {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []model.AgentPlacement
	for _, a := range g.agents {
		if _, done := g.spawned[a.URL]; !done {
			out = append(out, a)
		}
	}
	return out
}

func (g *SpawnGate) Registry() *AgentRegistry { return g.registry }

// Run fetches the agent list once, then re-runs the pass on every world change until ctx ends.
func (g *SpawnGate) Run(ctx context.Context, lister AgentLister) error {
	changes, cancel := g.world.Subscribe()
	defer cancel()

	for {
		agents, err := lister.FetchAgents(ctx)
		if err == nil {
			log.Infof("spawn gate: %d agents fetched, %d spawned", len(agents), len(g.SetAgents(agents)))
			break
		}
		log.Warnf("spawn gate: fetch agents: %v", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(agentFetchRetry):
		}
	}

	var recheck <-chan time.Time
	if g.opts.Recheck > 0 {
		t := time.NewTicker(g.opts.Recheck)
		defer t.Stop()
		recheck = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changes:
		case <-recheck:
		}
		if evs := g.Evaluate(); len(evs) > 0 {
			log.Infof("spawn gate: %d agents spawned", len(evs))
		}
	}
}
