package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"hamlet/api/log"
	"hamlet/api/model"
	"hamlet/api/service/gridpkg"
)

var (
	ErrGridOccupied   = errors.New("grid cell occupied by another village")
	ErrInvalidVillage = errors.New("invalid village metadata")
)

const (
	saveRetries = 5
	mgetBatch   = 500
	// DefaultMaxCells caps the rectangle a single village may occupy.
	DefaultMaxCells = 64
)

// VillageStore persists village metadata in redis:
//
//	<ns>:village:<slug>   hash of the metadata record
//	<ns>:villages         set of every slug
//	<ns>:grid:<x>,<y>     slug occupying the grid cell
type VillageStore struct {
	client    *redis.Client
	namespace string
	maxCells  int
	now       func() time.Time
}

func NewVillageStore(client *redis.Client, namespace string) *VillageStore {
	if namespace == "" {
		namespace = "hamlet"
	}
	return &VillageStore{client: client, namespace: namespace, maxCells: DefaultMaxCells, now: time.Now}
}

// WithMaxCells overrides the per-village cell cap.
func (s *VillageStore) WithMaxCells(n int) *VillageStore {
	if n > 0 {
		s.maxCells = n
	}
	return s
}

// checkSize rejects rectangles over the cell cap before anything enumerates their cells.
func (s *VillageStore) checkSize(v model.VillageMetadata) error {
	w, h := v.Size()
	if w > s.maxCells || h > s.maxCells || w*h > s.maxCells {
		return fmt.Errorf("%w: %s is %dx%d cells, at most %d allowed", ErrInvalidVillage, v.Slug, w, h, s.maxCells)
	}
	return nil
}

func (s *VillageStore) villageKey(slug string) string { return s.namespace + ":village:" + slug }
func (s *VillageStore) slugSetKey() string            { return s.namespace + ":villages" }
func (s *VillageStore) gridKey(x, y int) string {
	return s.namespace + ":grid:" + gridpkg.GridKey(x, y)
}

// Save upserts the record and its reverse grid entries. Cells the village no longer covers are
// released, and a cell owned by a different slug fails the whole save with ErrGridOccupied.
func (s *VillageStore) Save(ctx context.Context, v model.VillageMetadata) (*model.VillageMetadata, error) {
	v.Slug = strings.TrimSpace(v.Slug)
	if v.Slug == "" || strings.ContainsAny(v.Slug, " :,") {
		return nil, fmt.Errorf("%w: bad slug %q", ErrInvalidVillage, v.Slug)
	}
	if v.GridWidth < 1 {
		v.GridWidth = 1
	}
	if v.GridHeight < 1 {
		v.GridHeight = 1
	}
	if err := s.checkSize(v); err != nil {
		return nil, err
	}

	newCells := v.Cells()
	watched := make([]string, 0, len(newCells)+1)
	watched = append(watched, s.villageKey(v.Slug))
	for _, c := range newCells {
		watched = append(watched, s.gridKey(c.X, c.Y))
	}

	var saved model.VillageMetadata
	txf := func(tx *redis.Tx) error {
		prev, err := s.readRecord(ctx, tx, v.Slug)
		if err != nil {
			return err
		}

		owners, err := tx.MGet(ctx, watched[1:]...).Result()
		if err != nil {
			return fmt.Errorf("read grid owners: %w", err)
		}
		for i, o := range owners {
			owner, _ := o.(string)
			if owner != "" && owner != v.Slug {
				c := newCells[i]
				return fmt.Errorf("%w: cell (%d,%d) belongs to %s", ErrGridOccupied, c.X, c.Y, owner)
			}
		}

		var stale []string
		if prev != nil {
			keep := make(map[model.GridPoint]bool, len(newCells))
			for _, c := range newCells {
				keep[c] = true
			}
			for _, c := range prev.Cells() {
				if !keep[c] {
					stale = append(stale, s.gridKey(c.X, c.Y))
				}
			}
		}

		now := s.now().UTC()
		saved = v
		saved.UpdatedAt = now
		if prev != nil && !prev.CreatedAt.IsZero() {
			saved.CreatedAt = prev.CreatedAt
		} else if saved.CreatedAt.IsZero() {
			saved.CreatedAt = now
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, s.villageKey(saved.Slug), encodeVillage(saved))
			for _, c := range newCells {
				p.Set(ctx, s.gridKey(c.X, c.Y), saved.Slug, 0)
			}
			if len(stale) > 0 {
				p.Del(ctx, stale...)
			}
			p.SAdd(ctx, s.slugSetKey(), saved.Slug)
			return nil
		})
		return err
	}

	for i := 0; i < saveRetries; i++ {
		err := s.client.Watch(ctx, txf, watched...)
		if err == nil {
			return &saved, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, fmt.Errorf("save village %s: %w", v.Slug, err)
	}
	return nil, fmt.Errorf("save village %s: %w", v.Slug, redis.TxFailedErr)
}

// Delete removes the record, its grid entries and its set membership. Unknown slugs are a no-op.
// A record over the cell cap is cleaned up by scanning the grid keys instead of enumerating cells.
func (s *VillageStore) Delete(ctx context.Context, slug string) error {
	var keys []string
	v, err := s.readRecord(ctx, s.client, slug)
	switch {
	case errors.Is(err, ErrInvalidVillage):
		log.Warnf("village %s: %v, scanning grid keys", slug, err)
		if keys, err = s.scanGridKeys(ctx); err != nil {
			return fmt.Errorf("delete village %s: %w", slug, err)
		}
	case err != nil:
		return fmt.Errorf("delete village %s: %w", slug, err)
	case v == nil:
		return nil
	default:
		for _, c := range v.Cells() {
			keys = append(keys, s.gridKey(c.X, c.Y))
		}
	}

	var owned []string
	for start := 0; start < len(keys); start += mgetBatch {
		batch := keys[start:min(start+mgetBatch, len(keys))]
		owners, err := s.client.MGet(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("delete village %s: %w", slug, err)
		}
		for i, o := range owners {
			if owner, _ := o.(string); owner == slug {
				owned = append(owned, batch[i])
			}
		}
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if len(owned) > 0 {
			p.Del(ctx, owned...)
		}
		p.Del(ctx, s.villageKey(slug))
		p.SRem(ctx, s.slugSetKey(), slug)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete village %s: %w", slug, err)
	}
	return nil
}

func (s *VillageStore) scanGridKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.namespace+":grid:*", 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan grid keys: %w", err)
	}
	return keys, nil
}

// Get returns the record for slug, or nil when it does not exist.
func (s *VillageStore) Get(ctx context.Context, slug string) (*model.VillageMetadata, error) {
	v, err := s.readRecord(ctx, s.client, slug)
	if err != nil {
		return nil, fmt.Errorf("get village %s: %w", slug, err)
	}
	return v, nil
}

// GetAll enumerates the slug set; slugs without a record are skipped.
func (s *VillageStore) GetAll(ctx context.Context) ([]model.VillageMetadata, error) {
	slugs, err := s.client.SMembers(ctx, s.slugSetKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list villages: %w", err)
	}
	sort.Strings(slugs)
	return s.readMany(ctx, slugs)
}

func (s *VillageStore) GetByGrid(ctx context.Context, gx, gy int) (*model.VillageMetadata, error) {
	slug, err := s.client.Get(ctx, s.gridKey(gx, gy)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("grid lookup (%d,%d): %w", gx, gy, err)
	}
	return s.Get(ctx, slug)
}

// GetNearby returns the villages touching the 3x3 neighbourhood of (gx, gy), each once.
func (s *VillageStore) GetNearby(ctx context.Context, gx, gy int) ([]model.VillageMetadata, error) {
	cells := gridpkg.NeighborCells(gx, gy)
	keys := make([]string, 0, len(cells))
	for _, c := range cells {
		keys = append(keys, s.gridKey(c.X, c.Y))
	}
	owners, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("nearby lookup (%d,%d): %w", gx, gy, err)
	}

	seen := make(map[string]bool)
	var slugs []string
	for _, o := range owners {
		slug, _ := o.(string)
		if slug == "" || seen[slug] {
			continue
		}
		seen[slug] = true
		slugs = append(slugs, slug)
	}
	return s.readMany(ctx, slugs)
}

func (s *VillageStore) readMany(ctx context.Context, slugs []string) ([]model.VillageMetadata, error) {
	if len(slugs) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(slugs))
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, slug := range slugs {
			cmds[i] = p.HGetAll(ctx, s.villageKey(slug))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read villages: %w", err)
	}

	out := make([]model.VillageMetadata, 0, len(slugs))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		v, err := s.decode(slugs[i], fields)
		if errors.Is(err, ErrInvalidVillage) {
			log.Warnf("village %s skipped: %v", slugs[i], err)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func (s *VillageStore) readRecord(ctx context.Context, r hashReader, slug string) (*model.VillageMetadata, error) {
	fields, err := r.HGetAll(ctx, s.villageKey(slug)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return s.decode(slug, fields)
}

func (s *VillageStore) decode(slug string, fields map[string]string) (*model.VillageMetadata, error) {
	v, err := decodeVillage(slug, fields)
	if err != nil {
		return nil, err
	}
	if err := s.checkSize(*v); err != nil {
		return nil, err
	}
	return v, nil
}

func encodeVillage(v model.VillageMetadata) map[string]any {
	return map[string]any{
		"slug":           v.Slug,
		"name":           v.Name,
		"gridX":          v.GridX,
		"gridY":          v.GridY,
		"gridWidth":      v.GridWidth,
		"gridHeight":     v.GridHeight,
		"tmjUrl":         v.TmjURL,
		"tilesetBaseUrl": v.TilesetBaseURL,
		"createdAt":      v.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":      v.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func decodeVillage(slug string, f map[string]string) (*model.VillageMetadata, error) {
	v := model.VillageMetadata{
		Slug:           slug,
		Name:           f["name"],
		TmjURL:         f["tmjUrl"],
		TilesetBaseURL: f["tilesetBaseUrl"],
	}
	ints := []struct {
		field string
		dst   *int
	}{
		{"gridX", &v.GridX},
		{"gridY", &v.GridY},
		{"gridWidth", &v.GridWidth},
		{"gridHeight", &v.GridHeight},
	}
	for _, it := range ints {
		raw, ok := f[it.field]
		if !ok || raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("village %s: malformed %s %q: %w", slug, it.field, raw, err)
		}
		*it.dst = n
	}
	v.GridWidth, v.GridHeight = v.Size()

	for field, dst := range map[string]*time.Time{"createdAt": &v.CreatedAt, "updatedAt": &v.UpdatedAt} {
		raw := f[field]
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("village %s: malformed %s %q: %w", slug, field, raw, err)
		}
		*dst = ts
	}
	return &v, nil
}
