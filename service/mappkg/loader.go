package mappkg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/sync/errgroup"

	"hamlet/api/blob"
	"hamlet/api/log"
	"hamlet/api/model"
)

const (
	DefaultObstaclePrefix     = "obstacle"
	defaultTilesetConcurrency = 8
)

// ErrMapDocument marks a failure of the primary map document; the village stays unloaded.
var ErrMapDocument = errors.New("map document unavailable")

// ResolvedTileset is a tileset with its image located and measured.
type ResolvedTileset struct {
	FirstGID  int     `json:"firstgid"`
	Tileset   Tileset `json:"tileset"`
	SourceURL string  `json:"sourceUrl,omitempty"`
	ImageURL  string  `json:"imageUrl"`
	// Actual image size and its ratio to the declared imagewidth/imageheight.
	ActualWidth  int     `json:"actualWidth"`
	ActualHeight int     `json:"actualHeight"`
	ScaleX       float64 `json:"scaleX"`
	ScaleY       float64 `json:"scaleY"`
}

// Bundle is everything a village needs to be published as loaded.
// Tilesets keeps one slot per map tileset; failed slots are nil, see LoadedTilesets.
type Bundle struct {
	Map       *TiledMap
	Tilesets  []*ResolvedTileset
	Collision map[string]struct{}
}

// LoadedTilesets drops the slots whose tileset failed to resolve.
func (b *Bundle) LoadedTilesets() []*ResolvedTileset {
	out := make([]*ResolvedTileset, 0, len(b.Tilesets))
	for _, ts := range b.Tilesets {
		if ts != nil {
			out = append(out, ts)
		}
	}
	return out
}

type Loader struct {
	fetcher        blob.Fetcher
	obstaclePrefix string
	concurrency    int
}

func NewLoader(fetcher blob.Fetcher, obstaclePrefix string, concurrency int) *Loader {
	if obstaclePrefix == "" {
		obstaclePrefix = DefaultObstaclePrefix
	}
	if concurrency <= 0 {
		concurrency = defaultTilesetConcurrency
	}
	return &Loader{fetcher: fetcher, obstaclePrefix: obstaclePrefix, concurrency: concurrency}
}

// Load fetches the village's map document, resolves its tilesets in parallel and derives the
// local collision set. Only map document failures are returned.
func (l *Loader) Load(ctx context.Context, v model.VillageMetadata) (*Bundle, error) {
	doc, err := l.fetcher.Fetch(ctx, v.TmjURL)
	if err != nil {
		return nil, fmt.Errorf("%w: village %s: %v", ErrMapDocument, v.Slug, err)
	}
	tm, err := ParseMap(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: village %s: %v", ErrMapDocument, v.Slug, err)
	}
	collision, err := DeriveCollision(tm, l.obstaclePrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: village %s: %v", ErrMapDocument, v.Slug, err)
	}

	tilesets := make([]*ResolvedTileset, len(tm.Tilesets))
	var g errgroup.Group
	g.SetLimit(l.concurrency)
	for i, ref := range tm.Tilesets {
		i, ref := i, ref
		g.Go(func() error {
			ts, err := l.resolveTileset(ctx, v, ref)
			if err != nil {
				log.Warnf("village %s: tileset %d (%s) failed: %v", v.Slug, i, tilesetLabel(ref), err)
				return nil
			}
			tilesets[i] = ts
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &Bundle{Map: tm, Tilesets: tilesets, Collision: collision}, nil
}

func (l *Loader) resolveTileset(ctx context.Context, v model.VillageMetadata, ref TilesetRef) (*ResolvedTileset, error) {
	out := &ResolvedTileset{FirstGID: ref.FirstGID, Tileset: ref.Tileset}
	imageBase := v.TmjURL

	if ref.External() {
		out.SourceURL = l.assetURL(v, v.TmjURL, ref.Source)
		raw, err := l.fetcher.Fetch(ctx, out.SourceURL)
		if err != nil {
			return nil, err
		}
		var ts Tileset
		if err := json.Unmarshal(raw, &ts); err != nil {
			return nil, fmt.Errorf("parse tileset %s: %w", out.SourceURL, err)
		}
		out.Tileset = ts
		imageBase = out.SourceURL
	}
	if out.Tileset.Image == "" {
		return nil, fmt.Errorf("tileset %q has no image", out.Tileset.Name)
	}

	out.ImageURL = l.assetURL(v, imageBase, out.Tileset.Image)
	img, err := l.fetcher.Fetch(ctx, out.ImageURL)
	if err != nil {
		return nil, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", out.ImageURL, err)
	}
	out.ActualWidth, out.ActualHeight = cfg.Width, cfg.Height
	out.ScaleX = scale(cfg.Width, out.Tileset.ImageWidth)
	out.ScaleY = scale(cfg.Height, out.Tileset.ImageHeight)
	return out, nil
}

// assetURL places a tileset or image reference: under the village's tileset base when one is
// configured, otherwise relative to the document that referenced it.
func (l *Loader) assetURL(v model.VillageMetadata, docURL, ref string) string {
	if v.TilesetBaseURL != "" {
		return blob.ResolveDir(v.TilesetBaseURL, ref)
	}
	return blob.Resolve(docURL, ref)
}

func scale(actual, declared int) float64 {
	if declared <= 0 || actual <= 0 {
		return 1
	}
	return float64(actual) / float64(declared)
}

func tilesetLabel(ref TilesetRef) string {
	if ref.Source != "" {
		return ref.Source
	}
	if ref.Name != "" {
		return ref.Name
	}
	return "inline"
}
