package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"hamlet/api/model"
	"hamlet/api/service/gridpkg"
)

// Manifest lists the villages to seed:
//
//	tileset_base_url: https://cdn.example.com/tilesets
//	villages:
//	  - slug: happy-village
//	    name: Happy Village
//	    grid_x: 0
//	    grid_y: 0
//	    tmj_url: maps/happy-village.tmj
type Manifest struct {
	TilesetBaseURL string          `yaml:"tileset_base_url"`
	Villages       []ManifestEntry `yaml:"villages"`
}

type ManifestEntry struct {
	Slug           string `yaml:"slug"`
	Name           string `yaml:"name"`
	GridX          int    `yaml:"grid_x"`
	GridY          int    `yaml:"grid_y"`
	GridWidth      int    `yaml:"grid_width"`
	GridHeight     int    `yaml:"grid_height"`
	TmjURL         string `yaml:"tmj_url"`
	TilesetBaseURL string `yaml:"tileset_base_url"`
}

func readManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseManifest(raw)
}

func parseManifest(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Villages) == 0 {
		return nil, fmt.Errorf("manifest has no villages")
	}
	return &m, nil
}

// Metadata converts the entries, applying the manifest-wide tileset base and 1x1 defaults.
func (m *Manifest) Metadata() []model.VillageMetadata {
	out := make([]model.VillageMetadata, 0, len(m.Villages))
	for _, e := range m.Villages {
		v := model.VillageMetadata{
			Slug:           e.Slug,
			Name:           e.Name,
			GridX:          e.GridX,
			GridY:          e.GridY,
			GridWidth:      e.GridWidth,
			GridHeight:     e.GridHeight,
			TmjURL:         e.TmjURL,
			TilesetBaseURL: e.TilesetBaseURL,
		}
		if v.TilesetBaseURL == "" {
			v.TilesetBaseURL = m.TilesetBaseURL
		}
		v.GridWidth, v.GridHeight = v.Size()
		if v.Name == "" {
			v.Name = v.Slug
		}
		out = append(out, v)
	}
	return out
}

// validate rejects duplicate slugs, missing map urls, rectangles over maxCells and overlaps
// inside the manifest.
func validate(villages []model.VillageMetadata, maxCells int) error {
	slugs := make(map[string]bool)
	owner := make(map[string]string)
	for _, v := range villages {
		if v.Slug == "" || v.TmjURL == "" {
			return fmt.Errorf("village %q: slug and tmj_url are required", v.Slug)
		}
		if slugs[v.Slug] {
			return fmt.Errorf("village %q listed twice", v.Slug)
		}
		slugs[v.Slug] = true
		if w, h := v.Size(); w > maxCells || h > maxCells || w*h > maxCells {
			return fmt.Errorf("village %q is %dx%d cells, at most %d allowed", v.Slug, w, h, maxCells)
		}
		for _, c := range v.Cells() {
			k := gridpkg.GridKey(c.X, c.Y)
			if other, ok := owner[k]; ok {
				return fmt.Errorf("village %q overlaps %q at cell %s", v.Slug, other, k)
			}
			owner[k] = v.Slug
		}
	}
	return nil
}
