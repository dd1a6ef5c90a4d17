package model

import (
	"time"
)

const (
	CellTiles = 20 // tiles per grid cell, per axis
)

// GridPoint is a grid-cell coordinate.
type GridPoint struct {
	X int `json:"gridX"`
	Y int `json:"gridY"`
}

// LocalPoint is a tile coordinate inside a village's tile map.
type LocalPoint struct {
	X int `json:"localX"`
	Y int `json:"localY"`
}

type VillageMetadata struct {
	Slug           string    `json:"slug"           binding:"required"`
	Name           string    `json:"name"`
	GridX          int       `json:"gridX"`
	GridY          int       `json:"gridY"`
	GridWidth      int       `json:"gridWidth"`
	GridHeight     int       `json:"gridHeight"`
	TmjURL         string    `json:"tmjUrl"         binding:"required"`
	TilesetBaseURL string    `json:"tilesetBaseUrl"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Size returns the occupied rectangle in cells, defaulting to 1x1.
func (v VillageMetadata) Size() (w, h int) {
	w, h = v.GridWidth, v.GridHeight
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// Cells lists every grid cell in [GridX, GridX+w) x [GridY, GridY+h).
func (v VillageMetadata) Cells() []GridPoint {
	w, h := v.Size()
	out := make([]GridPoint, 0, w*h)
	for dy := 0; dy < h; dy++ {
		for dx := 0; dx < w; dx++ {
			out = append(out, GridPoint{X: v.GridX + dx, Y: v.GridY + dy})
		}
	}
	return out
}

// Contains reports whether the grid cell lies inside the village rectangle.
func (v VillageMetadata) Contains(gx, gy int) bool {
	w, h := v.Size()
	return gx >= v.GridX && gx < v.GridX+w && gy >= v.GridY && gy < v.GridY+h
}

// AgentPlacement is a persisted agent as returned by the orchestration service.
type AgentPlacement struct {
	URL          string         `json:"url"`
	Name         string         `json:"name"`
	X            int            `json:"x"`
	Y            int            `json:"y"`
	MapName      string         `json:"mapName,omitempty"`
	MovementMode string         `json:"movementMode,omitempty"`
	Sprite       string         `json:"sprite,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

type SpawnEvent struct {
	ID            string        `json:"id"`
	AgentURL      string        `json:"agentUrl"`
	Name          string        `json:"name"`
	Sprite        string        `json:"sprite,omitempty"`
	X             int           `json:"x"`
	Y             int           `json:"y"`
	Village       string        `json:"village"`
	MovementMode  string        `json:"movementMode"`
	SpawnInterval time.Duration `json:"spawnInterval"`
	SpawnedAt     time.Time     `json:"spawnedAt"`
}
