package gridpkg

import (
	"testing"

	"hamlet/api/model"
)

func TestWorldToGrid(t *testing.T) {
	cases := []struct {
		x, y   int
		gx, gy int
	}{
		{10, 5, 0, 0},
		{0, 0, 0, 0},
		{19, 19, 0, 0},
		{20, 0, 1, 0},
		{-1, -1, -1, -1},
		{-20, -20, -1, -1},
		{-21, 39, -2, 1},
		{-40, 40, -2, 2},
	}
	for _, c := range cases {
		got := WorldToGrid(c.x, c.y)
		if got.X != c.gx || got.Y != c.gy {
			t.Errorf("WorldToGrid(%d,%d) = %+v, want (%d,%d)", c.x, c.y, got, c.gx, c.gy)
		}
	}
}

func TestCoordinateRoundTrip(t *testing.T) {
	origins := []model.VillageMetadata{
		{Slug: "a", GridX: 0, GridY: 0, GridWidth: 1, GridHeight: 1},
		{Slug: "b", GridX: -1, GridY: 1, GridWidth: 2, GridHeight: 1},
		{Slug: "c", GridX: -3, GridY: -2, GridWidth: 2, GridHeight: 3},
	}
	for _, v := range origins {
		w, h := v.Size()
		minX, minY := v.GridX*model.CellTiles, v.GridY*model.CellTiles
		for x := minX; x < minX+w*model.CellTiles; x++ {
			for y := minY; y < minY+h*model.CellTiles; y++ {
				cell := WorldToGrid(x, y)
				if !v.Contains(cell.X, cell.Y) {
					t.Fatalf("village %s: world (%d,%d) -> cell %+v outside village", v.Slug, x, y, cell)
				}
				local := WorldToLocalInVillage(x, y, v.GridX, v.GridY)
				if local.X < 0 || local.Y < 0 || local.X >= w*model.CellTiles || local.Y >= h*model.CellTiles {
					t.Fatalf("village %s: local %+v out of map bounds", v.Slug, local)
				}
				bx, by := LocalToWorld(local.X, local.Y, v.GridX, v.GridY)
				if bx != x || by != y {
					t.Fatalf("village %s: round trip (%d,%d) -> %+v -> (%d,%d)", v.Slug, x, y, local, bx, by)
				}
			}
		}
	}
}

func TestGridKeyDistinct(t *testing.T) {
	seen := make(map[string][2]int)
	for x := -12; x <= 12; x++ {
		for y := -12; y <= 12; y++ {
			k := GridKey(x, y)
			if prev, ok := seen[k]; ok {
				t.Fatalf("key %q shared by %v and (%d,%d)", k, prev, x, y)
			}
			seen[k] = [2]int{x, y}
		}
	}
	if GridKey(-1, 1) != "-1,1" {
		t.Fatalf("unexpected key format %q", GridKey(-1, 1))
	}
}

func TestNeighborCells(t *testing.T) {
	cells := NeighborCells(-1, 2)
	if len(cells) != 9 {
		t.Fatalf("want 9 cells, got %d", len(cells))
	}
	if cells[0] != (model.GridPoint{X: -1, Y: 2}) {
		t.Fatalf("centre should come first, got %+v", cells[0])
	}
	uniq := make(map[model.GridPoint]bool)
	for _, c := range cells {
		uniq[c] = true
	}
	if len(uniq) != 9 {
		t.Fatalf("duplicate neighbour cells: %v", cells)
	}
}
