package gridpkg

import (
	"strconv"

	"hamlet/api/model"
)

// floorDiv rounds toward negative infinity; Go's / truncates toward zero.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// WorldToGrid returns the grid cell containing a world tile coordinate.
func WorldToGrid(worldX, worldY int) model.GridPoint {
	return model.GridPoint{
		X: floorDiv(worldX, model.CellTiles),
		Y: floorDiv(worldY, model.CellTiles),
	}
}

// WorldToLocalInVillage converts a world coordinate into the tile map of the village whose
// top-left cell is (villageGridX, villageGridY).
func WorldToLocalInVillage(worldX, worldY, villageGridX, villageGridY int) model.LocalPoint {
	return model.LocalPoint{
		X: worldX - villageGridX*model.CellTiles,
		Y: worldY - villageGridY*model.CellTiles,
	}
}

// LocalToWorld is the inverse of WorldToLocalInVillage.
func LocalToWorld(localX, localY, villageGridX, villageGridY int) (int, int) {
	return localX + villageGridX*model.CellTiles, localY + villageGridY*model.CellTiles
}

// GridKey is the canonical "x,y" key used by every grid and collision index.
func GridKey(x, y int) string {
	b := make([]byte, 0, 24)
	b = strconv.AppendInt(b, int64(x), 10)
	b = append(b, ',')
	b = strconv.AppendInt(b, int64(y), 10)
	return string(b)
}

// NeighborCells returns the 3x3 neighbourhood centred on (gx, gy), centre first.
func NeighborCells(gx, gy int) []model.GridPoint {
	out := make([]model.GridPoint, 0, 9)
	out = append(out, model.GridPoint{X: gx, Y: gy})
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			out = append(out, model.GridPoint{X: gx + dx, Y: gy + dy})
		}
	}
	return out
}
