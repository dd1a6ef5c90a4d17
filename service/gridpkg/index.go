package gridpkg

import (
	"sync"

	"hamlet/api/model"
)

// Index maps grid cells to village slugs. Update only ever adds or overwrites entries;
// entries disappear through Remove.
type Index struct {
	mu    sync.RWMutex
	cells map[string]string
}

func NewIndex() *Index {
	return &Index{cells: make(map[string]string)}
}

// Update writes an entry for every cell of every village.
func (idx *Index) Update(villages []model.VillageMetadata) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, v := range villages {
		for _, c := range v.Cells() {
			idx.cells[GridKey(c.X, c.Y)] = v.Slug
		}
	}
}

func (idx *Index) Lookup(gx, gy int) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	slug, ok := idx.cells[GridKey(gx, gy)]
	return slug, ok
}

// Remove drops every cell currently mapped to slug.
func (idx *Index) Remove(slug string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for k, s := range idx.cells {
		if s == slug {
			delete(idx.cells, k)
		}
	}
}

func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.cells)
}
