package world

import (
	"sync"
	"time"

	"github.com/boristopalov/navrl/pkg/core"
)

// WorldMap is the navigable world derived from a distance map
type WorldMap struct {
	Width      int
	Height     int
	Resolution float64
	OriginX    float64
	OriginY    float64
	occupied   []bool
}

// FromDistanceMap builds a world map; cells with distance <= 0 are occupied
func FromDistanceMap(dm *core.DistanceMap) *WorldMap {
	w := &WorldMap{
		Width:      dm.Width,
		Height:     dm.Height,
		Resolution: dm.Resolution,
		OriginX:    dm.OriginX,
		OriginY:    dm.OriginY,
		occupied:   make([]bool, len(dm.Data)),
	}
	for i, d := range dm.Data {
		w.occupied[i] = d <= 0
	}
	return w
}

// Occupied reports whether cell (x, y) is blocked. Out of bounds counts as blocked.
func (w *WorldMap) Occupied(x, y int) bool {
	if x < 0 || y < 0 || x >= w.Width || y >= w.Height {
		return true
	}
	return w.occupied[y*w.Width+x]
}

// OccupiedCells returns the number of blocked cells
func (w *WorldMap) OccupiedCells() int {
	n := 0
	for _, o := range w.occupied {
		if o {
			n++
		}
	}
	return n
}

// CellToWorld returns the center of cell (x, y) in map coordinates
func (w *WorldMap) CellToWorld(x, y int) (float64, float64) {
	return w.OriginX + (float64(x)+0.5)*w.Resolution,
		w.OriginY + (float64(y)+0.5)*w.Resolution
}

type State struct {
	Generation int
	UpdatedAt  time.Time
}

// Manager owns the current world map
type Manager struct {
	world *WorldMap
	state State
	mu    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		state: State{
			Generation: 0,
			UpdatedAt:  time.Now(),
		},
	}
}

// UpdateWorld replaces the world and bumps the generation
func (m *Manager) UpdateWorld(w *WorldMap) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.world = w
	m.state.Generation++
	m.state.UpdatedAt = time.Now()
}

// World returns the current map, nil before the first update
func (m *Manager) World() *WorldMap {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.world
}

func (m *Manager) GetState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}
