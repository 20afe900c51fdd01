package world

import (
	"fmt"
	"sync"
)

// ObstacleLayer groups obstacles by origin so a refresh can purge one group
type ObstacleLayer int

const (
	LayerWorld ObstacleLayer = iota // derived from the map
	LayerStatic
	LayerDynamic
)

func (l ObstacleLayer) String() string {
	switch l {
	case LayerWorld:
		return "world"
	case LayerStatic:
		return "static"
	case LayerDynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

type Obstacle struct {
	Name string
	X, Y float64
	Size float64
}

// ObstacleManager tracks spawned obstacles per layer
type ObstacleManager struct {
	layers map[ObstacleLayer][]Obstacle
	mu     sync.RWMutex
}

func NewObstacleManager() *ObstacleManager {
	return &ObstacleManager{
		layers: make(map[ObstacleLayer][]Obstacle),
	}
}

// Reset removes every obstacle of the purged layer; other layers are untouched
func (m *ObstacleManager) Reset(purge ObstacleLayer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.layers, purge)
}

func (m *ObstacleManager) Spawn(layer ObstacleLayer, o Obstacle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.layers[layer] = append(m.layers[layer], o)
}

// SpawnWorldObstacles adds one world-layer obstacle per occupied cell
func (m *ObstacleManager) SpawnWorldObstacles(w *WorldMap) {
	if w == nil {
		return
	}

	spawned := make([]Obstacle, 0, w.OccupiedCells())
	for y := 0; y < w.Height; y++ {
		for x := 0; x < w.Width; x++ {
			if !w.Occupied(x, y) {
				continue
			}
			cx, cy := w.CellToWorld(x, y)
			spawned = append(spawned, Obstacle{
				Name: fmt.Sprintf("wall_%d_%d", x, y),
				X:    cx,
				Y:    cy,
				Size: w.Resolution,
			})
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.layers[LayerWorld] = append(m.layers[LayerWorld], spawned...)
}

// Obstacles returns a copy of one layer
func (m *ObstacleManager) Obstacles(layer ObstacleLayer) []Obstacle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obstacles := make([]Obstacle, len(m.layers[layer]))
	copy(obstacles, m.layers[layer])
	return obstacles
}
