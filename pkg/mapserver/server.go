// Package mapserver serves the current distance map and announces new ones.
// It reloads a map file on request; generating maps is someone else's job.
package mapserver

import (
	"context"
	"os"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/boristopalov/navrl/pkg/core"
	"github.com/boristopalov/navrl/pkg/messaging"
)

// ErrNoMap is returned before any map was loaded
var ErrNoMap = errors.New("no distance map loaded")

// LoadFile reads a distance map from YAML
func LoadFile(path string) (*core.DistanceMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading map file")
	}
	var dm core.DistanceMap
	if err := yaml.Unmarshal(data, &dm); err != nil {
		return nil, errors.Wrapf(err, "parsing map file %s", path)
	}
	return &dm, nil
}

type Server struct {
	id      string
	path    string
	current *core.DistanceMap
	loads   int
	broker  messaging.Broker
	logger  golog.Logger
	mu      sync.RWMutex
}

// New loads path once and subscribes the server to map requests
func New(path string, broker messaging.Broker, logger golog.Logger) (*Server, error) {
	s := &Server{
		id:     "map-server",
		path:   path,
		broker: broker,
		logger: logger,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	if err := broker.Subscribe(s.id, messaging.RequestNewMap, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the map file
func (s *Server) Reload() error {
	dm, err := LoadFile(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = dm
	s.loads++
	return nil
}

// Loads returns how many times the map file was read
func (s *Server) Loads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loads
}

func (s *Server) GetDistanceMap(ctx context.Context) (*core.DistanceMap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, ErrNoMap
	}
	return s.current, nil
}

// HandleEvent answers a map request with both readiness signals
func (s *Server) HandleEvent(ctx context.Context, ev messaging.Event) error {
	if err := s.Reload(); err != nil {
		// leave the requester to time out on the readiness signals
		s.logger.Warnw("could not reload map", "path", s.path, "error", err)
		return nil
	}
	s.logger.Debugw("serving new map", "path", s.path, "requested_by", ev.From)

	if err := s.broker.Publish(ctx, messaging.Event{Kind: messaging.DistanceMapReady, From: s.id}); err != nil {
		return err
	}
	return s.broker.Publish(ctx, messaging.Event{Kind: messaging.OccupancyGridReady, From: s.id})
}

func (s *Server) Close() error {
	return s.broker.Unsubscribe(s.id, messaging.RequestNewMap)
}
