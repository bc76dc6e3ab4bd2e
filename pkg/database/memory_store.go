package database

import (
	"context"
	"sync"
	"time"

	"github.com/travigo/sytral-relay/pkg/ctdf"
)

// MemoryStore keeps the most recent events in process. Used when no MongoDB
// connection is configured.
type MemoryStore struct {
	mutex    sync.RWMutex
	events   []*ctdf.VehicleLocationEvent
	byID     map[string]*ctdf.VehicleLocationEvent
	capacity int
	total    int64
}

func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{
		byID:     map[string]*ctdf.VehicleLocationEvent{},
		capacity: capacity,
	}
}

func (s *MemoryStore) Save(ctx context.Context, vehicle ctdf.Vehicle) (*ctdf.VehicleLocationEvent, error) {
	event, err := newVehicleLocationEvent(vehicle, time.Now())
	if err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.events = append(s.events, event)
	s.byID[event.PrimaryIdentifier] = event
	s.total++

	if s.capacity > 0 && len(s.events) > s.capacity {
		evicted := s.events[0]
		s.events = s.events[1:]
		delete(s.byID, evicted.PrimaryIdentifier)
		s.total--
	}

	return event, nil
}

// List returns the newest events first
func (s *MemoryStore) List(ctx context.Context, limit int64) ([]*ctdf.VehicleLocationEvent, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	limit = normaliseLimit(limit)

	events := []*ctdf.VehicleLocationEvent{}
	for i := len(s.events) - 1; i >= 0 && int64(len(events)) < limit; i-- {
		events = append(events, s.events[i])
	}

	return events, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.total, nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (*ctdf.VehicleLocationEvent, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	event, exists := s.byID[id]
	if !exists {
		return nil, ErrNotFound
	}

	return event, nil
}
