package memory

import (
	"context"
	"sort"
	"sync"

	"blueprints-relay/core"

	"github.com/sirupsen/logrus"
)

type blueprintStore struct {
	mu      sync.RWMutex
	records map[string]*core.BlueprintRecord
}

func NewBlueprintStore() core.BlueprintStore {
	return &blueprintStore{
		records: make(map[string]*core.BlueprintRecord),
	}
}

func (s *blueprintStore) AppendPoint(ctx context.Context, id core.BlueprintID, point core.Point) error {
	s.mu.Lock()
	record, ok := s.records[id.RoomKey()]
	if !ok {
		record = &core.BlueprintRecord{Author: id.Author, Name: id.Name}
		s.records[id.RoomKey()] = record
	}
	record.Points = append(record.Points, point)
	total := len(record.Points)
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"author":       id.Author,
		"name":         id.Name,
		"total_points": total,
	}).Debug("Point appended")
	return nil
}

func (s *blueprintStore) Find(ctx context.Context, id core.BlueprintID) (*core.BlueprintRecord, error) {
	s.mu.RLock()
	record, ok := s.records[id.RoomKey()]
	if !ok {
		s.mu.RUnlock()
		logrus.WithFields(logrus.Fields{
			"author": id.Author,
			"name":   id.Name,
		}).Debug("Blueprint not found")
		return nil, core.ErrBlueprintNotFound
	}

	// Copy so callers never observe later appends.
	points := make([]core.Point, len(record.Points))
	copy(points, record.Points)
	s.mu.RUnlock()

	return &core.BlueprintRecord{Author: id.Author, Name: id.Name, Points: points}, nil
}

func (s *blueprintStore) List(ctx context.Context) ([]core.BlueprintID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]core.BlueprintID, 0, len(s.records))
	for _, record := range s.records {
		ids = append(ids, core.BlueprintID{Author: record.Author, Name: record.Name})
	}

	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Author == ids[j].Author {
			return ids[i].Name < ids[j].Name
		}
		return ids[i].Author < ids[j].Author
	})

	return ids, nil
}
