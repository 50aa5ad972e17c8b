package backup

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/voxlog/voxsync/internal/model"
)

// memLocal is an in-memory localstore.Store + MetaStore for tests.
type memLocal struct {
	entities map[model.Kind]map[uuid.UUID]model.Entity
	meta     map[string]string
}

func newMemLocal() *memLocal {
	m := &memLocal{
		entities: make(map[model.Kind]map[uuid.UUID]model.Entity),
		meta:     make(map[string]string),
	}
	for _, kind := range model.Kinds {
		m.entities[kind] = make(map[uuid.UUID]model.Entity)
	}
	return m
}

func (m *memLocal) GetAll(_ context.Context, kind model.Kind) ([]model.Entity, error) {
	var out []model.Entity
	for _, e := range m.entities[kind] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EntityID().String() < out[j].EntityID().String()
	})
	return out, nil
}

func (m *memLocal) Get(_ context.Context, kind model.Kind, id uuid.UUID) (model.Entity, error) {
	e, ok := m.entities[kind][id]
	if !ok {
		return nil, nil
	}
	return e, nil
}

func (m *memLocal) Save(_ context.Context, e model.Entity) error {
	m.entities[e.EntityKind()][e.EntityID()] = e
	return nil
}

func (m *memLocal) Delete(_ context.Context, kind model.Kind, id uuid.UUID) error {
	delete(m.entities[kind], id)
	return nil
}

func (m *memLocal) GetMeta(_ context.Context, key string) (string, error) {
	return m.meta[key], nil
}

func (m *memLocal) SetMeta(_ context.Context, key, value string) error {
	m.meta[key] = value
	return nil
}

func (m *memLocal) count(kind model.Kind) int {
	return len(m.entities[kind])
}
