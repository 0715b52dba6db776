// Package memory provides in-process implementations of storage.Adapter and
// storage.SecondaryStorage, suitable for tests and single-process development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/panyam/authkit/storage"
)

// Adapter keeps every model as an insertion-ordered slice of records.
// Records are copied on the way in and out so callers never alias store state.
type Adapter struct {
	mu     sync.RWMutex
	models map[string][]storage.Record
}

func New() *Adapter {
	return &Adapter{models: make(map[string][]storage.Record)}
}

func (a *Adapter) FindOne(ctx context.Context, model string, where []storage.Where) (storage.Record, error) {
	if err := storage.Validate(where); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, r := range a.models[model] {
		if storage.Match(r, where) {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

func (a *Adapter) FindMany(ctx context.Context, model string, where []storage.Where, limit, offset int) ([]storage.Record, error) {
	if err := storage.Validate(where); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []storage.Record
	skipped := 0
	for _, r := range a.models[model] {
		if !storage.Match(r, where) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, r.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (a *Adapter) Create(ctx context.Context, model string, data storage.Record) (storage.Record, error) {
	rec := data.Clone()
	if rec == nil {
		rec = storage.Record{}
	}
	if rec.ID() == "" {
		rec["id"] = storage.NewID()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.models[model] {
		if r.ID() == rec.ID() {
			return nil, fmt.Errorf("memory: %s with id %s already exists", model, rec.ID())
		}
	}
	a.models[model] = append(a.models[model], rec)
	return rec.Clone(), nil
}

func (a *Adapter) Update(ctx context.Context, model string, where []storage.Where, data storage.Record) (storage.Record, error) {
	if err := storage.Validate(where); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	records := a.models[model]
	for i, r := range records {
		if storage.Match(r, where) {
			records[i] = r.Merge(data)
			return records[i].Clone(), nil
		}
	}
	return nil, nil
}

func (a *Adapter) Delete(ctx context.Context, model string, where []storage.Where) error {
	if err := storage.Validate(where); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	records := a.models[model]
	for i, r := range records {
		if storage.Match(r, where) {
			a.models[model] = append(records[:i:i], records[i+1:]...)
			return nil
		}
	}
	return nil
}

// Count returns the number of stored records for model.
func (a *Adapter) Count(model string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.models[model])
}
