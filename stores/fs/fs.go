// Package fs stores auth models as JSON files on local disk.
//
// Each model lives in <dir>/<model>.json as an array of records in insertion
// order. Every mutation rewrites the file atomically. The adapter serializes
// access within one process only; do not point two processes at one directory.
package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/panyam/authkit/storage"
)

var modelName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

type Adapter struct {
	StoragePath string

	mu sync.Mutex
}

// New returns an adapter rooted at storagePath, creating the directory.
func New(storagePath string) (*Adapter, error) {
	if err := os.MkdirAll(storagePath, 0755); err != nil {
		return nil, fmt.Errorf("fs: create %s: %w", storagePath, err)
	}
	return &Adapter{StoragePath: storagePath}, nil
}

func (a *Adapter) path(model string) (string, error) {
	if !modelName.MatchString(model) {
		return "", fmt.Errorf("fs: invalid model name %q", model)
	}
	return filepath.Join(a.StoragePath, model+".json"), nil
}

func (a *Adapter) load(model string) ([]storage.Record, error) {
	path, err := a.path(model)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var records []storage.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("fs: decode %s: %w", path, err)
	}
	return records, nil
}

func (a *Adapter) save(model string, records []storage.Record) error {
	path, err := a.path(model)
	if err != nil {
		return err
	}
	if records == nil {
		records = []storage.Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(path, data)
}

func (a *Adapter) FindOne(ctx context.Context, model string, where []storage.Where) (storage.Record, error) {
	found, err := a.FindMany(ctx, model, where, 1, 0)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return found[0], nil
}

func (a *Adapter) FindMany(ctx context.Context, model string, where []storage.Where, limit, offset int) ([]storage.Record, error) {
	if err := storage.Validate(where); err != nil {
		return nil, err
	}
	a.mu.Lock()
	records, err := a.load(model)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var out []storage.Record
	for _, r := range records {
		if !storage.Match(r, where) {
			continue
		}
		if offset > 0 {
			offset--
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (a *Adapter) Create(ctx context.Context, model string, data storage.Record) (storage.Record, error) {
	rec := data.Merge(nil)
	if rec.ID() == "" {
		rec["id"] = storage.NewID()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	records, err := a.load(model)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.ID() == rec.ID() {
			return nil, fmt.Errorf("fs: %s with id %s already exists", model, rec.ID())
		}
	}
	if err := a.save(model, append(records, rec)); err != nil {
		return nil, err
	}
	return roundTrip(rec)
}

func (a *Adapter) Update(ctx context.Context, model string, where []storage.Where, data storage.Record) (storage.Record, error) {
	if err := storage.Validate(where); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	records, err := a.load(model)
	if err != nil {
		return nil, err
	}
	for i, r := range records {
		if storage.Match(r, where) {
			records[i] = r.Merge(data)
			if err := a.save(model, records); err != nil {
				return nil, err
			}
			return roundTrip(records[i])
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
	records, err := a.load(model)
	if err != nil {
		return err
	}
	for i, r := range records {
		if storage.Match(r, where) {
			return a.save(model, append(records[:i:i], records[i+1:]...))
		}
	}
	return nil
}

// roundTrip returns rec as it will read back from disk, so callers see the
// same value types from Create and Update as from FindOne.
func roundTrip(rec storage.Record) (storage.Record, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var out storage.Record
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
