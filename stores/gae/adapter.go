//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	"github.com/panyam/authkit/storage"
)

// Adapter implements storage.Adapter using Google Cloud Datastore
type Adapter struct {
	client    *datastore.Client
	namespace string
	now       func() time.Time
}

// New creates a Datastore-backed adapter in namespace ("" for the default).
func New(client *datastore.Client, namespace string) *Adapter {
	return &Adapter{client: client, namespace: namespace, now: time.Now}
}

func (a *Adapter) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = a.namespace
	return key
}

// find returns every entity matching where, in insertion order.
func (a *Adapter) find(ctx context.Context, model string, where []storage.Where) ([]entity, error) {
	if err := storage.Validate(where); err != nil {
		return nil, err
	}
	kind := kindOf(model)

	if id, ok := idLookup(where); ok {
		key := a.namespacedKey(kind, id)
		var props datastore.PropertyList
		if err := a.client.Get(ctx, key, &props); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return nil, nil
			}
			return nil, fmt.Errorf("gae: get %s/%s: %w", kind, id, err)
		}
		rec, created := fromProperties(key, props)
		if !storage.Match(rec, where) {
			return nil, nil
		}
		return []entity{{key: key, record: rec, created: created}}, nil
	}

	q := datastore.NewQuery(kind).Namespace(a.namespace)
	for _, f := range pushdown(where) {
		q = q.FilterField(f.field, "=", f.value)
	}

	var out []entity
	it := a.client.Run(ctx, q)
	for {
		var props datastore.PropertyList
		key, err := it.Next(&props)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gae: query %s: %w", kind, err)
		}
		rec, created := fromProperties(key, props)
		if storage.Match(rec, where) {
			out = append(out, entity{key: key, record: rec, created: created})
		}
	}
	sortByCreated(out)
	return out, nil
}

// idLookup reports the id of an AND-only clause list that pins one.
func idLookup(where []storage.Where) (string, bool) {
	for i, w := range where {
		if i > 0 && w.Conn() == storage.Or {
			return "", false
		}
	}
	for _, w := range where {
		if w.Field == "id" && w.Op() == storage.OpEq {
			if id, ok := w.Value.(string); ok && id != "" {
				return id, true
			}
		}
	}
	return "", false
}

func (a *Adapter) FindOne(ctx context.Context, model string, where []storage.Where) (storage.Record, error) {
	found, err := a.find(ctx, model, where)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return found[0].record, nil
}

func (a *Adapter) FindMany(ctx context.Context, model string, where []storage.Where, limit, offset int) ([]storage.Record, error) {
	found, err := a.find(ctx, model, where)
	if err != nil {
		return nil, err
	}
	if offset >= len(found) {
		return nil, nil
	}
	found = found[offset:]
	if limit > 0 && limit < len(found) {
		found = found[:limit]
	}
	out := make([]storage.Record, len(found))
	for i, e := range found {
		out[i] = e.record
	}
	return out, nil
}

func (a *Adapter) Create(ctx context.Context, model string, data storage.Record) (storage.Record, error) {
	rec := data.Merge(nil)
	if rec.ID() == "" {
		rec["id"] = storage.NewID()
	}
	props, err := toProperties(rec, a.now())
	if err != nil {
		return nil, err
	}
	key := a.namespacedKey(kindOf(model), rec.ID())
	_, err = a.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing datastore.PropertyList
		err := tx.Get(key, &existing)
		if err == nil {
			return fmt.Errorf("gae: %s with id %s already exists", model, rec.ID())
		}
		if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		_, err = tx.Put(key, &props)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (a *Adapter) Update(ctx context.Context, model string, where []storage.Where, data storage.Record) (storage.Record, error) {
	found, err := a.find(ctx, model, where)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	first := found[0]
	merged := first.record.Merge(data)
	merged["id"] = first.key.Name
	props, err := toProperties(merged, first.created)
	if err != nil {
		return nil, err
	}
	if _, err := a.client.Put(ctx, first.key, &props); err != nil {
		return nil, fmt.Errorf("gae: put %s: %w", first.key, err)
	}
	return merged, nil
}

func (a *Adapter) Delete(ctx context.Context, model string, where []storage.Where) error {
	found, err := a.find(ctx, model, where)
	if err != nil || len(found) == 0 {
		return err
	}
	if err := a.client.Delete(ctx, found[0].key); err != nil {
		return fmt.Errorf("gae: delete %s: %w", found[0].key, err)
	}
	return nil
}
