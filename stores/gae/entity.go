//go:build !wasm
// +build !wasm

package gae

import (
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/datastore"

	"github.com/panyam/authkit/storage"
)

// Kind constants for Datastore entities
const (
	KindUser               = "User"
	KindPassword           = "Password"
	KindOAuthAccount       = "OAuthAccount"
	KindPasswordResetToken = "PasswordResetToken"
)

var kinds = map[string]string{
	"user":               KindUser,
	"password":           KindPassword,
	"oauthAccount":       KindOAuthAccount,
	"passwordResetToken": KindPasswordResetToken,
}

func kindOf(model string) string {
	if k, ok := kinds[model]; ok {
		return k
	}
	return model
}

// createdProperty orders records by insertion. It never appears in records.
const createdProperty = "_created"

// Datastore refuses to index strings longer than this.
const maxIndexedString = 1500

// toProperties converts rec into a property list. The id is carried by the
// key and is not stored as a property.
func toProperties(rec storage.Record, created time.Time) (datastore.PropertyList, error) {
	props := make(datastore.PropertyList, 0, len(rec)+1)
	for name, v := range rec {
		if name == "id" {
			continue
		}
		value, err := toValue(v)
		if err != nil {
			return nil, fmt.Errorf("gae: field %s: %w", name, err)
		}
		p := datastore.Property{Name: name, Value: value}
		if s, ok := value.(string); ok && len(s) > maxIndexedString {
			p.NoIndex = true
		}
		props = append(props, p)
	}
	props = append(props, datastore.Property{Name: createdProperty, Value: created})
	sort.Slice(props, func(i, j int) bool { return props[i].Name < props[j].Name })
	return props, nil
}

func toValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, bool, int64, float64, time.Time, []byte:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float32:
		return float64(x), nil
	case *time.Time:
		if x == nil {
			return nil, nil
		}
		return *x, nil
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

func fromProperties(key *datastore.Key, props datastore.PropertyList) (storage.Record, time.Time) {
	rec := storage.Record{"id": key.Name}
	var created time.Time
	for _, p := range props {
		if p.Name == createdProperty {
			created, _ = p.Value.(time.Time)
			continue
		}
		rec[p.Name] = p.Value
	}
	return rec, created
}

// filter is one pushed-down equality constraint.
type filter struct {
	field string
	value any
}

// pushdown returns the equality clauses that can be sent to Datastore.
// Any OR connector disables pushdown entirely.
func pushdown(where []storage.Where) []filter {
	for i, w := range where {
		if i > 0 && w.Conn() == storage.Or {
			return nil
		}
	}
	var out []filter
	for _, w := range where {
		if w.Op() != storage.OpEq || w.Field == "id" || w.Value == nil {
			continue
		}
		value, err := toValue(w.Value)
		if err != nil {
			continue
		}
		if _, isList := value.([]any); isList {
			continue
		}
		out = append(out, filter{field: w.Field, value: value})
	}
	return out
}

type entity struct {
	key     *datastore.Key
	record  storage.Record
	created time.Time
}

func sortByCreated(es []entity) {
	sort.SliceStable(es, func(i, j int) bool {
		if !es[i].created.Equal(es[j].created) {
			return es[i].created.Before(es[j].created)
		}
		return es[i].key.Name < es[j].key.Name
	})
}
