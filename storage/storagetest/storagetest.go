// Package storagetest holds conformance tests shared by storage adapters.
package storagetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/authkit/storage"
)

// RunAdapter exercises the storage.Adapter contract against a fresh adapter
// returned by newAdapter for every subtest.
func RunAdapter(t *testing.T, newAdapter func(t *testing.T) storage.Adapter) {
	ctx := context.Background()

	t.Run("CreateAssignsID", func(t *testing.T) {
		a := newAdapter(t)
		rec, err := a.Create(ctx, "user", storage.Record{"email": "a@example.com"})
		require.NoError(t, err)
		assert.NotEmpty(t, rec.ID())

		given, err := a.Create(ctx, "user", storage.Record{"id": "fixed", "email": "b@example.com"})
		require.NoError(t, err)
		assert.Equal(t, "fixed", given.ID())
	})

	t.Run("FindOneMissing", func(t *testing.T) {
		a := newAdapter(t)
		rec, err := a.FindOne(ctx, "user", []storage.Where{storage.Eq("email", "nobody@example.com")})
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("FindManyOrderLimitOffset", func(t *testing.T) {
		a := newAdapter(t)
		for _, e := range []string{"a", "b", "c", "d"} {
			_, err := a.Create(ctx, "user", storage.Record{"email": e + "@example.com", "name": "g"})
			require.NoError(t, err)
		}
		_, err := a.Create(ctx, "user", storage.Record{"email": "other@example.com", "name": "h"})
		require.NoError(t, err)

		all, err := a.FindMany(ctx, "user", []storage.Where{storage.Eq("name", "g")}, 0, 0)
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, "a@example.com", all[0].String("email"))
		assert.Equal(t, "d@example.com", all[3].String("email"))

		page, err := a.FindMany(ctx, "user", []storage.Where{storage.Eq("name", "g")}, 2, 1)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "b@example.com", page[0].String("email"))
		assert.Equal(t, "c@example.com", page[1].String("email"))
	})

	t.Run("OrConnector", func(t *testing.T) {
		a := newAdapter(t)
		_, _ = a.Create(ctx, "user", storage.Record{"email": "a@example.com"})
		_, _ = a.Create(ctx, "user", storage.Record{"email": "b@example.com"})
		_, _ = a.Create(ctx, "user", storage.Record{"email": "c@example.com"})
		got, err := a.FindMany(ctx, "user", []storage.Where{
			storage.Eq("email", "a@example.com"),
			storage.Eq("email", "c@example.com").OrWhere(),
		}, 0, 0)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("UpdateFirstMatchMerges", func(t *testing.T) {
		a := newAdapter(t)
		first, err := a.Create(ctx, "oauthAccount", storage.Record{
			"userId": "u1", "provider": "google", "providerAccountId": "g-1", "accessToken": "a1", "note": "keep",
		})
		require.NoError(t, err)
		_, err = a.Create(ctx, "oauthAccount", storage.Record{
			"userId": "u1", "provider": "github", "providerAccountId": "gh-1", "accessToken": "a2",
		})
		require.NoError(t, err)

		updated, err := a.Update(ctx, "oauthAccount", []storage.Where{storage.Eq("userId", "u1")}, storage.Record{"accessToken": "a3"})
		require.NoError(t, err)
		require.NotNil(t, updated)
		assert.Equal(t, first.ID(), updated.ID())
		assert.Equal(t, "a3", updated.String("accessToken"))

		reread, err := a.FindOne(ctx, "oauthAccount", []storage.Where{storage.Eq("id", first.ID())})
		require.NoError(t, err)
		assert.Equal(t, "a3", reread.String("accessToken"))
		assert.Equal(t, "google", reread.String("provider"), "untouched fields survive")
		assert.Equal(t, "keep", reread.String("note"), "undeclared fields survive")

		other, err := a.FindOne(ctx, "oauthAccount", []storage.Where{storage.Eq("provider", "github")})
		require.NoError(t, err)
		assert.Equal(t, "a2", other.String("accessToken"), "only the first match changes")

		none, err := a.Update(ctx, "oauthAccount", []storage.Where{storage.Eq("userId", "nobody")}, storage.Record{"accessToken": "x"})
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("DeleteFirstMatch", func(t *testing.T) {
		a := newAdapter(t)
		_, err := a.Create(ctx, "passwordResetToken", storage.Record{"token": "t1", "userId": "u1"})
		require.NoError(t, err)
		_, err = a.Create(ctx, "passwordResetToken", storage.Record{"token": "t2", "userId": "u1"})
		require.NoError(t, err)

		require.NoError(t, a.Delete(ctx, "passwordResetToken", []storage.Where{storage.Eq("userId", "u1")}))
		rest, err := a.FindMany(ctx, "passwordResetToken", nil, 0, 0)
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.Equal(t, "t2", rest[0].String("token"))

		require.NoError(t, a.Delete(ctx, "passwordResetToken", []storage.Where{storage.Eq("token", "missing")}))
	})

	t.Run("BoolAndExtraRoundTrip", func(t *testing.T) {
		a := newAdapter(t)
		rec, err := a.Create(ctx, "user", storage.Record{"email": "a@example.com", "emailVerified": true, "nickname": "al"})
		require.NoError(t, err)

		got, err := a.FindOne(ctx, "user", []storage.Where{storage.Eq("id", rec.ID())})
		require.NoError(t, err)
		assert.True(t, got.Bool("emailVerified"))
		assert.Equal(t, "al", got.String("nickname"))

		_, err = a.Update(ctx, "user", []storage.Where{storage.Eq("id", rec.ID())}, storage.Record{"emailVerified": false})
		require.NoError(t, err)
		got, err = a.FindOne(ctx, "user", []storage.Where{storage.Eq("id", rec.ID())})
		require.NoError(t, err)
		assert.False(t, got.Bool("emailVerified"))
		assert.Equal(t, "al", got.String("nickname"))
	})

	t.Run("TimeRoundTrip", func(t *testing.T) {
		a := newAdapter(t)
		at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
		rec, err := a.Create(ctx, "passwordResetToken", storage.Record{"token": "t", "expiresAt": at})
		require.NoError(t, err)
		got, err := a.FindOne(ctx, "passwordResetToken", []storage.Where{storage.Eq("id", rec.ID())})
		require.NoError(t, err)
		assert.True(t, at.Equal(got.Time("expiresAt")), "got %v", got["expiresAt"])
	})

	t.Run("ReturnedRecordsAreCopies", func(t *testing.T) {
		a := newAdapter(t)
		rec, _ := a.Create(ctx, "user", storage.Record{"email": "a@example.com"})
		rec["email"] = "mutated@example.com"
		got, _ := a.FindOne(ctx, "user", []storage.Where{storage.Eq("id", rec.ID())})
		assert.Equal(t, "a@example.com", got.String("email"))
	})
}

// RunSecondary exercises the storage.SecondaryStorage contract. advance moves
// the store's clock forward; stores backed by real time may sleep instead.
func RunSecondary(t *testing.T, newStore func(t *testing.T) (storage.SecondaryStorage, func(time.Duration))) {
	ctx := context.Background()

	t.Run("SetGetDelete", func(t *testing.T) {
		s, _ := newStore(t)
		_, found, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, found)

		require.NoError(t, s.Set(ctx, "k", "v", 0))
		v, found, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "v", v)

		require.NoError(t, s.Delete(ctx, "k"))
		_, found, err = s.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, found)

		require.NoError(t, s.Delete(ctx, "never-set"))
	})

	t.Run("TTLExpiry", func(t *testing.T) {
		s, advance := newStore(t)
		require.NoError(t, s.Set(ctx, "k", "v", 2*time.Second))
		advance(time.Second)
		_, found, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, found)

		advance(2 * time.Second)
		_, found, err = s.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("TakeConsumesOnce", func(t *testing.T) {
		s, advance := newStore(t)
		require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
		v, found, err := storage.Take(ctx, s, "k")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "v", v)

		_, found, err = storage.Take(ctx, s, "k")
		require.NoError(t, err)
		assert.False(t, found, "a taken key is gone")

		require.NoError(t, s.Set(ctx, "short", "v", time.Second))
		advance(2 * time.Second)
		_, found, err = storage.Take(ctx, s, "short")
		require.NoError(t, err)
		assert.False(t, found, "expired keys cannot be taken")
	})

	t.Run("ConcurrentTakeWinsOnce", func(t *testing.T) {
		s, _ := newStore(t)
		if _, ok := s.(storage.Taker); !ok {
			t.Skip("store has no atomic take")
		}
		require.NoError(t, s.Set(ctx, "k", "v", time.Minute))

		var wg sync.WaitGroup
		var wins atomic.Int32
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, found, err := storage.Take(ctx, s, "k"); err == nil && found {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("SetOverwritesTTL", func(t *testing.T) {
		s, advance := newStore(t)
		require.NoError(t, s.Set(ctx, "k", "v1", time.Second))
		require.NoError(t, s.Set(ctx, "k", "v2", 10*time.Second))
		advance(2 * time.Second)
		v, found, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "v2", v)
	})
}
