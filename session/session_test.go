package session_test

import (
	"context"
	"testing"

	"github.com/alexedwards/scs/v2"
	"github.com/alexedwards/scs/v2/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/authkit/session"
)

type sessionLike interface {
	Get(key string) any
	Set(key string, value any)
	Flash(key string, value any)
	RegenerateID(preserveData bool) error
	Destroy() error
}

func newSCS(t *testing.T) (*session.SCS, *scs.SessionManager) {
	t.Helper()
	mgr := scs.New()
	mgr.Store = memstore.New()
	ctx, err := mgr.Load(context.Background(), "")
	require.NoError(t, err)
	return session.NewSCS(mgr, ctx), mgr
}

func implementations(t *testing.T) map[string]func() sessionLike {
	return map[string]func() sessionLike{
		"memory": func() sessionLike { return session.NewMemory() },
		"scs": func() sessionLike {
			s, _ := newSCS(t)
			return s
		},
	}
}

func TestSessionContract(t *testing.T) {
	for name, mk := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("set and get", func(t *testing.T) {
				s := mk()
				assert.Nil(t, s.Get("missing"))
				s.Set("user", "u1")
				assert.Equal(t, "u1", s.Get("user"))
				assert.Equal(t, "u1", s.Get("user"), "plain values persist")
			})

			t.Run("flash is read once", func(t *testing.T) {
				s := mk()
				s.Flash("msg", "hello")
				assert.Equal(t, "hello", s.Get("msg"))
				assert.Nil(t, s.Get("msg"))
			})

			t.Run("set clears flash marker", func(t *testing.T) {
				s := mk()
				s.Flash("k", "a")
				s.Set("k", "b")
				assert.Equal(t, "b", s.Get("k"))
				assert.Equal(t, "b", s.Get("k"))
			})

			t.Run("regenerate preserving data", func(t *testing.T) {
				s := mk()
				s.Set("user", "u1")
				require.NoError(t, s.RegenerateID(true))
				assert.Equal(t, "u1", s.Get("user"))
			})

			t.Run("regenerate dropping data", func(t *testing.T) {
				s := mk()
				s.Set("user", "u1")
				require.NoError(t, s.RegenerateID(false))
				assert.Nil(t, s.Get("user"))
			})

			t.Run("destroy", func(t *testing.T) {
				s := mk()
				s.Set("user", "u1")
				require.NoError(t, s.Destroy())
				assert.Nil(t, s.Get("user"))
			})
		})
	}
}

func TestMemoryRegenerateChangesID(t *testing.T) {
	m := session.NewMemory()
	before := m.ID()
	require.NoError(t, m.RegenerateID(true))
	assert.NotEqual(t, before, m.ID())
	assert.Equal(t, 1, m.Regenerations)

	require.NoError(t, m.Destroy())
	assert.True(t, m.Destroyed())
}

func TestSCSRenewsToken(t *testing.T) {
	s, mgr := newSCS(t)
	s.Set("user", "u1")
	token, _, err := mgr.Commit(s.Ctx)
	require.NoError(t, err)

	require.NoError(t, s.RegenerateID(true))
	renewed, _, err := mgr.Commit(s.Ctx)
	require.NoError(t, err)
	assert.NotEqual(t, token, renewed)
	assert.Equal(t, "u1", mgr.GetString(s.Ctx, "user"))
}
