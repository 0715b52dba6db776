package session

import (
	"context"

	"github.com/alexedwards/scs/v2"
)

const flashMarkerPrefix = "__flash:"

// SCS adapts a request-scoped scs session. The context must come from a
// request that passed through Manager.LoadAndSave (or from Manager.Load).
//
// Values are gob-encoded when scs commits, so custom types must be
// registered with gob.Register.
type SCS struct {
	Manager *scs.SessionManager
	Ctx     context.Context
}

func NewSCS(manager *scs.SessionManager, ctx context.Context) *SCS {
	return &SCS{Manager: manager, Ctx: ctx}
}

func (s *SCS) Get(key string) any {
	v := s.Manager.Get(s.Ctx, key)
	if s.Manager.Exists(s.Ctx, flashMarkerPrefix+key) {
		s.Manager.Remove(s.Ctx, key)
		s.Manager.Remove(s.Ctx, flashMarkerPrefix+key)
	}
	return v
}

func (s *SCS) Set(key string, value any) {
	s.Manager.Put(s.Ctx, key, value)
	s.Manager.Remove(s.Ctx, flashMarkerPrefix+key)
}

func (s *SCS) Flash(key string, value any) {
	s.Manager.Put(s.Ctx, key, value)
	s.Manager.Put(s.Ctx, flashMarkerPrefix+key, true)
}

// RegenerateID issues a new session token. Without preserveData the
// session is emptied first.
func (s *SCS) RegenerateID(preserveData bool) error {
	if !preserveData {
		if err := s.Manager.Clear(s.Ctx); err != nil {
			return err
		}
	}
	return s.Manager.RenewToken(s.Ctx)
}

func (s *SCS) Destroy() error {
	return s.Manager.Destroy(s.Ctx)
}
