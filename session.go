package authkit

import (
	"encoding/gob"
	"net/http"
)

// Session is the per-request session collaborator. Implementations live in
// the session package.
type Session interface {
	Get(key string) any
	Set(key string, value any)

	// Flash stores value so that only the next Get of key returns it.
	Flash(key string, value any)

	RegenerateID(preserveData bool) error
	Destroy() error
}

// SessionFunc resolves the session for a request.
type SessionFunc func(w http.ResponseWriter, r *http.Request) Session

// FlashKey is the session key carrying the pending flash.
const FlashKey = "authkit:flash"

// Flash types
const (
	FlashSuccess = "success"
	FlashError   = "error"
)

// Flash is a one-shot outcome record left for the next page view.
type Flash struct {
	Feature string `json:"feature"`
	Route   string `json:"route"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// FlashFilter selects a flash by feature and route. Empty fields match anything.
type FlashFilter struct {
	Feature string
	Route   string
}

func init() {
	// Session stores that gob-encode values (scs) need the concrete type.
	gob.Register(Flash{})
}

func (f *FlashFilter) matches(fl Flash) bool {
	if f == nil {
		return true
	}
	return (f.Feature == "" || f.Feature == fl.Feature) && (f.Route == "" || f.Route == fl.Route)
}

// GetFlash reads the pending flash once. A flash that does not match filter
// is left in place for a later reader.
func GetFlash(sess Session, filter *FlashFilter) *Flash {
	if sess == nil {
		return nil
	}
	var fl Flash
	switch v := sess.Get(FlashKey).(type) {
	case Flash:
		fl = v
	case *Flash:
		if v == nil {
			return nil
		}
		fl = *v
	default:
		return nil
	}
	if !filter.matches(fl) {
		sess.Flash(FlashKey, fl)
		return nil
	}
	return &fl
}

func setFlash(sess Session, fl Flash) {
	if sess != nil {
		sess.Flash(FlashKey, fl)
	}
}
