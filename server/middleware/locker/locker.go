// Package locker provides an HTTP middleware which allows a handler to be
// locked, returning 423 (locked) to every protected route
package locker

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/nasa-jpl/magnetlab/generichttp"
)

// Inject adds GET and POST /lock routes to an HTTPer
func Inject(other generichttp.HTTPer, l *Locker) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
}

// Locker is a flag that behaves like a sync.Mutex without the blocking,
// and holds a list of path fragments it does not protect
type Locker struct {
	locked atomic.Bool

	// DoNotProtect is a list of path fragments the lock does not apply to
	DoNotProtect []string
}

// New returns a new Locker which does not protect /lock, /metrics, or
// /endpoints, nor any GET request
func New() *Locker {
	return &Locker{DoNotProtect: []string{"lock", "metrics", "endpoints"}}
}

// Lock the locker
func (l *Locker) Lock() { l.locked.Store(true) }

// Unlock the locker
func (l *Locker) Unlock() { l.locked.Store(false) }

// Locked returns true if the locker is locked
func (l *Locker) Locked() bool { return l.locked.Load() }

// Check is an HTTP middleware that returns http.StatusLocked to state
// changing requests while Locked() is true
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Locked() && r.Method != http.MethodGet && l.protects(r.URL.Path) {
			http.Error(w, "locked", http.StatusLocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *Locker) protects(path string) bool {
	for _, str := range l.DoNotProtect {
		if strings.Contains(path, str) {
			return false
		}
	}
	return true
}

// HTTPSet calls Lock or Unlock based on json:bool on the request body
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	b := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.Bool {
		l.Lock()
	} else {
		l.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet returns Locked() over HTTP as JSON
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	hp := generichttp.HumanPayload{T: types.Bool, Bool: l.Locked()}
	hp.EncodeAndRespond(w, r)
}
