// Package usermap resolves an AccuRev username to a git identity,
// grounded in original_source/remap_notes.py's remap table semantics.
package usermap

import (
	"fmt"
	"time"

	"github.com/NavicoOS/ac2git/internal/config"
	"github.com/NavicoOS/ac2git/internal/targetvcs"
)

// Resolver maps source usernames to git signatures for one depot.
type Resolver struct {
	depot string
	table map[string]config.UserMapping
}

func NewResolver(depot string, table map[string]config.UserMapping) *Resolver {
	return &Resolver{depot: depot, table: table}
}

// Resolve returns a signature for username at the given timestamp.
// found is false when no mapping exists and the synthetic fallback
// address was used; callers should log a warning in that case.
func (r *Resolver) Resolve(username string, at time.Time) (sig targetvcs.Signature, found bool) {
	if m, ok := r.table[username]; ok {
		return targetvcs.Signature{Name: m.Name, Email: m.Email, When: withZone(at, m.Timezone)}, true
	}
	return targetvcs.Signature{
		Name:  username,
		Email: fmt.Sprintf("%s@%s.accurev.invalid", username, r.depot),
		When:  at,
	}, false
}

func withZone(t time.Time, tz string) time.Time {
	if tz == "" {
		return t
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return t
	}
	return t.In(loc)
}
