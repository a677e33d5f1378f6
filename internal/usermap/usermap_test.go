package usermap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NavicoOS/ac2git/internal/config"
)

func TestResolve_KnownUserUsesMapping(t *testing.T) {
	r := NewResolver("myDepot", map[string]config.UserMapping{
		"jdoe": {Name: "Jane Doe", Email: "jane@example.com"},
	})
	sig, found := r.Resolve("jdoe", time.Unix(0, 0).UTC())
	require.True(t, found)
	require.Equal(t, "Jane Doe", sig.Name)
	require.Equal(t, "jane@example.com", sig.Email)
}

func TestResolve_UnknownUserFallsBack(t *testing.T) {
	r := NewResolver("myDepot", nil)
	sig, found := r.Resolve("ghost", time.Unix(0, 0).UTC())
	require.False(t, found)
	require.Equal(t, "ghost", sig.Name)
	require.Equal(t, "ghost@myDepot.accurev.invalid", sig.Email)
}

func TestResolve_BadTimezoneFallsBackToOriginalTime(t *testing.T) {
	r := NewResolver("myDepot", map[string]config.UserMapping{
		"jdoe": {Name: "Jane Doe", Email: "jane@example.com", Timezone: "Not/AZone"},
	})
	at := time.Unix(1000, 0).UTC()
	sig, _ := r.Resolve("jdoe", at)
	require.Equal(t, at, sig.When)
}
