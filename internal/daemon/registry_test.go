package daemon

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterLookupUnregister(t *testing.T) {
	r := NewRegistry()

	id := r.Register(&Session{Remote: "127.0.0.1:5000", ConnectedAt: time.Now()})
	assert.True(t, strings.HasPrefix(id, "sess_"))
	assert.Equal(t, 1, r.Count())

	s, ok := r.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:5000", s.Remote)

	assert.True(t, r.Unregister(id), "registry should report empty")
	_, ok = r.Lookup(id)
	assert.False(t, ok)
}

func TestRegistry_UnregisterReportsNonEmpty(t *testing.T) {
	r := NewRegistry()
	a := r.Register(&Session{ConnectedAt: time.Now()})
	r.Register(&Session{ConnectedAt: time.Now()})

	assert.False(t, r.Unregister(a))
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_KeepsGivenID(t *testing.T) {
	r := NewRegistry()
	id := r.Register(&Session{ID: "sess_fixed"})
	assert.Equal(t, "sess_fixed", id)
}

func TestRegistry_ListOrderedByConnectTime(t *testing.T) {
	r := NewRegistry()
	base := time.Now()
	r.Register(&Session{ID: "late", ConnectedAt: base.Add(2 * time.Second)})
	r.Register(&Session{ID: "early", ConnectedAt: base})
	r.Register(&Session{ID: "mid", ConnectedAt: base.Add(time.Second)})

	var ids []string
	for _, s := range r.List() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"early", "mid", "late"}, ids)
}

func TestNewSessionID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := newSessionID()
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
