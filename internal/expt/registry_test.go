package expt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rrfs-ci/autoci/internal/logscan"
)

var (
	complete = logscan.Classification{Kind: logscan.Complete, Line: "This cycle is complete"}
	failed   = logscan.Classification{Kind: logscan.Failed, Line: "task FAILED"}
	pending  = logscan.Classification{Kind: logscan.Pending}
)

// checkInvariants asserts completed ∩ failed = ∅ and completed ∪ failed ⊆ seen.
func checkInvariants(t *testing.T, r *Registry) {
	t.Helper()
	for name := range r.completed {
		_, inFailed := r.failed[name]
		assert.False(t, inFailed, "%s is both completed and failed", name)
		_, inSeen := r.seen[name]
		assert.True(t, inSeen, "completed %s not in seen set", name)
	}
	for name := range r.failed {
		_, inSeen := r.seen[name]
		assert.True(t, inSeen, "failed %s not in seen set", name)
	}
}

func TestRegistry_Observe(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.HasSeenAny())
	assert.False(t, r.AllTerminal(), "empty registry must not count as done")

	added := r.Observe([]string{"b", "a"})
	assert.Equal(t, []string{"b", "a"}, added)
	assert.True(t, r.HasSeenAny())

	added = r.Observe([]string{"a", "c"})
	assert.Equal(t, []string{"c"}, added)
	assert.Equal(t, []string{"a", "b", "c"}, r.AllSeen())
	assert.Equal(t, []string{"a", "b", "c"}, r.Pending())

	// An experiment missing from a later listing stays where it was.
	r.Observe(nil)
	assert.Equal(t, []string{"a", "b", "c"}, r.AllSeen())
	checkInvariants(t, r)
}

func TestRegistry_MarkTerminalIsIdempotent(t *testing.T) {
	tests := []struct {
		name   string
		first  logscan.Classification
		second logscan.Classification
		want   State
	}{
		{"complete then complete", complete, complete, StateCompleted},
		{"complete then failed", complete, failed, StateCompleted},
		{"failed then complete", failed, complete, StateFailed},
		{"failed then failed", failed, failed, StateFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			r.Observe([]string{"exp"})

			require.True(t, r.MarkTerminal("exp", tt.first))
			assert.False(t, r.MarkTerminal("exp", tt.second))

			got, ok := r.Get("exp")
			require.True(t, ok)
			assert.Equal(t, tt.want, got.State)
			assert.Equal(t, tt.first.Line, got.LastLine)

			c, f, total := r.Summary()
			assert.Equal(t, 1, c+f)
			assert.Equal(t, 1, total)
			checkInvariants(t, r)
		})
	}
}

func TestRegistry_MarkTerminalPendingIsIgnored(t *testing.T) {
	r := NewRegistry()
	r.Observe([]string{"exp"})

	assert.False(t, r.MarkTerminal("exp", pending))
	assert.False(t, r.IsTerminal("exp"))
	assert.False(t, r.MarkTerminal("unseen", pending))
	assert.Equal(t, []string{"exp"}, r.AllSeen())
}

func TestRegistry_MarkTerminalUnseenAddsToSeen(t *testing.T) {
	r := NewRegistry()

	require.True(t, r.MarkTerminal("late", failed))
	assert.Equal(t, []string{"late"}, r.AllSeen())
	assert.True(t, r.AllTerminal())
	checkInvariants(t, r)
}

func TestRegistry_AllTerminal(t *testing.T) {
	r := NewRegistry()
	r.Observe([]string{"a", "b"})

	r.MarkTerminal("a", complete)
	assert.False(t, r.AllTerminal())
	assert.Equal(t, []string{"b"}, r.Pending())

	r.MarkTerminal("b", failed)
	assert.True(t, r.AllTerminal())
	assert.Empty(t, r.Pending())

	c, f, total := r.Summary()
	assert.Equal(t, 1, c)
	assert.Equal(t, 1, f)
	assert.Equal(t, 2, total)

	r.Observe([]string{"c"})
	assert.False(t, r.AllTerminal())
	checkInvariants(t, r)
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry()
	got, ok := r.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, StateUnknown, got.State)
	assert.False(t, r.IsTerminal("missing"))
}

func TestRegistry_Experiments(t *testing.T) {
	r := NewRegistry()
	r.Observe([]string{"z", "a"})
	r.MarkTerminal("z", complete)

	assert.Equal(t, []Experiment{
		{Name: "a", State: StatePending},
		{Name: "z", State: StateCompleted, LastLine: "This cycle is complete"},
	}, r.Experiments())
}

func TestState(t *testing.T) {
	for _, s := range []State{StatePending, StateCompleted, StateFailed, StateUnknown} {
		text, err := s.MarshalText()
		require.NoError(t, err)

		var got State
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, s, got)
	}

	var s State
	assert.Error(t, s.UnmarshalText([]byte("bogus")))
	assert.True(t, StateCompleted.Terminal())
	assert.False(t, StatePending.Terminal())
}
