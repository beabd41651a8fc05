package domain

import (
	"encoding/json"
	"testing"
	"testing/quick"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_DoesNotMutateOriginal(t *testing.T) {
	original := NewDecisions[string]()
	first := Merge(original, SlotMain, "GPT")
	second := Merge(first, SlotMain, "Claude")

	assert.Equal(t, 0, original.Len())

	v, ok := first.Get(SlotMain)
	require.True(t, ok)
	assert.Equal(t, "GPT", v, "earlier snapshot must keep its value")

	v, ok = second.Get(SlotMain)
	require.True(t, ok)
	assert.Equal(t, "Claude", v, "last write wins")
}

func TestMerge_ZeroValue(t *testing.T) {
	var zero ResultMap
	got := Merge(zero, "row-1", ComparisonResult{RowID: "row-1", WinnerID: WinnerTie, Confidence: 3})

	assert.Equal(t, 1, got.Len())
	assert.Equal(t, 0, zero.Len())
}

func TestWithout(t *testing.T) {
	m := Merge(Merge(NewDecisions[int](), "a", 1), "b", 2)
	removed := Without(m, "a")

	assert.Equal(t, []string{"a", "b"}, m.Keys())
	assert.Equal(t, []string{"b"}, removed.Keys())
	assert.Equal(t, m, Without(m, "missing"), "removing an absent key returns the same map")
}

func TestSnapshot_IsDetached(t *testing.T) {
	m := Merge(NewDecisions[string](), "alt_0", "Gemini")
	snap := m.Snapshot()
	snap["alt_0"] = "changed"

	v, _ := m.Get("alt_0")
	assert.Equal(t, "Gemini", v)
}

func TestDecisions_JSON(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	m := Merge(NewDecisions[ComparisonResult](), "r1", ComparisonResult{
		RowID: "r1", WinnerID: SlotMain, WinnerLabel: "Model A", Confidence: 4, Timestamp: ts,
	})

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"r1":{"rowId":"r1","winnerId":"main","winnerLabel":"Model A","confidence":4,"timestamp":"2025-01-02T03:04:05Z"}}`,
		string(data))

	var decoded ResultMap
	require.NoError(t, json.Unmarshal(data, &decoded))
	got, ok := decoded.Get("r1")
	require.True(t, ok)
	assert.Equal(t, 4, got.Confidence)
}

// TestMerge_Property checks that merging never changes the map it was given.
func TestMerge_Property(t *testing.T) {
	f := func(keys []string, key, value string) bool {
		base := NewDecisions[string]()
		for _, k := range keys {
			base = Merge(base, k, k)
		}
		before := base.Snapshot()

		next := Merge(base, key, value)

		got, ok := next.Get(key)
		if !ok || got != value {
			return false
		}
		after := base.Snapshot()
		if len(before) != len(after) {
			return false
		}
		for k, v := range before {
			if after[k] != v {
				return false
			}
		}
		return true
	}
	require.NoError(t, quick.Check(f, nil))
}
