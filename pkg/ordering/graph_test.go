package ordering

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func build(t *testing.T, keys ...string) *Graph[string, string] {
	t.Helper()
	g := New[string, string]()
	for _, k := range keys {
		require.NoError(t, g.Add(k, k))
	}
	return g
}

func TestOrderKeepsInsertionOrderWithoutConstraints(t *testing.T) {
	g := build(t, "c", "a", "b")

	out, err := g.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, out)
}

func TestOrderRespectsConstraintsForEveryRegistrationOrder(t *testing.T) {
	perms := [][]string{
		{"A", "B", "C"}, {"A", "C", "B"}, {"B", "A", "C"},
		{"B", "C", "A"}, {"C", "A", "B"}, {"C", "B", "A"},
	}
	for _, perm := range perms {
		g := build(t, perm...)
		g.After("A", "B")
		g.Before("C", "A")

		out, err := g.Order()
		require.NoError(t, err, perm)
		pos := map[string]int{}
		for i, v := range out {
			pos[v] = i
		}
		assert.Less(t, pos["B"], pos["A"], perm)
		assert.Less(t, pos["C"], pos["A"], perm)
	}
}

func TestOrderIsStable(t *testing.T) {
	g := build(t, "log", "db", "cache", "http")
	g.After("log", "http")

	out, err := g.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"db", "cache", "http", "log"}, out)
}

func TestOrderIgnoresUnknownKeys(t *testing.T) {
	g := build(t, "a", "b")
	g.After("a", "missing")
	g.Before("ghost", "b")

	out, err := g.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out)
}

func TestOrderDetectsCycle(t *testing.T) {
	g := build(t, "a", "b", "c", "d")
	g.Before("a", "b")
	g.Before("b", "c")
	g.Before("c", "a")

	out, err := g.Order()
	assert.Nil(t, out)

	var ce *CycleError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []string{"a", "b", "c", "a"}, ce.Path)
	assert.Contains(t, err.Error(), "a -> b -> c -> a")
}

func TestOrderDetectsSelfConstraint(t *testing.T) {
	g := build(t, "a")
	g.Before("a", "a")

	_, err := g.Order()
	var ce *CycleError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"a", "a"}, ce.Path)
}

func TestAddDuplicate(t *testing.T) {
	g := build(t, "a")

	err := g.Add("a", "again")
	var de *DuplicateError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "a", de.Key)

	item, ok := g.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "a", item)
	assert.Equal(t, 1, g.Len())
	assert.Equal(t, []string{"a"}, g.Keys())
}
