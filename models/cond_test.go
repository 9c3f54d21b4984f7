package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCondOp(t *testing.T) {
	assert.Equal(t, CondOpEq, ParseCondOp("eq", ""))
	assert.Equal(t, CondOpEq, ParseCondOp("==", ""))
	assert.Equal(t, CondOpNe, ParseCondOp("!=", ""))
	assert.Equal(t, CondOpMatch, ParseCondOp("=~", ""))
	assert.Equal(t, CondOpIn, ParseCondOp("in", ""))
	assert.Equal(t, CondOpNotIn, ParseCondOp("not in", ""))

	// unknown operator falls back to the origin alias, then to eq
	assert.Equal(t, CondOpGte, ParseCondOp("bogus", "gte"))
	assert.Equal(t, CondOpEq, ParseCondOp("bogus", "also-bogus"))
}

func TestCondIncomplete(t *testing.T) {
	assert.True(t, (&Cond{Func: "eq", Value: "a"}).Incomplete())
	assert.True(t, (&Cond{Field: "f", Value: "a"}).Incomplete())
	assert.True(t, (&Cond{Field: "f", Func: "eq"}).Incomplete())
	assert.True(t, (&Cond{Field: "f", Func: "eq", Value: ""}).Incomplete())
	assert.True(t, (&Cond{Field: "f", Func: "eq", Value: []interface{}{}}).Incomplete())
	assert.False(t, (&Cond{Field: "f", Func: "eq", Value: "a"}).Incomplete())
	assert.False(t, (&Cond{Field: "f", Func: "eq", Value: []interface{}{"a", "b"}}).Incomplete())
}

func TestCondParseValues(t *testing.T) {
	c := Cond{Field: "ip", Func: "include", Value: []interface{}{"10.1.1.1", 2, " "}}
	require.NoError(t, c.Parse())
	assert.Equal(t, CondOpIn, c.Op)
	assert.Equal(t, []string{"10.1.1.1", "2"}, c.Vlist)
	assert.Contains(t, c.Vset, "10.1.1.1")
	assert.Contains(t, c.Vset, "2")

	c = Cond{Field: "name", Func: "reg", Value: "^disk.*"}
	require.NoError(t, c.Parse())
	require.NotNil(t, c.Regexp)
	assert.True(t, c.Regexp.MatchString("disk_usage"))

	c = Cond{Field: "name", Func: "reg", Value: "["}
	assert.Error(t, c.Parse())
}

func TestBuildCondGroups(t *testing.T) {
	groups, err := BuildCondGroups(nil)
	require.NoError(t, err)
	assert.Len(t, groups, 0)

	// a AND b OR c -> [[a b] [c]]
	groups, err = BuildCondGroups([]Cond{
		{Field: "a", Func: "eq", Value: "1"},
		{Field: "b", Func: "eq", Value: "2", Joiner: "and"},
		{Field: "c", Func: "eq", Value: "3", Joiner: "or"},
	})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Len(t, groups[0], 2)
	assert.Len(t, groups[1], 1)

	// a group whose every leaf is incomplete stays, empty
	groups, err = BuildCondGroups([]Cond{
		{Field: "a", Func: "eq", Value: "1"},
		{Field: "", Func: "eq", Value: "x", Joiner: "or"},
	})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Len(t, groups[0], 1)
	assert.Len(t, groups[1], 0)
}
