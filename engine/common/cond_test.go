package common

import (
	"testing"

	"github.com/beaconops/beacon/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustGroups(t *testing.T, conds []models.Cond) [][]models.Cond {
	groups, err := models.BuildCondGroups(conds)
	require.NoError(t, err)
	return groups
}

func TestMatchCondOperators(t *testing.T) {
	dims := map[string]interface{}{
		"ip":       "10.1.1.1",
		"name":     "disk_usage",
		"severity": 2,
		"modules":  "gse,nodeman,job",
	}

	cases := []struct {
		field string
		fn    string
		value interface{}
		want  bool
	}{
		{"ip", "eq", "10.1.1.1", true},
		{"ip", "eq", "10.1.1.2", false},
		{"ip", "neq", "10.1.1.2", true},
		{"ip", "include", []interface{}{"10.1.1.1", "10.1.1.2"}, true},
		{"ip", "exclude", []interface{}{"10.1.1.1"}, false},
		{"name", "reg", "^disk", true},
		{"name", "nreg", "^cpu", true},
		{"severity", "lt", "3", true},
		{"severity", "lte", "2", true},
		{"severity", "gt", "2", false},
		{"severity", "gte", "2", true},
		{"modules", "issuperset", []interface{}{"gse", "job"}, true},
		{"modules", "issuperset", []interface{}{"gse", "cmdb"}, false},
	}

	for _, c := range cases {
		cond := models.Cond{Field: c.field, Func: c.fn, Value: c.value}
		require.NoError(t, cond.Parse())
		assert.Equal(t, c.want, MatchCond(dims, &cond, false), "%s %s %v", c.field, c.fn, c.value)
	}
}

func TestMatchCondNumericVsLexicographic(t *testing.T) {
	dims := map[string]interface{}{"load": "9", "version": "v9"}

	// numeric compare: 9 < 10
	cond := models.Cond{Field: "load", Func: "lt", Value: "10"}
	require.NoError(t, cond.Parse())
	assert.True(t, MatchCond(dims, &cond, false))

	// lexicographic compare: "v9" > "v10"
	cond = models.Cond{Field: "version", Func: "gt", Value: "v10"}
	require.NoError(t, cond.Parse())
	assert.True(t, MatchCond(dims, &cond, false))
}

func TestMatchCondMissingField(t *testing.T) {
	dims := map[string]interface{}{"ip": "10.1.1.1"}
	cond := models.Cond{Field: "absent", Func: "eq", Value: "x"}
	require.NoError(t, cond.Parse())

	assert.True(t, MatchCond(dims, &cond, true))
	assert.False(t, MatchCond(dims, &cond, false))
}

func TestMatchCondGroups(t *testing.T) {
	dims := map[string]interface{}{"ip": "10.1.1.1", "scenario": "os"}

	// (ip=10.1.1.1 AND scenario=os) OR (ip=10.2.2.2)
	groups := mustGroups(t, []models.Cond{
		{Field: "ip", Func: "eq", Value: "10.1.1.1"},
		{Field: "scenario", Func: "eq", Value: "os", Joiner: "and"},
		{Field: "ip", Func: "eq", Value: "10.2.2.2", Joiner: "or"},
	})
	assert.True(t, MatchCondGroups(dims, groups, false))

	// neither group matches
	groups = mustGroups(t, []models.Cond{
		{Field: "ip", Func: "eq", Value: "10.9.9.9"},
		{Field: "scenario", Func: "eq", Value: "db", Joiner: "or"},
	})
	assert.False(t, MatchCondGroups(dims, groups, false))

	// zero groups never match
	assert.False(t, MatchCondGroups(dims, nil, true))

	// an empty group is vacuously true
	assert.True(t, MatchCondGroups(dims, [][]models.Cond{{}}, false))
}
