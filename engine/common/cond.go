package common

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/beaconops/beacon/models"
)

// MatchCondGroups evaluates an OR-of-AND condition tree against a dimension
// map. defaultIfMissing is the verdict of a leaf whose field is absent from
// the dimensions: suppression scopes treat absence as a match, routing rules
// do not. Zero groups never match, a group with zero leaves always does.
func MatchCondGroups(dims map[string]interface{}, groups [][]models.Cond, defaultIfMissing bool) bool {
	for i := 0; i < len(groups); i++ {
		if matchGroup(dims, groups[i], defaultIfMissing) {
			return true
		}
	}
	return false
}

func matchGroup(dims map[string]interface{}, group []models.Cond, defaultIfMissing bool) bool {
	for i := 0; i < len(group); i++ {
		if !MatchCond(dims, &group[i], defaultIfMissing) {
			return false
		}
	}
	return true
}

// MatchCond evaluates one compiled leaf.
func MatchCond(dims map[string]interface{}, cond *models.Cond, defaultIfMissing bool) bool {
	raw, has := dims[cond.Field]
	if !has {
		return defaultIfMissing
	}

	val := strings.TrimSpace(fmt.Sprint(raw))

	switch cond.Op {
	case models.CondOpEq, models.CondOpIn:
		_, ok := cond.Vset[val]
		return ok
	case models.CondOpNe, models.CondOpNotIn:
		_, ok := cond.Vset[val]
		return !ok
	case models.CondOpMatch:
		return cond.Regexp != nil && cond.Regexp.MatchString(val)
	case models.CondOpNotMatch:
		return cond.Regexp != nil && !cond.Regexp.MatchString(val)
	case models.CondOpLt:
		return compareOrdered(val, cond.Vlist) < 0
	case models.CondOpLte:
		return compareOrdered(val, cond.Vlist) <= 0
	case models.CondOpGt:
		return compareOrdered(val, cond.Vlist) > 0
	case models.CondOpGte:
		return compareOrdered(val, cond.Vlist) >= 0
	case models.CondOpSuperset:
		return superset(val, cond.Vlist)
	}

	return false
}

// compareOrdered compares the dimension value with the first configured value,
// numerically when both sides parse as numbers, lexicographically otherwise.
func compareOrdered(val string, configured []string) int {
	if len(configured) == 0 {
		return -1
	}
	want := configured[0]

	a, errA := strconv.ParseFloat(val, 64)
	b, errB := strconv.ParseFloat(want, 64)
	if errA == nil && errB == nil {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}

	return strings.Compare(val, want)
}

// superset treats the dimension value as a list, split on commas or spaces,
// and requires every configured value to be present in it.
func superset(val string, configured []string) bool {
	items := strings.FieldsFunc(val, func(r rune) bool {
		return r == ',' || r == ' '
	})

	set := make(map[string]struct{}, len(items))
	for i := 0; i < len(items); i++ {
		set[strings.TrimSpace(items[i])] = struct{}{}
	}

	for i := 0; i < len(configured); i++ {
		if _, ok := set[configured[i]]; !ok {
			return false
		}
	}
	return len(configured) > 0
}
