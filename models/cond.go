package models

import (
	"fmt"
	"regexp"
	"strings"
)

// CondOp enumerates the comparison operators a condition leaf may use.
// Raw operator strings are converted exactly once, at parse time.
type CondOp int

const (
	CondOpEq CondOp = iota
	CondOpNe
	CondOpLt
	CondOpLte
	CondOpGt
	CondOpGte
	CondOpMatch
	CondOpNotMatch
	CondOpIn
	CondOpNotIn
	CondOpSuperset
)

var condOpNames = map[CondOp]string{
	CondOpEq:       "eq",
	CondOpNe:       "neq",
	CondOpLt:       "lt",
	CondOpLte:      "lte",
	CondOpGt:       "gt",
	CondOpGte:      "gte",
	CondOpMatch:    "reg",
	CondOpNotMatch: "nreg",
	CondOpIn:       "include",
	CondOpNotIn:    "exclude",
	CondOpSuperset: "issuperset",
}

var condOpValues = map[string]CondOp{
	"eq":         CondOpEq,
	"==":         CondOpEq,
	"neq":        CondOpNe,
	"!=":         CondOpNe,
	"lt":         CondOpLt,
	"lte":        CondOpLte,
	"gt":         CondOpGt,
	"gte":        CondOpGte,
	"reg":        CondOpMatch,
	"=~":         CondOpMatch,
	"nreg":       CondOpNotMatch,
	"!~":         CondOpNotMatch,
	"include":    CondOpIn,
	"in":         CondOpIn,
	"exclude":    CondOpNotIn,
	"not in":     CondOpNotIn,
	"issuperset": CondOpSuperset,
}

func (op CondOp) String() string {
	if s, has := condOpNames[op]; has {
		return s
	}
	return fmt.Sprintf("condop(%d)", int(op))
}

// ParseCondOp resolves a raw operator string. Unknown operators fall back to
// the origin operator alias carried by converted configurations, then to eq.
func ParseCondOp(fn, origin string) CondOp {
	if op, has := condOpValues[fn]; has {
		return op
	}
	if op, has := condOpValues[origin]; has {
		return op
	}
	return CondOpEq
}

// Cond is one leaf of a condition tree: field OP value. Joiner relates the
// leaf to its predecessor: consecutive "and" leaves form one group, an "or"
// leaf starts a new group.
type Cond struct {
	Field      string      `json:"field"`
	Func       string      `json:"func"`
	OriginFunc string      `json:"origin_func,omitempty"`
	Value      interface{} `json:"value"`
	Joiner     string      `json:"joiner,omitempty"`

	Op     CondOp              `json:"-"`
	Regexp *regexp.Regexp      `json:"-"`
	Vset   map[string]struct{} `json:"-"`
	Vlist  []string            `json:"-"`
}

// Incomplete reports whether the leaf is too underspecified to evaluate.
// Such leaves are dropped from their group instead of failing evaluation.
func (c *Cond) Incomplete() bool {
	if c.Field == "" || c.Func == "" {
		return true
	}
	return len(condValues(c.Value)) == 0
}

func (c *Cond) Parse() error {
	c.Op = ParseCondOp(c.Func, c.OriginFunc)
	c.Vlist = condValues(c.Value)

	switch c.Op {
	case CondOpMatch, CondOpNotMatch:
		if len(c.Vlist) == 0 {
			return fmt.Errorf("cond field %s: empty regexp", c.Field)
		}
		re, err := regexp.Compile(c.Vlist[0])
		if err != nil {
			return err
		}
		c.Regexp = re
	case CondOpEq, CondOpNe, CondOpIn, CondOpNotIn, CondOpSuperset:
		c.Vset = make(map[string]struct{}, len(c.Vlist))
		for i := 0; i < len(c.Vlist); i++ {
			c.Vset[c.Vlist[i]] = struct{}{}
		}
	}

	return nil
}

// condValues normalizes a configured value to a list of non-empty strings.
// Configurations deliver scalars, lists of scalars, or space-separated strings.
func condValues(v interface{}) []string {
	var out []string

	appendOne := func(item interface{}) {
		s := strings.TrimSpace(fmt.Sprint(item))
		if s != "" && s != "<nil>" {
			out = append(out, s)
		}
	}

	switch vv := v.(type) {
	case nil:
		return nil
	case []string:
		for i := range vv {
			appendOne(vv[i])
		}
	case []interface{}:
		for i := range vv {
			appendOne(vv[i])
		}
	default:
		appendOne(vv)
	}

	return out
}

// ParseConds compiles every leaf in place, dropping incomplete ones.
func ParseConds(conds []Cond) ([]Cond, error) {
	oks := make([]Cond, 0, len(conds))
	for i := 0; i < len(conds); i++ {
		if conds[i].Incomplete() {
			continue
		}
		if err := conds[i].Parse(); err != nil {
			return nil, err
		}
		oks = append(oks, conds[i])
	}
	return oks, nil
}

// BuildCondGroups splits a flat leaf list into OR-of-AND groups: consecutive
// runs joined by "and" stay together, an "or" joiner opens a new group.
// Incomplete leaves are dropped from their group but the group itself stays,
// so a group whose every leaf was dropped is empty and vacuously true.
func BuildCondGroups(conds []Cond) ([][]Cond, error) {
	var runs [][]Cond
	var run []Cond

	for i := 0; i < len(conds); i++ {
		if conds[i].Joiner == "or" && len(run) > 0 {
			runs = append(runs, run)
			run = nil
		}
		run = append(run, conds[i])
	}
	if len(run) > 0 {
		runs = append(runs, run)
	}

	groups := make([][]Cond, 0, len(runs))
	for _, run := range runs {
		group := make([]Cond, 0, len(run))
		for i := 0; i < len(run); i++ {
			if run[i].Incomplete() {
				continue
			}
			if err := run[i].Parse(); err != nil {
				return nil, err
			}
			group = append(group, run[i])
		}
		groups = append(groups, group)
	}
	return groups, nil
}
