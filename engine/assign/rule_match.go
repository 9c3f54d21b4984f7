package assign

import (
	"strconv"

	"github.com/beaconops/beacon/engine/common"
	"github.com/beaconops/beacon/models"
)

// RuleMatch evaluates one assignment rule against one alert, consulting the
// rule snapshot the alert carries from a previous pass. An unchanged rule
// that matched before is trusted without re-evaluating its conditions.
type RuleMatch struct {
	Rule *models.AssignRule
	Snap *models.RuleSnap

	hash string
}

func NewRuleMatch(rule *models.AssignRule, snap *models.RuleSnap) *RuleMatch {
	return &RuleMatch{
		Rule: rule,
		Snap: snap,
		hash: rule.ContentHash(),
	}
}

// IsNew reports whether the alert has never matched this rule before.
func (rm *RuleMatch) IsNew() bool {
	return rm.Snap == nil
}

// IsChanged reports whether the rule content drifted since the snapshot.
func (rm *RuleMatch) IsChanged() bool {
	return rm.Snap != nil && rm.Snap.Hash != rm.hash
}

// Match returns the rule verdict for the alert. Only new or changed rules
// re-evaluate conditions; a held snapshot of an unchanged rule stands.
func (rm *RuleMatch) Match(dims map[string]interface{}) bool {
	if !rm.IsNew() && !rm.IsChanged() {
		return true
	}
	return common.MatchCondGroups(dims, rm.Rule.CondGroups, false)
}

// NewSnap builds the snapshot to persist after a successful match, carrying
// escalation state forward from the previous snapshot.
func (rm *RuleMatch) NewSnap() *models.RuleSnap {
	snap := &models.RuleSnap{
		Id:         rm.Rule.Id,
		Hash:       rm.hash,
		UserGroups: rm.Rule.UserGroupsJSON,
	}
	if rm.Snap != nil && !rm.IsChanged() {
		snap.LastGroupIndex = rm.Snap.LastGroupIndex
		snap.LastUpgradeTime = rm.Snap.LastUpgradeTime
	}
	return snap
}

func (rm *RuleMatch) SnapKey() string {
	return strconv.FormatInt(rm.Rule.Id, 10)
}
