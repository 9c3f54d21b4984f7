package assign

import (
	"github.com/beaconops/beacon/memsto"
	"github.com/beaconops/beacon/models"

	"github.com/jinzhu/copier"
	"github.com/toolkits/pkg/logger"
)

// AssigneeManager resolves the notification audience of an alert. Rule
// matches take precedence; otherwise, when the strategy allows plain notice,
// the strategy's own groups apply, with strategy-level escalation layered on.
type AssigneeManager struct {
	strategyCache *memsto.StrategyCacheType
}

func NewAssigneeManager(strategyCache *memsto.StrategyCacheType) *AssigneeManager {
	return &AssigneeManager{strategyCache: strategyCache}
}

// Assignees returns the main and follower responder groups for the alert.
// The bool reports whether anything is left to notify at all.
func (am *AssigneeManager) Assignees(event *models.AlertEvent, res *MatchResult, now int64) ([]int64, []int64, bool) {
	if res.Matched() {
		return res.MainGroups, res.FollowerGroups, len(res.MainGroups)+len(res.FollowerGroups) > 0
	}

	st := am.strategyCache.Get(event.StrategyId)
	if st == nil {
		logger.Warningf("event(%d) strategy %d not found, no assignees", event.Id, event.StrategyId)
		return nil, nil, false
	}

	if !st.AssignModeEnabled(models.AssignModeOnlyNotice) {
		return nil, nil, false
	}

	// clone so escalation appends never leak into the shared cache entry
	var groups []int64
	if err := copier.Copy(&groups, st.NoticeGroupsJSON); err != nil {
		groups = append(groups, st.NoticeGroupsJSON...)
	}

	groups = am.escalate(event, st, groups, now)
	return groups, nil, len(groups) > 0
}

// escalate adds the next strategy-level escalation tier to the default
// groups when one is due, advancing the alert's escalation state.
func (am *AssigneeManager) escalate(event *models.AlertEvent, st *models.Strategy, groups []int64, now int64) []int64 {
	up := st.UpgradeJSON
	if up == nil || !up.Enabled {
		return groups
	}

	extra := event.Extra()
	var lastIndex *int
	var lastTime int64
	if extra.Escalation != nil {
		lastIndex = extra.Escalation.LastGroupIndex
		lastTime = extra.Escalation.LastUpgradeTime
	}

	um := NewUpgradeMatch(up, lastIndex, lastTime, event.Duration(now))
	if !um.NeedUpgrade(now) {
		return groups
	}
	um.Advance(now)

	extra.Escalation = &models.EscalationState{
		LastGroupIndex:  um.LastIndex(),
		LastUpgradeTime: um.LastTime(),
	}

	seen := make(map[int64]struct{}, len(groups))
	for _, id := range groups {
		seen[id] = struct{}{}
	}
	for _, id := range um.Groups() {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		groups = append(groups, id)
	}

	return groups
}
