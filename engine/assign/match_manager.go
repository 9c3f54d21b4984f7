package assign

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/beaconops/beacon/engine/common"
	"github.com/beaconops/beacon/engine/estats"
	"github.com/beaconops/beacon/memsto"
	"github.com/beaconops/beacon/models"
	"github.com/beaconops/beacon/pkg/ctx"

	"github.com/toolkits/pkg/logger"
)

const severitySourceAssign = "assign_rule"

// MatchResult aggregates the verdicts of every rule that matched inside the
// winning priority band.
type MatchResult struct {
	Matches        []*RuleMatch
	Severity       int
	MainGroups     []int64
	FollowerGroups []int64
	AdditionalTags []models.DimensionPair
	ItsmActions    []*models.RuleAction
	RuleSnaps      map[string]*models.RuleSnap
}

func (r *MatchResult) Matched() bool {
	return r != nil && len(r.Matches) > 0
}

// MatchManager scans the prioritized rule groups of an alert's busi group.
// Groups sharing a priority form one band; the highest band with any matching
// rule wins and every match inside it applies. Lower bands are not scanned.
type MatchManager struct {
	ctx           *ctx.Context
	cache         *memsto.AssignRuleCacheType
	targetCache   *memsto.TargetCacheType
	strategyCache *memsto.StrategyCacheType
	stats         *estats.Stats
}

func NewMatchManager(ctx *ctx.Context, cache *memsto.AssignRuleCacheType,
	targetCache *memsto.TargetCacheType, strategyCache *memsto.StrategyCacheType,
	stats *estats.Stats) *MatchManager {
	return &MatchManager{
		ctx:           ctx,
		cache:         cache,
		targetCache:   targetCache,
		strategyCache: strategyCache,
		stats:         stats,
	}
}

// Dims assembles the assignment dimension map: event dimensions and tags,
// alert attributes, previously assigned tags, then the host attributes of the
// resolved target.
func (m *MatchManager) Dims(event *models.AlertEvent) map[string]interface{} {
	dims := common.EventDims(event)

	for i := 0; i < len(event.AssignTagsJSON); i++ {
		dims[event.AssignTagsJSON[i].Key] = event.AssignTagsJSON[i].Value
	}

	dims["duration"] = event.Duration(time.Now().Unix())
	dims["metrics"] = strings.Join(event.MetricsJSON, ",")
	dims["labels"] = strings.Join(event.LabelsJSON, ",")

	if st := m.strategyCache.Get(event.StrategyId); st != nil {
		dims["is_empty_users"] = strconv.FormatBool(len(st.NoticeGroupsJSON) == 0)
	}

	target := m.resolveTarget(event)
	if target != nil {
		for k, v := range target.HostJSON {
			dims["host."+k] = v
		}
		for k, v := range target.SetJSON {
			dims["set."+k] = v
		}
		for k, v := range target.ModuleJSON {
			dims["module."+k] = v
		}
	}

	return dims
}

func (m *MatchManager) resolveTarget(event *models.AlertEvent) *models.Target {
	if event.TargetType != models.TargetTypeHost {
		return nil
	}
	if event.TargetIdent != "" {
		if t, has := m.targetCache.Get(event.TargetIdent); has {
			return t
		}
	}
	if event.TargetIp != "" {
		if t, has := m.targetCache.GetByIpAndCloudId(event.TargetIp, event.CloudId); has {
			return t
		}
	}
	return nil
}

// Run evaluates the alert against its busi group's rule groups and returns
// the aggregated result. A nil error with an unmatched result means no rule
// applies, not a failure.
func (m *MatchManager) Run(event *models.AlertEvent, now int64) (*MatchResult, error) {
	res := &MatchResult{
		Severity:  event.Severity,
		RuleSnaps: make(map[string]*models.RuleSnap),
	}

	// by-rule assignment may be switched off per strategy
	if st := m.strategyCache.Get(event.StrategyId); st != nil && !st.AssignModeEnabled(models.AssignModeByRule) {
		return res, nil
	}

	groups := m.cache.Gets(event.GroupId)
	if len(groups) == 0 {
		return res, nil
	}

	dims := m.Dims(event)
	snaps := event.Extra().RuleSnaps

	// groups arrive priority desc; walk them band by band
	for lo := 0; lo < len(groups); {
		hi := lo
		for hi < len(groups) && groups[hi].Group.Priority == groups[lo].Group.Priority {
			hi++
		}

		for gi := lo; gi < hi; gi++ {
			for _, rule := range groups[gi].Rules {
				var snap *models.RuleSnap
				if snaps != nil {
					snap = snaps[fmt.Sprint(rule.Id)]
				}

				rm := NewRuleMatch(rule, snap)
				if rm.Match(dims) {
					res.Matches = append(res.Matches, rm)
				}
			}
		}

		if len(res.Matches) > 0 {
			break
		}
		lo = hi
	}

	if len(res.Matches) == 0 {
		m.stats.CounterAssignTotal.WithLabelValues("none").Inc()
		return res, nil
	}

	m.aggregate(event, res, now)
	m.stats.CounterAssignTotal.WithLabelValues("matched").Inc()

	if err := m.audit(event, res); err != nil {
		logger.Warningf("event(%d) failed to write assign audit log: %v", event.Id, err)
	}

	return res, nil
}

// aggregate folds every matched rule into one verdict: the most severe
// severity wins, responder groups union up partitioned by user type, and an
// escalation that comes due adds the newly reached tier.
func (m *MatchManager) aggregate(event *models.AlertEvent, res *MatchResult, now int64) {
	mainSeen := make(map[int64]struct{})
	followerSeen := make(map[int64]struct{})
	tagSeen := make(map[string]struct{})

	addGroups := func(userType string, ids []int64) {
		for _, id := range ids {
			if userType == models.UserTypeFollower {
				if _, ok := followerSeen[id]; ok {
					continue
				}
				followerSeen[id] = struct{}{}
				res.FollowerGroups = append(res.FollowerGroups, id)
			} else {
				if _, ok := mainSeen[id]; ok {
					continue
				}
				mainSeen[id] = struct{}{}
				res.MainGroups = append(res.MainGroups, id)
			}
		}
	}

	for _, rm := range res.Matches {
		rule := rm.Rule

		// severity 1 is the most severe, so the aggregate is the minimum
		if rule.Severity != 0 && rule.Severity < res.Severity {
			res.Severity = rule.Severity
		}

		addGroups(rule.UserType, rule.UserGroupsJSON)

		for i := 0; i < len(rule.AdditionalJSON); i++ {
			t := rule.AdditionalJSON[i]
			key := t.Key + "=" + t.Value
			if _, ok := tagSeen[key]; ok {
				continue
			}
			tagSeen[key] = struct{}{}
			res.AdditionalTags = append(res.AdditionalTags, t)
		}

		if action := rule.ItsmAction(); action != nil {
			res.ItsmActions = append(res.ItsmActions, action)
		}

		snap := rm.NewSnap()
		if notice := rule.NoticeAction(); notice != nil && notice.Upgrade != nil {
			um := NewUpgradeMatch(notice.Upgrade, snap.LastGroupIndex, snap.LastUpgradeTime, event.Duration(now))
			if um.NeedUpgrade(now) {
				um.Advance(now)
				addGroups(rule.UserType, um.Groups())
			}
			snap.LastGroupIndex = um.LastIndex()
			snap.LastUpgradeTime = um.LastTime()
		}
		res.RuleSnaps[rm.SnapKey()] = snap
	}
}

func (m *MatchManager) audit(event *models.AlertEvent, res *MatchResult) error {
	ids := make([]int64, 0, len(res.Matches))
	for _, rm := range res.Matches {
		ids = append(ids, rm.Rule.Id)
	}

	log := &models.AlertLog{
		OpType:      models.OpTypeAssign,
		AlertId:     event.Id,
		Severity:    res.Severity,
		Description: fmt.Sprintf("matched assign rules %v, main groups %v, follower groups %v", ids, res.MainGroups, res.FollowerGroups),
		CreateAt:    time.Now().Unix(),
	}
	return models.AlertLogBulkInsert(m.ctx, []*models.AlertLog{log})
}

// Apply writes the verdict back onto the alert and persists the routing
// columns. Origin severity is remembered the first time a rule changes it.
func (m *MatchManager) Apply(event *models.AlertEvent, res *MatchResult) error {
	if !res.Matched() {
		return nil
	}

	extra := event.Extra()

	if res.Severity != event.Severity {
		if extra.SeveritySource != severitySourceAssign {
			extra.OriginSeverity = event.Severity
			extra.SeveritySource = severitySourceAssign
		}
		event.Severity = res.Severity
	}

	seen := make(map[string]struct{}, len(event.AssignTagsJSON))
	for i := 0; i < len(event.AssignTagsJSON); i++ {
		seen[event.AssignTagsJSON[i].Key+"="+event.AssignTagsJSON[i].Value] = struct{}{}
	}
	for i := 0; i < len(res.AdditionalTags); i++ {
		t := res.AdditionalTags[i]
		if _, ok := seen[t.Key+"="+t.Value]; ok {
			continue
		}
		event.AssignTagsJSON = append(event.AssignTagsJSON, t)
	}

	extra.RuleSnaps = res.RuleSnaps

	return event.UpdateSeverityAndState(m.ctx)
}
