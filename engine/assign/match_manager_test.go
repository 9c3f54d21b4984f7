package assign

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/beaconops/beacon/engine/estats"
	"github.com/beaconops/beacon/memsto"
	"github.com/beaconops/beacon/models"
	"github.com/beaconops/beacon/pkg/ctx"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	statsOnce   sync.Once
	cacheStats  *memsto.Stats
	engineStats *estats.Stats
)

func testStats() (*memsto.Stats, *estats.Stats) {
	statsOnce.Do(func() {
		cacheStats = memsto.NewCacheStats()
		engineStats = estats.NewEngineStats()
	})
	return cacheStats, engineStats
}

func testCtx(t *testing.T) *ctx.Context {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.AssignGroup{},
		&models.AssignRule{},
		&models.Strategy{},
		&models.Target{},
		&models.AlertLog{},
	))
	return ctx.NewContext(context.Background(), db)
}

// newManager builds a manager whose caches sync the rows already inserted.
func newManager(t *testing.T, c *ctx.Context) *MatchManager {
	cs, es := testStats()
	return NewMatchManager(c,
		memsto.NewAssignRuleCache(c, cs),
		memsto.NewTargetCache(c, cs),
		memsto.NewStrategyCache(c, cs),
		es)
}

func addAssignRule(t *testing.T, c *ctx.Context, id, assignGroupId int64, groups []int64, ip string) {
	r := &models.AssignRule{
		Id:             id,
		GroupId:        100,
		AssignGroupId:  assignGroupId,
		Enabled:        1,
		UserType:       models.UserTypeMain,
		UserGroupsJSON: groups,
		CondsJSON:      []models.Cond{{Field: "ip", Func: "eq", Value: ip}},
	}
	require.NoError(t, r.Add(c))
}

func matchedResult(event *models.AlertEvent, rules ...*models.AssignRule) *MatchResult {
	res := &MatchResult{
		Severity:  event.Severity,
		RuleSnaps: make(map[string]*models.RuleSnap),
	}
	for _, r := range rules {
		res.Matches = append(res.Matches, NewRuleMatch(r, nil))
	}
	return res
}

func TestAggregateSeverityAndGroups(t *testing.T) {
	event := &models.AlertEvent{Id: 1, Severity: 3}

	r1 := testRule(t, 1, []int64{10, 20}, nil)
	r1.Severity = 2
	r1.UserType = models.UserTypeMain

	r2 := testRule(t, 2, []int64{20, 30}, nil)
	r2.Severity = 1
	r2.UserType = models.UserTypeMain

	r3 := testRule(t, 3, []int64{40}, nil)
	r3.UserType = models.UserTypeFollower

	res := matchedResult(event, r1, r2, r3)
	(&MatchManager{}).aggregate(event, res, 10000)

	// the most severe rule severity wins, 1 being the most severe
	assert.Equal(t, 1, res.Severity)

	// union with dedup, partitioned by user type
	assert.Equal(t, []int64{10, 20, 30}, res.MainGroups)
	assert.Equal(t, []int64{40}, res.FollowerGroups)

	require.Len(t, res.RuleSnaps, 3)
	assert.Equal(t, r1.ContentHash(), res.RuleSnaps["1"].Hash)
}

func TestAggregateKeepsSeverityWhenRulesSilent(t *testing.T) {
	event := &models.AlertEvent{Id: 1, Severity: 2}

	r := testRule(t, 1, []int64{10}, nil)
	// severity 0 means keep the alert's own
	res := matchedResult(event, r)
	(&MatchManager{}).aggregate(event, res, 10000)
	assert.Equal(t, 2, res.Severity)

	// a milder rule never downgrades
	r.Severity = 3
	res = matchedResult(event, r)
	(&MatchManager{}).aggregate(event, res, 10000)
	assert.Equal(t, 2, res.Severity)
}

func TestAggregateAdditionalTagsAndItsm(t *testing.T) {
	event := &models.AlertEvent{Id: 1, Severity: 3}

	r1 := testRule(t, 1, []int64{10}, nil)
	r1.AdditionalJSON = []models.DimensionPair{{Key: "team", Value: "sre"}}
	r1.ActionsJSON = []models.RuleAction{{Type: models.ActionTypeItsm, ActionId: 7}}

	r2 := testRule(t, 2, []int64{20}, nil)
	r2.AdditionalJSON = []models.DimensionPair{{Key: "team", Value: "sre"}, {Key: "oncall", Value: "yes"}}

	res := matchedResult(event, r1, r2)
	(&MatchManager{}).aggregate(event, res, 10000)

	assert.Equal(t, []models.DimensionPair{{Key: "team", Value: "sre"}, {Key: "oncall", Value: "yes"}}, res.AdditionalTags)
	require.Len(t, res.ItsmActions, 1)
	assert.Equal(t, int64(7), res.ItsmActions[0].ActionId)
}

func TestAggregateEscalation(t *testing.T) {
	now := int64(10000)
	event := &models.AlertEvent{Id: 1, Severity: 3, TriggerTime: now - 31*60}

	r := testRule(t, 1, []int64{10}, nil)
	r.ActionsJSON = []models.RuleAction{{
		Type:    models.ActionTypeNotice,
		Enabled: true,
		Upgrade: &models.UpgradeConfig{Enabled: true, Interval: 30, UserGroups: []int64{500, 600}},
	}}

	res := matchedResult(event, r)
	(&MatchManager{}).aggregate(event, res, now)

	// the alert outlived the interval, tier 0 joins the responders
	assert.Equal(t, []int64{10, 500}, res.MainGroups)
	snap := res.RuleSnaps["1"]
	require.NotNil(t, snap.LastGroupIndex)
	assert.Equal(t, 0, *snap.LastGroupIndex)
	assert.Equal(t, now, snap.LastUpgradeTime)

	// next pass before the interval elapses: no escalated tier is re-added
	res2 := matchedResult(event, r)
	res2.Matches[0] = NewRuleMatch(r, snap)
	(&MatchManager{}).aggregate(event, res2, now+60)
	assert.Equal(t, []int64{10}, res2.MainGroups)

	// interval elapsed again: only tier 1, prior tiers are not repeated
	res3 := matchedResult(event, r)
	res3.Matches[0] = NewRuleMatch(r, snap)
	(&MatchManager{}).aggregate(event, res3, now+31*60)
	assert.Equal(t, []int64{10, 600}, res3.MainGroups)
}

func TestRunStopsAtHighestMatchingBand(t *testing.T) {
	c := testCtx(t)
	now := time.Now().Unix()

	// groups 1 and 2 share priority 10 and form one band, group 3 sits below
	require.NoError(t, models.Insert(c, &models.AssignGroup{Id: 1, GroupId: 100, Priority: 10, UpdateAt: now}))
	require.NoError(t, models.Insert(c, &models.AssignGroup{Id: 2, GroupId: 100, Priority: 10, UpdateAt: now}))
	require.NoError(t, models.Insert(c, &models.AssignGroup{Id: 3, GroupId: 100, Priority: 5, UpdateAt: now}))

	addAssignRule(t, c, 1, 1, []int64{10}, "10.0.0.1")
	addAssignRule(t, c, 2, 1, []int64{20}, "9.9.9.9")
	addAssignRule(t, c, 3, 2, []int64{30}, "10.0.0.1")
	addAssignRule(t, c, 4, 3, []int64{40}, "10.0.0.1")

	mm := newManager(t, c)
	event := &models.AlertEvent{Id: 1, GroupId: 100, Severity: 2, TargetIp: "10.0.0.1"}

	res, err := mm.Run(event, now)
	require.NoError(t, err)
	require.True(t, res.Matched())

	// every match inside the winning band applies, the lower band is skipped
	require.Len(t, res.Matches, 2)
	assert.Equal(t, []int64{10, 30}, res.MainGroups)
}

func TestRunFallsThroughToLowerBand(t *testing.T) {
	c := testCtx(t)
	now := time.Now().Unix()

	require.NoError(t, models.Insert(c, &models.AssignGroup{Id: 1, GroupId: 100, Priority: 10, UpdateAt: now}))
	require.NoError(t, models.Insert(c, &models.AssignGroup{Id: 2, GroupId: 100, Priority: 5, UpdateAt: now}))

	addAssignRule(t, c, 1, 1, []int64{10}, "9.9.9.9")
	addAssignRule(t, c, 2, 2, []int64{20}, "10.0.0.1")

	mm := newManager(t, c)
	event := &models.AlertEvent{Id: 1, GroupId: 100, Severity: 2, TargetIp: "10.0.0.1"}

	res, err := mm.Run(event, now)
	require.NoError(t, err)
	require.True(t, res.Matched())
	assert.Equal(t, []int64{20}, res.MainGroups)
}

func TestRunSkipsWhenByRuleDisabled(t *testing.T) {
	c := testCtx(t)
	now := time.Now().Unix()

	require.NoError(t, models.Insert(c, &models.Strategy{
		Id:          7,
		AssignModes: `["only_notice"]`,
		UpdateAt:    now,
	}))
	require.NoError(t, models.Insert(c, &models.AssignGroup{Id: 1, GroupId: 100, Priority: 10, UpdateAt: now}))
	addAssignRule(t, c, 1, 1, []int64{10}, "10.0.0.1")

	mm := newManager(t, c)
	event := &models.AlertEvent{Id: 1, StrategyId: 7, GroupId: 100, Severity: 2, TargetIp: "10.0.0.1"}

	res, err := mm.Run(event, now)
	require.NoError(t, err)
	assert.False(t, res.Matched())
}

func TestAggregateEscalationNotDueForYoungAlert(t *testing.T) {
	now := int64(10000)
	event := &models.AlertEvent{Id: 1, Severity: 3, TriggerTime: now - 60}

	r := testRule(t, 1, []int64{10}, nil)
	r.ActionsJSON = []models.RuleAction{{
		Type:    models.ActionTypeNotice,
		Enabled: true,
		Upgrade: &models.UpgradeConfig{Enabled: true, Interval: 30, UserGroups: []int64{500}},
	}}

	res := matchedResult(event, r)
	(&MatchManager{}).aggregate(event, res, now)

	assert.Equal(t, []int64{10}, res.MainGroups)
	assert.Nil(t, res.RuleSnaps["1"].LastGroupIndex)
}
