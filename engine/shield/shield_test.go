package shield

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/beaconops/beacon/engine/econf"
	"github.com/beaconops/beacon/memsto"
	"github.com/beaconops/beacon/models"
	"github.com/beaconops/beacon/pkg/ctx"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	statsOnce sync.Once
	testStats *memsto.Stats
)

func cacheStats() *memsto.Stats {
	statsOnce.Do(func() {
		testStats = memsto.NewCacheStats()
	})
	return testStats
}

func testCtx(t *testing.T) *ctx.Context {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ShieldConfig{}, &models.CorrelationRule{}, &models.Target{}))
	return ctx.NewContext(context.Background(), db)
}

func newShielder(t *testing.T, c *ctx.Context, engine *econf.Engine) *Shielder {
	shieldCache := memsto.NewShieldCache(c, cacheStats())
	targetCache := memsto.NewTargetCache(c, cacheStats())
	correlationCache := memsto.NewCorrelationRuleCache(c, cacheStats())
	snapshots := NewSnapshotCache(nil, 60)
	return New(c, engine, shieldCache, targetCache, correlationCache, snapshots)
}

func newShielderWithRedis(t *testing.T, c *ctx.Context) *Shielder {
	mr := miniredis.RunT(t)
	rds := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	shieldCache := memsto.NewShieldCache(c, cacheStats())
	targetCache := memsto.NewTargetCache(c, cacheStats())
	correlationCache := memsto.NewCorrelationRuleCache(c, cacheStats())
	snapshots := NewSnapshotCache(rds, 60)
	return New(c, &econf.Engine{}, shieldCache, targetCache, correlationCache, snapshots)
}

func hostEvent() *models.AlertEvent {
	return &models.AlertEvent{
		Id:          1,
		StrategyId:  10,
		GroupId:     100,
		Name:        "disk_usage_high",
		Scenario:    "os",
		Severity:    2,
		Status:      models.StatusFiring,
		TargetType:  models.TargetTypeHost,
		TargetIdent: "host-a",
	}
}

func addShieldConfig(t *testing.T, c *ctx.Context, id, groupId int64, etime time.Time, conds []models.Cond) {
	cfg := &models.ShieldConfig{
		Id:        id,
		GroupId:   groupId,
		Category:  models.ShieldCateScope,
		Btime:     time.Now().Add(-time.Hour).Unix(),
		Etime:     etime.Unix(),
		CondsJSON: conds,
	}
	require.NoError(t, cfg.Add(c))
}

func TestGlobalShieldWinsOverEverything(t *testing.T) {
	c := testCtx(t)
	require.NoError(t, models.Insert(c, &models.Target{Ident: "host-a", NoAlert: 1, UpdateAt: time.Now().Unix()}))

	s := newShielder(t, c, &econf.Engine{GlobalShield: true})

	v := s.Check(hostEvent(), time.Now())
	assert.True(t, v.Shielded)
	assert.Equal(t, KindGlobal, v.Kind)
	assert.Empty(t, v.ShieldIds)
	assert.Equal(t, int64(0), v.LeftTime)
}

func TestHostShield(t *testing.T) {
	c := testCtx(t)
	require.NoError(t, models.Insert(c, &models.Target{Ident: "host-a", NoAlert: 1, UpdateAt: time.Now().Unix()}))

	s := newShielder(t, c, &econf.Engine{})

	v := s.Check(hostEvent(), time.Now())
	assert.True(t, v.Shielded)
	assert.Equal(t, KindHost, v.Kind)
	assert.Empty(t, v.ShieldIds)

	// a host without suppression flags does not shield
	c2 := testCtx(t)
	require.NoError(t, models.Insert(c2, &models.Target{Ident: "host-a", UpdateAt: time.Now().Unix()}))
	s2 := newShielder(t, c2, &econf.Engine{})
	assert.False(t, s2.Check(hostEvent(), time.Now()).Shielded)
}

func TestConfigShieldSortedByLeftTime(t *testing.T) {
	c := testCtx(t)
	conds := []models.Cond{{Field: "strategy_id", Func: "eq", Value: "10"}}
	addShieldConfig(t, c, 1, 100, time.Now().Add(time.Hour), conds)
	addShieldConfig(t, c, 2, 100, time.Now().Add(2*time.Hour), conds)

	s := newShielder(t, c, &econf.Engine{})

	v := s.Check(hostEvent(), time.Now())
	require.True(t, v.Shielded)
	assert.Equal(t, KindConfig, v.Kind)
	// longest remaining window first
	assert.Equal(t, []int64{2, 1}, v.ShieldIds)
	assert.InDelta(t, 2*3600, v.LeftTime, 5)
}

func TestConfigShieldSnapshotHitMatchesMiss(t *testing.T) {
	c := testCtx(t)
	conds := []models.Cond{{Field: "strategy_id", Func: "eq", Value: "10"}}
	addShieldConfig(t, c, 1, 100, time.Now().Add(time.Hour), conds)
	addShieldConfig(t, c, 2, 100, time.Now().Add(2*time.Hour), conds)

	s := newShielderWithRedis(t, c)
	now := time.Now()

	miss := s.Check(hostEvent(), now)
	require.True(t, miss.Shielded)
	assert.Equal(t, []int64{2, 1}, miss.ShieldIds)

	// second check reads the snapshot and reproduces the verdict
	hit := s.Check(hostEvent(), now)
	require.True(t, hit.Shielded)
	assert.Equal(t, miss.ShieldIds, hit.ShieldIds)
	assert.Equal(t, miss.LeftTime, hit.LeftTime)
}

func TestConfigShieldSnapshotDropsDeletedConfig(t *testing.T) {
	c := testCtx(t)
	conds := []models.Cond{{Field: "strategy_id", Func: "eq", Value: "10"}}
	addShieldConfig(t, c, 1, 100, time.Now().Add(time.Hour), conds)
	addShieldConfig(t, c, 2, 100, time.Now().Add(2*time.Hour), conds)

	s := newShielderWithRedis(t, c)
	now := time.Now()

	v := s.Check(hostEvent(), now)
	require.Equal(t, []int64{2, 1}, v.ShieldIds)

	// config 2 disappears from the cache between checks
	configs, has := s.shieldCache.Gets(100)
	require.True(t, has)
	var kept []*models.ShieldConfig
	for _, cfg := range configs {
		if cfg.Id != 2 {
			kept = append(kept, cfg)
		}
	}
	s.shieldCache.Set(map[int64][]*models.ShieldConfig{100: kept}, 1, time.Now().Unix())

	// the snapshot still names it, the verdict silently drops it
	v = s.Check(hostEvent(), now)
	require.True(t, v.Shielded)
	assert.Equal(t, []int64{1}, v.ShieldIds)
}

func TestConfigShieldConcurrentChecks(t *testing.T) {
	c := testCtx(t)
	conds := []models.Cond{{Field: "strategy_id", Func: "eq", Value: "10"}}
	addShieldConfig(t, c, 1, 100, time.Now().Add(time.Hour), conds)
	addShieldConfig(t, c, 2, 100, time.Now().Add(2*time.Hour), conds)

	s := newShielderWithRedis(t, c)
	now := time.Now()

	verdicts := make([]*Verdict, 8)
	var wg sync.WaitGroup
	for i := 0; i < len(verdicts); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			verdicts[i] = s.Check(hostEvent(), now)
		}(i)
	}
	wg.Wait()

	for i := 0; i < len(verdicts); i++ {
		require.True(t, verdicts[i].Shielded)
		assert.Equal(t, []int64{2, 1}, verdicts[i].ShieldIds)
	}
}

func TestVerdictOfLeavesInputOrder(t *testing.T) {
	now := time.Now()
	a := &models.ShieldConfig{Id: 1, Btime: now.Unix() - 3600, Etime: now.Unix() + 3600}
	b := &models.ShieldConfig{Id: 2, Btime: now.Unix() - 3600, Etime: now.Unix() + 7200}
	in := []*models.ShieldConfig{a, b}

	v := (&Shielder{}).verdictOf(in, now)
	require.NotNil(t, v)
	assert.Equal(t, []int64{2, 1}, v.ShieldIds)

	// callers sharing one computed slice must not see it reordered
	assert.Same(t, a, in[0])
	assert.Same(t, b, in[1])
}

func TestConfigShieldScopeMismatch(t *testing.T) {
	c := testCtx(t)
	addShieldConfig(t, c, 1, 100, time.Now().Add(time.Hour),
		[]models.Cond{{Field: "strategy_id", Func: "eq", Value: "999"}})

	s := newShielder(t, c, &econf.Engine{})
	assert.False(t, s.Check(hostEvent(), time.Now()).Shielded)
}

func TestConfigShieldMissingFieldMatches(t *testing.T) {
	c := testCtx(t)
	// shield scopes treat an absent dimension as a match
	addShieldConfig(t, c, 1, 100, time.Now().Add(time.Hour),
		[]models.Cond{{Field: "no_such_dim", Func: "eq", Value: "x"}})

	s := newShielder(t, c, &econf.Engine{})
	v := s.Check(hostEvent(), time.Now())
	assert.True(t, v.Shielded)
	assert.Equal(t, KindConfig, v.Kind)
}

func TestIncidentShield(t *testing.T) {
	c := testCtx(t)
	rule := &models.CorrelationRule{
		Id:          1,
		Description: "core switch down",
		CondsJSON:   []models.Cond{{Field: "scenario", Func: "eq", Value: "os"}},
	}
	require.NoError(t, rule.Add(c))

	s := newShielder(t, c, &econf.Engine{})

	v := s.Check(hostEvent(), time.Now())
	assert.True(t, v.Shielded)
	assert.Equal(t, KindIncident, v.Kind)
	assert.Equal(t, "core switch down", v.Detail)
}

func TestNotShielded(t *testing.T) {
	c := testCtx(t)
	s := newShielder(t, c, &econf.Engine{})

	v := s.Check(hostEvent(), time.Now())
	assert.False(t, v.Shielded)
	assert.Empty(t, v.Kind)
	assert.Empty(t, v.ShieldIds)
}

func TestConfigShieldPriorityOverIncident(t *testing.T) {
	c := testCtx(t)
	addShieldConfig(t, c, 1, 100, time.Now().Add(time.Hour),
		[]models.Cond{{Field: "strategy_id", Func: "eq", Value: "10"}})

	rule := &models.CorrelationRule{
		Id:        1,
		CondsJSON: []models.Cond{{Field: "scenario", Func: "eq", Value: "os"}},
	}
	require.NoError(t, rule.Add(c))

	s := newShielder(t, c, &econf.Engine{})
	v := s.Check(hostEvent(), time.Now())
	require.True(t, v.Shielded)
	assert.Equal(t, KindConfig, v.Kind)
}
