package checker

import (
	"fmt"
	"time"

	"github.com/beaconops/beacon/engine/assign"
	"github.com/beaconops/beacon/engine/common"
	"github.com/beaconops/beacon/engine/econf"
	"github.com/beaconops/beacon/engine/estats"
	"github.com/beaconops/beacon/engine/queue"
	"github.com/beaconops/beacon/engine/shield"
	"github.com/beaconops/beacon/memsto"
	"github.com/beaconops/beacon/models"
	"github.com/beaconops/beacon/pkg/ctx"
	"github.com/beaconops/beacon/storage"

	"github.com/google/uuid"
	"github.com/toolkits/pkg/logger"
)

// ShieldStatusChecker sweeps the active alerts, refreshes their suppression
// verdict, routes unshielded ones through the assignment rules and emits
// unshield notifications when a suppression lifts mid-flight.
type ShieldStatusChecker struct {
	ctx           *ctx.Context
	engine        *econf.Engine
	redis         storage.Redis
	shielder      *shield.Shielder
	matchManager  *assign.MatchManager
	assignees     *assign.AssigneeManager
	strategyCache *memsto.StrategyCacheType
	stats         *estats.Stats
}

func New(ctx *ctx.Context, engine *econf.Engine, redis storage.Redis, shielder *shield.Shielder,
	matchManager *assign.MatchManager, assignees *assign.AssigneeManager,
	strategyCache *memsto.StrategyCacheType, stats *estats.Stats) *ShieldStatusChecker {
	return &ShieldStatusChecker{
		ctx:           ctx,
		engine:        engine,
		redis:         redis,
		shielder:      shielder,
		matchManager:  matchManager,
		assignees:     assignees,
		strategyCache: strategyCache,
		stats:         stats,
	}
}

// LoopCheck runs the sweep forever. The initial delay lets the memsto caches
// warm and avoids re-judging alerts another instance just handled.
func (c *ShieldStatusChecker) LoopCheck() {
	time.Sleep(time.Duration(c.engine.EngineDelay) * time.Second)

	interval := time.Duration(c.engine.CheckInterval) * time.Second
	for {
		start := time.Now()
		succ, fail := c.checkActive()
		logger.Infof("shield status check round done, succ: %d, fail: %d, cost: %dms",
			succ, fail, time.Since(start).Milliseconds())
		time.Sleep(interval)
	}
}

func (c *ShieldStatusChecker) checkActive() (int, int) {
	var succ, fail int

	for offset := 0; ; offset += c.engine.BatchSize {
		events, err := models.AlertEventGetsActive(c.ctx, c.engine.BatchSize, offset)
		if err != nil {
			logger.Errorf("failed to fetch active alerts at offset %d: %v", offset, err)
			break
		}
		if len(events) == 0 {
			break
		}

		s, f := c.CheckAll(events, time.Now())
		succ += s
		fail += f

		if len(events) < c.engine.BatchSize {
			break
		}
	}

	return succ, fail
}

// CheckAll evaluates one batch and pushes the resulting actions through the
// qos gate in a single pass.
func (c *ShieldStatusChecker) CheckAll(events []*models.AlertEvent, now time.Time) (int, int) {
	var succ, fail int
	var actions []*Action

	for i := 0; i < len(events); i++ {
		action, err := c.checkSafe(events[i], now)
		if err != nil {
			logger.Errorf("event(%d) shield status check failed: %v", events[i].Id, err)
			c.stats.CounterCheckTotal.WithLabelValues("fail").Inc()
			fail++
			continue
		}

		c.stats.CounterCheckTotal.WithLabelValues("ok").Inc()
		succ++
		if action != nil {
			actions = append(actions, action)
		}
	}

	c.PushActions(actions)
	return succ, fail
}

// checkSafe contains a panic in one alert's check so a poisoned record
// cannot take the whole sweep down.
func (c *ShieldStatusChecker) checkSafe(event *models.AlertEvent, now time.Time) (action *Action, err error) {
	defer func() {
		if r := recover(); r != nil {
			action = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.check(event, now)
}

func (c *ShieldStatusChecker) check(event *models.AlertEvent, now time.Time) (*Action, error) {
	verdict := c.shielder.Check(event, now)
	wasShielded := event.IsShielded == 1

	if verdict.Shielded {
		event.IsShielded = 1
		event.ShieldIdsJSON = verdict.ShieldIds
		event.ShieldLeftTime = verdict.LeftTime

		extra := event.Extra()
		extra.ShieldKind = verdict.Kind
		extra.NeedUnshield = true

		c.stats.CounterShieldedTotal.WithLabelValues(verdict.Kind).Inc()

		if !wasShielded {
			c.markShielded(event, now)
		}

		if err := event.UpdateShieldFields(c.ctx); err != nil {
			return nil, err
		}
		return nil, event.UpdateExtraState(c.ctx)
	}

	// not shielded: run assignment, then handle the unshield transition
	res, err := c.matchManager.Run(event, now.Unix())
	if err != nil {
		return nil, err
	}
	if err := c.matchManager.Apply(event, res); err != nil {
		return nil, err
	}

	return c.handleUnshield(event, res, wasShielded, now)
}

// handleUnshield clears the suppression columns after a shield lifts and
// emits the pending notification. An alert that is no longer shielded but
// still carries the NeedUnshield flag gets its one notification too, so a
// flag stranded by an earlier partial failure still drains.
func (c *ShieldStatusChecker) handleUnshield(event *models.AlertEvent, res *assign.MatchResult, wasShielded bool, now time.Time) (*Action, error) {
	if wasShielded {
		event.IsShielded = 0
		event.ShieldIdsJSON = []int64{}
		event.ShieldLeftTime = 0
		if err := event.UpdateShieldFields(c.ctx); err != nil {
			return nil, err
		}
	}

	if !event.Extra().NeedUnshield {
		return nil, nil
	}

	action := c.addUnshieldAction(event, res, now)

	event.Extra().NeedUnshield = false
	return action, event.UpdateExtraState(c.ctx)
}

// addUnshieldAction builds the unshield notification unless the alert's
// state says there is nothing to tell: suppression flags, quiet alerts in
// recovery, a missing notice relation, or a cycle record proving the last
// notification already announced the unshield.
func (c *ShieldStatusChecker) addUnshieldAction(event *models.AlertEvent, res *assign.MatchResult, now time.Time) *Action {
	extra := event.Extra()
	if !extra.NeedUnshield || extra.IgnoreUnshield {
		return nil
	}

	// a recovering alert is about to resolve, telling anyone now is noise
	if event.IsRecovering() {
		logger.Debugf("event(%d) recovering, skip unshield notify", event.Id)
		extra.IgnoreUnshield = true
		return nil
	}

	st := c.strategyCache.Get(event.StrategyId)
	if !st.HasNoticeRelation() {
		return nil
	}

	key := fmt.Sprintf("%d:%d", st.NoticeConfigId, st.NoticeRelationId)
	rec := c.cycleRecord(event, st, key)
	if rec != nil && !rec.IsShielded {
		// the last notification already announced the unshield
		return nil
	}

	mainGroups, _, has := c.assignees.Assignees(event, res, now.Unix())
	if !has {
		return nil
	}

	// the action carries the prior count, the record stores the increment
	execTimes := 0
	if rec != nil {
		execTimes = rec.ExecuteTimes
	}

	if extra.CycleRecords == nil {
		extra.CycleRecords = make(map[string]*models.CycleRecord)
	}
	extra.CycleRecords[key] = &models.CycleRecord{
		LastTime:          now.Unix(),
		IsShielded:        false,
		LatestAnomalyTime: event.LatestTime,
		ExecuteTimes:      execTimes + 1,
	}

	durable := &models.NotificationRecord{
		AlertId:      event.Id,
		ConfigId:     st.NoticeConfigId,
		RelationId:   st.NoticeRelationId,
		IsShielded:   0,
		ExecuteTimes: execTimes + 1,
		LastTime:     now.Unix(),
	}
	if err := durable.Add(c.ctx); err != nil {
		logger.Warningf("event(%d) failed to persist notification record: %v", event.Id, err)
	}

	return &Action{
		Id:         uuid.NewString(),
		AlertId:    event.Id,
		StrategyId: event.StrategyId,
		Signal:     SignalUnshield,
		ConfigId:   st.NoticeConfigId,
		RelationId: st.NoticeRelationId,
		Severity:   event.Severity,
		Content: map[string]interface{}{
			"alert_name":    event.Name,
			"shield_kind":   extra.ShieldKind,
			"user_groups":   mainGroups,
			"execute_times": execTimes,
		},
		CreateAt: now.Unix(),
	}
}

// markShielded flips the relation's cycle record back to shielded so the
// next lift of the shield is news again.
func (c *ShieldStatusChecker) markShielded(event *models.AlertEvent, now time.Time) {
	st := c.strategyCache.Get(event.StrategyId)
	if !st.HasNoticeRelation() {
		return
	}

	key := fmt.Sprintf("%d:%d", st.NoticeConfigId, st.NoticeRelationId)
	if rec, has := event.Extra().CycleRecords[key]; has {
		rec.IsShielded = true
		rec.LastTime = now.Unix()
	}
}

// cycleRecord returns the in-state record for the relation, falling back to
// the durable copy when the alert state predates cycle tracking.
func (c *ShieldStatusChecker) cycleRecord(event *models.AlertEvent, st *models.Strategy, key string) *models.CycleRecord {
	if rec, has := event.Extra().CycleRecords[key]; has {
		return rec
	}

	durable, err := models.LatestIntervalRecord(c.ctx, event.Id, st.NoticeConfigId, st.NoticeRelationId)
	if err != nil {
		logger.Warningf("event(%d) failed to load notification record: %v", event.Id, err)
		return nil
	}
	if durable == nil {
		return nil
	}

	return &models.CycleRecord{
		LastTime:          durable.LastTime,
		IsShielded:        durable.IsShielded == 1,
		LatestAnomalyTime: durable.LastTime,
		ExecuteTimes:      durable.ExecuteTimes,
	}
}

// PushActions runs the qos gate and enqueues the survivors. Dropped actions
// of one pass collapse into a single audit entry instead of one row each.
// An action whose counter cannot be read is dropped alone with a log line.
func (c *ShieldStatusChecker) PushActions(actions []*Action) {
	if len(actions) == 0 {
		return
	}

	var dropped []int64
	var maxCount int64

	for _, action := range actions {
		count, ok, err := c.qosAllow(action)
		if err != nil {
			logger.Errorf("event(%d) qos check failed, drop action %s: %v", action.AlertId, action.Id, err)
			continue
		}
		if !ok {
			dropped = append(dropped, action.AlertId)
			if count > maxCount {
				maxCount = count
			}
			c.stats.CounterQosDropTotal.Inc()
			continue
		}

		if !queue.ActionQueue.PushFront(action) {
			logger.Errorf("action queue full, drop action %s of alert %d", action.Id, action.AlertId)
		}
	}

	if len(dropped) > 0 {
		log := models.NewQosAlertLog(dropped, maxCount, len(dropped))
		if err := models.AlertLogBulkInsert(c.ctx, []*models.AlertLog{log}); err != nil {
			logger.Warningf("failed to write qos audit log: %v", err)
		}
	}
}

// qosAllow counts the action against its per alert and signal window.
func (c *ShieldStatusChecker) qosAllow(action *Action) (int64, bool, error) {
	key := common.QosKey(action.AlertId, action.Signal)

	count, err := c.redis.Incr(c.ctx.Ctx, key).Result()
	if err != nil {
		return 0, false, err
	}

	if count == 1 {
		window := time.Duration(c.engine.QosWindowSeconds) * time.Second
		if err := c.redis.Expire(c.ctx.Ctx, key, window).Err(); err != nil {
			logger.Warningf("qos counter %s expire failed: %v", key, err)
		}
	}

	return count, count <= c.engine.QosThreshold, nil
}
