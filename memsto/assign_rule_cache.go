package memsto

import (
	"fmt"
	"sync"
	"time"

	"github.com/beaconops/beacon/models"
	"github.com/beaconops/beacon/pkg/ctx"

	"github.com/pkg/errors"
	"github.com/toolkits/pkg/logger"
)

// RuleGroup is one scan unit of the dispatcher: a prioritized group and its
// enabled rules. Groups are kept in scan order, highest priority first.
type RuleGroup struct {
	Group *models.AssignGroup
	Rules []*models.AssignRule
}

type AssignRuleCacheType struct {
	statTotal       int64
	statLastUpdated int64
	ctx             *ctx.Context
	stats           *Stats

	sync.RWMutex
	groups map[int64][]*RuleGroup // key: busi_group_id
}

func NewAssignRuleCache(ctx *ctx.Context, stats *Stats) *AssignRuleCacheType {
	ac := &AssignRuleCacheType{
		statTotal:       -1,
		statLastUpdated: -1,
		ctx:             ctx,
		stats:           stats,
		groups:          make(map[int64][]*RuleGroup),
	}
	ac.SyncAssignRules()
	return ac
}

func (ac *AssignRuleCacheType) StatChanged(total, lastUpdated int64) bool {
	if ac.statTotal == total && ac.statLastUpdated == lastUpdated {
		return false
	}

	return true
}

func (ac *AssignRuleCacheType) Set(m map[int64][]*RuleGroup, total, lastUpdated int64) {
	ac.Lock()
	ac.groups = m
	ac.Unlock()

	// only one goroutine used, so no need lock
	ac.statTotal = total
	ac.statLastUpdated = lastUpdated
}

// Gets returns the rule groups of one busi group in scan order.
func (ac *AssignRuleCacheType) Gets(bgid int64) []*RuleGroup {
	ac.RLock()
	defer ac.RUnlock()
	return ac.groups[bgid]
}

func (ac *AssignRuleCacheType) SyncAssignRules() {
	err := ac.syncAssignRules()
	if err != nil {
		fmt.Println("failed to sync assign rules:", err)
		exit(1)
	}

	go ac.loopSyncAssignRules()
}

func (ac *AssignRuleCacheType) loopSyncAssignRules() {
	duration := time.Duration(9000) * time.Millisecond
	for {
		time.Sleep(duration)
		if err := ac.syncAssignRules(); err != nil {
			logger.Warning("failed to sync assign rules:", err)
		}
	}
}

func (ac *AssignRuleCacheType) syncAssignRules() error {
	start := time.Now()

	ruleStat, err := models.AssignRuleStatistics(ac.ctx)
	if err != nil {
		return errors.WithMessage(err, "failed to exec AssignRuleStatistics")
	}

	groupStat, err := models.AssignGroupStatistics(ac.ctx)
	if err != nil {
		return errors.WithMessage(err, "failed to exec AssignGroupStatistics")
	}

	total := ruleStat.Total + groupStat.Total
	lastUpdated := ruleStat.LastUpdated
	if groupStat.LastUpdated > lastUpdated {
		lastUpdated = groupStat.LastUpdated
	}

	if !ac.StatChanged(total, lastUpdated) {
		ac.stats.GaugeCronDuration.WithLabelValues("sync_assign_rules").Set(0)
		ac.stats.GaugeSyncNumber.WithLabelValues("sync_assign_rules").Set(0)
		return nil
	}

	groupLst, err := models.AssignGroupGetsAll(ac.ctx)
	if err != nil {
		return errors.WithMessage(err, "failed to exec AssignGroupGetsAll")
	}

	ruleLst, err := models.AssignRuleGetsAll(ac.ctx)
	if err != nil {
		return errors.WithMessage(err, "failed to exec AssignRuleGetsAll")
	}

	rulesByGroup := make(map[int64][]*models.AssignRule)
	for i := 0; i < len(ruleLst); i++ {
		if err = ruleLst[i].Parse(); err != nil {
			logger.Warningf("failed to parse assign_rule, id: %d", ruleLst[i].Id)
			continue
		}
		rulesByGroup[ruleLst[i].AssignGroupId] = append(rulesByGroup[ruleLst[i].AssignGroupId], ruleLst[i])
	}

	// groupLst is already ordered priority desc, append order keeps it
	oks := make(map[int64][]*RuleGroup)
	for i := 0; i < len(groupLst); i++ {
		g := groupLst[i]
		oks[g.GroupId] = append(oks[g.GroupId], &RuleGroup{
			Group: g,
			Rules: rulesByGroup[g.Id],
		})
	}

	ac.Set(oks, total, lastUpdated)

	ms := time.Since(start).Milliseconds()
	ac.stats.GaugeCronDuration.WithLabelValues("sync_assign_rules").Set(float64(ms))
	ac.stats.GaugeSyncNumber.WithLabelValues("sync_assign_rules").Set(float64(len(ruleLst)))
	logger.Infof("timer: sync assign rules done, cost: %dms, groups: %d, rules: %d", ms, len(groupLst), len(ruleLst))

	return nil
}
