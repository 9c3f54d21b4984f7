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

type CorrelationRuleCacheType struct {
	statTotal       int64
	statLastUpdated int64
	ctx             *ctx.Context
	stats           *Stats

	sync.RWMutex
	rules []*models.CorrelationRule
}

func NewCorrelationRuleCache(ctx *ctx.Context, stats *Stats) *CorrelationRuleCacheType {
	cc := &CorrelationRuleCacheType{
		statTotal:       -1,
		statLastUpdated: -1,
		ctx:             ctx,
		stats:           stats,
	}
	cc.SyncCorrelationRules()
	return cc
}

func (cc *CorrelationRuleCacheType) StatChanged(total, lastUpdated int64) bool {
	if cc.statTotal == total && cc.statLastUpdated == lastUpdated {
		return false
	}

	return true
}

func (cc *CorrelationRuleCacheType) Set(lst []*models.CorrelationRule, total, lastUpdated int64) {
	cc.Lock()
	cc.rules = lst
	cc.Unlock()

	// only one goroutine used, so no need lock
	cc.statTotal = total
	cc.statLastUpdated = lastUpdated
}

func (cc *CorrelationRuleCacheType) Gets() []*models.CorrelationRule {
	cc.RLock()
	defer cc.RUnlock()
	return cc.rules
}

func (cc *CorrelationRuleCacheType) SyncCorrelationRules() {
	err := cc.syncCorrelationRules()
	if err != nil {
		fmt.Println("failed to sync correlation rules:", err)
		exit(1)
	}

	go cc.loopSyncCorrelationRules()
}

func (cc *CorrelationRuleCacheType) loopSyncCorrelationRules() {
	duration := time.Duration(9000) * time.Millisecond
	for {
		time.Sleep(duration)
		if err := cc.syncCorrelationRules(); err != nil {
			logger.Warning("failed to sync correlation rules:", err)
		}
	}
}

func (cc *CorrelationRuleCacheType) syncCorrelationRules() error {
	start := time.Now()

	stat, err := models.CorrelationRuleStatistics(cc.ctx)
	if err != nil {
		return errors.WithMessage(err, "failed to exec CorrelationRuleStatistics")
	}

	if !cc.StatChanged(stat.Total, stat.LastUpdated) {
		cc.stats.GaugeCronDuration.WithLabelValues("sync_correlation_rules").Set(0)
		cc.stats.GaugeSyncNumber.WithLabelValues("sync_correlation_rules").Set(0)
		return nil
	}

	lst, err := models.CorrelationRuleGetsAll(cc.ctx)
	if err != nil {
		return errors.WithMessage(err, "failed to exec CorrelationRuleGetsAll")
	}

	oks := make([]*models.CorrelationRule, 0, len(lst))
	for i := 0; i < len(lst); i++ {
		if err = lst[i].Parse(); err != nil {
			logger.Warningf("failed to parse correlation_rule, id: %d", lst[i].Id)
			continue
		}
		oks = append(oks, lst[i])
	}

	cc.Set(oks, stat.Total, stat.LastUpdated)

	ms := time.Since(start).Milliseconds()
	cc.stats.GaugeCronDuration.WithLabelValues("sync_correlation_rules").Set(float64(ms))
	cc.stats.GaugeSyncNumber.WithLabelValues("sync_correlation_rules").Set(float64(len(oks)))
	logger.Infof("timer: sync correlation rules done, cost: %dms, number: %d", ms, len(oks))

	return nil
}
