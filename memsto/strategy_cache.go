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

type StrategyCacheType struct {
	statTotal       int64
	statLastUpdated int64
	ctx             *ctx.Context
	stats           *Stats

	sync.RWMutex
	strategies map[int64]*models.Strategy // key: strategy id
}

func NewStrategyCache(ctx *ctx.Context, stats *Stats) *StrategyCacheType {
	stc := &StrategyCacheType{
		statTotal:       -1,
		statLastUpdated: -1,
		ctx:             ctx,
		stats:           stats,
		strategies:      make(map[int64]*models.Strategy),
	}
	stc.SyncStrategies()
	return stc
}

func (stc *StrategyCacheType) StatChanged(total, lastUpdated int64) bool {
	if stc.statTotal == total && stc.statLastUpdated == lastUpdated {
		return false
	}

	return true
}

func (stc *StrategyCacheType) Set(m map[int64]*models.Strategy, total, lastUpdated int64) {
	stc.Lock()
	stc.strategies = m
	stc.Unlock()

	// only one goroutine used, so no need lock
	stc.statTotal = total
	stc.statLastUpdated = lastUpdated
}

func (stc *StrategyCacheType) Get(id int64) *models.Strategy {
	stc.RLock()
	defer stc.RUnlock()
	return stc.strategies[id]
}

func (stc *StrategyCacheType) SyncStrategies() {
	err := stc.syncStrategies()
	if err != nil {
		fmt.Println("failed to sync strategies:", err)
		exit(1)
	}

	go stc.loopSyncStrategies()
}

func (stc *StrategyCacheType) loopSyncStrategies() {
	duration := time.Duration(9000) * time.Millisecond
	for {
		time.Sleep(duration)
		if err := stc.syncStrategies(); err != nil {
			logger.Warning("failed to sync strategies:", err)
		}
	}
}

func (stc *StrategyCacheType) syncStrategies() error {
	start := time.Now()

	stat, err := models.StrategyStatistics(stc.ctx)
	if err != nil {
		return errors.WithMessage(err, "failed to exec StrategyStatistics")
	}

	if !stc.StatChanged(stat.Total, stat.LastUpdated) {
		stc.stats.GaugeCronDuration.WithLabelValues("sync_strategies").Set(0)
		stc.stats.GaugeSyncNumber.WithLabelValues("sync_strategies").Set(0)
		return nil
	}

	lst, err := models.StrategyGetsAll(stc.ctx)
	if err != nil {
		return errors.WithMessage(err, "failed to exec StrategyGetsAll")
	}

	m := make(map[int64]*models.Strategy, len(lst))
	for i := 0; i < len(lst); i++ {
		if err = lst[i].Parse(); err != nil {
			logger.Warningf("failed to parse strategy, id: %d", lst[i].Id)
			continue
		}
		m[lst[i].Id] = lst[i]
	}

	stc.Set(m, stat.Total, stat.LastUpdated)

	ms := time.Since(start).Milliseconds()
	stc.stats.GaugeCronDuration.WithLabelValues("sync_strategies").Set(float64(ms))
	stc.stats.GaugeSyncNumber.WithLabelValues("sync_strategies").Set(float64(len(lst)))
	logger.Infof("timer: sync strategies done, cost: %dms, number: %d", ms, len(lst))

	return nil
}
