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

type ShieldCacheType struct {
	statTotal       int64
	statLastUpdated int64
	ctx             *ctx.Context
	stats           *Stats

	sync.RWMutex
	shields map[int64][]*models.ShieldConfig // key: busi_group_id
}

func NewShieldCache(ctx *ctx.Context, stats *Stats) *ShieldCacheType {
	sc := &ShieldCacheType{
		statTotal:       -1,
		statLastUpdated: -1,
		ctx:             ctx,
		stats:           stats,
		shields:         make(map[int64][]*models.ShieldConfig),
	}
	sc.SyncShields()
	return sc
}

func (sc *ShieldCacheType) StatChanged(total, lastUpdated int64) bool {
	if sc.statTotal == total && sc.statLastUpdated == lastUpdated {
		return false
	}

	return true
}

func (sc *ShieldCacheType) Set(m map[int64][]*models.ShieldConfig, total, lastUpdated int64) {
	sc.Lock()
	sc.shields = m
	sc.Unlock()

	// only one goroutine used, so no need lock
	sc.statTotal = total
	sc.statLastUpdated = lastUpdated
}

// Gets returns the active shield configs of one busi group. The second
// return value distinguishes "no configs" from "group unknown".
func (sc *ShieldCacheType) Gets(bgid int64) ([]*models.ShieldConfig, bool) {
	sc.RLock()
	defer sc.RUnlock()
	lst, has := sc.shields[bgid]
	return lst, has
}

func (sc *ShieldCacheType) SyncShields() {
	err := sc.syncShields()
	if err != nil {
		fmt.Println("failed to sync shield configs:", err)
		exit(1)
	}

	go sc.loopSyncShields()
}

func (sc *ShieldCacheType) loopSyncShields() {
	duration := time.Duration(9000) * time.Millisecond
	for {
		time.Sleep(duration)
		if err := sc.syncShields(); err != nil {
			logger.Warning("failed to sync shield configs:", err)
		}
	}
}

func (sc *ShieldCacheType) syncShields() error {
	start := time.Now()

	stat, err := models.ShieldConfigStatistics(sc.ctx)
	if err != nil {
		return errors.WithMessage(err, "failed to exec ShieldConfigStatistics")
	}

	if !sc.StatChanged(stat.Total, stat.LastUpdated) {
		sc.stats.GaugeCronDuration.WithLabelValues("sync_shield_configs").Set(0)
		sc.stats.GaugeSyncNumber.WithLabelValues("sync_shield_configs").Set(0)
		return nil
	}

	lst, err := models.ShieldConfigGetsAll(sc.ctx)
	if err != nil {
		return errors.WithMessage(err, "failed to exec ShieldConfigGetsAll")
	}

	oks := make(map[int64][]*models.ShieldConfig)
	for i := 0; i < len(lst); i++ {
		if err = lst[i].Parse(); err != nil {
			logger.Warningf("failed to parse shield_config, id: %d", lst[i].Id)
			continue
		}

		oks[lst[i].GroupId] = append(oks[lst[i].GroupId], lst[i])
	}

	sc.Set(oks, stat.Total, stat.LastUpdated)

	ms := time.Since(start).Milliseconds()
	sc.stats.GaugeCronDuration.WithLabelValues("sync_shield_configs").Set(float64(ms))
	sc.stats.GaugeSyncNumber.WithLabelValues("sync_shield_configs").Set(float64(len(lst)))
	logger.Infof("timer: sync shield configs done, cost: %dms, number: %d", ms, len(lst))

	return nil
}
