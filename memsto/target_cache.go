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

type TargetCacheType struct {
	statTotal       int64
	statLastUpdated int64
	ctx             *ctx.Context
	stats           *Stats

	sync.RWMutex
	targets map[string]*models.Target // key: ident
	byAddr  map[string]*models.Target // key: ip|cloud_id
}

func NewTargetCache(ctx *ctx.Context, stats *Stats) *TargetCacheType {
	tc := &TargetCacheType{
		statTotal:       -1,
		statLastUpdated: -1,
		ctx:             ctx,
		stats:           stats,
		targets:         make(map[string]*models.Target),
		byAddr:          make(map[string]*models.Target),
	}
	tc.SyncTargets()
	return tc
}

func (tc *TargetCacheType) StatChanged(total, lastUpdated int64) bool {
	if tc.statTotal == total && tc.statLastUpdated == lastUpdated {
		return false
	}

	return true
}

func (tc *TargetCacheType) Set(m map[string]*models.Target, addr map[string]*models.Target, total, lastUpdated int64) {
	tc.Lock()
	tc.targets = m
	tc.byAddr = addr
	tc.Unlock()

	// only one goroutine used, so no need lock
	tc.statTotal = total
	tc.statLastUpdated = lastUpdated
}

func (tc *TargetCacheType) Get(ident string) (*models.Target, bool) {
	tc.RLock()
	defer tc.RUnlock()
	t, has := tc.targets[ident]
	return t, has
}

func addrKey(ip, cloudId string) string {
	return ip + "|" + cloudId
}

// GetByIpAndCloudId resolves a host by its address pair. On a cache miss it
// falls back to the live directory, so a freshly enrolled host is still
// visible before the next sync tick.
func (tc *TargetCacheType) GetByIpAndCloudId(ip, cloudId string) (*models.Target, bool) {
	tc.RLock()
	t, has := tc.byAddr[addrKey(ip, cloudId)]
	tc.RUnlock()
	if has {
		return t, true
	}

	t, err := models.TargetGetByIpAndCloudId(tc.ctx, ip, cloudId)
	if err != nil {
		logger.Warningf("failed to query target by addr %s|%s: %v", ip, cloudId, err)
		return nil, false
	}
	if t == nil {
		return nil, false
	}

	tc.Lock()
	tc.byAddr[addrKey(ip, cloudId)] = t
	if t.Ident != "" {
		tc.targets[t.Ident] = t
	}
	tc.Unlock()

	return t, true
}

func (tc *TargetCacheType) SyncTargets() {
	err := tc.syncTargets()
	if err != nil {
		fmt.Println("failed to sync targets:", err)
		exit(1)
	}

	go tc.loopSyncTargets()
}

func (tc *TargetCacheType) loopSyncTargets() {
	duration := time.Duration(9000) * time.Millisecond
	for {
		time.Sleep(duration)
		if err := tc.syncTargets(); err != nil {
			logger.Warning("failed to sync targets:", err)
		}
	}
}

func (tc *TargetCacheType) syncTargets() error {
	start := time.Now()

	stat, err := models.TargetStatistics(tc.ctx)
	if err != nil {
		return errors.WithMessage(err, "failed to exec TargetStatistics")
	}

	if !tc.StatChanged(stat.Total, stat.LastUpdated) {
		tc.stats.GaugeCronDuration.WithLabelValues("sync_targets").Set(0)
		tc.stats.GaugeSyncNumber.WithLabelValues("sync_targets").Set(0)
		return nil
	}

	lst, err := models.TargetGetsAll(tc.ctx)
	if err != nil {
		return errors.WithMessage(err, "failed to exec TargetGetsAll")
	}

	m := make(map[string]*models.Target, len(lst))
	addr := make(map[string]*models.Target, len(lst))
	for i := 0; i < len(lst); i++ {
		if lst[i].Ident != "" {
			m[lst[i].Ident] = lst[i]
		}
		if lst[i].Ip != "" {
			addr[addrKey(lst[i].Ip, lst[i].CloudId)] = lst[i]
		}
	}

	tc.Set(m, addr, stat.Total, stat.LastUpdated)

	ms := time.Since(start).Milliseconds()
	tc.stats.GaugeCronDuration.WithLabelValues("sync_targets").Set(float64(ms))
	tc.stats.GaugeSyncNumber.WithLabelValues("sync_targets").Set(float64(len(lst)))
	logger.Infof("timer: sync targets done, cost: %dms, number: %d", ms, len(lst))

	return nil
}
