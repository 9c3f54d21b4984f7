package engine

import (
	"context"
	"fmt"

	"github.com/beaconops/beacon/conf"
	"github.com/beaconops/beacon/engine/assign"
	"github.com/beaconops/beacon/engine/checker"
	"github.com/beaconops/beacon/engine/estats"
	"github.com/beaconops/beacon/engine/queue"
	"github.com/beaconops/beacon/engine/shield"
	"github.com/beaconops/beacon/memsto"
	"github.com/beaconops/beacon/pkg/ctx"
	"github.com/beaconops/beacon/pkg/logx"
	"github.com/beaconops/beacon/pkg/ormx"
	"github.com/beaconops/beacon/storage"
)

// Initialize wires the engine together: config, logging, storage, the memsto
// caches and the background check loop.
func Initialize(configDir string) (func(), error) {
	config, err := conf.InitConfig(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to init config: %v", err)
	}

	logxClean, err := logx.Init(config.Log)
	if err != nil {
		return nil, err
	}

	db, err := ormx.New(config.DB)
	if err != nil {
		return nil, err
	}
	c := ctx.NewContext(context.Background(), db)

	redis, err := storage.NewRedis(config.Redis)
	if err != nil {
		return nil, err
	}

	cacheStats := memsto.NewCacheStats()
	engineStats := estats.NewEngineStats()

	shieldCache := memsto.NewShieldCache(c, cacheStats)
	correlationCache := memsto.NewCorrelationRuleCache(c, cacheStats)
	assignCache := memsto.NewAssignRuleCache(c, cacheStats)
	targetCache := memsto.NewTargetCache(c, cacheStats)
	strategyCache := memsto.NewStrategyCache(c, cacheStats)

	snapshots := shield.NewSnapshotCache(redis, config.Engine.SnapshotTTLSeconds)
	shielder := shield.New(c, &config.Engine, shieldCache, targetCache, correlationCache, snapshots)

	matchManager := assign.NewMatchManager(c, assignCache, targetCache, strategyCache, engineStats)
	assignees := assign.NewAssigneeManager(strategyCache)

	chk := checker.New(c, &config.Engine, redis, shielder, matchManager, assignees, strategyCache, engineStats)
	go chk.LoopCheck()
	go queue.ReportQueueSize(engineStats)

	return logxClean, nil
}
