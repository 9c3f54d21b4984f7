package shield

import (
	"fmt"
	"sort"
	"time"

	"github.com/beaconops/beacon/engine/common"
	"github.com/beaconops/beacon/engine/econf"
	"github.com/beaconops/beacon/memsto"
	"github.com/beaconops/beacon/models"
	"github.com/beaconops/beacon/pkg/ctx"

	"github.com/toolkits/pkg/logger"
	"golang.org/x/sync/singleflight"
)

// Shield kinds, in check priority order. The first matching kind is terminal.
const (
	KindGlobal   = "global"
	KindHost     = "host"
	KindConfig   = "config"
	KindIncident = "incident"
)

// Verdict is the outcome of one suppression check. ShieldIds is only
// populated for config shields and is ordered by remaining time, longest
// first. LeftTime is 0 for shields without a bounded window.
type Verdict struct {
	Shielded  bool
	Kind      string
	ShieldIds []int64
	LeftTime  int64
	Detail    string
}

type Shielder struct {
	ctx              *ctx.Context
	engine           *econf.Engine
	shieldCache      *memsto.ShieldCacheType
	targetCache      *memsto.TargetCacheType
	correlationCache *memsto.CorrelationRuleCacheType
	snapshots        *SnapshotCache

	sf singleflight.Group
}

func New(ctx *ctx.Context, engine *econf.Engine, shieldCache *memsto.ShieldCacheType,
	targetCache *memsto.TargetCacheType, correlationCache *memsto.CorrelationRuleCacheType,
	snapshots *SnapshotCache) *Shielder {
	return &Shielder{
		ctx:              ctx,
		engine:           engine,
		shieldCache:      shieldCache,
		targetCache:      targetCache,
		correlationCache: correlationCache,
		snapshots:        snapshots,
	}
}

// Check walks the shield kinds in priority order and returns the first match.
// A non-shielded verdict has Shielded false and empty fields.
func (s *Shielder) Check(event *models.AlertEvent, now time.Time) *Verdict {
	if v := s.globalShielded(); v != nil {
		return v
	}

	if v := s.hostShielded(event); v != nil {
		return v
	}

	dims := common.EventDims(event)

	if v := s.configShielded(event, dims, now); v != nil {
		return v
	}

	if v := s.incidentShielded(dims); v != nil {
		return v
	}

	return &Verdict{}
}

func (s *Shielder) globalShielded() *Verdict {
	if s.engine == nil || !s.engine.GlobalShield {
		return nil
	}
	return &Verdict{
		Shielded: true,
		Kind:     KindGlobal,
		Detail:   "shielded by global switch",
	}
}

func (s *Shielder) hostShielded(event *models.AlertEvent) *Verdict {
	ip, cloudId := event.TargetIp, event.CloudId

	if event.TargetType != models.TargetTypeHost {
		// container alerts aggregated on host dimensions still resolve a host
		if len(event.Extra().AggDimensions) == 0 {
			return nil
		}
		dims := event.DimensionsMap()
		ip = dims["ip"]
		cloudId = dims["cloud_id"]
		if ip == "" {
			return nil
		}
	}

	var target *models.Target
	if event.TargetIdent != "" {
		target, _ = s.targetCache.Get(event.TargetIdent)
	}
	if target == nil && ip != "" {
		target, _ = s.targetCache.GetByIpAndCloudId(ip, cloudId)
	}

	if target == nil {
		if event.TargetType == models.TargetTypeHost {
			logger.Warningf("event(%d) host %s/%s not found in asset directory", event.Id, event.TargetIdent, ip)
		}
		return nil
	}
	if !target.Suppressed() {
		return nil
	}

	return &Verdict{
		Shielded: true,
		Kind:     KindHost,
		Detail:   fmt.Sprintf("host %s flagged no-alert in asset directory", target.Ident),
	}
}

func (s *Shielder) configShielded(event *models.AlertEvent, dims map[string]interface{}, now time.Time) *Verdict {
	configs, has := s.shieldCache.Gets(event.GroupId)
	if !has || len(configs) == 0 {
		return nil
	}

	// without a strategy id the snapshot key is not unique, evaluate directly
	if event.StrategyId == 0 {
		return s.verdictOf(s.matchConfigs(configs, dims, now), now)
	}

	key := common.ShieldSnapshotKey(event.StrategyId, event.Id)

	var matched []*models.ShieldConfig
	if ids, ok := s.snapshots.Get(s.ctx.Ctx, key); ok {
		// snapshot hit: only the previously matched configs are candidates,
		// each still has to be inside its shield window
		idset := make(map[int64]struct{}, len(ids))
		for i := 0; i < len(ids); i++ {
			idset[ids[i]] = struct{}{}
		}
		for i := 0; i < len(configs); i++ {
			if _, in := idset[configs[i].Id]; in && configs[i].Active(now) {
				matched = append(matched, configs[i])
			}
		}
	} else {
		// singleflight so concurrent checks of one alert evaluate once
		v, _, _ := s.sf.Do(key, func() (interface{}, error) {
			m := s.matchConfigs(configs, dims, now)

			ids := make([]int64, 0, len(m))
			for i := 0; i < len(m); i++ {
				ids = append(ids, m[i].Id)
			}
			s.snapshots.Set(s.ctx.Ctx, key, ids)

			return m, nil
		})
		matched, _ = v.([]*models.ShieldConfig)
	}

	return s.verdictOf(matched, now)
}

func (s *Shielder) matchConfigs(configs []*models.ShieldConfig, dims map[string]interface{}, now time.Time) []*models.ShieldConfig {
	var m []*models.ShieldConfig
	for i := 0; i < len(configs); i++ {
		if configs[i].Active(now) && common.MatchCondGroups(dims, configs[i].CondGroups, true) {
			m = append(m, configs[i])
		}
	}
	return m
}

func (s *Shielder) verdictOf(matched []*models.ShieldConfig, now time.Time) *Verdict {
	if len(matched) == 0 {
		return nil
	}

	// the singleflight result is shared between callers, sort a copy
	m := make([]*models.ShieldConfig, len(matched))
	copy(m, matched)
	sort.SliceStable(m, func(i, j int) bool {
		return m[i].LeftTime(now) > m[j].LeftTime(now)
	})

	ids := make([]int64, 0, len(m))
	for i := 0; i < len(m); i++ {
		ids = append(ids, m[i].Id)
	}

	return &Verdict{
		Shielded:  true,
		Kind:      KindConfig,
		ShieldIds: ids,
		LeftTime:  m[0].LeftTime(now),
		Detail:    fmt.Sprintf("shielded by %d config(s)", len(m)),
	}
}

func (s *Shielder) incidentShielded(dims map[string]interface{}) *Verdict {
	rules := s.correlationCache.Gets()
	for i := 0; i < len(rules); i++ {
		if common.MatchCondGroups(dims, rules[i].CondGroups, true) {
			return &Verdict{
				Shielded: true,
				Kind:     KindIncident,
				Detail:   rules[i].Reason(),
			}
		}
	}
	return nil
}

