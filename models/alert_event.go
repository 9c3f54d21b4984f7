package models

import (
	"strings"
	"time"

	"github.com/beaconops/beacon/pkg/ctx"

	jsoniter "github.com/json-iterator/go"
	"github.com/toolkits/pkg/logger"
)

const (
	StatusFiring     = "firing"
	StatusRecovering = "recovering"
	StatusResolved   = "resolved"

	TargetTypeHost = "HOST"
)

type DimensionPair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RuleSnap is the cached content of an assignment rule the alert matched on a
// previous pass. It drives skip-on-unchanged matching and escalation state.
type RuleSnap struct {
	Id              int64   `json:"id"`
	Hash            string  `json:"hash"`
	UserGroups      []int64 `json:"user_groups"`
	LastGroupIndex  *int    `json:"last_group_index,omitempty"`
	LastUpgradeTime int64   `json:"last_upgrade_time,omitempty"`
}

// EscalationState tracks the default-notice escalation rotation.
type EscalationState struct {
	LastGroupIndex  *int  `json:"last_group_index,omitempty"`
	LastUpgradeTime int64 `json:"last_upgrade_time"`
}

// CycleRecord is the per notification-relation de-duplication state consulted
// before emitting another unshield notification.
type CycleRecord struct {
	LastTime          int64 `json:"last_time"`
	IsShielded        bool  `json:"is_shielded"`
	LatestAnomalyTime int64 `json:"latest_anomaly_time"`
	ExecuteTimes      int   `json:"execute_times"`
}

// ExtraState is the typed per-alert state blob persisted alongside the alert.
// It replaces a free-form key/value bag so the full state surface is explicit.
type ExtraState struct {
	SeveritySource string                  `json:"severity_source,omitempty"`
	OriginSeverity int                     `json:"origin_severity,omitempty"`
	IgnoreUnshield bool                    `json:"ignore_unshield,omitempty"`
	NeedUnshield   bool                    `json:"need_unshield,omitempty"`
	ShieldKind     string                  `json:"shield_kind,omitempty"`
	AggDimensions  []string                `json:"agg_dimensions,omitempty"`
	RuleSnaps      map[string]*RuleSnap    `json:"rule_snaps,omitempty"`
	Escalation     *EscalationState        `json:"escalation,omitempty"`
	CycleRecords   map[string]*CycleRecord `json:"cycle_records,omitempty"`
}

type AlertEvent struct {
	Id             int64  `json:"id" gorm:"primaryKey"`
	StrategyId     int64  `json:"strategy_id"`
	GroupId        int64  `json:"group_id"` // busi group id
	Name           string `json:"name"`
	EventSource    string `json:"event_source"`
	Scenario       string `json:"scenario"`
	Severity       int    `json:"severity"` // 1: critical, bigger is milder
	Status         string `json:"status"`   // firing / recovering / resolved
	TargetType     string `json:"target_type"`
	TargetIdent    string `json:"target_ident"`
	TargetIp       string `json:"target_ip"`
	CloudId        string `json:"cloud_id"`
	TriggerTime    int64  `json:"trigger_time"`
	LatestTime     int64  `json:"latest_time"`
	RecoverTime    int64  `json:"recover_time"`
	Metrics        string `json:"-" gorm:"metrics"`
	MetricsJSON    []string `json:"metrics" gorm:"-"`
	Labels         string   `json:"-" gorm:"labels"`
	LabelsJSON     []string `json:"labels" gorm:"-"`
	Dimensions     string          `json:"-" gorm:"dimensions"`
	DimensionsJSON []DimensionPair `json:"dimensions" gorm:"-"`
	EventTags      string          `json:"-" gorm:"event_tags"`
	EventTagsJSON  []DimensionPair `json:"event_tags" gorm:"-"`
	AssignTags     string          `json:"-" gorm:"assign_tags"`
	AssignTagsJSON []DimensionPair `json:"assign_tags" gorm:"-"`
	IsShielded     int     `json:"is_shielded"` // 0: no, 1: yes
	ShieldIds      string  `json:"-" gorm:"shield_ids"`
	ShieldIdsJSON  []int64 `json:"shield_ids" gorm:"-"`
	ShieldLeftTime int64   `json:"shield_left_time"`
	ExtraState     string      `json:"-" gorm:"extra_state"`
	ExtraStateObj  *ExtraState `json:"extra_state" gorm:"-"`
	UpdateAt       int64       `json:"update_at"`
}

func (e *AlertEvent) TableName() string {
	return "alert_event"
}

var extraStateJson = jsoniter.ConfigCompatibleWithStandardLibrary

func (e *AlertEvent) DB2FE() {
	e.MetricsJSON = strings.Fields(e.Metrics)
	e.LabelsJSON = strings.Fields(e.Labels)
	extraStateJson.UnmarshalFromString(e.Dimensions, &e.DimensionsJSON)
	extraStateJson.UnmarshalFromString(e.EventTags, &e.EventTagsJSON)
	extraStateJson.UnmarshalFromString(e.AssignTags, &e.AssignTagsJSON)
	extraStateJson.UnmarshalFromString(e.ShieldIds, &e.ShieldIdsJSON)

	e.ExtraStateObj = &ExtraState{}
	if e.ExtraState != "" {
		if err := extraStateJson.UnmarshalFromString(e.ExtraState, e.ExtraStateObj); err != nil {
			logger.Warningf("event(%d) failed to unmarshal extra state: %v", e.Id, err)
		}
	}
}

func (e *AlertEvent) FE2DB() error {
	e.Metrics = strings.Join(e.MetricsJSON, " ")
	e.Labels = strings.Join(e.LabelsJSON, " ")

	var err error
	if e.Dimensions, err = extraStateJson.MarshalToString(e.DimensionsJSON); err != nil {
		return err
	}
	if e.EventTags, err = extraStateJson.MarshalToString(e.EventTagsJSON); err != nil {
		return err
	}
	if e.AssignTags, err = extraStateJson.MarshalToString(e.AssignTagsJSON); err != nil {
		return err
	}
	if e.ShieldIds, err = extraStateJson.MarshalToString(e.ShieldIdsJSON); err != nil {
		return err
	}
	if e.ExtraStateObj != nil {
		if e.ExtraState, err = extraStateJson.MarshalToString(e.ExtraStateObj); err != nil {
			return err
		}
	}
	return nil
}

// Extra returns the typed state blob, allocating it on first use.
func (e *AlertEvent) Extra() *ExtraState {
	if e.ExtraStateObj == nil {
		e.ExtraStateObj = &ExtraState{}
	}
	return e.ExtraStateObj
}

func (e *AlertEvent) IsFiring() bool {
	return e.Status == StatusFiring
}

// IsRecovering reports whether the alert sits in the recovery grace period:
// anomalies stopped arriving but the alert has not been resolved yet.
func (e *AlertEvent) IsRecovering() bool {
	return e.Status == StatusRecovering
}

// Duration is the wall-clock seconds since the alert first fired.
func (e *AlertEvent) Duration(now int64) int64 {
	if e.TriggerTime == 0 || now < e.TriggerTime {
		return 0
	}
	return now - e.TriggerTime
}

// DimensionsMap flattens the tagged dimensions, stripping a "tags." prefix.
func (e *AlertEvent) DimensionsMap() map[string]string {
	m := make(map[string]string, len(e.DimensionsJSON))
	for i := 0; i < len(e.DimensionsJSON); i++ {
		key := strings.TrimPrefix(e.DimensionsJSON[i].Key, "tags.")
		m[key] = e.DimensionsJSON[i].Value
	}
	return m
}

// UpdateShieldFields merges only the suppression verdict columns.
func (e *AlertEvent) UpdateShieldFields(c *ctx.Context) error {
	var err error
	if e.ShieldIds, err = extraStateJson.MarshalToString(e.ShieldIdsJSON); err != nil {
		return err
	}

	e.UpdateAt = time.Now().Unix()
	return DB(c).Model(e).Updates(map[string]interface{}{
		"is_shielded":      e.IsShielded,
		"shield_ids":       e.ShieldIds,
		"shield_left_time": e.ShieldLeftTime,
		"update_at":        e.UpdateAt,
	}).Error
}

// UpdateSeverityAndState merges the routing verdict columns.
func (e *AlertEvent) UpdateSeverityAndState(c *ctx.Context) error {
	var err error
	if e.ExtraStateObj != nil {
		if e.ExtraState, err = extraStateJson.MarshalToString(e.ExtraStateObj); err != nil {
			return err
		}
	}
	if e.AssignTags, err = extraStateJson.MarshalToString(e.AssignTagsJSON); err != nil {
		return err
	}

	e.UpdateAt = time.Now().Unix()
	return DB(c).Model(e).Updates(map[string]interface{}{
		"severity":    e.Severity,
		"assign_tags": e.AssignTags,
		"extra_state": e.ExtraState,
		"update_at":   e.UpdateAt,
	}).Error
}

// UpdateExtraState merges only the typed state blob.
func (e *AlertEvent) UpdateExtraState(c *ctx.Context) error {
	var err error
	if e.ExtraState, err = extraStateJson.MarshalToString(e.Extra()); err != nil {
		return err
	}

	e.UpdateAt = time.Now().Unix()
	return DB(c).Model(e).Updates(map[string]interface{}{
		"extra_state": e.ExtraState,
		"update_at":   e.UpdateAt,
	}).Error
}

// AlertEventGetsActive pages through the alerts the engine still owns:
// firing ones and ones inside the recovery grace period.
func AlertEventGetsActive(c *ctx.Context, limit, offset int) ([]*AlertEvent, error) {
	var lst []*AlertEvent
	err := DB(c).Where("status in ?", []string{StatusFiring, StatusRecovering}).
		Order("id asc").Limit(limit).Offset(offset).Find(&lst).Error
	if err != nil {
		return nil, err
	}

	for i := 0; i < len(lst); i++ {
		lst[i].DB2FE()
	}
	return lst, nil
}

