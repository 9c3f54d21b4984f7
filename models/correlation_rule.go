package models

import (
	"encoding/json"
	"time"

	"github.com/beaconops/beacon/pkg/ctx"
)

// CorrelationRule suppresses alerts that are symptomatic of a known upstream
// disruption. Scope matching works like shield configs, the rule set is
// maintained separately by incident tooling.
type CorrelationRule struct {
	Id          int64  `json:"id" gorm:"primaryKey"`
	Description string `json:"description"`
	Conds       string `json:"-" gorm:"conds"`
	CondsJSON   []Cond `json:"conds" gorm:"-"`
	Disabled    int    `json:"disabled"`
	CreateAt    int64  `json:"create_at"`
	UpdateAt    int64  `json:"update_at"`

	CondGroups [][]Cond `json:"-" gorm:"-"`
}

func (r *CorrelationRule) TableName() string {
	return "correlation_rule"
}

func (r *CorrelationRule) Parse() error {
	if r.Conds != "" {
		if err := json.Unmarshal([]byte(r.Conds), &r.CondsJSON); err != nil {
			return err
		}
	}

	groups, err := BuildCondGroups(r.CondsJSON)
	if err != nil {
		return err
	}
	r.CondGroups = groups
	return nil
}

// Reason is the operator-facing suppression explanation.
func (r *CorrelationRule) Reason() string {
	if r.Description != "" {
		return r.Description
	}
	return "suppressed by incident correlation rule"
}

func (r *CorrelationRule) Add(c *ctx.Context) error {
	if err := r.Parse(); err != nil {
		return err
	}

	condsBytes, err := json.Marshal(r.CondsJSON)
	if err != nil {
		return err
	}
	r.Conds = string(condsBytes)

	now := time.Now().Unix()
	r.CreateAt = now
	r.UpdateAt = now
	return Insert(c, r)
}

func CorrelationRuleStatistics(c *ctx.Context) (*Statistics, error) {
	return StatisticsGet(c, &CorrelationRule{})
}

func CorrelationRuleGetsAll(c *ctx.Context) ([]*CorrelationRule, error) {
	var lst []*CorrelationRule
	err := DB(c).Where("disabled = 0").Find(&lst).Error
	if err != nil {
		return nil, err
	}
	return lst, nil
}
