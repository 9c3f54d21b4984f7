package models

import (
	"encoding/json"

	"github.com/beaconops/beacon/pkg/ctx"
)

// Strategy is the alerting rule an event fired from, reduced to the fields
// the routing engine consumes: the notice relation, the default responder
// groups and the assignment mode.
type Strategy struct {
	Id               int64  `json:"id" gorm:"primaryKey"`
	GroupId          int64  `json:"group_id"`
	Name             string `json:"name"`
	Scenario         string `json:"scenario"`
	NoticeRelationId int64  `json:"notice_relation_id"`
	NoticeConfigId   int64  `json:"notice_config_id"`
	NoticeGroups     string  `json:"-" gorm:"notice_groups"`
	NoticeGroupsJSON []int64 `json:"notice_groups" gorm:"-"`
	AssignModes      string   `json:"-" gorm:"assign_modes"`
	AssignModesJSON  []string `json:"assign_modes" gorm:"-"`
	Upgrade          string         `json:"-" gorm:"upgrade"`
	UpgradeJSON      *UpgradeConfig `json:"upgrade" gorm:"-"`
	UpdateAt         int64 `json:"update_at"`
}

func (s *Strategy) TableName() string {
	return "strategy"
}

func (s *Strategy) Parse() error {
	if s.NoticeGroups != "" {
		if err := json.Unmarshal([]byte(s.NoticeGroups), &s.NoticeGroupsJSON); err != nil {
			return err
		}
	}
	if s.AssignModes != "" {
		if err := json.Unmarshal([]byte(s.AssignModes), &s.AssignModesJSON); err != nil {
			return err
		}
	}
	if s.Upgrade != "" {
		if err := json.Unmarshal([]byte(s.Upgrade), &s.UpgradeJSON); err != nil {
			return err
		}
	}
	return nil
}

// HasNoticeRelation reports whether unshield notifications can be attributed
// to a notice configuration; without one there is nothing to notify.
func (s *Strategy) HasNoticeRelation() bool {
	return s != nil && s.NoticeRelationId != 0 && s.NoticeConfigId != 0
}

func (s *Strategy) AssignModeEnabled(mode string) bool {
	// legacy rows carry no mode list and behave as notice + rule assignment
	if s == nil || len(s.AssignModesJSON) == 0 {
		return mode == AssignModeOnlyNotice || mode == AssignModeByRule
	}
	for i := 0; i < len(s.AssignModesJSON); i++ {
		if s.AssignModesJSON[i] == mode {
			return true
		}
	}
	return false
}

func StrategyStatistics(c *ctx.Context) (*Statistics, error) {
	return StatisticsGet(c, &Strategy{})
}

func StrategyGetsAll(c *ctx.Context) ([]*Strategy, error) {
	var lst []*Strategy
	err := DB(c).Find(&lst).Error
	if err != nil {
		return nil, err
	}
	return lst, nil
}
