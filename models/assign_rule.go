package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/beaconops/beacon/pkg/ctx"

	"github.com/pkg/errors"
	"github.com/toolkits/pkg/str"
)

const (
	ActionTypeNotice = "notice"
	ActionTypeItsm   = "itsm"

	UserTypeMain     = "main"
	UserTypeFollower = "follower"

	AssignModeOnlyNotice = "only_notice"
	AssignModeByRule     = "by_rule"
)

// UpgradeConfig describes time-driven escalation through ordered responder
// tiers. Interval is in minutes; UserGroups is tier order, index 0 first.
type UpgradeConfig struct {
	Enabled    bool    `json:"enabled"`
	Interval   int64   `json:"interval"`
	UserGroups []int64 `json:"user_groups"`
}

type RuleAction struct {
	Type     string         `json:"type"` // notice | itsm
	Enabled  bool           `json:"enabled"`
	ActionId int64          `json:"action_id,omitempty"`
	Upgrade  *UpgradeConfig `json:"upgrade,omitempty"`
}

// AssignGroup is a prioritized bundle of assignment rules. Higher priority
// scans first; the first group with any matching rule wins.
type AssignGroup struct {
	Id       int64  `json:"id" gorm:"primaryKey"`
	GroupId  int64  `json:"group_id"` // busi group id
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	UpdateAt int64  `json:"update_at"`
}

func (g *AssignGroup) TableName() string {
	return "assign_group"
}

type AssignRule struct {
	Id             int64  `json:"id" gorm:"primaryKey"`
	GroupId        int64  `json:"group_id"` // busi group id
	AssignGroupId  int64  `json:"assign_group_id"`
	Enabled        int    `json:"enabled"`
	UserGroups     string  `json:"-" gorm:"user_groups"`
	UserGroupsJSON []int64 `json:"user_groups" gorm:"-"`
	UserType       string `json:"user_type"` // main | follower
	Severity       int    `json:"severity"`  // 0: keep the alert's own severity
	AdditionalTags string          `json:"-" gorm:"additional_tags"`
	AdditionalJSON []DimensionPair `json:"additional_tags" gorm:"-"`
	Conds          string `json:"-" gorm:"conds"`
	CondsJSON      []Cond `json:"conds" gorm:"-"`
	Actions        string       `json:"-" gorm:"actions"`
	ActionsJSON    []RuleAction `json:"actions" gorm:"-"`
	UpdateAt       int64 `json:"update_at"`

	CondGroups [][]Cond `json:"-" gorm:"-"`
}

func (r *AssignRule) TableName() string {
	return "assign_rule"
}

func (r *AssignRule) Parse() error {
	if r.UserGroups != "" {
		if err := json.Unmarshal([]byte(r.UserGroups), &r.UserGroupsJSON); err != nil {
			return err
		}
	}
	if r.AdditionalTags != "" {
		if err := json.Unmarshal([]byte(r.AdditionalTags), &r.AdditionalJSON); err != nil {
			return err
		}
	}
	if r.Conds != "" {
		if err := json.Unmarshal([]byte(r.Conds), &r.CondsJSON); err != nil {
			return err
		}
	}
	if r.Actions != "" {
		if err := json.Unmarshal([]byte(r.Actions), &r.ActionsJSON); err != nil {
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

func (r *AssignRule) Verify() error {
	if r.GroupId < 0 {
		return errors.New("group_id invalid")
	}
	if err := r.Parse(); err != nil {
		return err
	}
	if len(r.UserGroupsJSON) == 0 {
		return errors.New("user_groups is blank")
	}
	return nil
}

// ContentHash fingerprints the parts of the rule whose change invalidates a
// cached rule snapshot: the responder groups and the match conditions.
func (r *AssignRule) ContentHash() string {
	content, err := json.Marshal(struct {
		UserGroups []int64 `json:"user_groups"`
		Conds      []Cond  `json:"conds"`
	}{
		UserGroups: r.UserGroupsJSON,
		Conds:      r.CondsJSON,
	})
	if err != nil {
		return str.MD5(fmt.Sprintf("%d-%s-%s", r.Id, r.UserGroups, r.Conds))
	}
	return str.MD5(string(content))
}

// NoticeAction returns the enabled notice action, nil when notification is
// not configured for this rule.
func (r *AssignRule) NoticeAction() *RuleAction {
	for i := 0; i < len(r.ActionsJSON); i++ {
		if r.ActionsJSON[i].Type == ActionTypeNotice && r.ActionsJSON[i].Enabled {
			return &r.ActionsJSON[i]
		}
	}
	return nil
}

// ItsmAction returns the workflow action carrying a ticket template id.
func (r *AssignRule) ItsmAction() *RuleAction {
	for i := 0; i < len(r.ActionsJSON); i++ {
		if r.ActionsJSON[i].Type == ActionTypeItsm && r.ActionsJSON[i].ActionId != 0 {
			return &r.ActionsJSON[i]
		}
	}
	return nil
}

func (r *AssignRule) Add(c *ctx.Context) error {
	if err := r.Verify(); err != nil {
		return err
	}

	if err := r.FE2DB(); err != nil {
		return err
	}

	r.UpdateAt = time.Now().Unix()
	return Insert(c, r)
}

func (r *AssignRule) FE2DB() error {
	groupsBytes, err := json.Marshal(r.UserGroupsJSON)
	if err != nil {
		return err
	}
	r.UserGroups = string(groupsBytes)

	tagsBytes, err := json.Marshal(r.AdditionalJSON)
	if err != nil {
		return err
	}
	r.AdditionalTags = string(tagsBytes)

	condsBytes, err := json.Marshal(r.CondsJSON)
	if err != nil {
		return err
	}
	r.Conds = string(condsBytes)

	actionsBytes, err := json.Marshal(r.ActionsJSON)
	if err != nil {
		return err
	}
	r.Actions = string(actionsBytes)

	return nil
}

func AssignGroupGetsAll(c *ctx.Context) ([]*AssignGroup, error) {
	var lst []*AssignGroup
	err := DB(c).Order("priority desc, id asc").Find(&lst).Error
	if err != nil {
		return nil, err
	}
	return lst, nil
}

func AssignRuleGetsAll(c *ctx.Context) ([]*AssignRule, error) {
	var lst []*AssignRule
	err := DB(c).Where("enabled = 1").Order("id asc").Find(&lst).Error
	if err != nil {
		return nil, err
	}
	return lst, nil
}

func AssignRuleStatistics(c *ctx.Context) (*Statistics, error) {
	return StatisticsGet(c, &AssignRule{})
}

func AssignGroupStatistics(c *ctx.Context) (*Statistics, error) {
	return StatisticsGet(c, &AssignGroup{})
}
