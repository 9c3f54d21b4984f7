package models

import (
	"encoding/json"

	"github.com/beaconops/beacon/pkg/ctx"
)

// Target is one record of the host/asset directory. NoMonitor and NoAlert
// mirror the state flags operators set in the asset platform; either flag
// shields every alert resolved to the host.
type Target struct {
	Id        int64  `json:"id" gorm:"primaryKey"`
	Ident     string `json:"ident"`
	Ip        string `json:"ip"`
	CloudId   string `json:"cloud_id"`
	GroupId   int64  `json:"group_id"`
	NoMonitor int    `json:"no_monitor"`
	NoAlert   int    `json:"no_alert"`
	HostAttrs   string            `json:"-" gorm:"host_attrs"`
	HostJSON    map[string]string `json:"host_attrs" gorm:"-"`
	SetAttrs    string            `json:"-" gorm:"set_attrs"`
	SetJSON     map[string]string `json:"set_attrs" gorm:"-"`
	ModuleAttrs string            `json:"-" gorm:"module_attrs"`
	ModuleJSON  map[string]string `json:"module_attrs" gorm:"-"`
	UpdateAt  int64 `json:"update_at"`
}

func (t *Target) TableName() string {
	return "target"
}

func (t *Target) DB2FE() {
	json.Unmarshal([]byte(t.HostAttrs), &t.HostJSON)
	json.Unmarshal([]byte(t.SetAttrs), &t.SetJSON)
	json.Unmarshal([]byte(t.ModuleAttrs), &t.ModuleJSON)
}

// Suppressed reports whether the asset platform flags forbid notification.
func (t *Target) Suppressed() bool {
	return t.NoMonitor == 1 || t.NoAlert == 1
}

func TargetStatistics(c *ctx.Context) (*Statistics, error) {
	return StatisticsGet(c, &Target{})
}

func TargetGetsAll(c *ctx.Context) ([]*Target, error) {
	var lst []*Target
	err := DB(c).Find(&lst).Error
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(lst); i++ {
		lst[i].DB2FE()
	}
	return lst, nil
}

// TargetGetByIpAndCloudId is the live-directory fallback used when the
// in-memory cache misses a freshly enrolled host.
func TargetGetByIpAndCloudId(c *ctx.Context, ip, cloudId string) (*Target, error) {
	var lst []*Target
	err := DB(c).Where("ip = ? and cloud_id = ?", ip, cloudId).Find(&lst).Error
	if err != nil {
		return nil, err
	}
	if len(lst) == 0 {
		return nil, nil
	}
	lst[0].DB2FE()
	return lst[0], nil
}
