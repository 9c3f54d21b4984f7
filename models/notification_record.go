package models

import (
	"github.com/beaconops/beacon/pkg/ctx"
)

// NotificationRecord is the durable copy of a cycle record: one row per
// notification emitted for an (alert, relation) pair. The checker consults
// the latest row when the in-state cycle record is missing.
type NotificationRecord struct {
	Id           int64 `json:"id" gorm:"primaryKey"`
	AlertId      int64 `json:"alert_id"`
	ConfigId     int64 `json:"config_id"`
	RelationId   int64 `json:"relation_id"`
	IsShielded   int   `json:"is_shielded"`
	ExecuteTimes int   `json:"execute_times"`
	LastTime     int64 `json:"last_time"`
}

func (r *NotificationRecord) TableName() string {
	return "notification_record"
}

func (r *NotificationRecord) Add(c *ctx.Context) error {
	return Insert(c, r)
}

// LatestIntervalRecord returns the most recent record for the relation,
// nil when the alert has never been notified on it.
func LatestIntervalRecord(c *ctx.Context, alertId, configId, relationId int64) (*NotificationRecord, error) {
	var lst []*NotificationRecord
	err := DB(c).
		Where("alert_id = ? and config_id = ? and relation_id = ?", alertId, configId, relationId).
		Order("last_time desc").Limit(1).Find(&lst).Error
	if err != nil {
		return nil, err
	}
	if len(lst) == 0 {
		return nil, nil
	}
	return lst[0], nil
}
