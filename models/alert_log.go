package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/beaconops/beacon/pkg/ctx"
)

const (
	OpTypeAssign = "assign"
	OpTypeQos    = "action_qos"
)

// AlertLog is the audit trail of engine decisions: routing verdicts and
// QoS-dropped notification batches.
type AlertLog struct {
	Id          int64  `json:"id" gorm:"primaryKey"`
	OpType      string `json:"op_type"`
	AlertId     int64  `json:"alert_id"`
	Severity    int    `json:"severity"`
	Description string `json:"description"`
	CreateAt    int64  `json:"create_at"`
}

func (l *AlertLog) TableName() string {
	return "alert_log"
}

func AlertLogBulkInsert(c *ctx.Context, lst []*AlertLog) error {
	if len(lst) == 0 {
		return nil
	}
	return DB(c).Create(lst).Error
}

// NewQosAlertLog aggregates one push cycle's QoS-dropped alerts into a single
// audit entry, listing every dropped alert id and the counter value observed
// when the threshold tripped.
func NewQosAlertLog(qosAlertIds []int64, currentCount int64, dropped int) *AlertLog {
	desc, _ := json.Marshal(map[string]interface{}{
		"text":      fmt.Sprintf("%d notifications dropped by qos, counter at %d", dropped, currentCount),
		"alert_ids": qosAlertIds,
		"count":     currentCount,
	})

	now := time.Now().Unix()
	return &AlertLog{
		OpType:      OpTypeQos,
		AlertId:     qosAlertIds[0],
		Description: string(desc),
		CreateAt:    now,
	}
}
