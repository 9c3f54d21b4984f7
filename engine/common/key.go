package common

import "fmt"

// ShieldSnapshotKey is the redis key holding the shield config ids an alert
// matched on a previous evaluation.
func ShieldSnapshotKey(strategyId, alertId int64) string {
	return fmt.Sprintf("beacon:shield:snap:%d:%d", strategyId, alertId)
}

// QosKey is the redis counter gating notifications per alert and signal
// inside one qos window.
func QosKey(alertId int64, signal string) string {
	return fmt.Sprintf("beacon:qos:%s:%d", signal, alertId)
}
