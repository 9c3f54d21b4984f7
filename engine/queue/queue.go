package queue

import (
	"time"

	"github.com/beaconops/beacon/engine/estats"
	"github.com/toolkits/pkg/container/list"
)

var ActionQueue = list.NewSafeListLimited(10000000)

func ReportQueueSize(stats *estats.Stats) {
	for {
		time.Sleep(time.Second)

		stats.GaugeActionQueueSize.Set(float64(ActionQueue.Len()))
	}
}
