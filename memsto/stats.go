package memsto

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "beacon"
	subsystem = "memsto"
)

type Stats struct {
	GaugeCronDuration *prometheus.GaugeVec
	GaugeSyncNumber   *prometheus.GaugeVec
}

func NewCacheStats() *Stats {
	GaugeCronDuration := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "cron_duration",
		Help:      "Duration of cron job.",
	}, []string{"name"})

	GaugeSyncNumber := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "cron_sync_number",
		Help:      "Number of cron sync number.",
	}, []string{"name"})

	prometheus.MustRegister(
		GaugeCronDuration,
		GaugeSyncNumber,
	)

	return &Stats{
		GaugeCronDuration: GaugeCronDuration,
		GaugeSyncNumber:   GaugeSyncNumber,
	}
}

func exit(code int) {
	os.Exit(code)
}
