package econf

type Engine struct {
	EngineDelay          int64
	BatchSize            int
	CheckInterval        int64
	QosThreshold         int64
	QosWindowSeconds     int64
	SnapshotTTLSeconds   int64
	GlobalShield         bool
}

func (e *Engine) PreCheck() {
	if e.EngineDelay == 0 {
		e.EngineDelay = 30
	}

	if e.BatchSize == 0 {
		e.BatchSize = 500
	}

	if e.CheckInterval == 0 {
		e.CheckInterval = 60
	}

	if e.QosThreshold == 0 {
		e.QosThreshold = 200
	}

	if e.QosWindowSeconds == 0 {
		e.QosWindowSeconds = 60
	}

	if e.SnapshotTTLSeconds == 0 {
		e.SnapshotTTLSeconds = 3600
	}
}
