package assign

import (
	"github.com/beaconops/beacon/models"
)

// UpgradeMatch advances an alert through ordered escalation tiers. The tier
// index is monotonic and each advance selects exactly one tier to notify.
type UpgradeMatch struct {
	conf      *models.UpgradeConfig
	lastIndex *int
	lastTime  int64
	duration  int64
	advanced  bool
}

// NewUpgradeMatch builds the escalation state of one pass. duration is the
// alert's age in seconds; it gates the first escalation when no tier has been
// notified yet.
func NewUpgradeMatch(conf *models.UpgradeConfig, lastIndex *int, lastTime int64, duration int64) *UpgradeMatch {
	return &UpgradeMatch{
		conf:      conf,
		lastIndex: lastIndex,
		lastTime:  lastTime,
		duration:  duration,
	}
}

func (um *UpgradeMatch) Enabled() bool {
	return um.conf != nil && um.conf.Enabled && len(um.conf.UserGroups) > 0
}

// NeedUpgrade reports whether the next tier is due: the configured interval
// must have elapsed since the last escalation, or since the alert fired when
// it has never escalated.
func (um *UpgradeMatch) NeedUpgrade(now int64) bool {
	if !um.Enabled() {
		return false
	}

	elapsed := um.duration
	if um.lastIndex != nil {
		if *um.lastIndex+1 >= len(um.conf.UserGroups) {
			return false
		}
		elapsed = now - um.lastTime
	}

	return elapsed >= um.conf.Interval*60
}

// Advance moves to the next tier and stamps the upgrade time.
func (um *UpgradeMatch) Advance(now int64) {
	next := 0
	if um.lastIndex != nil {
		next = *um.lastIndex + 1
	}
	um.lastIndex = &next
	um.lastTime = now
	um.advanced = true
}

// Groups returns the single tier selected by the advance that just happened,
// nothing when no advance occurred this pass.
func (um *UpgradeMatch) Groups() []int64 {
	if !um.advanced {
		return nil
	}
	return []int64{um.conf.UserGroups[*um.lastIndex]}
}

func (um *UpgradeMatch) LastIndex() *int {
	return um.lastIndex
}

func (um *UpgradeMatch) LastTime() int64 {
	return um.lastTime
}
