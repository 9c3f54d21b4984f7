package common

import (
	"github.com/beaconops/beacon/models"
)

// EventDims assembles the dimension map conditions evaluate against: the
// event's tagged dimensions, its event tags, then the alert attributes. Alert
// attributes win on key collision so a configuration targeting severity or
// strategy_id always sees the authoritative value. Dimensions lose their
// "tags." prefix; third-party event tags keep it, so a condition on
// "tags.foo" addresses the tag and "foo" the dimension.
func EventDims(event *models.AlertEvent) map[string]interface{} {
	dims := make(map[string]interface{})

	for k, v := range event.DimensionsMap() {
		dims[k] = v
	}

	for i := 0; i < len(event.EventTagsJSON); i++ {
		dims["tags."+event.EventTagsJSON[i].Key] = event.EventTagsJSON[i].Value
	}

	dims["alert_id"] = event.Id
	dims["strategy_id"] = event.StrategyId
	dims["alert_name"] = event.Name
	dims["severity"] = event.Severity
	dims["event_source"] = event.EventSource
	dims["scenario"] = event.Scenario
	dims["status"] = event.Status

	if event.TargetIdent != "" {
		dims["target_ident"] = event.TargetIdent
	}
	if event.TargetIp != "" {
		dims["ip"] = event.TargetIp
		dims["cloud_id"] = event.CloudId
	}

	return dims
}
