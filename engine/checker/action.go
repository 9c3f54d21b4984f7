package checker

import (
	"github.com/mitchellh/mapstructure"
)

const SignalUnshield = "unshield"

// Action is one queued notification job. Content carries the signal-specific
// payload as a loose map so the queue stays schema-free; consumers decode it
// back with DecodePayload.
type Action struct {
	Id         string                 `json:"id"`
	AlertId    int64                  `json:"alert_id"`
	StrategyId int64                  `json:"strategy_id"`
	Signal     string                 `json:"signal"`
	ConfigId   int64                  `json:"config_id"`
	RelationId int64                  `json:"relation_id"`
	Severity   int                    `json:"severity"`
	Content    map[string]interface{} `json:"content"`
	CreateAt   int64                  `json:"create_at"`
}

// UnshieldPayload is the typed content of an unshield notification.
type UnshieldPayload struct {
	AlertName    string  `mapstructure:"alert_name"`
	ShieldKind   string  `mapstructure:"shield_kind"`
	UserGroups   []int64 `mapstructure:"user_groups"`
	ExecuteTimes int     `mapstructure:"execute_times"`
}

func (a *Action) DecodePayload(out interface{}) error {
	return mapstructure.Decode(a.Content, out)
}
