package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/beaconops/beacon/pkg/ctx"

	"github.com/pkg/errors"
)

const (
	WindowTypeRange    int = 0 // one-shot btime..etime window
	WindowTypePeriodic int = 1 // recurring daily/weekly windows inside btime..etime
)

// Shield categories. Category names how the scope conditions were authored,
// the matching mechanics are identical.
const (
	ShieldCateScope     = "scope"
	ShieldCateStrategy  = "strategy"
	ShieldCateAlert     = "alert"
	ShieldCateDimension = "dimension"
)

type PeriodicWindow struct {
	Stime      string `json:"stime"`        // "08:30"
	Etime      string `json:"etime"`        // "21:00", may cross midnight when < stime
	DaysOfWeek string `json:"days_of_week"` // eg: "0 1 2 3 4 5 6"
}

type ShieldConfig struct {
	Id              int64  `json:"id" gorm:"primaryKey"`
	GroupId         int64  `json:"group_id"`
	Category        string `json:"category"`
	Note            string `json:"note"`
	Conds           string `json:"-" gorm:"conds"`
	CondsJSON       []Cond `json:"conds" gorm:"-"`
	Btime           int64  `json:"btime"`
	Etime           int64  `json:"etime"`
	WindowType      int    `json:"window_type"`
	PeriodicWindows string           `json:"-" gorm:"periodic_windows"`
	PeriodicJSON    []PeriodicWindow `json:"periodic_windows" gorm:"-"`
	Disabled        int    `json:"disabled"` // 0: enabled, 1: disabled
	CreateBy        string `json:"create_by"`
	UpdateBy        string `json:"update_by"`
	CreateAt        int64  `json:"create_at"`
	UpdateAt        int64  `json:"update_at"`

	CondGroups [][]Cond `json:"-" gorm:"-"`
}

func (s *ShieldConfig) TableName() string {
	return "shield_config"
}

func (s *ShieldConfig) Verify() error {
	if s.GroupId < 0 {
		return errors.New("group_id invalid")
	}

	if s.Etime <= s.Btime {
		return fmt.Errorf("oops... etime(%d) <= btime(%d)", s.Etime, s.Btime)
	}

	if err := s.Parse(); err != nil {
		return err
	}

	if len(s.CondGroups) == 0 {
		return errors.New("conds is blank")
	}

	return nil
}

// Parse decodes the JSON columns and compiles the scope condition tree.
func (s *ShieldConfig) Parse() error {
	if s.Conds != "" {
		if err := json.Unmarshal([]byte(s.Conds), &s.CondsJSON); err != nil {
			return err
		}
	}

	if s.PeriodicWindows != "" {
		if err := json.Unmarshal([]byte(s.PeriodicWindows), &s.PeriodicJSON); err != nil {
			return err
		}
	}

	groups, err := BuildCondGroups(s.CondsJSON)
	if err != nil {
		return err
	}
	s.CondGroups = groups

	return nil
}

func (s *ShieldConfig) FE2DB() error {
	condsBytes, err := json.Marshal(s.CondsJSON)
	if err != nil {
		return err
	}
	s.Conds = string(condsBytes)

	windowsBytes, err := json.Marshal(s.PeriodicJSON)
	if err != nil {
		return err
	}
	s.PeriodicWindows = string(windowsBytes)

	return nil
}

func (s *ShieldConfig) Add(c *ctx.Context) error {
	if err := s.Verify(); err != nil {
		return err
	}

	if err := s.FE2DB(); err != nil {
		return err
	}

	now := time.Now().Unix()
	s.CreateAt = now
	s.UpdateAt = now
	return Insert(c, s)
}

// Active reports whether the shield suppresses at the given instant.
func (s *ShieldConfig) Active(now time.Time) bool {
	if s.Disabled == 1 {
		return false
	}

	ts := now.Unix()
	if ts < s.Btime || ts > s.Etime {
		return false
	}

	if s.WindowType != WindowTypePeriodic {
		return true
	}

	return s.inPeriodicWindow(now)
}

func (s *ShieldConfig) inPeriodicWindow(now time.Time) bool {
	clock := now.Format("15:04")
	week := strconv.Itoa(int(now.Weekday()))

	for i := 0; i < len(s.PeriodicJSON); i++ {
		w := s.PeriodicJSON[i]
		if !strings.Contains(w.DaysOfWeek, week) {
			continue
		}
		if w.Stime == w.Etime {
			return true
		}
		if w.Stime < w.Etime {
			if clock >= w.Stime && clock < w.Etime {
				return true
			}
		} else {
			// window crosses midnight
			if clock >= w.Stime || clock < w.Etime {
				return true
			}
		}
	}
	return false
}

// LeftTime returns the remaining suppression seconds at the given instant,
// 0 when the shield is not currently active.
func (s *ShieldConfig) LeftTime(now time.Time) int64 {
	if !s.Active(now) {
		return 0
	}

	ts := now.Unix()
	if s.WindowType != WindowTypePeriodic {
		return s.Etime - ts
	}

	// remaining time of the current periodic window, bounded by etime
	left := int64(0)
	clock := now.Format("15:04")
	week := strconv.Itoa(int(now.Weekday()))
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	for i := 0; i < len(s.PeriodicJSON); i++ {
		w := s.PeriodicJSON[i]
		if !strings.Contains(w.DaysOfWeek, week) {
			continue
		}

		var end time.Time
		switch {
		case w.Stime == w.Etime:
			end = midnight.AddDate(0, 0, 1)
		case w.Stime < w.Etime:
			if clock < w.Stime || clock >= w.Etime {
				continue
			}
			end = clockTime(midnight, w.Etime)
		default:
			if clock >= w.Stime {
				end = clockTime(midnight.AddDate(0, 0, 1), w.Etime)
			} else if clock < w.Etime {
				end = clockTime(midnight, w.Etime)
			} else {
				continue
			}
		}

		if l := end.Unix() - ts; l > left {
			left = l
		}
	}

	if left > s.Etime-ts {
		left = s.Etime - ts
	}
	return left
}

func clockTime(midnight time.Time, clock string) time.Time {
	parts := strings.SplitN(clock, ":", 2)
	if len(parts) != 2 {
		return midnight
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	return midnight.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func ShieldConfigStatistics(c *ctx.Context) (*Statistics, error) {
	// clean expired one-shot windows first
	buf := int64(30)
	err := DB(c).Where("etime < ? and window_type = ?", time.Now().Unix()-buf, WindowTypeRange).
		Delete(new(ShieldConfig)).Error
	if err != nil {
		return nil, err
	}

	return StatisticsGet(c, &ShieldConfig{})
}

func ShieldConfigGetsAll(c *ctx.Context) ([]*ShieldConfig, error) {
	var lst []*ShieldConfig
	err := DB(c).Find(&lst).Error
	if err != nil {
		return nil, err
	}
	return lst, nil
}

func ShieldConfigDel(c *ctx.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return DB(c).Where("id in ?", ids).Delete(new(ShieldConfig)).Error
}
