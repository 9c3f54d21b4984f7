package models

import (
	"github.com/beaconops/beacon/pkg/ctx"

	"gorm.io/gorm"
)

func DB(c *ctx.Context) *gorm.DB {
	return c.DB
}

func Count(tx *gorm.DB) (int64, error) {
	var cnt int64
	err := tx.Count(&cnt).Error
	return cnt, err
}

func Exists(tx *gorm.DB) (bool, error) {
	num, err := Count(tx)
	return num > 0, err
}

func Insert(c *ctx.Context, obj interface{}) error {
	return DB(c).Create(obj).Error
}

type Statistics struct {
	Total       int64 `gorm:"total"`
	LastUpdated int64 `gorm:"last_updated"`
}

func StatisticsGet(c *ctx.Context, model interface{}) (*Statistics, error) {
	session := DB(c).Model(model).Select("count(*) as total", "max(update_at) as last_updated")

	var stats []*Statistics
	err := session.Find(&stats).Error
	if err != nil {
		return nil, err
	}

	return stats[0], nil
}
