package conf

import (
	"fmt"
	"os"

	"github.com/beaconops/beacon/engine/econf"
	"github.com/beaconops/beacon/pkg/cfg"
	"github.com/beaconops/beacon/pkg/logx"
	"github.com/beaconops/beacon/pkg/ormx"
	"github.com/beaconops/beacon/storage"

	"github.com/toolkits/pkg/logger"
)

type ConfigType struct {
	Global GlobalConfig
	Log    logx.Config
	DB     ormx.DBConfig
	Redis  storage.RedisConfig
	Engine econf.Engine
}

type GlobalConfig struct {
	RunMode string
}

func InitConfig(configDir string) (*ConfigType, error) {
	if _, err := os.Stat(configDir); os.IsNotExist(err) {
		logger.Errorf("dir %s not exist\n", configDir)
		os.Exit(1)
	}

	var config = new(ConfigType)

	if err := cfg.LoadConfigByDir(configDir, config); err != nil {
		return nil, fmt.Errorf("failed to load configs of directory: %s error: %s", configDir, err)
	}

	config.Engine.PreCheck()

	return config, nil
}
