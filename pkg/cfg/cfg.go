package cfg

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// LoadConfigByDir decodes every .toml file under configDir into configPtr,
// in lexical order, later files overriding earlier ones.
func LoadConfigByDir(configDir string, configPtr interface{}) error {
	var files []string

	err := filepath.Walk(configDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".toml" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return errors.WithMessage(err, "failed to walk config dir")
	}

	if len(files) == 0 {
		return errors.Errorf("no .toml file under %s", configDir)
	}

	sort.Strings(files)

	for _, file := range files {
		if _, err := toml.DecodeFile(file, configPtr); err != nil {
			return errors.WithMessagef(err, "failed to decode %s", file)
		}
	}

	return nil
}
