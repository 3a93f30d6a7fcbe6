package cmd

import (
	"github.com/pkg/errors"
	"github.com/shibukawa/configdir"

	"github.com/lunixbochs/elfload/go/models"
)

const configName = "elfload.toml"

// FindConfig loads path if set, else the first elfload.toml found in the
// user and system config folders, else the defaults.
func FindConfig(path string) (*models.Config, string, error) {
	if path != "" {
		c, err := models.LoadConfig(path)
		return c, path, err
	}
	configDirs := configdir.New("elfload", "")
	for _, folder := range configDirs.QueryFolders(configdir.All) {
		if !folder.Exists(configName) {
			continue
		}
		data, err := folder.ReadFile(configName)
		if err != nil {
			return nil, "", errors.Wrapf(err, "failed to read %s in %s", configName, folder.Path)
		}
		c, err := models.DecodeConfig(string(data))
		if err != nil {
			return nil, "", errors.Wrapf(err, "in %s", folder.Path)
		}
		return c, folder.Path, nil
	}
	return models.DefaultConfig(), "", nil
}
