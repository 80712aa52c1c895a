package stores

import (
	"os"

	"blueprints-relay/core"
	"blueprints-relay/stores/memory"
	"blueprints-relay/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// GetStore selects the embedded persistence backend from the environment.
// Unrecognized or empty STORAGE_TYPE falls back to the in-memory store.
func GetStore() core.BlueprintStore {
	storageType := os.Getenv("STORAGE_TYPE")
	var store core.BlueprintStore

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	switch storageType {
	case "sqlite":
		dataSourceName := os.Getenv("DATA_SOURCE_NAME")
		storageField["dataSourceName"] = dataSourceName
		store = sqlite.NewBlueprintStore(dataSourceName)
	default:
		store = memory.NewBlueprintStore()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store
}
