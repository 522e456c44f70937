package stores

import (
	"context"
	"livecatalog-server/config"
	"livecatalog-server/core"
	"livecatalog-server/stores/memory"
	"livecatalog-server/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// Store is the union of what the record backends provide.
type Store interface {
	core.RecordStore
	core.UserStore
	EnsureSchema(ctx context.Context) error
	Close() error
}

func GetStore(cfg *config.Config) (Store, error) {
	var store Store

	storageField := logrus.Fields{
		"storageType": cfg.StorageType,
	}

	switch cfg.StorageType {
	case config.StorageSQLite:
		storageField["dataSourceName"] = cfg.DataSourceName
		s, err := sqlite.NewRecordStore(cfg.DataSourceName)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		store = memory.NewRecordStore()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store, nil
}
