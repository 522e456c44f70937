package sessions

import (
	"livecatalog-server/config"
	"livecatalog-server/core"
	"livecatalog-server/stores/sessions/badger"
	"livecatalog-server/stores/sessions/memory"
	sessionredis "livecatalog-server/stores/sessions/redis"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type Store interface {
	core.SessionStore
	Close() error
}

// GetStore builds the session backend named by SESSION_STORE. rc is only
// used for the redis backend and may be nil otherwise.
func GetStore(cfg *config.Config, rc *redis.Client) (Store, error) {
	var store Store

	storeField := logrus.Fields{
		"sessionStore": cfg.SessionStore,
		"ttl":          cfg.SessionTTL.String(),
	}

	switch cfg.SessionStore {
	case config.SessionStoreRedis:
		store = sessionredis.NewSessionStore(rc)
	case config.SessionStoreBadger:
		storeField["path"] = cfg.BadgerPath
		db, err := badger.Open(cfg.BadgerPath)
		if err != nil {
			return nil, err
		}
		store = badger.NewSessionStore(db)
	default:
		store = memory.NewSessionStore()
		storeField["sessionStore"] = "in-memory"
	}
	logrus.WithFields(storeField).Info("Use session store")
	return store, nil
}
