package main

import (
	"context"
	"encoding/json"
	"fmt"
	"livecatalog-server/core"
	"livecatalog-server/stores"
	"os"

	"github.com/sirupsen/logrus"
)

// bootstrap prepares the record store. Failures are logged and the server
// keeps starting; affected requests fail with ErrStorageUnavailable.
func bootstrap(ctx context.Context, store stores.Store, seedFile string) {
	if err := store.EnsureSchema(ctx); err != nil {
		logrus.WithError(err).Error("Failed to ensure schema")
		return
	}
	if seedFile == "" {
		return
	}
	if err := seedProducts(ctx, store, seedFile); err != nil {
		logrus.WithError(err).WithField("file", seedFile).Error("Failed to seed products")
	}
}

// seedProducts loads a JSON array of products into an empty collection.
func seedProducts(ctx context.Context, store core.RecordStore, path string) error {
	existing, err := store.GetAll(ctx, core.KindProducts)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		logrus.WithField("count", len(existing)).Debug("Products already present, skipping seed")
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("%w: seed file must hold a JSON array: %v", core.ErrInvalidPayload, err)
	}
	records, err := core.DecodeRecords(raw)
	if err != nil {
		return err
	}
	if err := store.Save(ctx, core.KindProducts, records...); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"file":  path,
		"count": len(records),
	}).Info("Products seeded")
	return nil
}
