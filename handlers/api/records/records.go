package records

import (
	"context"
	"errors"
	"fmt"
	"io"
	"livecatalog-server/core"
	"net/http"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

const maxBodySize = 1 << 20

// Broadcaster pushes a fresh snapshot of kind to realtime clients.
type Broadcaster interface {
	Broadcast(ctx context.Context, kind core.Kind)
}

type (
	CreateRecordsResponse struct {
		Kind  core.Kind `json:"kind"`
		Saved int       `json:"saved"`
	}

	ErrorResponse struct {
		Error string `json:"error"`
	}
)

// HandleList returns the full collection in insertion order.
func HandleList(store core.RecordStore, kind core.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := store.GetAll(r.Context(), kind)
		if err != nil {
			logrus.WithError(err).WithField("kind", kind).Error("Failed to list records")
			renderError(w, r, err)
			return
		}

		render.JSON(w, r, records)
	}
}

// HandleCreate appends one record or an array of records, then broadcasts
// the new snapshot.
func HandleCreate(store core.RecordStore, kind core.Kind, broadcaster Broadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logrus.WithField("kind", kind)

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			log.WithError(err).Error("Failed to read request body")
			renderError(w, r, core.ErrInvalidPayload)
			return
		}

		records, err := core.DecodeRecords(body)
		if err == nil && len(records) == 0 {
			err = fmt.Errorf("%w: empty batch", core.ErrInvalidPayload)
		}
		if err != nil {
			log.WithError(err).Warn("Failed to decode records")
			renderError(w, r, err)
			return
		}

		if err := store.Save(r.Context(), kind, records...); err != nil {
			log.WithError(err).Error("Failed to save records")
			renderError(w, r, err)
			return
		}

		// The write is committed; a client hanging up must not cancel its fan-out.
		broadcaster.Broadcast(context.WithoutCancel(r.Context()), kind)

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, CreateRecordsResponse{Kind: kind, Saved: len(records)})
	}
}

func renderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidPayload):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: core.ErrInvalidPayload.Error()})
	case errors.Is(err, core.ErrUnknownKind):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{Error: core.ErrUnknownKind.Error()})
	default:
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, ErrorResponse{Error: core.ErrStorageUnavailable.Error()})
	}
}
