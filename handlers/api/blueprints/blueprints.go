// Package blueprints exposes the persistence service API: fetch a blueprint,
// append a point, list known blueprints. Every response is wrapped in the
// envelope the relay's persistence client unwraps.
package blueprints

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"blueprints-relay/core"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	Envelope struct {
		Status    string `json:"status"`
		Message   string `json:"message"`
		Data      any    `json:"data"`
		Timestamp string `json:"timestamp"`
	}
)

func envelope(status, message string, data any) Envelope {
	return Envelope{
		Status:    status,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func idFromRequest(r *http.Request) core.BlueprintID {
	return core.BlueprintID{
		Author: chi.URLParam(r, "author"),
		Name:   chi.URLParam(r, "name"),
	}
}

// HandleGet returns the current blueprint. A blueprint that does not exist
// yet is a success envelope with null data, not an error.
func HandleGet(store core.BlueprintStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := idFromRequest(r)
		if err := id.Validate(); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, envelope("ERROR", err.Error(), nil))
			return
		}

		record, err := store.Find(r.Context(), id)
		if err != nil {
			if errors.Is(err, core.ErrBlueprintNotFound) {
				render.JSON(w, r, envelope("NOT_FOUND", "blueprint does not exist", nil))
				return
			}
			logrus.WithField("error", err).Error("Failed to retrieve blueprint")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, envelope("ERROR", "failed to retrieve blueprint", nil))
			return
		}

		render.JSON(w, r, envelope("OK", "blueprint retrieved", record))
	}
}

// HandleAppendPoint appends one point to the blueprint, creating it on first
// append.
func HandleAppendPoint(store core.BlueprintStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := idFromRequest(r)
		if err := id.Validate(); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, envelope("ERROR", err.Error(), nil))
			return
		}

		var point core.Point
		if err := json.NewDecoder(r.Body).Decode(&point); err != nil {
			logrus.WithField("error", err).Error("Failed to decode point")
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, envelope("ERROR", "invalid point payload", nil))
			return
		}

		if err := store.AppendPoint(r.Context(), id, point); err != nil {
			logrus.WithField("error", err).Error("Failed to append point")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, envelope("ERROR", "failed to append point", nil))
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, envelope("OK", "point appended", nil))
	}
}

// HandleList returns the identities of every stored blueprint.
func HandleList(store core.BlueprintStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := store.List(r.Context())
		if err != nil {
			logrus.WithField("error", err).Error("Failed to list blueprints")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, envelope("ERROR", "failed to list blueprints", nil))
			return
		}

		if ids == nil {
			ids = []core.BlueprintID{}
		}
		render.JSON(w, r, envelope("OK", "blueprints listed", ids))
	}
}
