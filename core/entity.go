package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrBlueprintNotFound reports that a blueprint does not exist yet. It is a
// normal outcome for a freshly created room and must not be treated as a
// transport failure.
var ErrBlueprintNotFound = errors.New("blueprint not found")

type (
	// BlueprintID identifies one blueprint by its author and name.
	BlueprintID struct {
		Author string `json:"author"`
		Name   string `json:"name"`
	}

	// Point is one drawing coordinate submitted by a client.
	Point struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}

	// Blueprint is the document payload as stored by the persistence
	// service. The relay never inspects it, it is forwarded verbatim.
	Blueprint = json.RawMessage

	// BlueprintRecord is the persisted form of a blueprint.
	BlueprintRecord struct {
		Author string  `json:"author"`
		Name   string  `json:"name"`
		Points []Point `json:"points"`
	}

	// BlueprintStore is the storage contract behind the persistence API.
	BlueprintStore interface {
		AppendPoint(ctx context.Context, id BlueprintID, point Point) error
		Find(ctx context.Context, id BlueprintID) (*BlueprintRecord, error)
		List(ctx context.Context) ([]BlueprintID, error)
	}
)

// Validate reports the missing fields of the identity, if any.
func (id BlueprintID) Validate() error {
	var missing []string
	if strings.TrimSpace(id.Author) == "" {
		missing = append(missing, "author")
	}
	if strings.TrimSpace(id.Name) == "" {
		missing = append(missing, "name")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required field(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

// RoomKey derives the room identifier for this blueprint. Both parts are
// escaped before joining so distinct (author, name) pairs never collide.
func (id BlueprintID) RoomKey() string {
	return url.PathEscape(id.Author) + "/" + url.PathEscape(id.Name)
}

func (id BlueprintID) String() string {
	return id.Author + "/" + id.Name
}
