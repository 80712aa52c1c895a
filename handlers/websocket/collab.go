// Package websocket wires the socket.io transport to the relay: it decodes
// inbound events into typed requests and drives the persist-then-fetch-then-
// broadcast protocol for each connection.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"blueprints-relay/core"
	"blueprints-relay/persistence"
	"blueprints-relay/rooms"

	"github.com/mitchellh/mapstructure"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

type (
	// JoinRequest subscribes a connection to one blueprint's room. The
	// same shape serves leave-room.
	JoinRequest struct {
		Author string `mapstructure:"author"`
		Name   string `mapstructure:"name"`
	}

	// DrawRequest submits one point. Point is a pointer so a missing
	// field is distinguishable from {0,0}.
	DrawRequest struct {
		Author string      `mapstructure:"author"`
		Name   string      `mapstructure:"name"`
		Point  *core.Point `mapstructure:"point"`
	}

	// Ack reports the outcome of a draw request back to the sender. It is
	// nil when the client did not ask for an acknowledgment.
	Ack func(ok bool, message string)

	// Coordinator handles the per-connection protocol against a shared
	// room registry and persistence client.
	Coordinator struct {
		registry *rooms.Registry
		client   persistence.Client
	}
)

func NewCoordinator(registry *rooms.Registry, client persistence.Client) *Coordinator {
	return &Coordinator{registry: registry, client: client}
}

// HandleJoin registers the connection in the blueprint's room and best-effort
// delivers the current document to it. Persistence being down never blocks
// the join itself.
func (c *Coordinator) HandleJoin(ctx context.Context, conn rooms.Emitter, req JoinRequest) {
	id := core.BlueprintID{Author: req.Author, Name: req.Name}
	log := logrus.WithFields(logrus.Fields{
		"connection_id": conn.ID(),
		"author":        id.Author,
		"name":          id.Name,
	})

	if err := id.Validate(); err != nil {
		log.WithError(err).Warn("Rejecting join-room request")
		emitError(conn, err.Error())
		return
	}

	c.registry.Join(id.RoomKey(), conn)
	log.WithField("members", c.registry.MemberCount(id.RoomKey())).Info("Connection joined room")

	doc, err := c.client.Fetch(ctx, id)
	switch {
	case errors.Is(err, core.ErrBlueprintNotFound):
		// Fresh blueprint, nothing to send.
	case err != nil:
		log.WithError(err).Warn("Could not fetch initial blueprint state")
		emitWarning(conn, "joined room, but current blueprint state is unavailable")
	default:
		if emitErr := conn.Emit("blueprint-update", doc); emitErr != nil {
			log.WithError(emitErr).Warn("Failed to deliver initial blueprint state")
		}
	}
}

// HandleDraw runs the critical path: validate, persist the point, fetch the
// authoritative document, broadcast it to the whole room. Any failure stops
// the sequence before the broadcast; an unpersisted point is never announced.
func (c *Coordinator) HandleDraw(ctx context.Context, conn rooms.Emitter, req DrawRequest, ack Ack) {
	log := logrus.WithFields(logrus.Fields{
		"trace_id":      ulid.Make().String(),
		"connection_id": conn.ID(),
		"author":        req.Author,
		"name":          req.Name,
	})

	if message := validateDraw(req); message != "" {
		log.WithField("reason", message).Warn("Rejecting draw-event request")
		emitError(conn, message)
		if ack != nil {
			ack(false, message)
		}
		return
	}

	id := core.BlueprintID{Author: req.Author, Name: req.Name}

	if err := c.client.AppendPoint(ctx, id, *req.Point); err != nil {
		log.WithError(err).Error("Failed to persist point")
		message := fmt.Sprintf("could not persist point: %v", err)
		emitError(conn, message)
		if ack != nil {
			ack(false, message)
		}
		return
	}

	doc, err := c.client.Fetch(ctx, id)
	if err != nil {
		// The point is stored, only the refresh failed, so the client
		// gets a warning rather than a hard error.
		var message string
		if errors.Is(err, core.ErrBlueprintNotFound) {
			message = "point persisted, but blueprint could not be found afterwards"
			log.Error("Blueprint missing immediately after successful append")
		} else {
			message = fmt.Sprintf("point persisted, but refresh failed: %v", err)
			log.WithError(err).Warn("Failed to fetch blueprint after append")
		}
		emitWarning(conn, message)
		if ack != nil {
			ack(false, message)
		}
		return
	}

	c.registry.Broadcast(id.RoomKey(), "blueprint-update", doc)
	log.Debug("Blueprint update broadcast")
	if ack != nil {
		ack(true, "")
	}
}

// HandleLeave is best-effort cleanup, malformed requests are ignored.
func (c *Coordinator) HandleLeave(conn rooms.Emitter, req JoinRequest) {
	id := core.BlueprintID{Author: req.Author, Name: req.Name}
	if err := id.Validate(); err != nil {
		return
	}

	c.registry.Leave(id.RoomKey(), conn)
	logrus.WithFields(logrus.Fields{
		"connection_id": conn.ID(),
		"room":          id.RoomKey(),
	}).Info("Connection left room")
}

// HandleDisconnect drops the connection from every room it joined.
func (c *Coordinator) HandleDisconnect(conn rooms.Emitter) {
	c.registry.RemoveEverywhere(conn)
	logrus.WithField("connection_id", conn.ID()).Info("Connection removed from all rooms")
}

func validateDraw(req DrawRequest) string {
	var missing []string
	if strings.TrimSpace(req.Author) == "" {
		missing = append(missing, "author")
	}
	if strings.TrimSpace(req.Name) == "" {
		missing = append(missing, "name")
	}
	if req.Point == nil {
		missing = append(missing, "point")
	}
	if len(missing) == 0 {
		return ""
	}
	return fmt.Sprintf("missing required field(s): %s", strings.Join(missing, ", "))
}

func emitError(conn rooms.Emitter, message string) {
	if err := conn.Emit("error", map[string]any{"message": message}); err != nil {
		logrus.WithField("connection_id", conn.ID()).WithError(err).Warn("Failed to emit error event")
	}
}

func emitWarning(conn rooms.Emitter, message string) {
	if err := conn.Emit("warning", map[string]any{"message": message}); err != nil {
		logrus.WithField("connection_id", conn.ID()).WithError(err).Warn("Failed to emit warning event")
	}
}

// socketConn adapts a socket.io connection to the registry's Emitter.
type socketConn struct {
	socket *socketio.Socket
}

func (c socketConn) ID() string { return string(c.socket.Id()) }

func (c socketConn) Emit(event string, payload any) error {
	return c.socket.Emit(event, payload)
}

// SetupSocketIO builds the socket.io server and binds the relay events.
func SetupSocketIO(coord *Coordinator) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	localhostOrigin := regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)
	opts.SetCors(&types.Cors{
		Origin: []any{
			localhostOrigin,
		},
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}
		conn := socketConn{socket: socket}
		logrus.WithField("connection_id", conn.ID()).Info("Connection established")

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("join-room", func(datas ...any) {
			_, args := extractAck(datas)
			req, err := decodeRequest[JoinRequest](args)
			if err != nil {
				emitError(conn, err.Error())
				return
			}
			coord.HandleJoin(context.Background(), conn, req)
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("draw-event", func(datas ...any) {
			ack, args := extractAck(datas)
			req, err := decodeRequest[DrawRequest](args)
			if err != nil {
				emitError(conn, err.Error())
				if ack != nil {
					ack(false, err.Error())
				}
				return
			}
			coord.HandleDraw(context.Background(), conn, req, ack)
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("leave-room", func(datas ...any) {
			_, args := extractAck(datas)
			req, err := decodeRequest[JoinRequest](args)
			if err != nil {
				return
			}
			coord.HandleLeave(conn, req)
		})

		socket.On("disconnecting", func(datas ...any) {
			coord.HandleDisconnect(conn)
		})

		socket.On("disconnect", func(datas ...any) {
			socket.RemoveAllListeners("")
			socket.Disconnect(true)
		})
	})

	return srv
}

// decodeRequest converts the untyped first event argument into a typed
// request. Anything non-conforming is rejected before it reaches the
// coordinator.
func decodeRequest[T any](args []any) (T, error) {
	var req T
	if len(args) == 0 {
		return req, fmt.Errorf("missing request payload")
	}

	payload, ok := args[0].(map[string]any)
	if !ok {
		return req, fmt.Errorf("request payload must be an object")
	}

	// Weak typing because parsers deliver coordinates as either int or
	// float depending on the client encoding.
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &req,
	})
	if err != nil {
		return req, err
	}
	if err := decoder.Decode(payload); err != nil {
		return req, fmt.Errorf("malformed request payload: %v", err)
	}
	return req, nil
}

// extractAck splits a trailing acknowledgment callable off the event
// arguments, normalized to the Ack signature.
func extractAck(datas []any) (Ack, []any) {
	if len(datas) == 0 {
		return nil, datas
	}

	candidate := datas[len(datas)-1]
	invoke := wrapAck(candidate)
	if invoke == nil {
		return nil, datas
	}

	ack := func(ok bool, message string) {
		payload := map[string]any{"ok": ok}
		if !ok {
			payload["message"] = message
		}
		invoke(payload)
	}
	return ack, datas[:len(datas)-1]
}

func wrapAck(candidate any) func(payload map[string]any) {
	if fn, ok := candidate.(func([]any, error)); ok {
		return func(payload map[string]any) {
			fn([]any{payload}, nil)
		}
	}

	if candidate == nil {
		return nil
	}
	value := reflect.ValueOf(candidate)
	if !value.IsValid() || value.Kind() != reflect.Func {
		return nil
	}

	typ := value.Type()
	return func(payload map[string]any) {
		args := make([]reflect.Value, typ.NumIn())
		for i := range args {
			if i == 0 {
				args[i] = coerceValue(payload, typ.In(i))
			} else {
				args[i] = reflect.Zero(typ.In(i))
			}
		}
		value.Call(args)
	}
}

func coerceValue(value any, targetType reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(targetType)
	}

	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(targetType) {
		return rv
	}
	if rv.Type().ConvertibleTo(targetType) {
		return rv.Convert(targetType)
	}
	if targetType.Kind() == reflect.Slice && targetType.Elem().Kind() == reflect.Interface {
		slice := reflect.MakeSlice(targetType, 1, 1)
		slice.Index(0).Set(rv)
		return slice
	}

	return reflect.Zero(targetType)
}
