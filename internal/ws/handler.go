package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/puzzle-duel-backend/internal/hub"
	"github.com/DoyleJ11/puzzle-duel-backend/internal/room"
	"github.com/DoyleJ11/puzzle-duel-backend/internal/types"
)

const maxMessageSize = 4096

const (
	errTextMalformed   = "malformed message"
	errTextUnknownType = "unknown message type"
	errTextNoRoom      = "not in a room"
	errTextRoomClosed  = "room closed"
	errTextUnavailable = "room unavailable"
)

type Options struct {
	// OriginPatterns is passed to websocket.Accept. Empty means same-origin only.
	OriginPatterns []string
	OutboxSize     int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	Logger         *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.OutboxSize <= 0 {
		o.OutboxSize = 32
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 3 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// client is one live socket. current is the room it last created or joined.
type client struct {
	id      string
	conn    *websocket.Conn
	hub     *hub.Hub
	out     *room.Outbox
	current *room.Room
	log     *zap.Logger
}

func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	opts = opts.withDefaults()

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			opts.Logger.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		conn.SetReadLimit(maxMessageSize)

		id := uuid.NewString()
		c := &client{
			id:   id,
			conn: conn,
			hub:  h,
			out:  room.NewOutbox(opts.OutboxSize),
			log:  opts.Logger.With(zap.String("conn", id)),
		}
		c.log.Debug("connection opened")

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go c.writePump(writeCtx, opts)

		// Leave runs before the writer is cancelled and the socket closed.
		defer c.leave()

		c.readPump(r.Context())
	}
}

func (c *client) readPump(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			// Treat clean close/going-away as normal:
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				c.log.Debug("connection closed")
			default:
				c.log.Debug("connection read failed", zap.Error(err))
			}
			return
		}

		var cm types.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			c.reply(types.ErrorMessage(errTextMalformed))
			continue
		}
		c.dispatch(ctx, cm)
	}
}

func (c *client) writePump(ctx context.Context, opts Options) {
	ticker := time.NewTicker(opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-c.out.Done():
			// The room dropped this connection.
			c.conn.Close(websocket.StatusGoingAway, errTextRoomClosed)
			return

		case msg := <-c.out.C():
			wctx, cancel := context.WithTimeout(ctx, opts.WriteTimeout)
			err := wsjson.Write(wctx, c.conn, msg)
			cancel()
			if err != nil {
				c.log.Debug("write failed", zap.Error(err))
				c.conn.Close(websocket.StatusGoingAway, "write failed")
				return
			}

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, opts.WriteTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				c.log.Debug("ping failed", zap.Error(err))
				c.conn.Close(websocket.StatusGoingAway, "ping failed")
				return
			}
		}
	}
}

func (c *client) dispatch(ctx context.Context, cm types.ClientMessage) {
	if field := missingField(cm); field != "" {
		c.reply(types.ErrorMessage("missing field: " + field))
		return
	}

	switch cm.Type {
	case types.MsgCreateGame:
		rm, err := c.hub.Create(ctx, cm.RoomID)
		if err != nil || rm == nil {
			c.log.Warn("create room failed", zap.String("base", cm.RoomID), zap.Error(err))
			c.reply(types.ErrorMessage(errTextUnavailable))
			return
		}
		admitted := make(chan bool, 1)
		c.enter(ctx, rm, room.Create{ConnID: c.id, PlayerName: cm.PlayerName, Outbox: c.out, Admitted: admitted}, admitted)

	case types.MsgJoinGame:
		rm, err := c.hub.Ensure(ctx, cm.RoomID)
		if err != nil || rm == nil {
			c.log.Warn("join room failed", zap.String("room", cm.RoomID), zap.Error(err))
			c.reply(types.ErrorMessage(errTextUnavailable))
			return
		}
		admitted := make(chan bool, 1)
		c.enter(ctx, rm, room.Join{ConnID: c.id, PlayerName: cm.PlayerName, Outbox: c.out, Admitted: admitted}, admitted)

	case types.MsgUpdateGame:
		c.toRoom(room.Update{
			ConnID:     c.id,
			State:      cm.State,
			Moves:      cm.Moves,
			VisualHint: cm.VisualHint,
			Outbox:     c.out,
		})

	case types.MsgGameWon:
		c.toRoom(room.DeclareWin{ConnID: c.id, Winner: cm.Winner, Outbox: c.out})

	default:
		c.reply(types.ErrorMessage(errTextUnknownType))
	}
}

// enter asks rm for a seat. Only once rm admits the connection does it leave
// its previous room; a rejected join keeps the current game intact.
func (c *client) enter(ctx context.Context, rm *room.Room, msg room.Msg, admitted <-chan bool) {
	if err := rm.Send(msg); err != nil {
		c.reply(types.ErrorMessage(errTextRoomClosed))
		return
	}

	select {
	case ok := <-admitted:
		if !ok {
			return // the room already sent the reason
		}
	case <-rm.Done():
		c.reply(types.ErrorMessage(errTextRoomClosed))
		return
	case <-ctx.Done():
		return
	}

	if c.current != nil && c.current != rm {
		_ = c.current.Send(room.Leave{ConnID: c.id})
	}
	c.current = rm
}

func (c *client) toRoom(msg room.Msg) {
	if c.current == nil {
		c.reply(types.ErrorMessage(errTextNoRoom))
		return
	}
	if err := c.current.Send(msg); err != nil {
		if errors.Is(err, room.ErrRoomClosed) {
			c.current = nil
		}
		c.reply(types.ErrorMessage(errTextRoomClosed))
	}
}

func (c *client) leave() {
	if c.current == nil {
		return
	}
	_ = c.current.Send(room.Leave{ConnID: c.id})
	c.current = nil
}

// reply goes through the outbox so it stays ordered with room events.
func (c *client) reply(msg types.ServerMessage) {
	if !c.out.Offer(msg) {
		c.log.Debug("reply dropped", zap.String("type", msg.Type), zap.String("message", msg.Message))
	}
}

func missingField(cm types.ClientMessage) string {
	switch cm.Type {
	case types.MsgCreateGame, types.MsgJoinGame:
		if strings.TrimSpace(cm.RoomID) == "" {
			return "roomId"
		}
		if strings.TrimSpace(cm.PlayerName) == "" {
			return "playerName"
		}
	case types.MsgUpdateGame:
		if len(cm.State) == 0 {
			return "state"
		}
	case types.MsgGameWon:
		if strings.TrimSpace(cm.Winner) == "" {
			return "winner"
		}
	}
	return ""
}
