package hub

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/puzzle-duel-backend/internal/room"
)

var ErrHubClosed = errors.New("hub closed")
var ErrRoomNotFound = errors.New("room not found")

const (
	suffixLen     = 5
	suffixCharset = "abcdefghijklmnopqrstuvwxyz0123456789"
	maxBaseLen    = 48
)

type HubMsg interface{ isHubMsg() }

// CreateRoom makes a new room whose id is Base plus a random suffix not used by
// any live room.
type CreateRoom struct {
	Base  string
	Reply chan *room.Room
}

type GetRoom struct {
	ID    string
	Reply chan *room.Room
}

// EnsureRoom returns the room with ID, creating it on first reference.
type EnsureRoom struct {
	ID    string
	Reply chan *room.Room
}

type RemoveRoom struct {
	ID string
}

// Sweep closes every room idle since before Now minus the TTL.
type Sweep struct {
	Now time.Time
}

type ShutdownHub struct{}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (EnsureRoom) isHubMsg()  {}
func (RemoveRoom) isHubMsg()  {}
func (Sweep) isHubMsg()       {}
func (ShutdownHub) isHubMsg() {}

type Options struct {
	Room room.Options
	// RoomTTL evicts rooms idle for longer than this. Zero keeps rooms forever.
	RoomTTL time.Duration
	Logger  *zap.Logger
}

type Hub struct {
	inbox chan HubMsg
	rooms map[string]*room.Room
	opts  Options
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, opts Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Room.Logger == nil {
		opts.Room.Logger = opts.Logger
	}

	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*room.Room),
		opts:   opts,
		log:    opts.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once the hub has shut down.
func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }

func (h *Hub) Create(ctx context.Context, base string) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	return h.request(ctx, CreateRoom{Base: base, Reply: reply}, reply)
}

func (h *Hub) Get(ctx context.Context, id string) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	rm, err := h.request(ctx, GetRoom{ID: id, Reply: reply}, reply)
	if err != nil {
		return nil, err
	}
	if rm == nil {
		return nil, ErrRoomNotFound
	}
	return rm, nil
}

func (h *Hub) Ensure(ctx context.Context, id string) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	return h.request(ctx, EnsureRoom{ID: id, Reply: reply}, reply)
}

func (h *Hub) request(ctx context.Context, msg HubMsg, reply chan *room.Room) (*room.Room, error) {
	if h.ctx.Err() != nil {
		return nil, ErrHubClosed
	}
	select {
	case h.inbox <- msg:
	case <-h.ctx.Done():
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case rm := <-reply:
		return rm, nil
	case <-h.ctx.Done():
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) loop() {
	var tick <-chan time.Time
	if h.opts.RoomTTL > 0 {
		ticker := time.NewTicker(h.opts.RoomTTL / 2)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			return

		case now := <-tick:
			h.sweep(now)

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				id, err := h.unusedID(msg.Base)
				if err != nil {
					h.log.Error("generate room id", zap.Error(err))
					msg.Reply <- nil
					break
				}
				msg.Reply <- h.open(id)

			case GetRoom:
				msg.Reply <- h.live(msg.ID) // May be nil

			case EnsureRoom:
				if rm := h.live(msg.ID); rm != nil {
					msg.Reply <- rm
					break
				}
				msg.Reply <- h.open(msg.ID)

			case RemoveRoom:
				if rm := h.rooms[msg.ID]; rm != nil {
					rm.Close()
					delete(h.rooms, msg.ID)
				}

			case Sweep:
				h.sweep(msg.Now)

			case ShutdownHub:
				h.closeAll()
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) open(id string) *room.Room {
	rm := room.New(h.ctx, id, h.opts.Room)
	h.rooms[id] = rm
	h.log.Info("room opened", zap.String("room", id), zap.Int("rooms", len(h.rooms)))
	return rm
}

// live returns the room with id unless it is missing or has already stopped.
func (h *Hub) live(id string) *room.Room {
	rm := h.rooms[id]
	if rm == nil {
		return nil
	}
	select {
	case <-rm.Done():
		delete(h.rooms, id)
		return nil
	default:
		return rm
	}
}

func (h *Hub) sweep(now time.Time) {
	if h.opts.RoomTTL <= 0 {
		return
	}
	cutoff := now.Add(-h.opts.RoomTTL)
	for id, rm := range h.rooms {
		if rm.LastActive().Before(cutoff) {
			rm.Close()
			delete(h.rooms, id)
			h.log.Info("room evicted", zap.String("room", id))
		}
	}
}

func (h *Hub) closeAll() {
	for _, rm := range h.rooms {
		rm.Close()
	}
	clear(h.rooms)
}

func (h *Hub) unusedID(base string) (string, error) {
	base = cleanBase(base)
	for {
		suffix, err := GenerateSuffix()
		if err != nil {
			return "", err
		}
		id := base + "-" + suffix
		if h.live(id) == nil {
			return id, nil
		}
		h.log.Debug("collision on room id, regenerating", zap.String("room", id))
	}
}

// GenerateSuffix returns a short random base36 string.
func GenerateSuffix() (string, error) {
	out := make([]byte, suffixLen)
	for i := range out {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(suffixCharset))))
		if err != nil {
			return "", err
		}
		out[i] = suffixCharset[num.Int64()]
	}
	return string(out), nil
}

func cleanBase(base string) string {
	base = strings.Join(strings.Fields(base), "-")
	if base == "" {
		return "room"
	}
	if r := []rune(base); len(r) > maxBaseLen {
		base = string(r[:maxBaseLen])
	}
	return base
}
