package room

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/DoyleJ11/puzzle-duel-backend/internal/imagery"
	"github.com/DoyleJ11/puzzle-duel-backend/internal/puzzle"
	"github.com/DoyleJ11/puzzle-duel-backend/internal/store"
	"github.com/DoyleJ11/puzzle-duel-backend/internal/types"
)

const MaxPlayers = 2

const maxNameRunes = 32

var ErrRoomClosed = errors.New("room closed")

// Error replies sent to a single connection.
const (
	ErrTextFull        = "Game is full"
	ErrTextNameMissing = "playerName is required"
	ErrTextAlreadyIn   = "already playing in this room"
	ErrTextNotPlayer   = "not a player in this room"
	ErrTextBadMoves    = "moves must not be negative"
	ErrTextIllegalMove = "illegal move"
)

type Msg interface{ isRoomMsg() }

// Admitted, when set, receives whether the connection got a seat. It must
// have room for one value.
type Create struct {
	ConnID     string
	PlayerName string
	Outbox     *Outbox
	Admitted   chan<- bool
}

func (Create) isRoomMsg() {}

type Join struct {
	ConnID     string
	PlayerName string
	Outbox     *Outbox
	Admitted   chan<- bool
}

func (Join) isRoomMsg() {}

type Update struct {
	ConnID     string
	State      puzzle.Board
	Moves      *int // nil means "one more than before"
	VisualHint *int
	Outbox     *Outbox
}

func (Update) isRoomMsg() {}

// DeclareWin is the client-declared win path; the name is broadcast as sent.
type DeclareWin struct {
	ConnID string
	Winner string
	Outbox *Outbox
}

func (DeclareWin) isRoomMsg() {}

type Leave struct{ ConnID string }

func (Leave) isRoomMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

type Phase string

const (
	PhaseEmpty    Phase = "empty"
	PhaseAwaiting Phase = "awaiting"
	PhaseActive   Phase = "active"
	PhaseFinished Phase = "finished"
)

type PlayerView struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Moves int          `json:"moves"`
	State puzzle.Board `json:"state"`
}

type View struct {
	ID           string       `json:"roomId"`
	Phase        Phase        `json:"phase"`
	ImageURL     string       `json:"imageUrl,omitempty"`
	InitialState puzzle.Board `json:"initialState,omitempty"`
	Started      bool         `json:"started"`
	Winner       string       `json:"winner,omitempty"`
	Players      []PlayerView `json:"players"`
}

// ResultSink receives the outcome of a room once. Implementations must not block.
type ResultSink interface {
	Record(store.Result)
}

type Options struct {
	BoardSize    int
	ImageTopic   string
	Images       imagery.Provider
	ImageTimeout time.Duration
	// StrictMoves rejects boards that are not one legal slide from the stored one.
	// Off by default: the client's board is trusted.
	StrictMoves bool
	Results     ResultSink
	Logger      *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.BoardSize == 0 {
		o.BoardSize = 3
	}
	if o.ImageTopic == "" {
		o.ImageTopic = "puzzle"
	}
	if o.Images == nil {
		o.Images = imagery.Static(imagery.DefaultFallbackURL)
	}
	if o.ImageTimeout <= 0 {
		o.ImageTimeout = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

type player struct {
	id    string
	name  string
	board puzzle.Board
	moves int
	out   *Outbox
}

type Room struct {
	id    string
	opts  Options
	log   *zap.Logger
	rng   *rand.Rand
	inbox chan Msg

	imageURL string
	initial  puzzle.Board
	started  bool
	winner   string
	players  map[string]*player
	order    []string // join order

	lastActive atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, id string, opts Options) *Room {
	ctx, cancel := context.WithCancel(parent)
	opts = opts.withDefaults()

	r := &Room{
		id:      id,
		opts:    opts,
		log:     opts.Logger.With(zap.String("room", id)),
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		inbox:   make(chan Msg, 64),
		players: make(map[string]*player),
		ctx:     ctx,
		cancel:  cancel,
	}
	r.touch()

	go r.loop()
	return r
}

func (r *Room) ID() string { return r.id }

// Done is closed once the room has shut down.
func (r *Room) Done() <-chan struct{} { return r.ctx.Done() }

// Close stops the room without waiting on its inbox. Connected outboxes are
// closed by the room goroutine.
func (r *Room) Close() { r.cancel() }

func (r *Room) LastActive() time.Time {
	return time.Unix(0, r.lastActive.Load())
}

// Send hands m to the room goroutine. It fails only once the room is closed.
func (r *Room) Send(m Msg) error {
	if r.ctx.Err() != nil {
		return ErrRoomClosed
	}
	select {
	case r.inbox <- m:
		return nil
	case <-r.ctx.Done():
		return ErrRoomClosed
	}
}

// State asks the room for a snapshot.
func (r *Room) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := r.Send(GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-r.ctx.Done():
		return View{}, ErrRoomClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (r *Room) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Create:
				r.touch()
				p := r.admit(msg.ConnID, msg.PlayerName, msg.Outbox)
				report(msg.Admitted, p != nil)
				if p == nil {
					break
				}
				r.send(p, types.ServerMessage{
					Type:         types.MsgGameCreated,
					RoomID:       r.id,
					ImageURL:     r.imageURL,
					InitialState: r.initial,
					PlayerID:     p.id,
					PlayerName:   p.name,
				})
				r.maybeStart()

			case Join:
				r.touch()
				p := r.admit(msg.ConnID, msg.PlayerName, msg.Outbox)
				report(msg.Admitted, p != nil)
				if p == nil {
					break
				}
				reply := types.ServerMessage{
					Type:         types.MsgGameJoined,
					RoomID:       r.id,
					ImageURL:     r.imageURL,
					InitialState: r.initial,
					PlayerID:     p.id,
					PlayerName:   p.name,
				}
				if opp := r.opponentOf(p.id); opp != nil {
					reply.OpponentName = opp.name
				}
				r.send(p, reply)
				r.maybeStart()

			case Update:
				r.touch()
				r.update(msg)

			case DeclareWin:
				r.touch()
				p, ok := r.players[msg.ConnID]
				if !ok {
					msg.Outbox.Offer(types.ErrorMessage(ErrTextNotPlayer))
					break
				}
				r.declareWinner(msg.Winner, p.moves, true)

			case Leave:
				r.touch()
				r.leave(msg.ConnID)

			case GetState:
				msg.Reply <- r.view()

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

// admit registers a connection as a player, replying with an error and
// returning nil when it cannot.
func (r *Room) admit(connID, rawName string, out *Outbox) *player {
	name, ok := normalizeName(rawName)
	if !ok {
		out.Offer(types.ErrorMessage(ErrTextNameMissing))
		return nil
	}
	if _, exists := r.players[connID]; exists {
		out.Offer(types.ErrorMessage(ErrTextAlreadyIn))
		return nil
	}
	if len(r.players) >= MaxPlayers {
		r.log.Info("join rejected, room full", zap.String("player", name))
		out.Offer(types.ErrorMessage(ErrTextFull))
		return nil
	}

	r.initialize()
	out.claim(r)

	p := &player{
		id:    connID,
		name:  name,
		board: r.initial.Clone(),
		out:   out,
	}
	r.players[connID] = p
	r.order = append(r.order, connID)

	r.log.Info("player joined", zap.String("player", name), zap.Int("players", len(r.players)))
	return p
}

// initialize fetches the image and deals the room's board on first use.
func (r *Room) initialize() {
	if r.initial != nil {
		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.opts.ImageTimeout)
	r.imageURL = r.opts.Images.ThemedImageURL(ctx, r.opts.ImageTopic)
	cancel()

	r.initial = puzzle.Generate(r.opts.BoardSize, r.rng)
}

func (r *Room) maybeStart() {
	if len(r.players) != MaxPlayers {
		return
	}
	r.started = true

	players := make(map[string]types.PlayerState, len(r.players))
	for _, p := range r.players {
		players[p.id] = types.PlayerState{Name: p.name, State: p.board}
	}
	r.log.Info("game started")
	r.broadcast(types.ServerMessage{Type: types.MsgGameStart, Players: players})
}

func (r *Room) update(msg Update) {
	p, ok := r.players[msg.ConnID]
	if !ok {
		msg.Outbox.Offer(types.ErrorMessage(ErrTextNotPlayer))
		return
	}
	if !r.started {
		return
	}

	if err := puzzle.Validate(msg.State, r.initial.Side()); err != nil {
		r.send(p, types.ErrorMessage("invalid board: "+err.Error()))
		return
	}
	if msg.Moves != nil && *msg.Moves < 0 {
		r.send(p, types.ErrorMessage(ErrTextBadMoves))
		return
	}
	if r.opts.StrictMoves && !puzzle.IsSingleMove(p.board, msg.State) {
		r.send(p, types.ErrorMessage(ErrTextIllegalMove))
		return
	}

	p.board = msg.State.Clone()
	if msg.Moves != nil {
		p.moves = *msg.Moves
	} else {
		p.moves++
	}

	moves := p.moves
	r.broadcast(types.ServerMessage{
		Type:       types.MsgGameUpdate,
		PlayerID:   p.id,
		State:      p.board,
		Moves:      &moves,
		VisualHint: msg.VisualHint,
	})

	if puzzle.IsWon(p.board) {
		r.declareWinner(p.name, p.moves, false)
	}
}

// declareWinner keeps the first win; later declarations are ignored.
func (r *Room) declareWinner(name string, moves int, clientDeclared bool) {
	if r.winner != "" {
		r.log.Debug("win ignored, already decided",
			zap.String("winner", r.winner),
			zap.String("claimed", name),
		)
		return
	}

	r.winner = name
	r.log.Info("game won", zap.String("winner", name), zap.Int("moves", moves), zap.Bool("client_declared", clientDeclared))
	r.broadcast(types.ServerMessage{Type: types.MsgGameWon, Winner: name})

	if r.opts.Results != nil {
		r.opts.Results.Record(store.Result{
			RoomID:         r.id,
			Winner:         name,
			Moves:          moves,
			ClientDeclared: clientDeclared,
			FinishedAt:     time.Now(),
		})
	}
}

func (r *Room) leave(connID string) {
	p, ok := r.players[connID]
	if !ok {
		return
	}
	delete(r.players, connID)
	r.order = slices.DeleteFunc(r.order, func(id string) bool { return id == connID })

	r.log.Info("player left", zap.String("player", p.name), zap.Int("players", len(r.players)))
	r.broadcast(types.ServerMessage{Type: types.MsgPlayerDisconnected, PlayerName: p.name})
}

func (r *Room) opponentOf(connID string) *player {
	for _, id := range r.order {
		if id != connID {
			return r.players[id]
		}
	}
	return nil
}

func (r *Room) phase() Phase {
	switch {
	case r.winner != "":
		return PhaseFinished
	case r.started:
		return PhaseActive
	case len(r.players) > 0:
		return PhaseAwaiting
	default:
		return PhaseEmpty
	}
}

func (r *Room) view() View {
	v := View{
		ID:           r.id,
		Phase:        r.phase(),
		ImageURL:     r.imageURL,
		InitialState: r.initial.Clone(),
		Started:      r.started,
		Winner:       r.winner,
		Players:      make([]PlayerView, 0, len(r.players)),
	}
	for _, id := range r.order {
		p := r.players[id]
		v.Players = append(v.Players, PlayerView{ID: p.id, Name: p.name, Moves: p.moves, State: p.board.Clone()})
	}
	return v
}

func (r *Room) send(p *player, msg types.ServerMessage) {
	// A player who moved to another room keeps its record here until the
	// Leave arrives.
	if p.out == nil || !p.out.ownedBy(r) {
		return
	}
	if p.out.Offer(msg) {
		return
	}
	// Client is slow/full - drop them. The transport closes the socket and
	// its Leave removes the record.
	if !p.out.Closed() {
		r.log.Warn("dropping slow client", zap.String("player", p.name))
	}
	p.out.Close()
	p.out = nil
}

func (r *Room) broadcast(msg types.ServerMessage) {
	for _, id := range r.order {
		r.send(r.players[id], msg)
	}
}

func (r *Room) shutdown() {
	for id, p := range r.players {
		if p.out.ownedBy(r) {
			p.out.Close() // Tell the transport no more messages
		}
		delete(r.players, id)
	}
	r.order = nil
	r.cancel()
}

func (r *Room) touch() {
	r.lastActive.Store(time.Now().UnixNano())
}

func report(ch chan<- bool, admitted bool) {
	if ch == nil {
		return
	}
	select {
	case ch <- admitted:
	default:
	}
}

func normalizeName(raw string) (string, bool) {
	name := norm.NFC.String(strings.TrimSpace(raw))
	if name == "" {
		return "", false
	}
	if utf8.RuneCountInString(name) > maxNameRunes {
		name = string([]rune(name)[:maxNameRunes])
	}
	return name, true
}
