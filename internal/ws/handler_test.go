package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/puzzle-duel-backend/internal/hub"
	"github.com/DoyleJ11/puzzle-duel-backend/internal/imagery"
	"github.com/DoyleJ11/puzzle-duel-backend/internal/puzzle"
	"github.com/DoyleJ11/puzzle-duel-backend/internal/room"
	"github.com/DoyleJ11/puzzle-duel-backend/internal/types"
)

const testImage = "https://img.test/duel.jpg"

func newServer(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	// Connection goroutines keep logging after the test returns.
	log := zap.NewNop()
	h := hub.NewHub(ctx, hub.Options{
		Room:   room.Options{BoardSize: 3, Images: imagery.Static(testImage)},
		Logger: log,
	})
	srv := httptest.NewServer(Handler(h, Options{Logger: log}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func write(t *testing.T, c *websocket.Conn, msg types.ClientMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, c, msg))
}

func read(t *testing.T, c *websocket.Conn) types.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var msg types.ServerMessage
	require.NoError(t, wsjson.Read(ctx, c, &msg))
	return msg
}

func readType(t *testing.T, c *websocket.Conn, want string) types.ServerMessage {
	t.Helper()
	msg := read(t, c)
	require.Equal(t, want, msg.Type, "message: %+v", msg)
	return msg
}

// startDuel creates a room as Alice and joins it as Bob, draining the
// setup traffic on both sockets.
func startDuel(t *testing.T, url string) (alice, bob *websocket.Conn, roomID string) {
	t.Helper()
	alice = dial(t, url)
	bob = dial(t, url)

	write(t, alice, types.ClientMessage{Type: types.MsgCreateGame, RoomID: "Duel", PlayerName: "Alice"})
	created := readType(t, alice, types.MsgGameCreated)
	require.True(t, strings.HasPrefix(created.RoomID, "Duel-"), "room id %q", created.RoomID)
	assert.Equal(t, testImage, created.ImageURL)
	require.Len(t, created.InitialState, 9)

	write(t, bob, types.ClientMessage{Type: types.MsgJoinGame, RoomID: created.RoomID, PlayerName: "Bob"})
	joined := readType(t, bob, types.MsgGameJoined)
	assert.Equal(t, "Alice", joined.OpponentName)
	assert.Equal(t, created.InitialState, joined.InitialState)

	for _, c := range []*websocket.Conn{alice, bob} {
		start := readType(t, c, types.MsgGameStart)
		require.Len(t, start.Players, 2)
	}
	return alice, bob, created.RoomID
}

func TestHandler_FullDuel(t *testing.T) {
	url := newServer(t)
	alice, bob, _ := startDuel(t, url)

	moves := 12
	write(t, alice, types.ClientMessage{
		Type:  types.MsgUpdateGame,
		State: puzzle.Solved(3),
		Moves: &moves,
	})

	for _, c := range []*websocket.Conn{alice, bob} {
		upd := readType(t, c, types.MsgGameUpdate)
		assert.Equal(t, puzzle.Solved(3), upd.State)
		require.NotNil(t, upd.Moves)
		assert.Equal(t, 12, *upd.Moves)

		won := readType(t, c, types.MsgGameWon)
		assert.Equal(t, "Alice", won.Winner)
	}
}

func TestHandler_DisconnectNotifiesOpponent(t *testing.T) {
	url := newServer(t)
	alice, bob, _ := startDuel(t, url)

	require.NoError(t, bob.Close(websocket.StatusNormalClosure, "bye"))

	msg := readType(t, alice, types.MsgPlayerDisconnected)
	assert.Equal(t, "Bob", msg.PlayerName)
}

func TestHandler_ThirdPlayerRejected(t *testing.T) {
	url := newServer(t)
	_, _, roomID := startDuel(t, url)

	carol := dial(t, url)
	write(t, carol, types.ClientMessage{Type: types.MsgJoinGame, RoomID: roomID, PlayerName: "Carol"})

	msg := readType(t, carol, types.MsgGameError)
	assert.Equal(t, room.ErrTextFull, msg.Message)
}

func TestHandler_RejectedJoinKeepsCurrentGame(t *testing.T) {
	url := newServer(t)
	alice, bob, _ := startDuel(t, url)
	_, _, fullRoom := startDuel(t, url)

	write(t, alice, types.ClientMessage{Type: types.MsgJoinGame, RoomID: fullRoom, PlayerName: "Alice"})
	msg := readType(t, alice, types.MsgGameError)
	assert.Equal(t, room.ErrTextFull, msg.Message)

	// Alice is still seated: her next move reaches Bob, and Bob saw no disconnect.
	b := puzzle.Solved(3)
	b[7], b[8] = b[8], b[7]
	write(t, alice, types.ClientMessage{Type: types.MsgUpdateGame, State: b})

	for _, c := range []*websocket.Conn{alice, bob} {
		upd := readType(t, c, types.MsgGameUpdate)
		assert.Equal(t, b, upd.State)
	}
}

func TestHandler_ClientErrors(t *testing.T) {
	url := newServer(t)

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"malformed json", `{"type":`, errTextMalformed},
		{"unknown type", `{"type":"dance"}`, errTextUnknownType},
		{"client cannot force a start", `{"type":"gameStart","playerName":"Ann"}`, errTextUnknownType},
		{"update outside a room", `{"type":"updateGame","state":[1,2,3,4,5,6,7,8,null]}`, errTextNoRoom},
		{"win outside a room", `{"type":"gameWon","winner":"me"}`, errTextNoRoom},
		{"create without name", `{"type":"createGame","roomId":"x"}`, "missing field: playerName"},
		{"join without room", `{"type":"joinGame","playerName":"Ann"}`, "missing field: roomId"},
		{"update without state", `{"type":"updateGame"}`, "missing field: state"},
		{"board with zero tile", `{"type":"updateGame","state":[0,1,2,3]}`, errTextMalformed},
	}

	c := dial(t, url)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(tt.raw)))

			msg := readType(t, c, types.MsgGameError)
			assert.Equal(t, tt.want, msg.Message)
		})
	}
}

func TestHandler_ErrorsDoNotLeakToOpponent(t *testing.T) {
	url := newServer(t)
	alice, bob, _ := startDuel(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, alice.Write(ctx, websocket.MessageText, []byte("not json")))
	readType(t, alice, types.MsgGameError)

	// Bob's next message is his own update, not Alice's error.
	b := puzzle.Solved(3)
	b[7], b[8] = b[8], b[7]
	write(t, bob, types.ClientMessage{Type: types.MsgUpdateGame, State: b})

	upd := readType(t, bob, types.MsgGameUpdate)
	assert.Equal(t, b, upd.State)
	require.NotNil(t, upd.Moves)
	assert.Equal(t, 1, *upd.Moves)
}

func TestHandler_CreateAgainLeavesPreviousRoom(t *testing.T) {
	url := newServer(t)
	alice, bob, _ := startDuel(t, url)

	write(t, bob, types.ClientMessage{Type: types.MsgCreateGame, RoomID: "Rematch", PlayerName: "Bob"})

	left := readType(t, alice, types.MsgPlayerDisconnected)
	assert.Equal(t, "Bob", left.PlayerName)

	created := readType(t, bob, types.MsgGameCreated)
	assert.True(t, strings.HasPrefix(created.RoomID, "Rematch-"))
}

func TestMissingField(t *testing.T) {
	assert.Equal(t, "", missingField(types.ClientMessage{Type: types.MsgJoinGame, RoomID: "r", PlayerName: "p"}))
	assert.Equal(t, "playerName", missingField(types.ClientMessage{Type: types.MsgJoinGame, RoomID: "r", PlayerName: "  "}))
	assert.Equal(t, "winner", missingField(types.ClientMessage{Type: types.MsgGameWon}))
	assert.Equal(t, "", missingField(types.ClientMessage{Type: "whatever"}))
}
