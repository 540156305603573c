// Package types is the JSON wire protocol between browser and server. Every
// frame is an object with a "type" discriminator. Boards are row-major arrays
// of tile labels 1..N*N-1 with null for the empty slot.
package types

// Client -> Server
// createGame:
//   roomId: string      // base name; the server appends a unique suffix
//   playerName: string
//
// joinGame:
//   roomId: string      // full id; an unseen id creates the room
//   playerName: string
//
// updateGame:
//   state: (number|null)[]
//   moves: number       // optional, counts up by one when omitted
//   visualHint: number  // optional, relayed as-is
//
// gameWon:
//   winner: string

// Server -> Client
// gameCreated / gameJoined:
//   roomId, imageUrl, initialState, playerId, playerName
//   opponentName: string // gameJoined only, when someone is already seated
//
// gameStart:
//   players: { [playerId]: { name, state } }
//
// gameUpdate:
//   playerId, state, moves, visualHint
//
// gameWon:
//   winner: string
//
// playerDisconnected:
//   playerName: string
//
// gameError:
//   message: string
