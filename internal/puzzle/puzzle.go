package puzzle

import (
	"errors"
	"math/rand/v2"
)

var ErrNotSquare = errors.New("board is not square")
var ErrSizeMismatch = errors.New("board size mismatch")
var ErrBadTiles = errors.New("board tiles are not a permutation")

// Empty marks the single open slot on a board.
const Empty = 0

// Solved returns the canonical arrangement: 1..size²-1 followed by the empty slot.
func Solved(size int) Board {
	b := make(Board, size*size)
	for i := 0; i < len(b)-1; i++ {
		b[i] = i + 1
	}
	b[len(b)-1] = Empty
	return b
}

// Shuffled returns the tiles of a size×size board in a uniformly random order.
// The result may be unsolvable; see Generate.
func Shuffled(size int, rng *rand.Rand) Board {
	b := Solved(size)
	// rand.Shuffle is Fisher-Yates
	rng.Shuffle(len(b), func(i, j int) { b[i], b[j] = b[j], b[i] })
	return b
}

// Generate keeps shuffling until the board can reach the solved arrangement
// without already being in it. A 1×1 board has nothing to shuffle.
func Generate(size int, rng *rand.Rand) Board {
	if size == 1 {
		return Solved(size)
	}
	for {
		b := Shuffled(size, rng)
		if IsSolvable(b) && !IsWon(b) {
			return b
		}
	}
}

func IsSolvable(b Board) bool {
	size := b.Side()
	if size == 0 {
		return false
	}

	inversions := 0
	for i := 0; i < len(b)-1; i++ {
		if b[i] == Empty {
			continue
		}
		for j := i + 1; j < len(b); j++ {
			if b[j] != Empty && b[i] > b[j] {
				inversions++
			}
		}
	}

	if size%2 == 1 {
		return inversions%2 == 0
	}

	emptyRow := b.EmptyIndex() / size
	return (inversions+emptyRow)%2 == 1
}

// ApplyMove slides the tile at target into the empty slot. A target that is not
// orthogonally adjacent to the empty slot leaves the board as it was.
func ApplyMove(b Board, target int) Board {
	size := b.Side()
	empty := b.EmptyIndex()
	if size == 0 || empty < 0 || target < 0 || target >= len(b) {
		return b
	}
	if !isAdjacent(target, empty, size) {
		return b
	}

	next := b.Clone()
	next[target], next[empty] = next[empty], next[target]
	return next
}

func IsWon(b Board) bool {
	if len(b) == 0 {
		return false
	}
	for i, tile := range b {
		if i == len(b)-1 {
			return tile == Empty
		}
		if tile != i+1 {
			return false
		}
	}
	return false
}

// IsSingleMove reports whether next is prev or prev after exactly one legal slide.
func IsSingleMove(prev, next Board) bool {
	if len(prev) != len(next) {
		return false
	}
	if prev.Equal(next) {
		return true
	}
	empty := prev.EmptyIndex()
	if empty < 0 {
		return false
	}
	// The tile that moved now sits where the empty slot was.
	for i := range prev {
		if next[empty] == prev[i] && i != empty {
			return ApplyMove(prev, i).Equal(next)
		}
	}
	return false
}

// Validate checks that b is a well-formed size×size board.
func Validate(b Board, size int) error {
	side := b.Side()
	if side == 0 {
		return ErrNotSquare
	}
	if side != size {
		return ErrSizeMismatch
	}

	seen := make([]bool, len(b))
	for _, tile := range b {
		if tile < 0 || tile >= len(b) || seen[tile] {
			return ErrBadTiles
		}
		seen[tile] = true
	}
	return nil
}

func isAdjacent(a, b, size int) bool {
	rowA, colA := a/size, a%size
	rowB, colB := b/size, b%size

	sameCol := colA == colB && abs(rowA-rowB) == 1
	sameRow := rowA == rowB && abs(colA-colB) == 1
	return sameCol || sameRow
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
