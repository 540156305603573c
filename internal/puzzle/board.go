package puzzle

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
)

// Board is an N×N sliding-tile layout stored row-major. On the wire the empty
// slot is encoded as null.
type Board []int

// Side returns N for an N×N board, or 0 if the cell count is not a perfect square.
func (b Board) Side() int {
	if len(b) == 0 {
		return 0
	}
	n := int(math.Sqrt(float64(len(b))))
	if n*n != len(b) {
		return 0
	}
	return n
}

func (b Board) EmptyIndex() int {
	return slices.Index(b, Empty)
}

func (b Board) Clone() Board {
	return slices.Clone(b)
}

func (b Board) Equal(other Board) bool {
	return slices.Equal(b, other)
}

func (b Board) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	cells := make([]*int, len(b))
	for i, tile := range b {
		if tile == Empty {
			continue
		}
		v := tile
		cells[i] = &v
	}
	return json.Marshal(cells)
}

func (b *Board) UnmarshalJSON(data []byte) error {
	var cells []*int
	if err := json.Unmarshal(data, &cells); err != nil {
		return err
	}
	if cells == nil {
		*b = nil
		return nil
	}

	out := make(Board, len(cells))
	for i, c := range cells {
		if c == nil {
			out[i] = Empty
			continue
		}
		if *c <= 0 {
			return fmt.Errorf("cell %d: tile label must be positive, got %d", i, *c)
		}
		out[i] = *c
	}
	*b = out
	return nil
}
