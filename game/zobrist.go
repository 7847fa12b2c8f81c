package game

import (
	"encoding/binary"

	"lukechampine.com/frand"
)

const zobristSeed = 0xdeadbeaf

// Zobrist weights. The table is generated once from a fixed seed so hashes
// are stable across processes.
var (
	playerWeights [4]uint64
	boardWeights  [4][NumPoints]uint64
)

func init() {
	seed := make([]byte, 32)
	binary.LittleEndian.PutUint32(seed, zobristSeed)
	rng := frand.NewCustom(seed, 1024, 12)

	buf := make([]byte, 8)
	next := func() uint64 {
		rng.Read(buf)
		return binary.LittleEndian.Uint64(buf)
	}
	for c := range playerWeights {
		playerWeights[c] = next()
		for i := range boardWeights[c] {
			boardWeights[c][i] = next()
		}
	}
}

// ComputeHash rebuilds the position hash from the board contents. Every move,
// passes included, toggles the side-to-move weights, so the hash carries them
// exactly when white is to move.
func ComputeHash(board *[NumPoints]Color, toMove Color) uint64 {
	var h uint64
	for i, c := range board {
		if c == Black || c == White {
			h ^= boardWeights[c][i]
		}
	}
	if toMove == White {
		h ^= playerWeights[Black] ^ playerWeights[White]
	}
	return h
}
