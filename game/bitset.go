package game

import "math/bits"

const bitsetWords = (NumPoints + 63) / 64

// bitset holds one bit per board point.
type bitset [bitsetWords]uint64

func (b *bitset) set(id int)      { b[id>>6] |= 1 << uint(id&63) }
func (b *bitset) clear(id int)    { b[id>>6] &^= 1 << uint(id&63) }
func (b *bitset) has(id int) bool { return b[id>>6]&(1<<uint(id&63)) != 0 }

func (b *bitset) count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

// lowest returns the smallest set point or -1.
func (b *bitset) lowest() int {
	for i, w := range b {
		if w != 0 {
			return i<<6 + bits.TrailingZeros64(w)
		}
	}
	return -1
}
