package game

// NumSymmetries is the size of the board's dihedral group.
const NumSymmetries = 8

// TransformCoord applies symmetry mode to (x, y). Bit 0 flips x, bit 1 flips
// y and bit 2 swaps the axes; reverse applies the inverse.
func TransformCoord(x, y, mode int, reverse bool) (int, int) {
	if reverse {
		if mode&4 != 0 {
			x, y = y, x
		}
		if mode&2 != 0 {
			y = BoardSize - y - 1
		}
		if mode&1 != 0 {
			x = BoardSize - x - 1
		}
		return x, y
	}
	if mode&1 != 0 {
		x = BoardSize - x - 1
	}
	if mode&2 != 0 {
		y = BoardSize - y - 1
	}
	if mode&4 != 0 {
		x, y = y, x
	}
	return x, y
}

// Transform returns a permuted copy of a point-major vector of len
// NumPoints*depth.
// Point i of the result takes the data of point T(i). Entries past
// NumPoints*depth (the pass slot of a policy) are kept as is.
func Transform[T any](v []T, mode int, reverse bool) []T {
	if mode == 0 {
		return v
	}
	depth := len(v) / NumPoints
	out := make([]T, len(v))
	copy(out[NumPoints*depth:], v[NumPoints*depth:])
	for i := range NumPoints {
		x, y := IDToCoord(i)
		x, y = TransformCoord(x, y, mode, reverse)
		j := CoordToID(x, y)
		copy(out[i*depth:(i+1)*depth], v[j*depth:(j+1)*depth])
	}
	return out
}
