package game

// Features encodes the position as the evaluator input: FeatureSize bools,
// FeaturePlanes per point. Planes 0..15 alternate side to move and opponent
// from newest to oldest; plane 16 is set when black is to move.
func (s *State) Features() []bool {
	out := make([]bool, FeatureSize)
	s.FeaturesInto(out)
	return out
}

// FeaturesInto writes the encoding into dst, which must hold FeatureSize
// entries.
func (s *State) FeaturesInto(dst []bool) {
	_ = dst[FeatureSize-1]
	reverse := 0
	if s.current == Black {
		reverse = 1
	}
	planes := min(HistoryPlanes, s.historyLen)
	for i := range NumPoints {
		cell := dst[i*FeaturePlanes : (i+1)*FeaturePlanes]
		for j := range planes {
			cell[j] = s.history[s.historyLen-1-(j^reverse)][i]
		}
		for j := planes; j < HistoryPlanes; j++ {
			cell[j] = false
		}
		cell[HistoryPlanes] = reverse == 1
	}
}
