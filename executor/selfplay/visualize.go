package selfplay

import (
	"fmt"
	"strings"

	"github.com/brensch/gozero/game"
)

func planeName(p int) string {
	switch {
	case p == game.HistoryPlanes:
		return "black to move"
	case p >= 0 && p < game.HistoryPlanes && p%2 == 0:
		return fmt.Sprintf("own stones, t-%d", p/2)
	case p >= 0 && p < game.HistoryPlanes:
		return fmt.Sprintf("opponent stones, t-%d", p/2)
	}
	return "unknown"
}

// FormatPlanes draws the given planes of an evaluator input vector, one
// grid per plane in the same orientation as the board renderer.
func FormatPlanes(features []bool, planes ...int) string {
	var sb strings.Builder
	for _, p := range planes {
		fmt.Fprintf(&sb, "plane %d (%s):\n", p, planeName(p))
		if p < 0 || p >= game.FeaturePlanes || len(features) < game.FeatureSize {
			sb.WriteString("  out of range\n")
			continue
		}
		for y := range game.BoardSize {
			sb.WriteString("  ")
			for x := range game.BoardSize {
				if features[game.CoordToID(x, y)*game.FeaturePlanes+p] {
					sb.WriteString("1 ")
				} else {
					sb.WriteString(". ")
				}
			}
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
