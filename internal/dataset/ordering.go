package dataset

import (
	"github.com/kilupskalvis/vlnload/internal/models"
	"github.com/kilupskalvis/vlnload/internal/random"
	"github.com/kilupskalvis/vlnload/internal/tensor"
)

// orderThreshold is the decision value below which a shuffled path is kept.
const orderThreshold = 0.7

// padPath is the padding value of ordering rows.
const padPath = -1

// excludedFromOrdering lists categories that never contribute ordering rows.
var excludedFromOrdering = map[string]bool{
	models.OrderNormal:           true,
	models.OrderNegativeCaptions: true,
}

// BuildOrderingTarget returns the [rows, maxPathLength] ordering-target matrix
// and the orientation flag of the last decision: 1 when the shuffled path was
// kept, 0 when the natural order was used. With no rows the flag is 1.
// Paths longer than maxPathLength are truncated.
func BuildOrderingTarget(labels models.OrderLabels, positiveLen, maxPathLength int, draw OrderDraw, src random.Source) (*tensor.Int64, int) {
	var value float64
	switch draw {
	case OrderDrawFixed:
		value = 1
	case OrderDrawPerPath:
	default:
		value = src.Float64()
	}

	natural := models.Identity(positiveLen)
	flag := 1
	var rows [][]int64
	for _, category := range labels {
		if excludedFromOrdering[category.Key] {
			continue
		}
		for _, path := range category.Paths {
			if draw == OrderDrawPerPath {
				value = src.Float64()
			}
			chosen := natural
			if value < orderThreshold {
				chosen = path
				flag = 1
			} else {
				flag = 0
			}
			rows = append(rows, padRow(chosen, maxPathLength))
		}
	}

	out := tensor.New[int64](len(rows), maxPathLength)
	for i, row := range rows {
		copy(out.Row(i), row)
	}
	return out, flag
}

func padRow(path []int, width int) []int64 {
	row := make([]int64, width)
	for i := range row {
		if i < len(path) {
			row[i] = int64(path[i])
		} else {
			row[i] = padPath
		}
	}
	return row
}
