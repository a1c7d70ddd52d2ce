package training

import (
	"math"
	"math/rand"
	"sort"

	"github.com/noah-isme/student-risk-api/internal/anomaly"
)

// stratifiedSplit partitions row indices into train and test sets, keeping the
// at-risk share of each set close to the overall share. Both sets are returned sorted.
func stratifiedSplit(labels []bool, testSize float64, seed int64) ([]int, []int) {
	rng := rand.New(rand.NewSource(seed))

	var positives, negatives []int
	for i, label := range labels {
		if label {
			positives = append(positives, i)
		} else {
			negatives = append(negatives, i)
		}
	}

	var train, test []int
	for _, class := range [][]int{negatives, positives} {
		rng.Shuffle(len(class), func(i, j int) { class[i], class[j] = class[j], class[i] })
		n := int(math.Round(testSize * float64(len(class))))
		test = append(test, class[:n]...)
		train = append(train, class[n:]...)
	}

	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

// f1Score treats at-risk as the positive class and an anomaly verdict as a positive prediction.
func f1Score(actual []bool, predicted []anomaly.Label) float64 {
	var tp, fp, fn float64
	for i, label := range actual {
		flagged := predicted[i] == anomaly.Anomaly
		switch {
		case label && flagged:
			tp++
		case !label && flagged:
			fp++
		case label && !flagged:
			fn++
		}
	}
	if tp == 0 {
		return 0
	}
	return 2 * tp / (2*tp + fp + fn)
}

func positiveRate(labels []bool, indices []int) float64 {
	if len(indices) == 0 {
		return 0
	}
	positives := 0
	for _, idx := range indices {
		if labels[idx] {
			positives++
		}
	}
	return float64(positives) / float64(len(indices))
}

func selectRows(matrix [][]float64, indices []int) [][]float64 {
	rows := make([][]float64, len(indices))
	for i, idx := range indices {
		rows[i] = matrix[idx]
	}
	return rows
}

func selectLabels(labels []bool, indices []int) []bool {
	selected := make([]bool, len(indices))
	for i, idx := range indices {
		selected[i] = labels[idx]
	}
	return selected
}
