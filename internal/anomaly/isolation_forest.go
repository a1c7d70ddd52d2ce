// Package anomaly provides the unsupervised outlier model behind the risk score.
package anomaly

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Label is the model verdict for a single vector.
type Label int

const (
	// Anomaly marks an outlier.
	Anomaly Label = -1
	// Normal marks an inlier.
	Normal Label = 1
)

// String returns the human-readable verdict.
func (l Label) String() string {
	if l == Anomaly {
		return "anomaly"
	}
	return "normal"
}

// MaxContamination caps the fraction of training rows treated as outliers.
const MaxContamination = 0.5

const eulerGamma = 0.5772156649015329

// ErrNotFitted is returned when scoring with a forest that has no trees.
var ErrNotFitted = errors.New("isolation forest is not fitted")

// Scorer is the capability the risk pipeline needs from the outlier model.
type Scorer interface {
	Predict(vector []float64) (Label, error)
	Score(vector []float64) (float64, error)
}

// Options configures forest fitting.
type Options struct {
	NumTrees      int
	MaxSamples    int
	Contamination float64
	Seed          int64
}

// DefaultOptions mirrors the hyperparameters the serving thresholds were calibrated against.
func DefaultOptions() Options {
	return Options{
		NumTrees:      200,
		MaxSamples:    256,
		Contamination: 0.1,
		Seed:          42,
	}
}

// Node is a flattened tree node. Leaves have Left and Right set to -1.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Size      int     `json:"n"`
}

func (n Node) isLeaf() bool {
	return n.Left < 0 && n.Right < 0
}

// Tree is one isolation tree stored as a node array rooted at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// IsolationForest is an ensemble of isolation trees.
type IsolationForest struct {
	NumTrees      int     `json:"n_estimators"`
	MaxSamples    int     `json:"max_samples"`
	Contamination float64 `json:"contamination"`
	Offset        float64 `json:"offset"`
	NumFeatures   int     `json:"n_features"`
	Trees         []Tree  `json:"trees"`
}

// Fit grows a forest on matrix. Every row must have the same width.
func Fit(matrix [][]float64, opts Options) (*IsolationForest, error) {
	if len(matrix) == 0 {
		return nil, errors.New("cannot fit isolation forest on empty matrix")
	}
	if opts.NumTrees <= 0 {
		opts.NumTrees = DefaultOptions().NumTrees
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = DefaultOptions().MaxSamples
	}
	if opts.Contamination <= 0 || opts.Contamination > MaxContamination {
		return nil, fmt.Errorf("contamination must be in (0, %.1f], got %f", MaxContamination, opts.Contamination)
	}

	width := len(matrix[0])
	for i, row := range matrix {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), width)
		}
	}

	sampleSize := opts.MaxSamples
	if len(matrix) < sampleSize {
		sampleSize = len(matrix)
	}

	forest := &IsolationForest{
		NumTrees:      opts.NumTrees,
		MaxSamples:    sampleSize,
		Contamination: opts.Contamination,
		NumFeatures:   width,
		Trees:         make([]Tree, opts.NumTrees),
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(sampleSize), 2))))

	for i := range forest.Trees {
		builder := treeBuilder{rng: rng, maxDepth: maxDepth, width: width}
		builder.grow(sampleRows(matrix, sampleSize, rng), 0)
		forest.Trees[i] = Tree{Nodes: builder.nodes}
	}

	scores := make([]float64, len(matrix))
	for i, row := range matrix {
		scores[i] = forest.score(row)
	}
	forest.Offset = percentile(scores, 100*opts.Contamination)

	return forest, nil
}

// Score returns the opposite of the anomaly score of the original isolation
// forest paper: values near -1 are outliers, values near -0.5 or above are inliers.
func (f *IsolationForest) Score(vector []float64) (float64, error) {
	if err := f.check(vector); err != nil {
		return 0, err
	}
	return f.score(vector), nil
}

// Predict labels vector as an anomaly when its score falls below the fitted offset.
func (f *IsolationForest) Predict(vector []float64) (Label, error) {
	score, err := f.Score(vector)
	if err != nil {
		return Normal, err
	}
	if score-f.Offset < 0 {
		return Anomaly, nil
	}
	return Normal, nil
}

// PredictAll labels every row of matrix.
func (f *IsolationForest) PredictAll(matrix [][]float64) ([]Label, error) {
	labels := make([]Label, len(matrix))
	for i, row := range matrix {
		label, err := f.Predict(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		labels[i] = label
	}
	return labels, nil
}

// Validate checks the structural consistency of a decoded forest.
func (f *IsolationForest) Validate() error {
	if len(f.Trees) == 0 {
		return ErrNotFitted
	}
	if f.NumFeatures <= 0 {
		return errors.New("isolation forest has no features")
	}
	for i, tree := range f.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", i)
		}
		for j, node := range tree.Nodes {
			if node.isLeaf() {
				continue
			}
			if node.Left <= j || node.Right <= j || node.Left >= len(tree.Nodes) || node.Right >= len(tree.Nodes) {
				return fmt.Errorf("tree %d node %d has invalid children", i, j)
			}
			if node.Feature < 0 || node.Feature >= f.NumFeatures {
				return fmt.Errorf("tree %d node %d splits on unknown feature %d", i, j, node.Feature)
			}
		}
	}
	return nil
}

func (f *IsolationForest) check(vector []float64) error {
	if len(f.Trees) == 0 {
		return ErrNotFitted
	}
	if len(vector) != f.NumFeatures {
		return fmt.Errorf("expected %d features, got %d", f.NumFeatures, len(vector))
	}
	return nil
}

func (f *IsolationForest) score(vector []float64) float64 {
	total := 0.0
	for _, tree := range f.Trees {
		total += tree.pathLength(vector)
	}
	mean := total / float64(len(f.Trees))
	normalizer := averagePathLength(f.MaxSamples)
	if normalizer == 0 {
		// A single-row sample gives every point the neutral score.
		return -0.5
	}
	return -math.Pow(2, -mean/normalizer)
}

func (t Tree) pathLength(vector []float64) float64 {
	idx := 0
	depth := 0
	for {
		node := t.Nodes[idx]
		if node.isLeaf() {
			return float64(depth) + averagePathLength(node.Size)
		}
		if vector[node.Feature] < node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
		depth++
	}
}

type treeBuilder struct {
	rng      *rand.Rand
	maxDepth int
	width    int
	nodes    []Node
}

func (b *treeBuilder) grow(rows [][]float64, depth int) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{Left: -1, Right: -1, Size: len(rows)})

	if len(rows) <= 1 || depth >= b.maxDepth {
		return idx
	}

	// Random feature among those that still vary; a fully constant node stays a leaf.
	candidates := b.rng.Perm(b.width)
	feature := -1
	var lo, hi float64
	for _, f := range candidates {
		lo, hi = columnRange(rows, f)
		if lo < hi {
			feature = f
			break
		}
	}
	if feature < 0 {
		return idx
	}

	threshold := lo + b.rng.Float64()*(hi-lo)
	if threshold <= lo {
		threshold = math.Nextafter(lo, hi)
	}

	left := make([][]float64, 0, len(rows)/2)
	right := make([][]float64, 0, len(rows)/2)
	for _, row := range rows {
		if row[feature] < threshold {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	b.nodes[idx].Feature = feature
	b.nodes[idx].Threshold = threshold
	leftIdx := b.grow(left, depth+1)
	rightIdx := b.grow(right, depth+1)
	b.nodes[idx].Left = leftIdx
	b.nodes[idx].Right = rightIdx

	return idx
}

func columnRange(rows [][]float64, feature int) (float64, float64) {
	lo := rows[0][feature]
	hi := lo
	for _, row := range rows[1:] {
		v := row[feature]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func sampleRows(matrix [][]float64, n int, rng *rand.Rand) [][]float64 {
	indices := rng.Perm(len(matrix))[:n]
	sample := make([][]float64, n)
	for i, idx := range indices {
		sample[i] = matrix[idx]
	}
	return sample
}

// averagePathLength is c(n), the average path length of an unsuccessful
// binary search tree lookup over n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}
