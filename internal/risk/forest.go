package risk

import (
	"math"
	"math/rand/v2"
	"sort"
)

// Node is one entry of a flattened decision tree. Internal nodes route
// x[Feature] <= Threshold to Left, otherwise Right. Leaves carry the
// positive-class fraction of the training samples that reached them.
type Node struct {
	Leaf      bool    `json:"leaf,omitempty"`
	Feature   int     `json:"f,omitempty"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Prob      float64 `json:"p,omitempty"`
}

// Tree is a binary classification tree stored as a Node slice rooted at 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Forest is a bagged ensemble of classification trees.
type Forest struct {
	Features int    `json:"features"`
	Trees    []Tree `json:"trees"`
}

// forestParams controls tree growth.
type forestParams struct {
	trees    int
	maxDepth int // 0 = unlimited
	minLeaf  int
}

func (t *Tree) predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Prob
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// PredictProba returns the mean positive-class probability over all trees.
func (f *Forest) PredictProba(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].predict(x)
	}
	return sum / float64(len(f.Trees))
}

// Predict returns 1 when the positive-class probability exceeds 0.5.
func (f *Forest) Predict(x []float64) int {
	if f.PredictProba(x) > 0.5 {
		return 1
	}
	return 0
}

// fitForest grows p.trees trees, each on a bootstrap sample of (x, y),
// considering √features candidate features per split.
func fitForest(x [][]float64, y []int, p forestParams, rng *rand.Rand) *Forest {
	nFeat := 0
	if len(x) > 0 {
		nFeat = len(x[0])
	}
	mtry := max(1, int(math.Sqrt(float64(nFeat))))

	f := &Forest{Features: nFeat, Trees: make([]Tree, 0, p.trees)}
	for range p.trees {
		sample := make([]int, len(x))
		for i := range sample {
			sample[i] = rng.IntN(len(x))
		}
		b := &treeBuilder{x: x, y: y, p: p, mtry: mtry, rng: rng}
		b.grow(sample, 0)
		f.Trees = append(f.Trees, Tree{Nodes: b.nodes})
	}
	return f
}

type treeBuilder struct {
	x     [][]float64
	y     []int
	p     forestParams
	mtry  int
	rng   *rand.Rand
	nodes []Node
}

// grow appends the subtree for samples and returns its root index.
func (b *treeBuilder) grow(samples []int, depth int) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{})

	pos := 0
	for _, s := range samples {
		pos += b.y[s]
	}
	prob := float64(pos) / float64(len(samples))

	stop := pos == 0 || pos == len(samples) ||
		len(samples) < 2*b.p.minLeaf ||
		(b.p.maxDepth > 0 && depth >= b.p.maxDepth)
	if !stop {
		if feat, thr, ok := b.bestSplit(samples); ok {
			var left, right []int
			for _, s := range samples {
				if b.x[s][feat] <= thr {
					left = append(left, s)
				} else {
					right = append(right, s)
				}
			}
			l := b.grow(left, depth+1)
			r := b.grow(right, depth+1)
			b.nodes[idx] = Node{Feature: feat, Threshold: thr, Left: l, Right: r}
			return idx
		}
	}

	b.nodes[idx] = Node{Leaf: true, Prob: prob}
	return idx
}

// bestSplit draws features in random order and returns the lowest-impurity
// split among the first mtry of them. When none of those admits a split,
// the remaining features are tried until one does.
func (b *treeBuilder) bestSplit(samples []int) (int, float64, bool) {
	order := b.rng.Perm(len(b.x[0]))

	bestFeat, bestThr := -1, 0.0
	bestImp := math.Inf(1)
	for tried, feat := range order {
		if tried >= b.mtry && bestFeat >= 0 {
			break
		}
		thr, imp, ok := b.splitFeature(samples, feat)
		if ok && imp < bestImp {
			bestFeat, bestThr, bestImp = feat, thr, imp
		}
	}
	if bestFeat < 0 {
		return 0, 0, false
	}
	return bestFeat, bestThr, true
}

// splitFeature scans midpoints between distinct sorted values of one
// feature and returns the threshold with the lowest weighted Gini impurity.
func (b *treeBuilder) splitFeature(samples []int, feat int) (float64, float64, bool) {
	sorted := make([]int, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool { return b.x[sorted[i]][feat] < b.x[sorted[j]][feat] })

	n := len(sorted)
	totalPos := 0
	for _, s := range sorted {
		totalPos += b.y[s]
	}

	bestThr, bestImp := 0.0, math.Inf(1)
	found := false
	leftPos := 0
	for i := 0; i < n-1; i++ {
		leftPos += b.y[sorted[i]]
		lo, hi := b.x[sorted[i]][feat], b.x[sorted[i+1]][feat]
		if lo == hi {
			continue
		}
		nl, nr := i+1, n-i-1
		if nl < b.p.minLeaf || nr < b.p.minLeaf {
			continue
		}
		imp := (float64(nl)*gini(leftPos, nl) + float64(nr)*gini(totalPos-leftPos, nr)) / float64(n)
		if imp < bestImp {
			bestThr, bestImp, found = lo+(hi-lo)/2, imp, true
		}
	}
	return bestThr, bestImp, found
}

func gini(pos, n int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(pos) / float64(n)
	return 2 * p * (1 - p)
}
