package device

import (
	"github.com/achilleasa/rtframe/types"
	"github.com/chewxy/math32"
	"golang.org/x/sync/errgroup"
)

const (
	// The builder will not attempt to calculate split candidates if the
	// node bbox along an axis is less than this threshold.
	minSideLength float32 = 1e-5

	// Number of split candidates evaluated per axis.
	splitCandidates = 32

	// Axes are scored in parallel for work lists larger than this.
	parallelScoreThreshold = 512

	// Bvh nodes take 32 bytes.
	sizeofBvhNode = 32
)

// Bvh node definition. For inner nodes LData and RData hold the left and
// right child indices (always > 0). For leafs LData is <= 0 and holds the
// negated index of the first primitive and RData holds the primitive count.
type bvhNode struct {
	Min   types.Vec3
	LData int32

	Max   types.Vec3
	RData int32
}

func (n *bvhNode) setChildNodes(left, right uint32) {
	n.LData = int32(left)
	n.RData = int32(right)
}

func (n *bvhNode) setPrimitives(first, count uint32) {
	n.LData = -int32(first)
	n.RData = int32(count)
}

func (n *bvhNode) isLeaf() bool {
	return n.LData <= 0
}

func (n *bvhNode) primitives() (first, count uint32) {
	return uint32(-n.LData), uint32(n.RData)
}

// An item partitioned by the builder.
type boundedVolume struct {
	min, max, center types.Vec3

	// Index of the primitive or instance this volume bounds.
	index uint32
}

func newBoundedVolume(index uint32, min, max types.Vec3) boundedVolume {
	return boundedVolume{
		min:    min,
		max:    max,
		center: min.Add(max).Mul(0.5),
		index:  index,
	}
}

type splitScore struct {
	axis       int
	splitPoint float32

	leftCount, rightCount int
	score                 float32
}

type bvhBuildStats struct {
	nodes    int
	leafs    int
	maxDepth int
}

type bvhBuilder struct {
	nodes []bvhNode

	// Item indices in leaf order.
	order []uint32

	// The minimum number of items that are required for creating a leaf.
	minLeafItems int

	stats bvhBuildStats
}

// Construct a BVH over a set of bounded volumes using the surface area
// heuristic and return the node list plus the leaf ordering of the items.
func buildBvh(workList []boundedVolume, minLeafItems int) ([]bvhNode, []uint32, bvhBuildStats) {
	b := &bvhBuilder{
		nodes:        make([]bvhNode, 0, 2*len(workList)),
		order:        make([]uint32, 0, len(workList)),
		minLeafItems: minLeafItems,
	}

	b.partition(workList, 0)
	return b.nodes, b.order, b.stats
}

func emptyBounds() (types.Vec3, types.Vec3) {
	return types.Splat3(math32.MaxFloat32), types.Splat3(-math32.MaxFloat32)
}

// Partition worklist and return node index.
func (b *bvhBuilder) partition(workList []boundedVolume, depth int) uint32 {
	if depth > b.stats.maxDepth {
		b.stats.maxDepth = depth
	}

	var node bvhNode
	node.Min, node.Max = emptyBounds()
	for _, item := range workList {
		node.Min = types.MinVec3(node.Min, item.min)
		node.Max = types.MaxVec3(node.Max, item.max)
	}

	// Do we have enough items for partitioning? If not create a leaf
	if len(workList) <= b.minLeafItems {
		return b.createLeaf(&node, workList)
	}

	bestScore := scorePartition(workList)
	var bestSplit *splitScore

	// Score split candidates for each axis
	side := node.Max.Sub(node.Min)
	axisBest := make([]splitScore, 3)
	scoreAxis := func(axis int) {
		axisBest[axis] = splitScore{score: math32.MaxFloat32}
		if side[axis] < minSideLength {
			return
		}
		splitStep := side[axis] / splitCandidates
		for step := 1; step < splitCandidates; step++ {
			splitPoint := node.Min[axis] + float32(step)*splitStep
			lCount, rCount, score := scoreSplit(workList, axis, splitPoint)
			if score < axisBest[axis].score {
				axisBest[axis] = splitScore{
					axis:       axis,
					splitPoint: splitPoint,
					leftCount:  lCount,
					rightCount: rCount,
					score:      score,
				}
			}
		}
	}

	if len(workList) > parallelScoreThreshold {
		var g errgroup.Group
		for axis := 0; axis < 3; axis++ {
			g.Go(func() error {
				scoreAxis(axis)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for axis := 0; axis < 3; axis++ {
			scoreAxis(axis)
		}
	}

	for axis := range axisBest {
		if axisBest[axis].score < bestScore {
			bestScore = axisBest[axis].score
			bestSplit = &axisBest[axis]
		}
	}

	// If we can't find a split that improves the current node score
	// create a leaf. Fall back to a median split when the leaf would
	// become too large (e.g. many coincident centers).
	if bestSplit == nil {
		if len(workList) <= 4*b.minLeafItems || side[side.MaxAxis()] < minSideLength {
			return b.createLeaf(&node, workList)
		}
		bestSplit = medianSplit(workList, side.MaxAxis())
	}

	// split work list into two sets
	leftWorkList := make([]boundedVolume, 0, bestSplit.leftCount)
	rightWorkList := make([]boundedVolume, 0, bestSplit.rightCount)
	for _, item := range workList {
		if item.center[bestSplit.axis] < bestSplit.splitPoint {
			leftWorkList = append(leftWorkList, item)
		} else {
			rightWorkList = append(rightWorkList, item)
		}
	}
	if len(leftWorkList) == 0 || len(rightWorkList) == 0 {
		return b.createLeaf(&node, workList)
	}

	// Add node to list
	nodeIndex := len(b.nodes)
	b.nodes = append(b.nodes, node)
	b.stats.nodes++

	// Partition children and update node indices
	leftNodeIndex := b.partition(leftWorkList, depth+1)
	rightNodeIndex := b.partition(rightWorkList, depth+1)
	b.nodes[nodeIndex].setChildNodes(leftNodeIndex, rightNodeIndex)

	return uint32(nodeIndex)
}

// Setup the given node as a leaf containing all items in the work list.
func (b *bvhBuilder) createLeaf(node *bvhNode, workList []boundedVolume) uint32 {
	node.setPrimitives(uint32(len(b.order)), uint32(len(workList)))
	for _, item := range workList {
		b.order = append(b.order, item.index)
	}

	nodeIndex := len(b.nodes)
	b.nodes = append(b.nodes, *node)
	b.stats.leafs++
	return uint32(nodeIndex)
}

func medianSplit(workList []boundedVolume, axis int) *splitScore {
	var cMin, cMax float32 = math32.MaxFloat32, -math32.MaxFloat32
	for _, item := range workList {
		cMin = math32.Min(cMin, item.center[axis])
		cMax = math32.Max(cMax, item.center[axis])
	}
	splitPoint := (cMin + cMax) * 0.5
	lCount, rCount, _ := scoreSplit(workList, axis, splitPoint)
	return &splitScore{axis: axis, splitPoint: splitPoint, leftCount: lCount, rightCount: rCount}
}

// Score a split based on the surface area heuristic (lower is better):
//
// left count * left BBOX area + right count * right BBOX area.
//
// Splits that generate empty partitions get the worst possible score.
func scoreSplit(workList []boundedVolume, axis int, splitPoint float32) (leftCount, rightCount int, score float32) {
	lmin, lmax := emptyBounds()
	rmin, rmax := emptyBounds()

	for _, item := range workList {
		if item.center[axis] < splitPoint {
			leftCount++
			lmin = types.MinVec3(lmin, item.min)
			lmax = types.MaxVec3(lmax, item.max)
		} else {
			rightCount++
			rmin = types.MinVec3(rmin, item.min)
			rmax = types.MaxVec3(rmax, item.max)
		}
	}

	if leftCount == 0 || rightCount == 0 {
		return leftCount, rightCount, math32.MaxFloat32
	}

	return leftCount, rightCount, float32(leftCount)*halfArea(lmin, lmax) + float32(rightCount)*halfArea(rmin, rmax)
}

// Score an unsplit work list: count * BBOX area.
func scorePartition(workList []boundedVolume) float32 {
	if len(workList) == 0 {
		return math32.MaxFloat32
	}

	min, max := emptyBounds()
	for _, item := range workList {
		min = types.MinVec3(min, item.min)
		max = types.MaxVec3(max, item.max)
	}
	return float32(len(workList)) * halfArea(min, max)
}

func halfArea(min, max types.Vec3) float32 {
	side := max.Sub(min)
	return side[0]*side[1] + side[1]*side[2] + side[0]*side[2]
}
