package quant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity_Identical(t *testing.T) {
	v := []float64{1, 2, 3}
	assert.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarity_Orthogonal(t *testing.T) {
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
}

func TestCosineSimilarity_ZeroVector(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity([]float64{0, 0}, []float64{1, 1}))
}

func TestClusterCount_Rules(t *testing.T) {
	assert.Equal(t, 1, ClusterCount(1))
	assert.Equal(t, 1, ClusterCount(2))
	assert.Equal(t, 2, ClusterCount(3))
	assert.Equal(t, 2, ClusterCount(10))
	assert.Equal(t, 2, ClusterCount(16))
	assert.Equal(t, 4, ClusterCount(40))
	assert.Equal(t, 4, ClusterCount(1000))
}

func TestKMeans_SeparatesTwoObviousClusters(t *testing.T) {
	vecs := [][]float64{
		{0, 0}, {0.1, 0}, {0, 0.1},
		{10, 10}, {10.1, 10}, {10, 10.1},
	}
	labels := KMeans(vecs, 2, 42)
	require := labels[0]
	for i := 0; i < 3; i++ {
		assert.Equal(t, require, labels[i])
	}
	other := labels[3]
	assert.NotEqual(t, require, other)
	for i := 3; i < 6; i++ {
		assert.Equal(t, other, labels[i])
	}
}

func TestKMeans_Deterministic(t *testing.T) {
	vecs := [][]float64{{0, 0}, {1, 1}, {5, 5}, {6, 6}, {0.5, 0.5}}
	a := KMeans(vecs, 2, 42)
	b := KMeans(vecs, 2, 42)
	assert.Equal(t, a, b)
}

func TestKMeans_SingleCluster(t *testing.T) {
	vecs := [][]float64{{1, 2}, {3, 4}}
	labels := KMeans(vecs, 1, 42)
	assert.Equal(t, []int{0, 0}, labels)
}

func TestPCA2_SingleVector(t *testing.T) {
	coords := PCA2([][]float64{{1, 2, 3}})
	assert.Equal(t, [2]float64{0, 0}, coords[0])
}

func TestPCA2_SmallSetFallback(t *testing.T) {
	vecs := [][]float64{{1, 0}, {0, 1}, {1, 1}}
	coords := PCA2(vecs)
	for i, c := range coords {
		assert.Equal(t, float64(i), c[0])
		assert.Equal(t, 0.0, c[1])
	}
}

func TestCentroid_Empty(t *testing.T) {
	assert.Nil(t, Centroid(nil))
}

func TestCentroid_Mean(t *testing.T) {
	c := Centroid([][]float64{{0, 0}, {2, 4}})
	assert.InDeltaSlice(t, []float64{1, 2}, c, 1e-9)
}
