package core

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmbedTextIsDeterministic(t *testing.T) {
	a := EmbedText("hello world")
	b := EmbedText("hello world")
	assert.Equal(t, a, b)
}

func TestEmbedTextProducesFixedDimension(t *testing.T) {
	v := EmbedText("anything")
	assert.Len(t, v, EmbeddingDimension)
}

func TestEmbedTextProducesUnitNormVector(t *testing.T) {
	v := EmbedText("normalize me")
	var sumSq float64
	for _, x := range v {
		sumSq += x * x
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSq), 1e-9)
}

func TestEmbedTextDiffersAcrossInputs(t *testing.T) {
	a := EmbedText("alpha")
	b := EmbedText("beta")
	assert.NotEqual(t, a, b)
}

func TestNormalizeScalesToUnitLength(t *testing.T) {
	out := Normalize([]float64{3, 4})
	assert.InDelta(t, 0.6, out[0], 1e-9)
	assert.InDelta(t, 0.8, out[1], 1e-9)
}

func TestNormalizeLeavesZeroVectorUnchanged(t *testing.T) {
	out := Normalize([]float64{0, 0, 0})
	assert.Equal(t, []float64{0, 0, 0}, out)
}

func TestCosineOfIdenticalVectorsIsOne(t *testing.T) {
	v := []float64{1, 2, 3}
	assert.InDelta(t, 1.0, Cosine(v, v), 1e-9)
}

func TestCosineOfOrthogonalVectorsIsZero(t *testing.T) {
	assert.InDelta(t, 0.0, Cosine([]float64{1, 0}, []float64{0, 1}), 1e-9)
}

func TestCosineHandlesMismatchedLengthsByTruncating(t *testing.T) {
	got := Cosine([]float64{1, 0, 0}, []float64{1, 0})
	assert.InDelta(t, 1.0, got, 1e-9)
}

func TestCosineOfZeroVectorIsZero(t *testing.T) {
	assert.Equal(t, 0.0, Cosine([]float64{0, 0}, []float64{1, 1}))
}

func TestCosineOfEmbedTextWithItselfIsOne(t *testing.T) {
	v := EmbedText("deploy the service to production")
	assert.InDelta(t, 1.0, Cosine(v, v), 1e-9)
}
