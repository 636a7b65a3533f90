package fingerprint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonmaxxxon/discourse-lens/internal/breaker"
	"github.com/jasonmaxxxon/discourse-lens/internal/collaborators/fakes"
)

func TestNormalize_CollapsesWhitespaceLowercasesAndTrims(t *testing.T) {
	in := "  Hello\t\tWORLD\n\n this is ﻿fine  "
	got := Normalize(in, 0)
	assert.Equal(t, "hello world this is fine", got)
}

func TestNormalize_Truncates(t *testing.T) {
	got := Normalize("abcdefgh", 4)
	assert.Equal(t, "abcd", got)
}

func TestNormalize_Empty(t *testing.T) {
	assert.Equal(t, "", Normalize("", 10))
}

func TestClusterSignatureHash_Deterministic(t *testing.T) {
	samples := []Sample{
		{Text: "b comment", LikeCount: 5},
		{Text: "a comment", LikeCount: 5},
		{Text: "top comment", LikeCount: 50},
	}
	h1 := ClusterSignatureHash(samples)
	h2 := ClusterSignatureHash(append([]Sample(nil), samples...))
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestBuildEvidenceBundle_Deterministic(t *testing.T) {
	comments := []Sample{
		{Text: "this is great", LikeCount: 10},
		{Text: "this is terrible", LikeCount: 20},
	}
	clusters := map[string]ClusterInfo{
		"0": {Size: 2, Samples: comments},
	}
	images := []ImageText{{Text: "some screenshot text"}}

	b1 := BuildEvidenceBundle("Original post text", images, comments, clusters)
	b2 := BuildEvidenceBundle("Original post text", images, comments, clusters)

	assert.Equal(t, b1.Fingerprint, b2.Fingerprint)
	assert.Equal(t, b1.CaseID, b2.CaseID)
	assert.Contains(t, b1.Fingerprint, "TRIGGER:")
	assert.Contains(t, b1.Fingerprint, "ARTIFACT:")
	assert.Contains(t, b1.Fingerprint, "REACTIONS:")
	assert.Len(t, b1.CaseID, 64)
}

func TestBuildEvidenceBundle_DifferentInputsDifferentFingerprint(t *testing.T) {
	b1 := BuildEvidenceBundle("post A", nil, nil, nil)
	b2 := BuildEvidenceBundle("post B", nil, nil, nil)
	assert.NotEqual(t, b1.CaseID, b2.CaseID)
}

func TestDeterministicPhenomenonID_StableForSameFingerprint(t *testing.T) {
	id1 := DeterministicPhenomenonID("some fingerprint text")
	id2 := DeterministicPhenomenonID("some fingerprint text")
	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, DeterministicPhenomenonID("other text"))
}

func TestEmbedder_Embed_Success(t *testing.T) {
	fake := &fakes.Embedding{Dim: 8}
	e := NewEmbedder(fake, breaker.New(breaker.DefaultConfig("embed")))
	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
}

func TestEmbedder_Embed_EmptyTextErrors(t *testing.T) {
	fake := &fakes.Embedding{Dim: 8}
	e := NewEmbedder(fake, breaker.New(breaker.DefaultConfig("embed")))
	_, err := e.Embed(context.Background(), "")
	assert.Error(t, err)
}

func TestEmbeddingHash_Deterministic(t *testing.T) {
	v := []float64{0.1, 0.2, 0.3}
	assert.Equal(t, EmbeddingHash(v), EmbeddingHash(v))
}
