package retriever

import "testing"

func TestEmbedding_Embed_L2NormInUnitRange(t *testing.T) {
	e := NewEmbedding(100)
	e.Fit([]string{"the quick brown fox", "the lazy dog sleeps", "foxes and dogs"})

	vec := e.Embed("the quick fox")
	var normSq float32
	for _, v := range vec {
		normSq += v * v
	}
	if normSq > 1.0001 {
		t.Fatalf("embedding norm^2 = %v, want <= 1", normSq)
	}
	if len(vec) > 0 && normSq < 0.0001 {
		t.Fatalf("embedding of an in-vocabulary query should not be ~zero norm")
	}
}

func TestEmbedding_Embed_OutOfVocabularyYieldsZeroVector(t *testing.T) {
	e := NewEmbedding(10)
	e.Fit([]string{"alpha beta gamma"})

	// Tokens are single characters; none of x, y, z, 1, 2, 3 occurs in the
	// fitted corpus, so every token of this query is out of vocabulary.
	vec := e.Embed("xyz 123")
	for _, v := range vec {
		if v != 0 {
			t.Fatalf("embedding of out-of-vocabulary text must be the zero vector, got %v", vec)
		}
	}
	vec2 := e.Embed("")
	for _, v := range vec2 {
		if v != 0 {
			t.Fatalf("embedding of empty text must be the zero vector, got %v", vec2)
		}
	}
}

func TestEmbedding_EmptyVocab_EmbedsToEmptyVector(t *testing.T) {
	e := NewEmbedding(10)
	vec := e.Embed("anything")
	if len(vec) != 0 {
		t.Fatalf("unfitted embedding should have zero-length vocab, got len %d", len(vec))
	}
}

func TestEmbedding_Fit_CapsVocabAtVocabSize(t *testing.T) {
	e := NewEmbedding(3)
	e.Fit([]string{"a b c d e f g h"})
	if len(e.vocab) > 3 {
		t.Fatalf("vocab size = %d, want <= 3", len(e.vocab))
	}
}
