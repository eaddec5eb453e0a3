package llm

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// EmbeddingOptions control ComputeEmbeddings.
type EmbeddingOptions struct {
	// Normalize scales each vector to unit L2 length.
	Normalize bool
	AddBOS    bool
	AddEOS    bool
	// Encode runs the encoder pass instead of decode. Memory is left
	// untouched; decode clears it before every text.
	Encode bool
}

// DefaultEmbeddingOptions normalizes and adds BOS.
func DefaultEmbeddingOptions() EmbeddingOptions {
	return EmbeddingOptions{Normalize: true, AddBOS: true}
}

// EmbeddingBatch holds one vector per input text, in input order.
type EmbeddingBatch struct {
	Vectors   [][]float32
	Dimension int
	// Tokens is the number of input tokens consumed across all texts.
	Tokens int
}

// ComputeEmbeddings embeds each text as the output row of its last token.
// The context must have been created with Embeddings set. A text that
// tokenizes to nothing gets a zero vector.
func (c *Context) ComputeEmbeddings(texts []string, opts EmbeddingOptions) (*EmbeddingBatch, error) {
	if err := c.valid(); err != nil {
		return nil, err
	}
	if !c.embeddings {
		return nil, fmt.Errorf("%w: context was created without embeddings", ErrUnsupported)
	}
	dim := int(c.model.NEmbd())
	out := &EmbeddingBatch{Vectors: make([][]float32, len(texts)), Dimension: dim}
	limit := min(c.NBatch(), c.NCtx())
	for i, text := range texts {
		tokens, err := c.model.Tokenize(text, TokenizeOptions{AddSpecial: opts.AddBOS})
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		if opts.AddEOS {
			if eos := c.model.em.EOS(); eos >= 0 {
				tokens = append(tokens, eos)
			}
		}
		if len(tokens) == 0 {
			out.Vectors[i] = make([]float32, dim)
			continue
		}
		if uint32(len(tokens)) > limit {
			return nil, fmt.Errorf("%w: input %d has %d tokens, limit %d", ErrCapacityExceeded, i, len(tokens), limit)
		}
		vec, err := c.embedOne(tokens, opts.Encode)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		if opts.Normalize {
			normalizeL2(vec)
		}
		out.Vectors[i] = vec
		out.Tokens += len(tokens)
	}
	return out, nil
}

func (c *Context) embedOne(tokens []Token, encode bool) ([]float32, error) {
	b, err := BatchFromTokens(tokens, 0, 0, true)
	if err != nil {
		return nil, err
	}
	if encode {
		err = b.Encode(c)
	} else {
		if err := c.MemoryClear(true); err != nil {
			return nil, err
		}
		err = b.Decode(c)
	}
	if err != nil {
		return nil, err
	}
	row, err := c.Embeddings(-1)
	if err != nil {
		return nil, err
	}
	return append([]float32(nil), row...), nil
}

// normalizeL2 scales v in place to unit length. A zero vector is left as is.
func normalizeL2(v []float32) {
	f := make([]float64, len(v))
	for i, x := range v {
		f[i] = float64(x)
	}
	n := floats.Norm(f, 2)
	if n == 0 {
		return
	}
	for i := range v {
		v[i] = float32(f[i] / n)
	}
}
