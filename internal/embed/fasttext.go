// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package embed

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"unicode"

	ragerr "github.com/ragd-dev/ragd/pkg/errors"
)

// fastTextEmbedder averages static word vectors loaded from a fastText
// .vec file (e.g. cc.en.300.vec). The whole table is held in memory.
type fastTextEmbedder struct {
	dim   int
	words map[string][]float32
}

func newFastText(cfg Config) (Embedder, error) {
	if cfg.VectorsPath == "" {
		return nil, ragerr.New(ragerr.CodeEmbedConfigInvalid, "fasttext: vectors_path is required", ragerr.FieldBackend("fasttext"))
	}
	f, err := os.Open(cfg.VectorsPath)
	if err != nil {
		return nil, ragerr.Wrap(err, ragerr.CodeEmbedModelLoadFailure, "fasttext: opening vectors", ragerr.FieldSource(cfg.VectorsPath))
	}
	defer f.Close()

	slog.Info("loading fasttext vectors", "path", cfg.VectorsPath)
	e, err := loadFastText(f)
	if err != nil {
		return nil, ragerr.With(err, ragerr.FieldSource(cfg.VectorsPath))
	}
	slog.Info("fasttext vectors loaded", "words", len(e.words), "dimensions", e.dim)
	return e, nil
}

// LoadFastText parses the .vec text format: an optional "<count> <dim>"
// header, then one "<word> <v1> ... <vN>" line per word. Lines with the
// wrong number of values are skipped.
func LoadFastText(r io.Reader) (Embedder, error) {
	return loadFastText(r)
}

func loadFastText(r io.Reader) (*fastTextEmbedder, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	e := &fastTextEmbedder{words: make(map[string][]float32)}
	first := true
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if first {
			first = false
			if len(fields) == 2 {
				if dim, err := strconv.Atoi(fields[1]); err == nil {
					e.dim = dim
					continue
				}
			}
		}
		if len(fields) < 2 {
			continue
		}
		if e.dim == 0 {
			e.dim = len(fields) - 1
		}
		if len(fields)-1 != e.dim {
			continue
		}

		vec := make([]float32, e.dim)
		ok := true
		for i, s := range fields[1:] {
			v, err := strconv.ParseFloat(s, 32)
			if err != nil {
				ok = false
				break
			}
			vec[i] = float32(v)
		}
		if ok {
			e.words[fields[0]] = vec
		}
	}
	if err := sc.Err(); err != nil {
		return nil, ragerr.Wrapf(err, ragerr.CodeEmbedModelLoadFailure, "fasttext: reading vectors")
	}
	if len(e.words) == 0 {
		return nil, ragerr.New(ragerr.CodeEmbedModelLoadFailure, "fasttext: no word vectors found")
	}
	return e, nil
}

func (e *fastTextEmbedder) Name() string { return "fasttext" }

func (e *fastTextEmbedder) Dimensions() int { return e.dim }

func (e *fastTextEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, ragerr.Wrap(err, ragerr.CodeEmbedUpstreamFailure, "fasttext embedding interrupted", ragerr.FieldBackend("fasttext"))
		}
		out[i] = e.sentence(t)
	}
	return out, nil
}

// sentence is the mean of the L2-normalised vectors of known words.
// Text with no known words maps to the zero vector.
func (e *fastTextEmbedder) sentence(text string) []float32 {
	sum := make([]float32, e.dim)
	n := 0
	for _, tok := range tokenize(text) {
		vec, ok := e.words[tok]
		if !ok {
			vec, ok = e.words[strings.ToLower(tok)]
		}
		if !ok {
			continue
		}
		norm := l2(vec)
		if norm == 0 {
			continue
		}
		for i, v := range vec {
			sum[i] += v / norm
		}
		n++
	}
	if n == 0 {
		return sum
	}
	for i := range sum {
		sum[i] /= float32(n)
	}
	return sum
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\'' && r != '-'
	})
}

func l2(v []float32) float32 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return float32(math.Sqrt(s))
}
