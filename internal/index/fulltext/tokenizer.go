// Package fulltext implements the full-text index family of spec.md
// §4.5: tokenization strategies, BM25 corpus statistics, and
// BlockMax-WAND top-k retrieval, all laid out as KV entries under the
// owning index's subspace.
package fulltext

import (
	"bytes"
	"strings"
	"unicode"

	porterstemmer "github.com/blevesearch/go-porterstemmer"
	"github.com/blevesearch/segment"
)

// Strategy names a tokenization strategy, per spec.md §4.5.
type Strategy string

const (
	StrategySimple  Strategy = "simple"
	StrategyStem    Strategy = "stem"
	StrategyNGram   Strategy = "ngram"
	StrategyKeyword Strategy = "keyword"
)

// Token is a single tokenized term with its original position,
// preserved even when the term is later dropped as a stopword so
// phrase queries stay exact (spec.md §4.5).
type Token struct {
	Term     string
	Position int
}

// Tokenizer splits field text into positioned terms for a declared
// strategy.
type Tokenizer struct {
	strategy  Strategy
	ngramK    int
	stopWords map[string]struct{}
}

func NewTokenizer(strategy Strategy, ngramK int, stopWords []string) *Tokenizer {
	return &Tokenizer{strategy: strategy, ngramK: ngramK, stopWords: buildStopWordSet(stopWords)}
}

func buildStopWordSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}

// Tokenize splits text into terms, assigning each a position before
// stopword filtering so removed terms still leave a gap a phrase query
// can account for.
func (t *Tokenizer) Tokenize(text string) []Token {
	switch t.strategy {
	case StrategyKeyword:
		return []Token{{Term: strings.ToLower(strings.TrimSpace(text)), Position: 0}}
	case StrategyNGram:
		return t.tokenizeNGram(text)
	case StrategyStem:
		return t.filterStop(t.stem(t.segment(text)))
	default: // StrategySimple
		return t.filterStop(t.segment(text))
	}
}

// segment performs Unicode word-boundary segmentation, lowercasing and
// keeping only letter/number segments.
func (t *Tokenizer) segment(text string) []Token {
	seg := segment.NewWordSegmenter(bytes.NewReader([]byte(text)))
	var out []Token
	pos := 0
	for seg.Segment() {
		typ := seg.Type()
		if typ != segment.Letter && typ != segment.Number && typ != segment.Ideo {
			continue
		}
		word := strings.ToLower(string(seg.Bytes()))
		if word == "" {
			continue
		}
		out = append(out, Token{Term: word, Position: pos})
		pos++
	}
	return out
}

func (t *Tokenizer) stem(tokens []Token) []Token {
	out := make([]Token, len(tokens))
	for i, tok := range tokens {
		out[i] = Token{Term: porterstemmer.StemString(tok.Term), Position: tok.Position}
	}
	return out
}

func (t *Tokenizer) filterStop(tokens []Token) []Token {
	if len(t.stopWords) == 0 {
		return tokens
	}
	out := make([]Token, 0, len(tokens))
	for _, tok := range tokens {
		if _, stop := t.stopWords[tok.Term]; stop {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func (t *Tokenizer) tokenizeNGram(text string) []Token {
	k := t.ngramK
	if k <= 0 {
		k = 3
	}
	runes := []rune(strings.ToLower(text))
	runes = stripNonAlnum(runes)
	if len(runes) < k {
		if len(runes) == 0 {
			return nil
		}
		return []Token{{Term: string(runes), Position: 0}}
	}
	out := make([]Token, 0, len(runes)-k+1)
	for i := 0; i+k <= len(runes); i++ {
		out = append(out, Token{Term: string(runes[i : i+k]), Position: i})
	}
	return out
}

func stripNonAlnum(runes []rune) []rune {
	out := make([]rune, 0, len(runes))
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			out = append(out, r)
		}
	}
	return out
}
