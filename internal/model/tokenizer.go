package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Special tokens shared by the commentary encoder/decoder and tokenizer.
const (
	TokenStart = "<start>"
	TokenEnd   = "<end>"
	TokenOOV   = "<oov>"
)

// Tokenizer maps between commentary text and token id sequences.
// Ids are 1-based; 0 is reserved for padding. State round-trips through
// JSON so it can live as a sidecar next to decoder weights.
type Tokenizer struct {
	wordIndex map[string]int
	indexWord map[int]string
	vocabSize int
}

// NewTokenizer creates a tokenizer with the special tokens installed and
// room for vocabSize words in total.
func NewTokenizer(vocabSize int) *Tokenizer {
	t := &Tokenizer{
		wordIndex: make(map[string]int),
		indexWord: make(map[int]string),
		vocabSize: vocabSize,
	}
	for _, w := range []string{TokenOOV, TokenStart, TokenEnd} {
		t.add(w)
	}
	return t
}

func (t *Tokenizer) add(word string) int {
	if id, ok := t.wordIndex[word]; ok {
		return id
	}
	id := len(t.wordIndex) + 1
	t.wordIndex[word] = id
	t.indexWord[id] = word
	return id
}

// WordIndex returns the id for word, or 0 if unknown.
func (t *Tokenizer) WordIndex(word string) int { return t.wordIndex[word] }

// VocabSize returns the configured vocabulary capacity.
func (t *Tokenizer) VocabSize() int { return t.vocabSize }

// FitOnTexts extends the vocabulary with words from texts, in order of
// first appearance, up to the vocabulary capacity. Later words fall back
// to the OOV token.
func (t *Tokenizer) FitOnTexts(texts []string) {
	for _, text := range texts {
		for _, w := range strings.Fields(text) {
			if len(t.wordIndex) >= t.vocabSize {
				return
			}
			t.add(w)
		}
	}
}

// TextsToSequences converts texts into token id sequences, mapping
// unknown words to the OOV token. Start/end markers are not added here.
func (t *Tokenizer) TextsToSequences(texts []string) [][]int {
	oov := t.wordIndex[TokenOOV]
	out := make([][]int, len(texts))
	for i, text := range texts {
		words := strings.Fields(text)
		seq := make([]int, 0, len(words))
		for _, w := range words {
			id, ok := t.wordIndex[w]
			if !ok {
				id = oov
			}
			seq = append(seq, id)
		}
		out[i] = seq
	}
	return out
}

// SequencesToTexts converts token id sequences back into texts, skipping
// padding and unknown ids.
func (t *Tokenizer) SequencesToTexts(sequences [][]int) []string {
	out := make([]string, len(sequences))
	for i, seq := range sequences {
		words := make([]string, 0, len(seq))
		for _, id := range seq {
			if w, ok := t.indexWord[id]; ok {
				words = append(words, w)
			}
		}
		out[i] = strings.Join(words, " ")
	}
	return out
}

type tokenizerJSON struct {
	VocabSize int            `json:"vocab_size"`
	WordIndex map[string]int `json:"word_index"`
}

// ToJSON serializes the tokenizer state.
func (t *Tokenizer) ToJSON() ([]byte, error) {
	return json.Marshal(tokenizerJSON{VocabSize: t.vocabSize, WordIndex: t.wordIndex})
}

// TokenizerFromJSON restores a tokenizer serialized with ToJSON.
func TokenizerFromJSON(data []byte) (*Tokenizer, error) {
	var raw tokenizerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("tokenizer: %w", err)
	}
	if raw.VocabSize <= 0 || len(raw.WordIndex) == 0 {
		return nil, fmt.Errorf("tokenizer: invalid serialized state")
	}
	t := &Tokenizer{
		wordIndex: raw.WordIndex,
		indexWord: make(map[int]string, len(raw.WordIndex)),
		vocabSize: raw.VocabSize,
	}
	for w, id := range raw.WordIndex {
		t.indexWord[id] = w
	}
	return t, nil
}
