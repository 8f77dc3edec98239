// Package tokenizer implements a BERT-style tokenizer: basic whitespace and
// punctuation splitting with optional lowercasing and accent stripping,
// followed by greedy longest-match WordPiece over a vocab.txt vocabulary.
package tokenizer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Reserved tokens. [PAD] must have id 0: ids <= 0 are padding downstream.
const (
	TokenPad  = "[PAD]"
	TokenUnk  = "[UNK]"
	TokenCLS  = "[CLS]"
	TokenSEP  = "[SEP]"
	TokenMask = "[MASK]"
)

const maxCharsPerWord = 100

var ErrInvalidVocab = errors.New("invalid vocabulary")

// Options configures the basic tokenization stage.
type Options struct {
	Lowercase bool
}

// WordPiece is a vocabulary-backed tokenizer. It is immutable after
// construction and safe for concurrent use.
type WordPiece struct {
	vocab   map[string]int64
	tokens  []string
	special map[int64]bool
	opts    Options

	unk, cls, sep, mask int64
}

// LoadVocabFile reads a vocab.txt file (one token per line, id = line number).
func LoadVocabFile(path string, opts Options) (*WordPiece, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer f.Close()
	return LoadVocab(f, opts)
}

// LoadVocab reads a vocabulary from r.
func LoadVocab(r io.Reader, opts Options) (*WordPiece, error) {
	var tokens []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		tokens = append(tokens, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vocab: %w", err)
	}
	return New(tokens, opts)
}

// New builds a tokenizer from an ordered token list.
func New(tokens []string, opts Options) (*WordPiece, error) {
	w := &WordPiece{
		vocab:   make(map[string]int64, len(tokens)),
		tokens:  tokens,
		special: make(map[int64]bool),
		opts:    opts,
	}
	for i, tok := range tokens {
		if _, dup := w.vocab[tok]; !dup {
			w.vocab[tok] = int64(i)
		}
	}

	if id, ok := w.vocab[TokenPad]; !ok || id != 0 {
		return nil, fmt.Errorf("%w: %s must be token 0", ErrInvalidVocab, TokenPad)
	}
	for _, name := range []string{TokenUnk, TokenCLS, TokenSEP, TokenMask} {
		if _, ok := w.vocab[name]; !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrInvalidVocab, name)
		}
	}
	w.unk, w.cls, w.sep, w.mask = w.vocab[TokenUnk], w.vocab[TokenCLS], w.vocab[TokenSEP], w.vocab[TokenMask]
	for i, tok := range tokens {
		if strings.HasPrefix(tok, "[") && strings.HasSuffix(tok, "]") {
			w.special[int64(i)] = true
		}
	}
	return w, nil
}

func (w *WordPiece) CLS() int64     { return w.cls }
func (w *WordPiece) SEP() int64     { return w.sep }
func (w *WordPiece) Mask() int64    { return w.mask }
func (w *WordPiece) Unknown() int64 { return w.unk }
func (w *WordPiece) VocabSize() int { return len(w.tokens) }
func (w *WordPiece) Pad() int64     { return 0 }

// IsSpecial reports whether id is a bracketed reserved token such as [SEP].
func (w *WordPiece) IsSpecial(id int64) bool {
	return w.special[id]
}

// Token returns the vocabulary entry for id.
func (w *WordPiece) Token(id int64) string {
	if id < 0 || int(id) >= len(w.tokens) {
		return TokenUnk
	}
	return w.tokens[id]
}

// Tokenize converts text into vocabulary ids without adding [CLS]/[SEP].
// Bracketed special tokens present in the vocabulary are never split.
func (w *WordPiece) Tokenize(text string) []int64 {
	var ids []int64
	for _, word := range w.basic(text) {
		if id, ok := w.vocab[word]; ok && w.special[id] {
			ids = append(ids, id)
			continue
		}
		ids = append(ids, w.wordPiece(word)...)
	}
	return ids
}

// Decode joins ids back into text, merging ## continuations.
func (w *WordPiece) Decode(ids []int64) string {
	var b strings.Builder
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		tok := w.Token(id)
		if strings.HasPrefix(tok, "##") {
			b.WriteString(tok[2:])
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(tok)
	}
	return b.String()
}

// basic splits text on whitespace and punctuation, keeping special tokens intact.
func (w *WordPiece) basic(text string) []string {
	var out []string
	for _, field := range strings.Fields(text) {
		if id, ok := w.vocab[field]; ok && w.special[id] {
			out = append(out, field)
			continue
		}
		if w.opts.Lowercase {
			field = stripAccents(strings.ToLower(field))
		}
		out = append(out, splitPunct(field)...)
	}
	return out
}

func stripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func isPunct(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

func splitPunct(s string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range s {
		if isPunct(r) {
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			out = append(out, string(r))
			continue
		}
		cur.WriteRune(r)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// wordPiece applies greedy longest-match-first subword segmentation.
func (w *WordPiece) wordPiece(word string) []int64 {
	chars := []rune(word)
	if len(chars) > maxCharsPerWord {
		return []int64{w.unk}
	}

	var ids []int64
	start := 0
	for start < len(chars) {
		end := len(chars)
		found := int64(-1)
		for start < end {
			sub := string(chars[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if id, ok := w.vocab[sub]; ok {
				found = id
				break
			}
			end--
		}
		if found < 0 {
			return []int64{w.unk}
		}
		ids = append(ids, found)
		start = end
	}
	return ids
}
