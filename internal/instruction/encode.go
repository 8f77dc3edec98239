package instruction

// Tokenizer is the part of the tokenizer the encoder needs.
type Tokenizer interface {
	Tokenize(text string) []int64
	CLS() int64
	SEP() int64
}

// Encode returns [CLS] tokens [SEP] as exactly maxLen ids. Long instructions
// are truncated so the final [SEP] is kept; short ones are padded with 0.
// maxLen must be at least 2.
func Encode(tok Tokenizer, text string, maxLen int) []int64 {
	ids := tok.Tokenize(text)
	if len(ids) > maxLen-2 {
		ids = ids[:maxLen-2]
	}

	out := make([]int64, maxLen)
	out[0] = tok.CLS()
	copy(out[1:], ids)
	out[1+len(ids)] = tok.SEP()
	return out
}
