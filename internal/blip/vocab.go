package blip

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

var specialTokens = map[string]struct{}{
	"[PAD]":  {},
	"[UNK]":  {},
	"[CLS]":  {},
	"[SEP]":  {},
	"[MASK]": {},
	"[DEC]":  {},
	"[ENC]":  {},
}

var cleanup = strings.NewReplacer(
	" .", ".",
	" ?", "?",
	" !", "!",
	" ,", ",",
	" ' ", "'",
	" n't", "n't",
	" 'm", "'m",
	" 's", "'s",
	" 've", "'ve",
	" 're", "'re",
)

// Vocabulary maps WordPiece token ids back to text.
type Vocabulary struct {
	tokens  []string
	special map[int64]struct{}
}

// NewVocabulary builds a vocabulary where tokens[i] has id i. Ids in
// specialIDs, ids outside tokens and bracketed control tokens are skipped
// when decoding.
func NewVocabulary(tokens []string, specialIDs ...int64) *Vocabulary {
	v := &Vocabulary{
		tokens:  tokens,
		special: make(map[int64]struct{}, len(specialIDs)+len(specialTokens)),
	}
	for _, id := range specialIDs {
		v.special[id] = struct{}{}
	}
	for id, tok := range tokens {
		if _, ok := specialTokens[tok]; ok {
			v.special[int64(id)] = struct{}{}
		}
	}
	return v
}

// LoadVocabulary reads vocab.txt, one token per line.
func LoadVocabulary(path string, gen GenerationConfig) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening vocab: %w", err)
	}
	defer f.Close()

	var tokens []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		tokens = append(tokens, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading vocab: %w", err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("vocab %s is empty", path)
	}

	return NewVocabulary(tokens, gen.BOSTokenID, gen.EOSTokenID, gen.PadTokenID), nil
}

func (v *Vocabulary) Size() int {
	return len(v.tokens)
}

// Decode turns ids into text with special tokens stripped, "##"
// continuations joined and punctuation spacing cleaned up.
func (v *Vocabulary) Decode(ids []int64) string {
	var b strings.Builder
	for _, id := range ids {
		if _, ok := v.special[id]; ok {
			continue
		}
		if id < 0 || id >= int64(len(v.tokens)) {
			continue
		}
		tok := v.tokens[id]
		if rest, ok := strings.CutPrefix(tok, "##"); ok {
			b.WriteString(rest)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(tok)
	}
	return strings.TrimSpace(cleanup.Replace(b.String()))
}
