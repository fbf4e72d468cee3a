// Package tokenizer declares the thin, opaque tokenizer contract the
// recognizer depends on (spec.md §1 Out-of-scope: "tokenizer loading
// ... assumed to yield a byte-pair-like encoder/decoder"). No concrete
// BPE implementation lives here; real tokenizer files are loaded by a
// collaborator injected at construction time.
package tokenizer

// Tokenizer encodes/decodes between text and token ids without
// inserting model-specific special tokens; callers that need special
// tokens splice them into the prompt string before encoding (spec.md
// §4.4.1: "Tokenize without special-token insertion").
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
	// TokenID returns the id for a named special token (e.g. the image
	// placeholder, an image-start marker, or an EOS token), or false if
	// the tokenizer's vocabulary has no such token.
	TokenID(name string) (int, bool)
}
