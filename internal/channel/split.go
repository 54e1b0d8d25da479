package channel

import "unicode/utf8"

const (
	// TextLimit is the per-message character limit for plain text.
	TextLimit = 4096
	// CaptionLimit is the character limit for media captions.
	CaptionLimit = 1024
)

// SignaturePlacement controls which chunks of a split message carry the
// signature.
type SignaturePlacement string

const (
	SignatureEveryChunk SignaturePlacement = "every"
	SignatureLastChunk  SignaturePlacement = "last"
)

// SplitText cuts text into pieces of at most budget runes. Each cut is made
// after the last newline in the window, else after the last ". ", else after
// the last space, else at the budget. Separators stay with the preceding
// piece, so concatenating the result yields text. Empty text yields one
// empty piece.
func SplitText(text string, budget int) []string {
	if budget < 1 {
		budget = 1
	}
	runes := []rune(text)
	var chunks []string
	for len(runes) > budget {
		cut := cutPoint(runes[:budget])
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	return append(chunks, string(runes))
}

func cutPoint(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == '\n' {
			return i + 1
		}
	}
	for i := len(window) - 2; i >= 0; i-- {
		if window[i] == '.' && window[i+1] == ' ' {
			return i + 2
		}
	}
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == ' ' {
			return i + 1
		}
	}
	return len(window)
}

// ComposeChunks splits text so that every piece plus signature fits in limit
// and returns the rendered messages. render is applied to the text part only
// (the signature is already in the destination's markup). A signature that
// cannot fit in limit on its own is dropped.
func ComposeChunks(text, signature string, limit int, placement SignaturePlacement, render func(string) string) []string {
	if render == nil {
		render = func(s string) string { return s }
	}
	sigLen := utf8.RuneCountInString(signature)
	if sigLen >= limit {
		signature, sigLen = "", 0
	}
	parts := SplitText(text, limit-sigLen)
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = render(p)
		if placement != SignatureLastChunk || i == len(parts)-1 {
			out[i] += signature
		}
	}
	return out
}
