package channel

import (
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitText_ShortTextIsOneChunk(t *testing.T) {
	assert.Equal(t, []string{"hello"}, SplitText("hello", 10))
	assert.Equal(t, []string{""}, SplitText("", 10))
}

func TestSplitText_PrefersNewline(t *testing.T) {
	chunks := SplitText("first line. more\nsecond", 20)
	assert.Equal(t, []string{"first line. more\n", "second"}, chunks)
}

func TestSplitText_FallsBackToSentence(t *testing.T) {
	chunks := SplitText("One two. Three four five", 15)
	assert.Equal(t, []string{"One two. ", "Three four five"}, chunks)
}

func TestSplitText_FallsBackToSpace(t *testing.T) {
	chunks := SplitText("alpha beta gamma", 12)
	assert.Equal(t, []string{"alpha beta ", "gamma"}, chunks)
}

func TestSplitText_HardCut(t *testing.T) {
	chunks := SplitText(strings.Repeat("x", 25), 10)
	assert.Equal(t, []string{"xxxxxxxxxx", "xxxxxxxxxx", "xxxxx"}, chunks)
}

func TestSplitText_CountsRunes(t *testing.T) {
	text := strings.Repeat("ж", 9)
	chunks := SplitText(text, 4)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c))
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestSplitText_RejoinAndBudgetProperty(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	alphabet := []rune("abc де. \n")
	for i := 0; i < 300; i++ {
		n := r.Intn(600)
		var b strings.Builder
		for j := 0; j < n; j++ {
			b.WriteRune(alphabet[r.Intn(len(alphabet))])
		}
		text := b.String()
		budget := 1 + r.Intn(80)

		chunks := SplitText(text, budget)
		assert.Equal(t, text, strings.Join(chunks, ""), "rejoin")
		for _, c := range chunks {
			assert.LessOrEqual(t, utf8.RuneCountInString(c), budget)
		}
	}
}

func TestComposeChunks_SignatureOnEveryChunk(t *testing.T) {
	sig := " #sig"
	text := strings.Repeat("word ", 10)
	out := ComposeChunks(text, sig, 20, SignatureEveryChunk, nil)
	require.Greater(t, len(out), 1)

	var rejoined strings.Builder
	for _, m := range out {
		assert.LessOrEqual(t, utf8.RuneCountInString(m), 20)
		require.True(t, strings.HasSuffix(m, sig))
		rejoined.WriteString(strings.TrimSuffix(m, sig))
	}
	assert.Equal(t, text, rejoined.String())
}

func TestComposeChunks_SignatureOnLastChunk(t *testing.T) {
	sig := "|S"
	out := ComposeChunks("aaaa bbbb cccc", sig, 7, SignatureLastChunk, nil)
	require.Len(t, out, 3)
	assert.Equal(t, "aaaa ", out[0])
	assert.Equal(t, "bbbb ", out[1])
	assert.Equal(t, "cccc|S", out[2])
}

func TestComposeChunks_RenderAppliesToTextOnly(t *testing.T) {
	out := ComposeChunks("a<b", "<i>x</i>", 100, SignatureEveryChunk, func(s string) string {
		return strings.ReplaceAll(s, "<", "&lt;")
	})
	assert.Equal(t, []string{"a&lt;b<i>x</i>"}, out)
}

func TestComposeChunks_OversizedSignatureDropped(t *testing.T) {
	out := ComposeChunks("hi", strings.Repeat("s", 30), 10, SignatureEveryChunk, nil)
	assert.Equal(t, []string{"hi"}, out)
}

func TestComposeChunks_EmptyTextCarriesSignature(t *testing.T) {
	out := ComposeChunks("", "\n\nsig", 1024, SignatureEveryChunk, nil)
	assert.Equal(t, []string{"\n\nsig"}, out)
}
