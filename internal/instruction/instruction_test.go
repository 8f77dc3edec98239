package instruction

import (
	"strings"
	"testing"

	"github.com/kilupskalvis/vlnload/internal/models"
	"github.com/kilupskalvis/vlnload/internal/random"
	"github.com/kilupskalvis/vlnload/internal/tokenizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCaptions() []*models.Caption {
	return []*models.Caption{
		{ListingID: 1, Photo: 0, Text: "the kitchen", NounPhrases: []string{"kitchen"}},
		{ListingID: 1, Photo: 1, Text: "the bedroom", NounPhrases: []string{"bedroom"}},
		{ListingID: 1, Photo: 2, Text: "the garden"},
	}
}

func sessionFor(t *testing.T, name string, separators []string, seed uint64) *Session {
	t.Helper()
	g, err := NewGenerator([]string{name}, separators)
	require.NoError(t, err)
	return g.NewSession(random.Seeded(seed))
}

// ==================== Generator Tests ====================

func TestNewGenerator_Errors(t *testing.T) {
	_, err := NewGenerator(nil, Separators(true))
	assert.ErrorIs(t, err, ErrNoBuilders)

	_, err = NewGenerator([]string{"paraphrase"}, Separators(true))
	assert.ErrorIs(t, err, ErrUnknownBuilder)

	g, err := NewGenerator([]string{NameIdentity, NameYTBRephrase}, Separators(false))
	require.NoError(t, err)
	assert.Equal(t, []string{NameIdentity, NameYTBRephrase}, g.Builders())
}

func TestSeparators(t *testing.T) {
	assert.Equal(t, []string{"then", "and", ",", "."}, Separators(true))
	assert.Equal(t, []string{"[SEP]"}, Separators(false))
}

// ==================== Builder Tests ====================

func TestIdentity_UsesFirstSeparator(t *testing.T) {
	sess := sessionFor(t, NameIdentity, Separators(true), 1)
	assert.Equal(t, "the kitchen then the bedroom then the garden", sess.Instruction(testCaptions()))

	sess = sessionFor(t, NameIdentity, Separators(false), 1)
	assert.Equal(t, "the kitchen [SEP] the bedroom [SEP] the garden", sess.Instruction(testCaptions()))
}

func TestConcatenate_KeepsCaptionsInOrder(t *testing.T) {
	sess := sessionFor(t, NameConcatenate, Separators(true), 2)
	out := sess.Instruction(testCaptions())

	k := strings.Index(out, "the kitchen")
	b := strings.Index(out, "the bedroom")
	g := strings.Index(out, "the garden")
	assert.True(t, k >= 0 && k < b && b < g, out)
}

func TestRephrase_UsesNounPhrases(t *testing.T) {
	sess := sessionFor(t, NameRephrase, Separators(false), 3)
	out := sess.Instruction(testCaptions())

	parts := strings.Split(out, " [SEP] ")
	require.Len(t, parts, 3)
	assert.True(t, strings.HasSuffix(parts[0], "the kitchen"), parts[0])
	assert.True(t, strings.HasSuffix(parts[1], "the bedroom"), parts[1])
	assert.True(t, strings.HasSuffix(parts[2], "the the garden"), parts[2])
}

func TestYTBRephrase_TemplateFixedPerSession(t *testing.T) {
	sess := sessionFor(t, NameYTBRephrase, Separators(true), 4)
	first := sess.Instruction(testCaptions())
	tmpl := sess.template
	require.GreaterOrEqual(t, tmpl, 0)

	for i := 0; i < 5; i++ {
		sess.Instruction(testCaptions())
		assert.Equal(t, tmpl, sess.template)
	}

	action := strings.Split(actionTemplates[tmpl], " %s")[0]
	assert.Equal(t, 3, strings.Count(first, action), first)

	opening := false
	for _, p := range openingPhrases {
		opening = opening || strings.HasPrefix(first, p+" ")
	}
	assert.True(t, opening, first)
}

func TestYTBRephrase_FollowsSeparators(t *testing.T) {
	sess := sessionFor(t, NameYTBRephrase, Separators(true), 6)
	assert.Equal(t, 2, strings.Count(sess.Instruction(testCaptions()), ", "))

	sess = sessionFor(t, NameYTBRephrase, Separators(false), 6)
	out := sess.Instruction(testCaptions())
	assert.Len(t, strings.Split(out, " [SEP] "), 3, out)
	assert.NotContains(t, out, ",")
}

func TestYTBRephrase_NewSessionResetsTemplate(t *testing.T) {
	g, err := NewGenerator([]string{NameYTBRephrase}, Separators(true))
	require.NoError(t, err)

	sess := g.NewSession(random.Seeded(5))
	sess.Instruction(testCaptions())
	assert.GreaterOrEqual(t, sess.template, 0)

	fresh := g.NewSession(random.Seeded(5))
	assert.Equal(t, -1, fresh.template)
	assert.Equal(t, NameYTBRephrase, fresh.BuilderName())
}

// ==================== Encode Tests ====================

func newTokenizer(t *testing.T) *tokenizer.WordPiece {
	t.Helper()
	tok, err := tokenizer.New([]string{
		"[PAD]", "[UNK]", "[CLS]", "[SEP]", "[MASK]",
		"the", "kitchen", "bed", "##room", "then",
	}, tokenizer.Options{Lowercase: true})
	require.NoError(t, err)
	return tok
}

func TestEncode_PadsWithZero(t *testing.T) {
	tok := newTokenizer(t)
	ids := Encode(tok, "the kitchen", 6)
	assert.Equal(t, []int64{2, 5, 6, 3, 0, 0}, ids)
}

func TestEncode_TruncatesKeepingSep(t *testing.T) {
	tok := newTokenizer(t)
	ids := Encode(tok, "the kitchen then the bedroom", 5)
	assert.Equal(t, []int64{2, 5, 6, 9, 3}, ids)
}

func TestEncode_ExactFit(t *testing.T) {
	tok := newTokenizer(t)
	ids := Encode(tok, "the bedroom", 5)
	assert.Equal(t, []int64{2, 5, 7, 8, 3}, ids)
}
