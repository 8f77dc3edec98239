package instruction

import (
	"fmt"
	"slices"

	"github.com/kilupskalvis/vlnload/internal/models"
	"github.com/kilupskalvis/vlnload/internal/random"
)

var actionTemplates = []string{
	"walk past the %s",
	"go towards the %s",
	"head to the %s",
	"continue through the %s",
	"walk into the %s",
	"stop near the %s",
}

var (
	openingPhrases = []string{"first", "to begin"}
	middlePhrases  = []string{"then", "after that", "next"}
	closingPhrases = []string{"finally", "at the end"}
)

// nounPhrase picks one noun phrase of the caption, falling back to its text.
func nounPhrase(src random.Source, c *models.Caption) string {
	if len(c.NounPhrases) == 0 {
		return c.Text
	}
	return random.Choice(src, c.NounPhrases)
}

type rephrase struct{}

func (rephrase) Name() string { return NameRephrase }

func (rephrase) Build(sess *Session, captions []*models.Caption) string {
	parts := make([]string, len(captions))
	for i, c := range captions {
		tmpl := random.Choice(sess.src, actionTemplates)
		parts[i] = fmt.Sprintf(tmpl, nounPhrase(sess.src, c))
	}
	return join(parts, sess.randomSeparator)
}

// ytbRephrase fixes one action template for the whole session and marks each
// step with its position in the trajectory. Steps are joined with commas, or
// with the first separator when commas are not configured.
type ytbRephrase struct{}

func (ytbRephrase) Name() string { return NameYTBRephrase }

func (ytbRephrase) Build(sess *Session, captions []*models.Caption) string {
	if sess.template < 0 {
		sess.template = sess.src.IntN(len(actionTemplates))
	}
	tmpl := actionTemplates[sess.template]

	parts := make([]string, len(captions))
	for i, c := range captions {
		action := fmt.Sprintf(tmpl, nounPhrase(sess.src, c))
		if len(captions) == 1 {
			parts[i] = action
			continue
		}
		parts[i] = positionPhrase(sess.src, i, len(captions)) + " " + action
	}
	sep := ","
	if !slices.Contains(sess.separators, sep) {
		sep = sess.separators[0]
	}
	return join(parts, func() string { return sep })
}

func positionPhrase(src random.Source, i, n int) string {
	switch i {
	case 0:
		return random.Choice(src, openingPhrases)
	case n - 1:
		return random.Choice(src, closingPhrases)
	default:
		return random.Choice(src, middlePhrases)
	}
}
