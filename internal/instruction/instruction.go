// Package instruction turns the captions of a trajectory into a navigation
// instruction and encodes it into fixed-length token ids.
package instruction

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kilupskalvis/vlnload/internal/models"
	"github.com/kilupskalvis/vlnload/internal/random"
)

var (
	ErrUnknownBuilder = errors.New("unknown instruction builder")
	ErrNoBuilders     = errors.New("at least one instruction builder is required")
)

// Builder names.
const (
	NameIdentity    = "identity"
	NameConcatenate = "concatenate"
	NameRephrase    = "rephrase"
	NameYTBRephrase = "ytb_rephrase"
)

// Separators returns the step separators used between captions.
func Separators(natural bool) []string {
	if natural {
		return []string{"then", "and", ",", "."}
	}
	return []string{"[SEP]"}
}

// Builder produces one instruction from the captions of a trajectory.
type Builder interface {
	Name() string
	Build(sess *Session, captions []*models.Caption) string
}

// Generator holds the configured builders and separators.
type Generator struct {
	builders   []Builder
	separators []string
}

// NewGenerator creates a generator from builder names.
func NewGenerator(names []string, separators []string) (*Generator, error) {
	if len(names) == 0 {
		return nil, ErrNoBuilders
	}
	if len(separators) == 0 {
		return nil, fmt.Errorf("at least one separator is required")
	}
	builders := make([]Builder, 0, len(names))
	for _, name := range names {
		b, err := ParseBuilder(name)
		if err != nil {
			return nil, err
		}
		builders = append(builders, b)
	}
	return &Generator{builders: builders, separators: separators}, nil
}

// ParseBuilder returns the builder registered under name.
func ParseBuilder(name string) (Builder, error) {
	switch name {
	case NameIdentity:
		return identity{}, nil
	case NameConcatenate:
		return concatenate{}, nil
	case NameRephrase:
		return rephrase{}, nil
	case NameYTBRephrase:
		return ytbRephrase{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBuilder, name)
	}
}

// Builders returns the names of the configured builders.
func (g *Generator) Builders() []string {
	out := make([]string, len(g.builders))
	for i, b := range g.builders {
		out[i] = b.Name()
	}
	return out
}

// NewSession picks a builder at random and opens a session for one sample.
func (g *Generator) NewSession(src random.Source) *Session {
	return &Session{
		builder:    random.Choice(src, g.builders),
		src:        src,
		separators: g.separators,
		template:   -1,
	}
}

// Session carries the per-sample state shared by every instruction built for
// the same sample. It is not safe for concurrent use.
type Session struct {
	builder    Builder
	src        random.Source
	separators []string

	// template is the action template fixed for the session, -1 until chosen.
	template int
}

// BuilderName returns the name of the chosen builder.
func (s *Session) BuilderName() string {
	return s.builder.Name()
}

// Instruction builds the instruction for the given captions.
func (s *Session) Instruction(captions []*models.Caption) string {
	return s.builder.Build(s, captions)
}

func (s *Session) randomSeparator() string {
	return random.Choice(s.src, s.separators)
}

// join glues parts with the chosen separators. Punctuation attaches to the
// preceding part; words are surrounded by spaces.
func join(parts []string, sep func() string) string {
	var b strings.Builder
	for i, part := range parts {
		if i > 0 {
			s := sep()
			if s == "," || s == "." {
				b.WriteString(s)
				b.WriteByte(' ')
			} else {
				b.WriteByte(' ')
				b.WriteString(s)
				b.WriteByte(' ')
			}
		}
		b.WriteString(strings.TrimSpace(part))
	}
	return b.String()
}

func texts(captions []*models.Caption) []string {
	out := make([]string, len(captions))
	for i, c := range captions {
		out[i] = c.Text
	}
	return out
}

type identity struct{}

func (identity) Name() string { return NameIdentity }

func (identity) Build(sess *Session, captions []*models.Caption) string {
	first := sess.separators[0]
	return join(texts(captions), func() string { return first })
}

type concatenate struct{}

func (concatenate) Name() string { return NameConcatenate }

func (concatenate) Build(sess *Session, captions []*models.Caption) string {
	return join(texts(captions), sess.randomSeparator)
}
