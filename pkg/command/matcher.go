package command

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Match is the result of evaluating a transcript.
type Match struct {
	Command Command
	Kind    Kind
	// Phrase is the registered phrase that matched.
	Phrase string
	// Question is the text after the last occurrence of a wake phrase. It may
	// be empty.
	Question string
}

type compiled struct {
	cmd    Command
	phrase string
	re     *regexp.Regexp
}

// Matcher evaluates transcripts against a fixed command set. It is safe for
// concurrent use.
type Matcher struct {
	commands []Command
	literals []compiled
	wakes    []compiled
}

func NewMatcher(commands []Command) (*Matcher, error) {
	m := &Matcher{}
	for _, c := range commands {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		m.commands = append(m.commands, c)
		for _, p := range c.Phrases {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			entry := compiled{cmd: c, phrase: p, re: phrasePattern(p)}
			if c.Kind == KindLiteral {
				m.literals = append(m.literals, entry)
			} else {
				m.wakes = append(m.wakes, entry)
			}
		}
	}
	return m, nil
}

// Commands returns the registered commands in registration order.
func (m *Matcher) Commands() []Command {
	out := make([]Command, len(m.commands))
	copy(out, m.commands)
	return out
}

// Match returns at most one match. Literal commands win over wake phrases.
// Among wake phrases, the one whose last occurrence ends latest wins.
func (m *Matcher) Match(transcript string) (Match, bool) {
	if strings.TrimSpace(transcript) == "" {
		return Match{}, false
	}
	for _, l := range m.literals {
		if l.re.MatchString(transcript) {
			return Match{Command: l.cmd, Kind: KindLiteral, Phrase: l.phrase}, true
		}
	}

	best := -1
	var found compiled
	for _, w := range m.wakes {
		locs := w.re.FindAllStringIndex(transcript, -1)
		if len(locs) == 0 {
			continue
		}
		end := locs[len(locs)-1][1]
		if end > best {
			best = end
			found = w
		}
	}
	if best < 0 {
		return Match{}, false
	}
	return Match{
		Command:  found.cmd,
		Kind:     KindWake,
		Phrase:   found.phrase,
		Question: stripQuestion(transcript[best:]),
	}, true
}

func stripQuestion(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, ",.:;!?-")
	return strings.TrimSpace(s)
}

// phrasePattern matches the phrase case-insensitively on word boundaries,
// allowing any run of whitespace between words.
func phrasePattern(phrase string) *regexp.Regexp {
	words := strings.Fields(phrase)
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	expr := strings.Join(quoted, `\s+`)
	first, _ := utf8.DecodeRuneInString(phrase)
	last, _ := utf8.DecodeLastRuneInString(phrase)
	if isWordRune(first) {
		expr = `\b` + expr
	}
	if isWordRune(last) {
		expr += `\b`
	}
	return regexp.MustCompile(`(?i)` + expr)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
