package memory

import (
	"strings"
	"unicode"
)

// DefaultSubjectLabel is the third-person label facts are rewritten to.
const DefaultSubjectLabel = "the user"

// Normalizer rewrites first-person statements into third person so facts
// read the same no matter who retrieves them ("I like Python" becomes
// "The user likes Python").
//
// Normalization is a pure function over a fixed rule table: the same input
// always produces the same output, and text that contains no first-person
// forms passes through unchanged, which makes the rewrite idempotent.
// Matching is word-boundary exact ("mine" never matches inside "miner"),
// and anything inside double quotes or backticks is left untouched.
type Normalizer struct {
	label string
}

// NewNormalizer creates a normalizer targeting the given subject label.
// An empty label falls back to DefaultSubjectLabel.
func NewNormalizer(label string) *Normalizer {
	if strings.TrimSpace(label) == "" {
		label = DefaultSubjectLabel
	}
	return &Normalizer{label: label}
}

// Normalize rewrites first-person forms in text to the subject label.
func (n *Normalizer) Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 16)

	runes := []rune(text)
	i := 0
	var quote rune
	sentenceStart := true

	for i < len(runes) {
		r := runes[i]

		// Inside quoted text, copy verbatim until the closing quote.
		if quote != 0 {
			b.WriteRune(r)
			if r == quote {
				quote = 0
			}
			i++
			continue
		}
		if r == '"' || r == '`' {
			quote = r
			b.WriteRune(r)
			i++
			continue
		}

		if isWordRune(r) {
			start := i
			for i < len(runes) && isWordRune(runes[i]) {
				i++
			}
			word := string(runes[start:i])

			repl, isSubject, ok := n.rewriteWord(word)
			if !ok {
				b.WriteString(word)
				sentenceStart = false
				continue
			}
			if sentenceStart {
				repl = capitalizeFirst(repl)
			}
			b.WriteString(repl)
			sentenceStart = false

			// A rewritten subject changes verb agreement: "I like"
			// becomes "the user likes". Only verbs in the fixed table
			// are conjugated; everything else is left as typed.
			if isSubject {
				j := i
				for j < len(runes) && runes[j] == ' ' {
					j++
				}
				k := j
				for k < len(runes) && isWordRune(runes[k]) {
					k++
				}
				if k > j {
					if conj, found := conjugate(string(runes[j:k])); found {
						b.WriteString(string(runes[i:j]))
						b.WriteString(conj)
						i = k
					}
				}
			}
			continue
		}

		b.WriteRune(r)
		switch r {
		case '.', '!', '?', '\n':
			sentenceStart = true
		}
		i++
	}

	return b.String()
}

// rewriteWord maps a single first-person token to its replacement.
// isSubject reports whether the token was the subject pronoun "I",
// which triggers verb agreement on the following word.
func (n *Normalizer) rewriteWord(word string) (repl string, isSubject bool, ok bool) {
	switch strings.ToLower(word) {
	case "i":
		return n.label, true, true
	case "i'm":
		return n.label + " is", false, true
	case "i've":
		return n.label + " has", false, true
	case "i'll":
		return n.label + " will", false, true
	case "i'd":
		return n.label + " would", false, true
	case "me":
		return n.label, false, true
	case "my":
		return n.label + "'s", false, true
	case "mine":
		return n.label + "'s", false, true
	}
	return "", false, false
}

// irregularVerbs are first-to-third person forms that do not follow the
// orthographic -s rule.
var irregularVerbs = map[string]string{
	"am":    "is",
	"have":  "has",
	"do":    "does",
	"don't": "doesn't",
}

// baseVerbs are present-tense verbs commonly found in self-disclosures.
// Only these are conjugated; unknown following words (adverbs, past
// tense) are left alone so "I went" stays "the user went".
var baseVerbs = map[string]bool{
	"like": true, "love": true, "hate": true, "prefer": true,
	"enjoy": true, "want": true, "need": true, "live": true,
	"work": true, "use": true, "own": true, "play": true,
	"study": true, "speak": true, "eat": true, "drink": true,
	"go": true, "try": true, "think": true, "feel": true,
	"know": true, "remember": true, "wake": true, "travel": true,
	"write": true, "read": true, "run": true, "teach": true,
	"watch": true, "wish": true, "hope": true, "call": true,
}

func conjugate(word string) (string, bool) {
	lw := strings.ToLower(word)
	if s, ok := irregularVerbs[lw]; ok {
		return s, true
	}
	if !baseVerbs[lw] {
		return "", false
	}
	return sForm(lw), true
}

// sForm applies English third-person singular orthography.
func sForm(v string) string {
	switch {
	case strings.HasSuffix(v, "y") && len(v) > 1 && !isVowel(rune(v[len(v)-2])):
		return v[:len(v)-1] + "ies"
	case strings.HasSuffix(v, "s"), strings.HasSuffix(v, "x"),
		strings.HasSuffix(v, "z"), strings.HasSuffix(v, "ch"),
		strings.HasSuffix(v, "sh"), strings.HasSuffix(v, "o"):
		return v + "es"
	default:
		return v + "s"
	}
}

func isVowel(r rune) bool {
	switch unicode.ToLower(r) {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || r == '\''
}

func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
