package prompt

import (
	"regexp"
	"strings"
)

// Gender is the pronoun set a translated prompt is rewritten to.
type Gender int

const (
	Neutral Gender = iota
	Female
	Male
)

func (g Gender) String() string {
	switch g {
	case Female:
		return "female"
	case Male:
		return "male"
	default:
		return "neutral"
	}
}

var (
	femaleWords  = regexp.MustCompile(`(?i)\b(she|her|hers)\b`)
	maleWords    = regexp.MustCompile(`(?i)\b(he|his|him)\b`)
	secondPerson = regexp.MustCompile(`(?i)\b(yours|your|you)\b`)
)

var pronounMap = map[Gender]map[string]string{
	Female:  {"your": "her", "you": "she", "yours": "hers"},
	Male:    {"your": "his", "you": "he", "yours": "his"},
	Neutral: {"your": "their", "you": "they", "yours": "theirs"},
}

// DetectGender scans the whole text. Female pronouns win over male ones;
// with neither present the result is Neutral.
func DetectGender(text string) Gender {
	switch {
	case femaleWords.MatchString(text):
		return Female
	case maleWords.MatchString(text):
		return Male
	default:
		return Neutral
	}
}

// CorrectPronouns rewrites second-person pronouns, which machine
// translation tends to produce for subject-less source text, into the
// third-person set matching DetectGender. It is a heuristic and makes no
// attempt at grammatical agreement.
func CorrectPronouns(text string) string {
	repl := pronounMap[DetectGender(text)]
	return secondPerson.ReplaceAllStringFunc(text, func(m string) string {
		out := repl[strings.ToLower(m)]
		if m[0] >= 'A' && m[0] <= 'Z' {
			out = strings.ToUpper(out[:1]) + out[1:]
		}
		return out
	})
}
