// Package scoring ranks processed items against free-text topic
// instructions and picks a source-diversified subset.
package scoring

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxProfileTerms = 40
	minTokenRunes   = 3
	phraseWeight    = 2
)

// Term is one weighted entry of an instruction profile.
type Term struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
	Phrase bool    `json:"phrase"`
}

type Profile struct {
	Terms       []Term  `json:"terms"`
	TotalWeight float64 `json:"totalWeight"`
}

func (p Profile) Empty() bool {
	return len(p.Terms) == 0 || p.TotalWeight <= 0
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true, "not": true, "you": true,
	"all": true, "any": true, "can": true, "had": true, "her": true, "was": true, "one": true,
	"our": true, "out": true, "has": true, "have": true, "this": true, "that": true, "with": true,
	"from": true, "they": true, "them": true, "their": true, "there": true, "what": true,
	"when": true, "where": true, "which": true, "who": true, "will": true, "would": true,
	"about": true, "into": true, "than": true, "then": true, "these": true, "those": true,
	"some": true, "such": true, "only": true, "also": true, "just": true, "more": true,
	"most": true, "other": true, "over": true, "very": true, "been": true, "being": true,
	"were": true, "does": true, "did": true, "doing": true, "should": true, "could": true,
	"your": true, "yours": true, "its": true, "his": true, "she": true, "him": true,
	"how": true, "why": true, "each": true, "few": true, "both": true, "own": true,
	"same": true, "too": true, "off": true, "again": true, "once": true, "here": true,
	"news": true, "articles": true, "article": true, "items": true, "stories": true,
	"focus": true, "include": true, "including": true, "prefer": true, "want": true,
	"like": true, "please": true, "related": true, "anything": true, "everything": true,
}

// Runs of two or more capitalized words, treated as proper-noun phrases.
var phraseRe = regexp.MustCompile(`\p{Lu}[\p{L}\p{N}'’-]*(?:[ \t]+\p{Lu}[\p{L}\p{N}'’-]*)+`)

// BuildProfile turns instructions into at most 40 weighted terms. Every
// surviving token occurrence adds 1, every capitalized phrase occurrence
// adds 2.
func BuildProfile(instructions string) Profile {
	weights := map[string]float64{}
	phrases := map[string]bool{}

	for _, m := range phraseRe.FindAllString(instructions, -1) {
		phrase := strings.ToLower(strings.Join(strings.Fields(m), " "))
		weights[phrase] += phraseWeight
		phrases[phrase] = true
	}

	for _, tok := range tokenize(instructions) {
		weights[tok]++
	}

	terms := make([]Term, 0, len(weights))
	for text, w := range weights {
		terms = append(terms, Term{Text: text, Weight: w, Phrase: phrases[text]})
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Weight != terms[j].Weight {
			return terms[i].Weight > terms[j].Weight
		}
		return terms[i].Text < terms[j].Text
	})
	if len(terms) > maxProfileTerms {
		terms = terms[:maxProfileTerms]
	}

	var total float64
	for _, t := range terms {
		total += t.Weight
	}
	return Profile{Terms: terms, TotalWeight: total}
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) < minTokenRunes || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// countOccurrences counts term in text (both lower-case) where the match is
// not glued to a letter or digit on either side.
func countOccurrences(text, term string) int {
	if term == "" {
		return 0
	}
	count := 0
	for start := 0; start < len(text); {
		idx := strings.Index(text[start:], term)
		if idx < 0 {
			break
		}
		i := start + idx
		j := i + len(term)
		if boundaryBefore(text, i) && boundaryAfter(text, j) {
			count++
		}
		start = i + 1
	}
	return count
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, j int) bool {
	if j >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[j:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}
