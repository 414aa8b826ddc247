package searcher

import (
	"strings"
	"unicode/utf8"

	"github.com/kljensen/snowball/english"

	"github.com/noteindex/noteindex/internal/chunker"
)

// stopWords are dropped from queries before stemming
var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		a about above after again against all am an and any are as at be because
		been before being below between both but by can could did do does doing
		down during each few for from further had has have having he her here hers
		herself him himself his how i if in into is it its itself just me more most
		my myself no nor not now of off on once only or other our ours ourselves out
		over own same she should so some such than that the their theirs them
		themselves then there these they this those through to too under until up
		very was we were what when where which while who whom why will with would
		you your yours yourself yourselves`) {
		stopWords[w] = struct{}{}
	}
}

// QueryStems normalizes a query into deduplicated stems in first-seen
// order. Tokens of one character and stop words are dropped.
func QueryStems(query string) []string {
	var stems []string
	seen := make(map[string]struct{})
	for _, tok := range strings.Fields(chunker.Normalize(query)) {
		if utf8.RuneCountInString(tok) <= 1 {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		stem := english.Stem(tok, false)
		if _, dup := seen[stem]; dup {
			continue
		}
		seen[stem] = struct{}{}
		stems = append(stems, stem)
	}
	return stems
}

// contentStems returns the set of stems in already normalized content
func contentStems(normalized string) map[string]struct{} {
	stems := make(map[string]struct{})
	for _, tok := range strings.Fields(normalized) {
		if utf8.RuneCountInString(tok) <= 1 {
			continue
		}
		stems[english.Stem(tok, false)] = struct{}{}
	}
	return stems
}
