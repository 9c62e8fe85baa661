// Package lexical turns free-text task descriptions into canonical keyword
// sets and scores their similarity. Both operations are pure functions of
// their input, so results can be cached per distinct string.
package lexical

import (
	"sort"
	"strings"
)

// Set 规范化后的关键词集合
// Set is a set of canonical keyword tokens.
type Set map[string]struct{}

// minStemLen 后缀剥离前要求的最短词干长度，防止过度削词
// minStemLen is the shortest stem allowed before a suffix is stripped,
// guarding against over-stemming short words.
const minStemLen = 3

// stopWords are function words only: articles, prepositions, pronouns and
// auxiliary verbs. Domain nouns ("page", "feature", ...) are retained.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {}, "being": {},
	"have": {}, "has": {}, "had": {},
	"do": {}, "does": {}, "did": {},
	"will": {}, "would": {}, "could": {}, "should": {}, "may": {}, "might": {},
	"must": {}, "shall": {}, "can": {},
	"to": {}, "of": {}, "in": {}, "for": {}, "on": {}, "with": {}, "at": {},
	"by": {}, "from": {}, "as": {}, "into": {}, "through": {}, "during": {},
	"before": {}, "after": {}, "above": {}, "below": {}, "between": {}, "under": {},
	"again": {}, "further": {}, "then": {}, "once": {},
	"here": {}, "there": {}, "when": {}, "where": {}, "why": {}, "how": {},
	"all": {}, "each": {}, "few": {}, "more": {}, "most": {}, "other": {},
	"some": {}, "such": {}, "no": {}, "nor": {}, "not": {}, "only": {},
	"own": {}, "same": {}, "so": {}, "than": {}, "too": {}, "very": {}, "just": {},
	"and": {}, "but": {}, "if": {}, "or": {}, "because": {}, "until": {}, "while": {},
	"this": {}, "that": {}, "these": {}, "those": {},
	"it": {}, "its": {}, "they": {}, "them": {}, "their": {},
	"we": {}, "our": {}, "you": {}, "your": {}, "i": {}, "my": {}, "me": {},
}

// suffixes are tried longest-first so "ation" wins over "ion".
var suffixes = []string{"ation", "ing", "ion", "ed", "s"}

// synonyms collapses near-synonymous action verbs onto one canonical token.
// Keys are stemmed forms (lookup happens after stemming); the mapping is a
// one-directional lookup, not a transitive closure.
var synonyms = map[string]string{
	// creation cluster
	"create": "creat", "creat": "creat", "add": "creat", "build": "creat",
	"built": "creat", "implement": "creat", "write": "creat", "writ": "creat",
	"wrote": "creat", "make": "creat", "made": "creat", "develop": "creat",
	// fix cluster
	"fix": "fix", "repair": "fix", "resolv": "fix", "solv": "fix", "correct": "fix",
	// update cluster
	"update": "updat", "updat": "updat", "modif": "updat", "modifi": "updat",
	"chang": "updat", "change": "updat", "edit": "updat", "revis": "updat",
	// removal cluster
	"remove": "remov", "remov": "remov", "delet": "remov", "delete": "remov",
	"drop": "remov",
	// verification cluster
	"test": "test", "verifi": "test", "verify": "test", "check": "test",
	"validat": "test", "validate": "test",
	// refactor cluster
	"refactor": "refactor", "rework": "refactor", "restructur": "refactor",
	"cleanup": "refactor", "clean": "refactor",
}

// Normalize 将自由文本规范化为关键词集合：小写分词、去停用词、削词干、同义词归并。
// Normalize tokenizes text, drops stop words, stems common inflections and
// maps the survivors through the synonym table. Pure and deterministic.
func Normalize(text string) Set {
	out := Set{}
	for _, tok := range splitTokens(text) {
		if len(tok) < minStemLen {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		tok = stem(tok)
		if canonical, ok := synonyms[tok]; ok {
			tok = canonical
		}
		out[tok] = struct{}{}
	}
	return out
}

// Tokens returns the normalized keywords as a sorted slice, suitable for
// storing alongside a plan item as its keyword cache.
func Tokens(text string) []string {
	set := Normalize(text)
	out := make([]string, 0, len(set))
	for tok := range set {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// SetOf rebuilds a Set from cached tokens.
func SetOf(tokens []string) Set {
	set := make(Set, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}

func splitTokens(text string) []string {
	lower := strings.ToLower(text)
	return strings.FieldsFunc(lower, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z':
			return false
		case r >= '0' && r <= '9':
			return false
		default:
			return true
		}
	})
}

func stem(tok string) string {
	for _, suf := range suffixes {
		if !strings.HasSuffix(tok, suf) {
			continue
		}
		if suf == "s" && strings.HasSuffix(tok, "ss") {
			continue
		}
		if len(tok)-len(suf) < minStemLen {
			continue
		}
		return tok[:len(tok)-len(suf)]
	}
	return tok
}
