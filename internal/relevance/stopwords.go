package relevance

// stopwords is the closed set of English tokens ignored when matching
// query terms against titles and content.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "can": {}, "do": {}, "does": {},
	"for": {}, "from": {}, "has": {}, "have": {}, "how": {}, "in": {},
	"is": {}, "it": {}, "of": {}, "on": {}, "or": {}, "that": {},
	"the": {}, "this": {}, "to": {}, "was": {}, "what": {}, "where": {},
	"which": {}, "with": {},
}

// isStopword reports whether a lowercased token is in the stopword set.
func isStopword(token string) bool {
	_, ok := stopwords[token]
	return ok
}
