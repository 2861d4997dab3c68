package taxonomy

import "strings"

// NormalizeQuery turns an OTU identifier into a name query: underscores become
// spaces and runs of whitespace collapse to one space.
func NormalizeQuery(otuID string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(otuID, "_", " ")), " ")
}

// Truncations lists the query followed by progressively shorter prefixes,
// dropping one trailing word at a time down to the first word.
//
//	"pythium insidiosum CBS 101555" -> [pythium insidiosum CBS 101555, pythium insidiosum CBS, pythium insidiosum, pythium]
func Truncations(query string) []string {
	words := strings.Fields(query)
	out := make([]string, 0, len(words))
	for n := len(words); n > 0; n-- {
		out = append(out, strings.Join(words[:n], " "))
	}
	return out
}
