package service

import "strings"

// expertPattern maps a known expert-identifier substring (tool name
// fragment or emoji marker in assistant text) to a display name. Matching
// is opportunistic, not a protocol guarantee: no match, no name surfaced.
type expertPattern struct {
	substrings []string
	display    string
}

var expertPatterns = []expertPattern{
	{[]string{"fraud", "oszust", "🕵"}, "Fraud Detection Expert"},
	{[]string{"order", "zamowien", "zamówien", "📦"}, "Order Support Expert"},
	{[]string{"invoice", "billing", "faktur", "🧾"}, "Billing Expert"},
	{[]string{"product", "katalog", "catalog", "🛒"}, "Product Expert"},
	{[]string{"document", "file_search", "retrieval", "📄"}, "Document Expert"},
}

// matchExpert returns the display name for the first matching pattern,
// or empty when nothing matches.
func matchExpert(text string) string {
	lower := strings.ToLower(text)
	for _, p := range expertPatterns {
		for _, sub := range p.substrings {
			if strings.Contains(lower, sub) {
				return p.display
			}
		}
	}
	return ""
}
