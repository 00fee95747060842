package tourgen

import (
	"encoding/json"
	"fmt"
	"strings"
)

const systemPrompt = `You order campus tour stops for a guided visit. You receive a list of location ids and the interests the visitors recorded. Reply with ONLY a JSON array of location ids, ordered so the stops most relevant to the interests come first. Use every id exactly once and invent none.`

// buildQuery renders the user turn of the generation prompt.
func buildQuery(locations, interests []string) string {
	var b strings.Builder
	b.WriteString("Locations:\n")
	for _, loc := range locations {
		fmt.Fprintf(&b, "- %s\n", loc)
	}
	if len(interests) == 0 {
		b.WriteString("Interests: none recorded; keep a sensible walking order.")
		return b.String()
	}
	b.WriteString("Interests:\n")
	for _, interest := range interests {
		fmt.Fprintf(&b, "- %s\n", interest)
	}
	return b.String()
}

// parseOrder extracts the ordered id list from a model reply. Replies
// wrapped in markdown code fences are tolerated; ids outside the candidate
// set are dropped.
func parseOrder(content string, locations []string) ([]string, error) {
	trimmed := strings.TrimSpace(content)
	if idx := strings.Index(trimmed, "["); idx >= 0 {
		if end := strings.LastIndex(trimmed, "]"); end > idx {
			trimmed = trimmed[idx : end+1]
		}
	}

	var order []string
	if err := json.Unmarshal([]byte(trimmed), &order); err != nil {
		return nil, fmt.Errorf("unparsable model reply: %w", err)
	}

	known := make(map[string]bool, len(locations))
	for _, loc := range locations {
		known[loc] = true
	}

	seen := make(map[string]bool, len(order))
	filtered := order[:0]
	for _, id := range order {
		if known[id] && !seen[id] {
			filtered = append(filtered, id)
			seen[id] = true
		}
	}

	if len(filtered) == 0 {
		return nil, fmt.Errorf("model reply contained no known location ids")
	}
	return filtered, nil
}
