package catalog

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ItemType is the canonical classification taxonomy for catalog entries
type ItemType string

const (
	ItemManuscript   ItemType = "manuscript"
	ItemPrintedBook  ItemType = "printed book"
	ItemIncunable    ItemType = "incunable"
	ItemPeriodical   ItemType = "periodical"
	ItemMusic        ItemType = "music/score"
	ItemMap          ItemType = "map/atlas"
	ItemMiscellany   ItemType = "miscellany"
	ItemUnclassified ItemType = "unclassified"
)

// ItemTypes lists the taxonomy in display order
var ItemTypes = []ItemType{
	ItemManuscript,
	ItemPrintedBook,
	ItemIncunable,
	ItemPeriodical,
	ItemMusic,
	ItemMap,
	ItemMiscellany,
	ItemUnclassified,
}

var itemTypeAliases = map[string]ItemType{
	"other":   ItemUnclassified,
	"altro":   ItemUnclassified,
	"unknown": ItemUnclassified,
}

// typeRule maps match tokens to a type with a confidence score.
// Rules are ordered most-specific first; the first token hit wins.
type typeRule struct {
	itemType   ItemType
	tokens     []string
	confidence float64
}

var typeRules = []typeRule{
	{ItemIncunable, []string{"incunab"}, 0.96},
	{ItemMusic, []string{"spartito", "music", "musica", "chant", "corale"}, 0.92},
	{ItemMap, []string{"atlas", "atlante", "map", "cartograf"}, 0.9},
	{ItemPeriodical, []string{"periodic", "journal", "rivista", "gazzetta", "newspaper"}, 0.9},
	{ItemPrintedBook, []string{"stampa", "printed", "print", "typograph", "edition"}, 0.88},
	{ItemManuscript, []string{"manoscr", "manuscript", "codex", "ms "}, 0.87},
	{ItemMiscellany, []string{"miscellanea", "raccolta", "collectanea"}, 0.75},
}

// NormalizeItemType maps legacy or free-form type values onto the
// canonical taxonomy.
func NormalizeItemType(value string) ItemType {
	text := strings.ToLower(strings.TrimSpace(value))
	if text == "" {
		return ItemUnclassified
	}
	if alias, ok := itemTypeAliases[text]; ok {
		return alias
	}
	for _, t := range ItemTypes {
		if string(t) == text {
			return t
		}
	}
	return ItemUnclassified
}

// Inference is the result of classifying an item from its text fields
type Inference struct {
	Type       ItemType
	Confidence float64
	Reason     string
}

// InferItemType classifies an item from its label, description and
// metadata map using token rules. Unmatched items fall back to
// unclassified with low confidence.
func InferItemType(label, description string, metadata map[string]string) Inference {
	chunks := []string{label, description}
	for _, key := range []string{"type", "genre", "format", "material", "description"} {
		chunks = append(chunks, metadata[key])
	}
	var nonEmpty []string
	for _, c := range chunks {
		if c != "" {
			nonEmpty = append(nonEmpty, c)
		}
	}
	corpus := strings.ToLower(strings.Join(nonEmpty, " "))

	for _, rule := range typeRules {
		for _, token := range rule.tokens {
			if strings.Contains(corpus, token) {
				return Inference{
					Type:       rule.itemType,
					Confidence: rule.confidence,
					Reason:     fmt.Sprintf("match:%s", token),
				}
			}
		}
	}
	return Inference{Type: ItemUnclassified, Confidence: 0.2, Reason: "fallback:no-rule-match"}
}

// FlattenValue collapses IIIF text containers (strings, language maps,
// lists, nested combinations) into one readable string. Duplicate
// chunks are dropped while preserving order.
func FlattenValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case map[string]interface{}:
		return joinUnique(flattenEach(mapValues(v)))
	case []interface{}:
		return joinUnique(flattenEach(v))
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

func mapValues(m map[string]interface{}) []interface{} {
	out := make([]interface{}, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func flattenEach(values []interface{}) []string {
	var chunks []string
	for _, v := range values {
		if flat := FlattenValue(v); flat != "" {
			chunks = append(chunks, flat)
		}
	}
	return chunks
}

func joinUnique(chunks []string) string {
	seen := make(map[string]bool, len(chunks))
	var out []string
	for _, c := range chunks {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return strings.Join(out, " | ")
}

// MetadataToMap flattens an IIIF metadata list into a lower-cased
// key -> value map with all container shapes collapsed.
func MetadataToMap(metadata interface{}) map[string]string {
	out := make(map[string]string)
	entries, ok := metadata.([]interface{})
	if !ok {
		return out
	}
	for _, e := range entries {
		entry, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		key := FlattenValue(firstNonNil(entry["label"], entry["name"], entry["property"]))
		val := FlattenValue(firstNonNil(entry["value"], entry["val"]))
		if key != "" && val != "" {
			out[strings.ToLower(key)] = val
		}
	}
	return out
}

func firstNonNil(vals ...interface{}) interface{} {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

// ExtractSeeAlsoURLs normalizes a manifest seeAlso value (string, object
// or list of either) into a deduplicated URL list.
func ExtractSeeAlsoURLs(seeAlso interface{}) []string {
	if seeAlso == nil {
		return nil
	}
	items, ok := seeAlso.([]interface{})
	if !ok {
		items = []interface{}{seeAlso}
	}

	seen := make(map[string]bool)
	var urls []string
	for _, item := range items {
		var candidate string
		switch v := item.(type) {
		case string:
			candidate = strings.TrimSpace(v)
		case map[string]interface{}:
			for _, k := range []string{"id", "@id", "url"} {
				if s, ok := v[k].(string); ok && s != "" {
					candidate = strings.TrimSpace(s)
					break
				}
			}
		}
		if candidate != "" && !seen[candidate] {
			seen[candidate] = true
			urls = append(urls, candidate)
		}
	}
	return urls
}

var compactTokenPattern = regexp.MustCompile(`[^a-z0-9]+`)

func compactToken(value string) string {
	return compactTokenPattern.ReplaceAllString(strings.ToLower(value), "")
}

func isDetailURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	return strings.Contains(path, "/mss/detail/") || strings.Contains(path, "/detail/")
}

func isSearchURL(raw string) bool {
	text := strings.ToLower(raw)
	for _, token := range []string{"advanced-search", "/search", "ricerca", "discover"} {
		if strings.Contains(text, token) {
			return true
		}
	}
	return false
}

// ChoosePrimaryDetailURL picks the most relevant seeAlso URL for a
// manuscript: a detail URL mentioning the shelfmark or doc ID wins,
// then any detail URL, then the first non-search URL.
func ChoosePrimaryDetailURL(seeAlsoURLs []string, shelfmark, docID string) string {
	if len(seeAlsoURLs) == 0 {
		return ""
	}

	var tokens []string
	for _, raw := range []string{shelfmark, docID} {
		text := strings.TrimSpace(raw)
		if text == "" {
			continue
		}
		text = strings.TrimPrefix(text, "MSS_")
		text = strings.TrimPrefix(text, "MSS.")
		tokens = append(tokens, compactToken(text))
	}

	var detailURLs []string
	for _, u := range seeAlsoURLs {
		if isDetailURL(u) {
			detailURLs = append(detailURLs, u)
		}
	}
	for _, u := range detailURLs {
		compact := compactToken(u)
		for _, token := range tokens {
			if token != "" && strings.Contains(compact, token) {
				return u
			}
		}
	}
	if len(detailURLs) > 0 {
		return detailURLs[0]
	}

	for _, u := range seeAlsoURLs {
		if !isSearchURL(u) {
			return u
		}
	}
	return seeAlsoURLs[0]
}
