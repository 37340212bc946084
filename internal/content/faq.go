package content

import (
	"encoding/json"
	"regexp"
	"strings"
)

const schemaOrgContext = "https://schema.org"

// The script block usually lives inside a JSON string value, so both plain
// and escaped quote forms appear in the wild.
var (
	faqScriptRE = regexp.MustCompile(`(?s)<script type=(?:\\")?"?application/ld\+json(?:\\")?"?>(.*?)</script>`)

	// "@context": <anything that is not the next field>, "@type"
	faqContextRE = regexp.MustCompile(`(?s)((?:\\")?"?@context(?:\\")?"?)\s*:\s*.*?,?\s*((?:\\")?"?@type(?:\\")?"?)`)

	faqQARE = regexp.MustCompile(`(?s)<h3[^>]*>(.*?)</h3>\s*<p[^>]*>(.*?)</p>`)
)

// repairFAQSchema detects a truncated or malformed "@context" field inside
// an embedded ld+json block and patches it to the canonical value. When the
// block is corrupted beyond field-level repair it reconstructs the whole FAQ
// schema from the visible <h3>/<p> question/answer markup instead.
func repairFAQSchema(s string) (string, bool) {
	loc := faqScriptRE.FindStringSubmatchIndex(s)
	if loc == nil {
		return "", false
	}

	inner := s[loc[2]:loc[3]]
	escaped := strings.Contains(inner, `\"`)

	patched := faqContextRE.ReplaceAllStringFunc(inner, func(string) string {
		if escaped {
			return `\"@context\": \"` + schemaOrgContext + `\", \"@type\"`
		}
		return `"@context": "` + schemaOrgContext + `", "@type"`
	})

	if faqBlockParses(patched, escaped) {
		return s[:loc[2]] + patched + s[loc[3]:], true
	}

	rebuilt, ok := rebuildFAQFromMarkup(s, escaped)
	if !ok {
		return "", false
	}
	return s[:loc[2]] + rebuilt + s[loc[3]:], true
}

func faqBlockParses(inner string, escaped bool) bool {
	candidate := strings.TrimSpace(inner)
	if escaped {
		var unescaped string
		if err := json.Unmarshal([]byte(`"`+candidate+`"`), &unescaped); err != nil {
			return false
		}
		candidate = unescaped
	}
	var doc map[string]any
	return json.Unmarshal([]byte(candidate), &doc) == nil
}

// rebuildFAQFromMarkup treats the HTML <h3>/<p> pairs as the source of truth
// and regenerates the canonical FAQPage schema from them.
func rebuildFAQFromMarkup(s string, escaped bool) (string, bool) {
	source := s
	if escaped {
		source = strings.ReplaceAll(source, `\"`, `"`)
		source = strings.ReplaceAll(source, `\n`, "\n")
	}
	// Ignore anything inside the broken script block itself.
	source = faqScriptRE.ReplaceAllString(source, "")

	matches := faqQARE.FindAllStringSubmatch(source, -1)
	if len(matches) == 0 {
		return "", false
	}

	type answer struct {
		Type string `json:"@type"`
		Text string `json:"text"`
	}
	type question struct {
		Type           string `json:"@type"`
		Name           string `json:"name"`
		AcceptedAnswer answer `json:"acceptedAnswer"`
	}

	entities := make([]question, 0, len(matches))
	for _, m := range matches {
		q := strings.TrimSpace(stripTags(m[1]))
		a := strings.TrimSpace(stripTags(m[2]))
		if q == "" || a == "" {
			continue
		}
		entities = append(entities, question{
			Type: "Question",
			Name: q,
			AcceptedAnswer: answer{
				Type: "Answer",
				Text: a,
			},
		})
	}
	if len(entities) == 0 {
		return "", false
	}

	schema := map[string]any{
		"@context":   schemaOrgContext,
		"@type":      "FAQPage",
		"mainEntity": entities,
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return "", false
	}

	out := string(raw)
	if escaped {
		// Re-escape for embedding inside a JSON string value.
		quoted, err := json.Marshal(out)
		if err != nil {
			return "", false
		}
		out = strings.TrimSuffix(strings.TrimPrefix(string(quoted), `"`), `"`)
	}
	return out, true
}

var tagRE = regexp.MustCompile(`<[^>]+>`)

func stripTags(s string) string {
	return tagRE.ReplaceAllString(s, "")
}
