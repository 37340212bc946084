// Package content turns raw provider output into validated, normalized post
// content. The repair layer is deliberately staged: failure modes are
// heterogeneous (encoding artifacts, structural truncation, schema
// corruption) and each stage targets one class without touching documents an
// earlier stage already handles. Running repair on valid JSON is a no-op.
package content

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Document is the parsed generation payload.
type Document map[string]any

// RepairError reports that every repair strategy was exhausted. Attempts
// lists the stages tried in order; Err is the parse error from the final one.
type RepairError struct {
	Attempts []string
	Err      error
}

func (e *RepairError) Error() string {
	return fmt.Sprintf("unable to parse provider output after %d attempts (%s): %v",
		len(e.Attempts), strings.Join(e.Attempts, ", "), e.Err)
}

func (e *RepairError) Unwrap() error { return e.Err }

// Repair extracts a well-formed JSON document from raw provider text.
// Ordered attempts, first successful parse wins.
func Repair(raw string) (Document, error) {
	trimmed := stripCodeFences(raw)

	var attempts []string
	var lastErr error

	try := func(label, candidate string) (Document, bool) {
		attempts = append(attempts, label)
		var doc Document
		if err := json.Unmarshal([]byte(candidate), &doc); err != nil {
			lastErr = err
			return nil, false
		}
		return doc, true
	}

	if doc, ok := try("direct", trimmed); ok {
		return doc, nil
	}

	braced, hasBraces := extractBraces(trimmed)
	if hasBraces && braced != trimmed {
		if doc, ok := try("brace_extract", braced); ok {
			return doc, nil
		}
	}

	// Doubled-escaped quotes are a known artifact of one provider's encoding.
	if fixed := collapseDoubledEscapes(trimmed); fixed != trimmed {
		if doc, ok := try("escape_fix", fixed); ok {
			return doc, nil
		}
	}
	if hasBraces {
		if fixed := collapseDoubledEscapes(braced); fixed != braced {
			if doc, ok := try("escape_fix_braced", fixed); ok {
				return doc, nil
			}
		}
	}

	scanInput := trimmed
	if hasBraces {
		scanInput = braced
	}
	if doc, ok := try("string_scan", sanitizeStringAware(scanInput)); ok {
		return doc, nil
	}

	if patched, ok := repairFAQSchema(scanInput); ok {
		if doc, ok := try("faq_schema", patched); ok {
			return doc, nil
		}
		if doc, ok := try("faq_schema_scan", sanitizeStringAware(patched)); ok {
			return doc, nil
		}
	}

	return nil, &RepairError{Attempts: attempts, Err: lastErr}
}

// stripCodeFences removes a surrounding markdown code fence (```json ... ```
// or bare ``` ... ```) and trims whitespace.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop the language tag on the opening fence line, if any.
		first := strings.TrimSpace(s[:idx])
		if first == "" || isFenceLang(first) {
			s = s[idx+1:]
		}
	} else {
		s = strings.TrimSpace(s)
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func isFenceLang(s string) bool {
	switch strings.ToLower(s) {
	case "json", "json5", "javascript", "js", "html":
		return true
	}
	return false
}

// extractBraces returns the substring between the first '{' and the last '}'.
func extractBraces(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func collapseDoubledEscapes(s string) string {
	return strings.ReplaceAll(s, `\\"`, `\"`)
}

// sanitizeStringAware runs a single left-to-right scan tracking whether the
// cursor is inside a JSON string. Inside strings it escapes literal control
// characters, and treats '"' as terminating only when the next significant
// character is ':', ',', '}' or ']' — anything else is an unescaped interior
// quote and gets escaped instead.
func sanitizeStringAware(s string) string {
	var out strings.Builder
	out.Grow(len(s) + 16)

	inString := false
	escaped := false

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]

		if !inString {
			if ch == '"' {
				inString = true
			}
			out.WriteRune(ch)
			continue
		}

		if escaped {
			out.WriteRune(ch)
			escaped = false
			continue
		}

		switch ch {
		case '\\':
			out.WriteRune(ch)
			escaped = true
		case '\n':
			out.WriteString(`\n`)
		case '\t':
			out.WriteString(`\t`)
		case '\r':
			out.WriteString(`\r`)
		case '"':
			if terminatesString(runes, i+1) {
				inString = false
				out.WriteRune(ch)
			} else {
				out.WriteString(`\"`)
			}
		default:
			out.WriteRune(ch)
		}
	}
	return out.String()
}

// terminatesString reports whether a quote at position idx-1 closes the
// current string, judged by the next non-whitespace character.
func terminatesString(runes []rune, idx int) bool {
	for i := idx; i < len(runes); i++ {
		switch runes[i] {
		case ' ', '\t', '\n', '\r':
			continue
		case ':', ',', '}', ']':
			return true
		default:
			return false
		}
	}
	// End of input: treat as closing so truncated documents still terminate.
	return true
}
