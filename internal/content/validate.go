package content

import (
	"fmt"
	"regexp"
	"strings"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

type Issue struct {
	Severity Severity `json:"severity"`
	Category string   `json:"category"`
	Message  string   `json:"message"`
	Details  string   `json:"details,omitempty"`
}

// Verdict is the result of a validation pass. It is derived, never
// persisted, and recomputed on every attempt.
type Verdict struct {
	Score        float64 `json:"score"`
	Issues       []Issue `json:"issues"`
	Pass         bool    `json:"pass"`
	InvalidItems []int   `json:"invalid_items,omitempty"`
}

var (
	statisticRE = regexp.MustCompile(`\b\d+(?:\.\d+)?\s*(?:%|percent|million|billion|thousand)\b|\$\s?\d[\d,.]*`)
	citationRE  = regexp.MustCompile(`(?i)\baccording to\b|\bstudy\b|\bsurvey\b|\breport(?:ed)?\b|\bresearch\b|<a\s+[^>]*href=`)
	quoteRE     = regexp.MustCompile(`(?s)<blockquote[^>]*>.*?</blockquote>|[“"][^”"]{20,}[”"]`)
	yearRE      = regexp.MustCompile(`\b(19|20)\d{2}\b`)
)

// ValidateBlog scores a blog draft against authority heuristics: concrete
// statistics, attributed claims, direct quotes and dated specificity. A draft
// passes only when it reads as authoritative, meaning at least two distinct
// signals are present and one of them is a statistic or citation.
func ValidateBlog(title, body, focusKeyphrase string) Verdict {
	var issues []Issue
	score := 0.0

	hasStats := statisticRE.MatchString(body)
	hasCitations := citationRE.MatchString(body)
	hasQuotes := quoteRE.MatchString(body)
	hasDates := yearRE.MatchString(body)

	if hasStats {
		score += 30
	} else {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Category: "authority",
			Message:  "no concrete statistics found",
		})
	}
	if hasCitations {
		score += 30
	} else {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Category: "authority",
			Message:  "no attributed claims or source references found",
		})
	}
	if hasQuotes {
		score += 20
	} else {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Category: "authority",
			Message:  "no direct quotes found",
		})
	}
	if hasDates {
		score += 20
	} else {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Category: "specificity",
			Message:  "no dated references found",
		})
	}

	if strings.TrimSpace(title) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Category: "structure",
			Message:  "title is empty",
		})
		score -= 20
	}
	if focusKeyphrase != "" && !strings.Contains(strings.ToLower(body), strings.ToLower(focusKeyphrase)) {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Category: "seo",
			Message:  "focus keyphrase missing from body",
			Details:  focusKeyphrase,
		})
	}
	if score < 0 {
		score = 0
	}

	signals := 0
	for _, ok := range []bool{hasStats, hasCitations, hasQuotes, hasDates} {
		if ok {
			signals++
		}
	}
	authoritative := signals >= 2 && (hasStats || hasCitations)

	return Verdict{
		Score:  score,
		Issues: issues,
		Pass:   authoritative && strings.TrimSpace(title) != "",
	}
}

// ValidateListicle checks that every numbered section names a recognizable
// company or entity. InvalidItems carries the section numbers that fail, in
// document order; a listicle passes only when it is empty.
func ValidateListicle(title, body string) Verdict {
	sections := parseListicleSections(body)
	if len(sections) == 0 {
		return Verdict{
			Score: 0,
			Issues: []Issue{{
				Severity: SeverityError,
				Category: "structure",
				Message:  "no numbered sections found",
			}},
			Pass: false,
		}
	}

	var issues []Issue
	var invalid []int
	for _, sec := range sections {
		if !containsEntityName(sec.Heading) {
			invalid = append(invalid, sec.Number)
			issues = append(issues, Issue{
				Severity: SeverityError,
				Category: "entity",
				Message:  fmt.Sprintf("item %d has no recognizable company name", sec.Number),
				Details:  sec.Heading,
			})
		}
	}

	valid := len(sections) - len(invalid)
	score := float64(valid) / float64(len(sections)) * 100

	return Verdict{
		Score:        score,
		Issues:       issues,
		Pass:         len(invalid) == 0,
		InvalidItems: invalid,
	}
}

type listicleSection struct {
	Number  int
	Heading string
	// Raw spans the heading tag through the start of the next numbered
	// heading (or end of body).
	Raw string
}

var sectionHeadingRE = regexp.MustCompile(`(?is)<h([23])[^>]*>\s*(\d+)[.)]?\s*(.*?)</h[23]>`)

func parseListicleSections(body string) []listicleSection {
	locs := sectionHeadingRE.FindAllStringSubmatchIndex(body, -1)
	sections := make([]listicleSection, 0, len(locs))
	for i, loc := range locs {
		num := 0
		fmt.Sscanf(body[loc[4]:loc[5]], "%d", &num)
		end := len(body)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		sections = append(sections, listicleSection{
			Number:  num,
			Heading: strings.TrimSpace(stripTags(body[loc[6]:loc[7]])),
			Raw:     body[loc[0]:end],
		})
	}
	return sections
}

// Generic heading words that a model pads list items with when it has no
// actual company to name.
var entityStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "best": true, "top": true,
	"great": true, "leading": true, "premier": true, "affordable": true,
	"local": true, "professional": true, "reliable": true, "trusted": true,
	"quality": true, "option": true, "choice": true, "services": true,
	"service": true, "company": true, "provider": true, "solution": true,
	"solutions": true, "another": true, "popular": true, "recommended": true,
	"alternative": true, "more": true, "other": true, "your": true,
	"this": true, "that": true, "our": true, "for": true, "and": true,
	"with": true, "of": true, "in": true, "to": true,
}

var corporateSuffixes = []string{
	"inc", "llc", "ltd", "corp", "co", "labs", "group", "studio",
	"studios", "agency", "systems", "technologies", "software",
}

// containsEntityName applies cheap lexical heuristics: a corporate suffix, an
// intercapped or digit-bearing token, or a capitalized token that is not a
// generic heading word.
func containsEntityName(heading string) bool {
	words := strings.Fields(heading)
	for i, w := range words {
		token := strings.Trim(w, ".,:;!?()'\"“”‘’&")
		if token == "" {
			continue
		}
		lower := strings.ToLower(token)
		for _, suffix := range corporateSuffixes {
			if lower == suffix || lower == suffix+"." {
				return true
			}
		}
		if hasInteriorUpper(token) || hasDigitAndLetter(token) {
			return true
		}
		// Capitalized non-stopword past the first word. The first word of
		// a heading is capitalized regardless, so it only counts when
		// followed by another capitalized token.
		if isCapitalized(token) && !entityStopwords[lower] {
			if i > 0 {
				return true
			}
			if i+1 < len(words) {
				next := strings.Trim(words[i+1], ".,:;!?()'\"“”‘’&")
				if isCapitalized(next) && !entityStopwords[strings.ToLower(next)] {
					return true
				}
			}
		}
	}
	return false
}

func isCapitalized(s string) bool {
	if s == "" {
		return false
	}
	c := rune(s[0])
	return c >= 'A' && c <= 'Z'
}

func hasInteriorUpper(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			return true
		}
	}
	return false
}

func hasDigitAndLetter(s string) bool {
	var digit, letter bool
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			digit = true
		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
			letter = true
		}
	}
	return digit && letter
}
