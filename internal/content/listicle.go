package content

import (
	"regexp"
	"strconv"
	"strings"
)

var headingNumberRE = regexp.MustCompile(`(?is)(<h[23][^>]*>\s*)(\d+)([.)]?\s*)`)
var titleNumberRE = regexp.MustCompile(`\d+`)

// RepairListicle drops the invalid numbered sections from the body, renumbers
// the survivors sequentially and rewrites any numeral in the title to the new
// section count. It returns ok=false when the repair is impossible: nothing
// to drop, no sections recognized, or no sections left after dropping.
func RepairListicle(title, body string, invalid []int) (string, string, bool) {
	if len(invalid) == 0 {
		return title, body, false
	}
	sections := parseListicleSections(body)
	if len(sections) == 0 || len(invalid) >= len(sections) {
		return title, body, false
	}

	drop := make(map[int]bool, len(invalid))
	for _, n := range invalid {
		drop[n] = true
	}

	var out strings.Builder
	out.WriteString(body[:sectionHeadingRE.FindStringIndex(body)[0]])

	next := 1
	for _, sec := range sections {
		if drop[sec.Number] {
			continue
		}
		renumbered := headingNumberRE.ReplaceAllStringFunc(sec.Raw, func(m string) string {
			sub := headingNumberRE.FindStringSubmatch(m)
			return sub[1] + strconv.Itoa(next) + sub[3]
		})
		out.WriteString(renumbered)
		next++
	}

	kept := next - 1
	newTitle := titleNumberRE.ReplaceAllStringFunc(title, func(m string) string {
		if n, err := strconv.Atoi(m); err == nil && n == len(sections) {
			return strconv.Itoa(kept)
		}
		return m
	})

	return newTitle, out.String(), true
}
