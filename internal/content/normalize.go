package content

import (
	"bytes"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"

	"github.com/postloom/postloom-backend/internal/types"
)

// GeneratedContent is the typed view of a repaired provider document.
type GeneratedContent struct {
	Title           string
	Content         string
	Tags            []string
	Slug            string
	MetaDescription string
	FocusKeyphrase  string
	ImagePrompt     string
}

func FromDocument(doc Document) GeneratedContent {
	gc := GeneratedContent{
		Title:           stringField(doc, "title"),
		Content:         stringField(doc, "content", "body"),
		Slug:            stringField(doc, "slug", "slug_text"),
		MetaDescription: stringField(doc, "meta_description", "metaDescription"),
		FocusKeyphrase:  stringField(doc, "focus_keyphrase", "focusKeyphrase", "keyphrase"),
		ImagePrompt:     stringField(doc, "image_prompt", "imagePrompt"),
	}
	if raw, ok := doc["tags"].([]any); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok && strings.TrimSpace(s) != "" {
				gc.Tags = append(gc.Tags, strings.TrimSpace(s))
			}
		}
	}
	return gc
}

func stringField(doc Document, keys ...string) string {
	for _, k := range keys {
		if v, ok := doc[k]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

var placeholderDomains = []string{
	"example.com",
	"example.org",
	"example.net",
	"yourdomain.com",
	"yourwebsite.com",
	"yoursite.com",
	"placeholder.com",
}

var (
	ldJSONScriptRE = regexp.MustCompile(`(?is)<script[^>]*type=["']application/ld\+json["'][^>]*>.*?</script>`)
	anchorRE       = regexp.MustCompile(`(?is)<a\s+[^>]*href=["']([^"']*)["'][^>]*>(.*?)</a>`)
	hrefAttrRE     = regexp.MustCompile(`(?i)href=["'][^"']*["']`)
	bareURLRE      = regexp.MustCompile(`(?i)\(?\bhttps?://[^\s<>"')]+\)?|\(?\bwww\.[^\s<>"')]+\)?`)
	mdMarkerRE     = regexp.MustCompile(`(?m)^#{1,6}\s|\*\*[^*]+\*\*|^\s*[-*]\s|\[[^\]]+\]\([^)]+\)`)
	htmlTagRE      = regexp.MustCompile(`(?i)<\w+[^>]*>`)
)

var strictPolicy = bluemonday.StrictPolicy()

// Normalize applies the unconditional post-parse cleanup: slug decoding,
// schema-block removal (schema generation is owned downstream, not by the
// model), keyphrase de-emphasis, placeholder and keyword-stuffed link
// removal, then platform-dependent link handling.
func Normalize(gc *GeneratedContent, platform types.Platform) {
	gc.Slug = decodeSlug(gc.Slug)

	body := gc.Content
	if (platform.IsBlog() || platform.IsListicle()) && looksLikeMarkdown(body) {
		body = renderMarkdown(body)
	}

	body = ldJSONScriptRE.ReplaceAllString(body, "")
	body = unwrapKeyphraseEmphasis(body, gc.FocusKeyphrase)
	body = stripLinks(body, func(href, text string) bool {
		return isPlaceholderLink(href) || isKeyphraseAnchor(text, gc.FocusKeyphrase)
	})

	if platform.IsSocial() {
		body = stripAllFormatting(body)
	} else {
		body = stripBareURLs(body)
	}

	gc.Content = strings.TrimSpace(body)
}

// decodeSlug undoes repeated percent-encoding; some models emit slugs that
// were encoded two or three times over.
func decodeSlug(slug string) string {
	slug = strings.TrimSpace(slug)
	for i := 0; i < 3; i++ {
		decoded, err := url.QueryUnescape(slug)
		if err != nil || decoded == slug {
			break
		}
		slug = decoded
	}
	return slug
}

func looksLikeMarkdown(body string) bool {
	if htmlTagRE.MatchString(body) {
		return false
	}
	return mdMarkerRE.MatchString(body)
}

func renderMarkdown(body string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(body), &buf); err != nil {
		return body
	}
	return buf.String()
}

// unwrapKeyphraseEmphasis removes bold/emphasis markup wrapping the focus
// keyphrase; over-emphasized keyphrases read as keyword stuffing.
func unwrapKeyphraseEmphasis(body, keyphrase string) string {
	keyphrase = strings.TrimSpace(keyphrase)
	if keyphrase == "" {
		return body
	}
	quoted := regexp.QuoteMeta(keyphrase)
	for _, tag := range []string{"strong", "b", "em", "i"} {
		re := regexp.MustCompile(`(?i)<` + tag + `[^>]*>\s*(` + quoted + `)\s*</` + tag + `>`)
		body = re.ReplaceAllString(body, "$1")
	}
	boldRE := regexp.MustCompile(`(?i)\*\*\s*(` + quoted + `)\s*\*\*`)
	body = boldRE.ReplaceAllString(body, "$1")
	return body
}

// stripLinks replaces matching anchors with their inner text.
func stripLinks(body string, match func(href, text string) bool) string {
	return anchorRE.ReplaceAllStringFunc(body, func(m string) string {
		sub := anchorRE.FindStringSubmatch(m)
		if sub == nil {
			return m
		}
		href, text := sub[1], sub[2]
		if match(href, text) {
			return text
		}
		return m
	})
}

func isPlaceholderLink(href string) bool {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return true
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	for _, d := range placeholderDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func isKeyphraseAnchor(text, keyphrase string) bool {
	keyphrase = strings.TrimSpace(keyphrase)
	if keyphrase == "" {
		return false
	}
	plain := strings.TrimSpace(stripTags(text))
	return strings.EqualFold(plain, keyphrase)
}

// stripAllFormatting flattens content for social platforms: no hyperlinks,
// no HTML, no bare URLs.
func stripAllFormatting(body string) string {
	body = stripLinks(body, func(string, string) bool { return true })
	body = strictPolicy.Sanitize(body)
	body = html.UnescapeString(body)
	body = bareURLRE.ReplaceAllString(body, "")
	body = regexp.MustCompile(`[ \t]{2,}`).ReplaceAllString(body, " ")
	return body
}

// stripBareURLs removes bare/placeholder URL text while preserving genuine
// hyperlinks: href attributes are substituted with sentinel tokens before the
// URL-stripping regex runs, then restored.
func stripBareURLs(body string) string {
	var hrefs []string
	body = hrefAttrRE.ReplaceAllStringFunc(body, func(m string) string {
		token := fmt.Sprintf("__POSTLOOM_HREF_%d__", len(hrefs))
		hrefs = append(hrefs, m)
		return token
	})

	body = bareURLRE.ReplaceAllString(body, "")

	for i, h := range hrefs {
		body = strings.Replace(body, fmt.Sprintf("__POSTLOOM_HREF_%d__", i), h, 1)
	}
	return body
}
