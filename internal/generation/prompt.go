package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/postloom/postloom-backend/internal/links"
	"github.com/postloom/postloom-backend/internal/types"
)

// brandContext is the immutable snapshot of account data embedded in every
// prompt of a batch.
type brandContext struct {
	Name        string
	About       string
	Tone        string
	Values      []string
	KeyFeatures []string
	Guidelines  string
}

func newBrandContext(account *types.Account) brandContext {
	return brandContext{
		Name:        account.Name,
		About:       account.About,
		Tone:        account.Tone,
		Values:      decodeStringList(account.Values),
		KeyFeatures: decodeStringList(account.KeyFeatures),
		Guidelines:  account.PostGuidelines,
	}
}

func decodeStringList(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func platformInstructions(platform types.Platform) string {
	switch {
	case platform.IsListicle():
		return "Write a listicle: a numbered list where every numbered section " +
			"names a specific real company or product, with <h2> section headings " +
			"like \"1. Company Name\" and a title that states the item count."
	case platform.IsBlog():
		return "Write a long-form blog post in clean HTML. Cite sources with " +
			"real hyperlinks, include concrete statistics and attributed claims."
	default:
		return fmt.Sprintf("Write a short %s post. Plain text only: no HTML, "+
			"no hyperlinks, no markdown.", platform)
	}
}

// buildDraftPrompt assembles the chat prompt for one draft: brand context,
// validated sources and the strict JSON output contract. The external source
// ordering rotates with the draft ordinal so concurrent drafts of one batch
// don't all lead with the same source.
func buildDraftPrompt(brand brandContext, payload *Payload, platform types.Platform, sources *links.Result, ordinal int) string {
	var b strings.Builder

	b.WriteString("You are a marketing content writer for the brand below.\n\n")
	fmt.Fprintf(&b, "Brand: %s\n", brand.Name)
	if brand.About != "" {
		fmt.Fprintf(&b, "About: %s\n", brand.About)
	}
	if brand.Tone != "" {
		fmt.Fprintf(&b, "Tone of voice: %s\n", brand.Tone)
	}
	if len(brand.Values) > 0 {
		fmt.Fprintf(&b, "Values: %s\n", strings.Join(brand.Values, ", "))
	}
	if len(brand.KeyFeatures) > 0 {
		fmt.Fprintf(&b, "Key features: %s\n", strings.Join(brand.KeyFeatures, ", "))
	}
	if brand.Guidelines != "" {
		fmt.Fprintf(&b, "Editorial guidelines: %s\n", brand.Guidelines)
	}

	fmt.Fprintf(&b, "\nTopic: %s\n", payload.Topic)
	if payload.Style != "" {
		fmt.Fprintf(&b, "Style: %s\n", payload.Style)
	}
	if payload.Prompt != "" {
		fmt.Fprintf(&b, "Additional instructions: %s\n", payload.Prompt)
	}
	b.WriteString(platformInstructions(platform))
	b.WriteString("\n")

	if sources != nil && len(sources.All) > 0 {
		b.WriteString("\nUse these verified sources where relevant:\n")
		for _, s := range sources.Internal {
			fmt.Fprintf(&b, "- %s (own site)\n", s.URL)
		}
		for _, s := range rotateSources(sources.External, ordinal) {
			writeSourceLine(&b, s)
		}
	}

	b.WriteString("\nRespond with a single JSON object and nothing else. Keys: " +
		`"title", "content", "tags" (array of strings), "slug", ` +
		`"meta_description", "focus_keyphrase", "image_prompt".`)
	return b.String()
}

func rotateSources(sources []links.Source, ordinal int) []links.Source {
	if len(sources) < 2 || ordinal <= 0 {
		return sources
	}
	offset := ordinal % len(sources)
	out := make([]links.Source, 0, len(sources))
	out = append(out, sources[offset:]...)
	out = append(out, sources[:offset]...)
	return out
}

func writeSourceLine(b *strings.Builder, s links.Source) {
	if s.Title != "" {
		fmt.Fprintf(b, "- %s — %s\n", s.Title, s.URL)
	} else {
		fmt.Fprintf(b, "- %s\n", s.URL)
	}
}

// buildSearchPrompt asks the web-search operation for candidate source URLs
// on a topic, again as strict JSON so the repair layer can parse it.
func buildSearchPrompt(topic string) string {
	return fmt.Sprintf("Find up to 8 authoritative, currently reachable web pages "+
		"about: %s. Respond with a single JSON object and nothing else, shaped as "+
		`{"sources": [{"url": "...", "title": "..."}]}.`, topic)
}

// parseSearchSources pulls candidates out of a repaired web-search document.
func parseSearchSources(doc map[string]any) []links.Candidate {
	raw, ok := doc["sources"].([]any)
	if !ok {
		return nil
	}
	out := make([]links.Candidate, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		c := links.Candidate{}
		if u, ok := m["url"].(string); ok {
			c.URL = strings.TrimSpace(u)
		}
		if t, ok := m["title"].(string); ok {
			c.Title = strings.TrimSpace(t)
		}
		if c.URL != "" {
			out = append(out, c)
		}
	}
	return out
}
