package content

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairFencedJSON(t *testing.T) {
	raw := "```json\n{\"title\":\"X\",\"content\":\"Y\"}\n```"

	doc, err := Repair(raw)
	require.NoError(t, err)
	assert.Equal(t, "X", doc["title"])
	assert.Equal(t, "Y", doc["content"])
}

func TestRepairBareFence(t *testing.T) {
	raw := "```\n{\"title\":\"X\"}\n```"

	doc, err := Repair(raw)
	require.NoError(t, err)
	assert.Equal(t, "X", doc["title"])
}

func TestRepairUnescapedInnerQuote(t *testing.T) {
	raw := `{"title":"X says "hi""}`

	doc, err := Repair(raw)
	require.NoError(t, err)
	assert.Equal(t, `X says "hi"`, doc["title"])
}

func TestRepairSurroundingProse(t *testing.T) {
	raw := "Here is the post you asked for:\n{\"title\":\"X\"}\nLet me know if you need changes."

	doc, err := Repair(raw)
	require.NoError(t, err)
	assert.Equal(t, "X", doc["title"])
}

func TestRepairDoubledEscapes(t *testing.T) {
	raw := `{"title":"the \\"best\\" option"}`

	doc, err := Repair(raw)
	require.NoError(t, err)
	assert.Equal(t, `the "best" option`, doc["title"])
}

func TestRepairRawNewlinesInsideStrings(t *testing.T) {
	raw := "{\"content\":\"line one\nline two\tend\"}"

	doc, err := Repair(raw)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\tend", doc["content"])
}

func TestRepairIdempotentOnValidJSON(t *testing.T) {
	inputs := []string{
		`{"title":"plain","tags":["a","b"],"n":3}`,
		`{"content":"already has \"escaped\" quotes and \n escapes"}`,
		`{"nested":{"deep":{"value":true}},"list":[1,2,3]}`,
	}
	for _, in := range inputs {
		first, err := Repair(in)
		require.NoError(t, err, in)

		round, err := json.Marshal(first)
		require.NoError(t, err)

		second, err := Repair(string(round))
		require.NoError(t, err, in)
		assert.Equal(t, first, second, in)
	}
}

func TestRepairFAQContextPatched(t *testing.T) {
	// The truncated @context value carries an invalid escape, so every
	// generic strategy fails and only the field-level patch can recover.
	raw := `{"content":"<p>intro</p><script type=\"application/ld+json\">` +
		`{\"@context\": \"htt\q\", \"@type\": \"FAQPage\", \"mainEntity\": []}` +
		`</script>"}`

	doc, err := Repair(raw)
	require.NoError(t, err)

	content, ok := doc["content"].(string)
	require.True(t, ok)
	assert.Contains(t, content, `"@context": "https://schema.org"`)
}

func TestRepairFAQRebuiltFromMarkup(t *testing.T) {
	// No @type survives in the corrupted block, so field-level patching is
	// impossible and the schema is rebuilt from the visible markup.
	raw := `{"content":"<h3>What is it?</h3><p>A tool.</p>` +
		`<h3>How much?</h3><p>Free.</p>` +
		`<script type=\"application/ld+json\">{\"@context\": \qhttps://truncated</script>"}`

	doc, err := Repair(raw)
	require.NoError(t, err)

	content, ok := doc["content"].(string)
	require.True(t, ok)
	assert.Contains(t, content, "FAQPage")
	assert.Contains(t, content, "What is it?")
	assert.Contains(t, content, "Free.")
}

func TestRepairExhaustedStrategies(t *testing.T) {
	_, err := Repair("no json here at all")
	require.Error(t, err)

	var repairErr *RepairError
	require.ErrorAs(t, err, &repairErr)
	assert.NotEmpty(t, repairErr.Attempts)
}

func TestStripCodeFencesLeavesPlainInputAlone(t *testing.T) {
	in := `{"title":"X"}`
	assert.Equal(t, in, stripCodeFences(in))
}
