package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvertEmpty(t *testing.T) {
	assert.Equal(t, "", Convert(""))
	assert.Equal(t, "", Convert("   \n"))
}

func TestConvertHeadings(t *testing.T) {
	out := Convert("# One\n\n## Two\n\n### Three\n\n#### Four\n")
	assert.Contains(t, out, `<h1 class="govuk-heading-xl">One</h1>`)
	assert.Contains(t, out, `<h2 class="govuk-heading-l">Two</h2>`)
	assert.Contains(t, out, `<h3 class="govuk-heading-m">Three</h3>`)
	assert.Contains(t, out, `<h4 class="govuk-heading-s">Four</h4>`)
}

func TestConvertParagraphAndLink(t *testing.T) {
	out := Convert("See [the guidance](https://www.gov.uk/).")
	assert.Contains(t, out, `<p class="govuk-body">`)
	assert.Contains(t, out, `<a href="https://www.gov.uk/" class="govuk-link">the guidance</a>`)
}

func TestConvertLists(t *testing.T) {
	out := Convert("- a\n- b\n\n1. one\n2. two\n")
	assert.Contains(t, out, `<ul class="govuk-list govuk-list--bullet">`)
	assert.Contains(t, out, `<ol class="govuk-list govuk-list--number">`)
	assert.NotContains(t, out, `<li><p`)
}

func TestConvertDropsRawHTML(t *testing.T) {
	out := Convert("<script>alert(1)</script>")
	assert.NotContains(t, out, "<script>")
}
