// Package markdown renders review and condition text to HTML styled with
// GOV.UK Design System classes.
package markdown

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

var headingClasses = map[int]string{
	1: "govuk-heading-xl",
	2: "govuk-heading-l",
	3: "govuk-heading-m",
	4: "govuk-heading-s",
}

// classTransformer tags block and link nodes with their GDS class.
type classTransformer struct{}

func (classTransformer) Transform(doc *ast.Document, _ text.Reader, _ parser.Context) {
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			if class, ok := headingClasses[node.Level]; ok {
				node.SetAttributeString("class", []byte(class))
			}
		case *ast.Paragraph:
			node.SetAttributeString("class", []byte("govuk-body"))
		case *ast.Link:
			node.SetAttributeString("class", []byte("govuk-link"))
		case *ast.List:
			if node.IsOrdered() {
				node.SetAttributeString("class", []byte("govuk-list govuk-list--number"))
			} else {
				node.SetAttributeString("class", []byte("govuk-list govuk-list--bullet"))
			}
		}
		return ast.WalkContinue, nil
	})
}

var md = goldmark.New(
	goldmark.WithParserOptions(
		parser.WithASTTransformers(util.Prioritized(classTransformer{}, 100)),
	),
)

// Convert renders text to HTML. Raw HTML in the input is not passed
// through. Empty input, or input that fails to render, returns "".
func Convert(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return ""
	}
	return buf.String()
}
