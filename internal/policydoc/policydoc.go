// Package policydoc bridges the YAML wire format (SPEC_FULL.md §3.4) into
// the in-memory types.Document tree. When a well-formed YAML document fails
// to decode into types.Document, the document's root node line/column is
// forwarded into types.ValidationError.Location; a YAML syntax error is
// reported with its message only and no Location.
package policydoc

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/authz-engine/go-core/pkg/types"
)

// Parse decodes a single YAML policy document into a types.Document. It
// does not run internal/policyvalidate's semantic checks — only the
// structural YAML-to-struct decode.
func Parse(yamlText string) (*types.Document, *types.ValidationError) {
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(yamlText), &node); err != nil {
		return nil, &types.ValidationError{
			Code:    types.CodeMissingRequiredField,
			Message: fmt.Sprintf("invalid YAML: %s", err),
		}
	}
	if len(node.Content) == 0 {
		return nil, &types.ValidationError{
			Code:    types.CodeMissingRequiredField,
			Message: "empty document",
		}
	}
	return decodeDocumentNode(node.Content[0])
}

// ParseAll decodes a multi-document YAML stream ("---"-separated), the
// authoring convention for a policy bundle file holding several documents.
func ParseAll(yamlText string) ([]*types.Document, *types.ValidationError) {
	decoder := yaml.NewDecoder(strings.NewReader(yamlText))
	var docs []*types.Document
	for {
		var node yaml.Node
		if err := decoder.Decode(&node); err != nil {
			if err == io.EOF {
				break
			}
			return nil, &types.ValidationError{
				Code:    types.CodeMissingRequiredField,
				Message: fmt.Sprintf("invalid YAML: %s", err),
			}
		}
		if len(node.Content) == 0 {
			continue
		}
		doc, verr := decodeDocumentNode(node.Content[0])
		if verr != nil {
			return nil, verr
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func decodeDocumentNode(node *yaml.Node) (*types.Document, *types.ValidationError) {
	var doc types.Document
	if err := node.Decode(&doc); err != nil {
		return nil, &types.ValidationError{
			Code:     types.CodeMissingRequiredField,
			Message:  fmt.Sprintf("decoding policy document: %s", err),
			Location: &types.Location{Line: node.Line, Column: node.Column},
		}
	}
	return &doc, nil
}
