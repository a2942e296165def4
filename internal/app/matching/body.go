package matching

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/form3tech-oss/pact-verifier/internal/app/matchers"
	"github.com/form3tech-oss/pact-verifier/internal/app/pact"
	"github.com/form3tech-oss/pact-verifier/internal/app/pactpath"
	"github.com/pkg/errors"
)

type bodyKind string

const (
	jsonBody   bodyKind = "json"
	xmlBody    bodyKind = "xml"
	textBody   bodyKind = "text"
	binaryBody bodyKind = "binary"
)

func classify(contentType string) bodyKind {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(contentType)
	}
	switch {
	case pact.IsJSONMediaType(mediaType):
		return jsonBody
	case pact.IsXMLMediaType(mediaType):
		return xmlBody
	case strings.HasPrefix(mediaType, "text/"), mediaType == "application/x-www-form-urlencoded":
		return textBody
	}
	return binaryBody
}

// CompareBody checks an actual body against the expected one. actualContentType is the
// Content-Type header of the actual message and may be empty, in which case it is detected.
func CompareBody(expected pact.Body, actual []byte, actualContentType string, rules *matchers.RuleSet, opts Options) []Mismatch {
	if !expected.Present {
		return nil
	}

	expectedBytes, err := expected.Bytes()
	if err != nil {
		return []Mismatch{Failure(BodyMismatch, "Unable to render the expected body: %v", err)}
	}
	if len(actual) == 0 {
		if len(expectedBytes) == 0 {
			return nil
		}
		return []Mismatch{{
			Kind:     BodyMismatch,
			Path:     pactpath.Root(),
			Expected: string(expectedBytes),
			Message:  fmt.Sprintf("Expected body '%s' but was missing", string(expectedBytes)),
		}}
	}

	if actualContentType == "" {
		actualContentType = matchers.DetectContentType(actual)
	}

	if resolution, ok := rules.Resolve(pactpath.Root()); ok && resolution.Own {
		if r, ok := resolution.Group.Find(func(r matchers.Rule) bool { return r.Kind() == matchers.KindContentType }); ok {
			if f := matchers.Evaluate(r, nil, string(actual), matchers.Context{}); f != nil {
				return []Mismatch{fromFailure(f, pactpath.Root(), expected.ContentType, matchers.DetectContentType(actual), BodyTypeMismatch)}
			}
			return nil
		}
	}

	expectedKind := classify(expected.ContentType)
	actualKind := classify(actualContentType)
	if expectedKind != actualKind {
		return []Mismatch{{
			Kind:     BodyTypeMismatch,
			Path:     pactpath.Root(),
			Expected: expected.ContentType,
			Actual:   actualContentType,
			Message:  fmt.Sprintf("Expected a body of '%s' but the actual content type was '%s'", expected.ContentType, actualContentType),
		}}
	}

	switch expectedKind {
	case jsonBody:
		value, err := decodeJSON(actual)
		if err != nil {
			return []Mismatch{Failure(BodyMismatch, "Failed to parse the actual body: %v", err)}
		}
		return Compare(expected.Value, value, pactpath.Root(), rules, opts)

	case xmlBody:
		want, err := DecodeXML(expectedBytes)
		if err != nil {
			return []Mismatch{Failure(BodyMismatch, "Failed to parse the expected body: %v", err)}
		}
		got, err := DecodeXML(actual)
		if err != nil {
			return []Mismatch{Failure(BodyMismatch, "Failed to parse the actual body: %v", err)}
		}
		return Compare(want, got, pactpath.Root(), rules, opts)

	case textBody:
		return Compare(string(expectedBytes), string(actual), pactpath.Root(), rules, Options{SpecVersion: opts.SpecVersion, Scope: matchers.TextScope})
	}

	if !bytes.Equal(expectedBytes, actual) {
		return []Mismatch{{
			Kind:    BodyMismatch,
			Path:    pactpath.Root(),
			Message: fmt.Sprintf("Expected binary body of %d bytes but received %d different bytes", len(expectedBytes), len(actual)),
		}}
	}
	return nil
}

func decodeJSON(data []byte) (interface{}, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var value interface{}
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if _, err := decoder.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after the JSON document")
	}
	return value, nil
}

// DecodeXML converts a document into the generic tree the comparison walks: the root element is
// the single member of the top-level object, attributes are "@name" members, child elements are
// grouped into arrays by name and character data is kept under "#text".
func DecodeXML(data []byte) (interface{}, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))

	type frame struct {
		name    string
		element map[string]interface{}
		text    strings.Builder
	}
	var stack []*frame
	var root map[string]interface{}

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "invalid XML")
		}

		switch t := token.(type) {
		case xml.StartElement:
			f := &frame{name: t.Name.Local, element: map[string]interface{}{}}
			for _, attr := range t.Attr {
				if attr.Name.Space == "xmlns" || attr.Name.Local == "xmlns" {
					continue
				}
				f.element["@"+attr.Name.Local] = attr.Value
			}
			stack = append(stack, f)

		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}

		case xml.EndElement:
			if len(stack) == 0 {
				return nil, errors.New("invalid XML: unbalanced end element")
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if text := strings.TrimSpace(f.text.String()); text != "" {
				f.element["#text"] = text
			}

			if len(stack) == 0 {
				if root != nil {
					return nil, errors.New("invalid XML: more than one root element")
				}
				root = map[string]interface{}{f.name: f.element}
				continue
			}
			parent := stack[len(stack)-1].element
			siblings, _ := parent[f.name].([]interface{})
			parent[f.name] = append(siblings, f.element)
		}
	}

	if root == nil {
		return nil, errors.New("invalid XML: no root element")
	}
	return root, nil
}
