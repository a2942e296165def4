package pact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/url"
	"sort"
	"strings"

	"github.com/form3tech-oss/pact-verifier/internal/app/matchers"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ParseError reports a malformed contract. Interaction is empty when the problem is not specific
// to one interaction.
type ParseError struct {
	Source      string
	Interaction string
	Err         error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString("unable to parse pact")
	if e.Source != "" {
		b.WriteString(" " + e.Source)
	}
	if e.Interaction != "" {
		b.WriteString(fmt.Sprintf(", interaction '%s'", e.Interaction))
	}
	b.WriteString(": " + e.Err.Error())
	return b.String()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Cause() error {
	return e.Err
}

// Load parses a pact document. source is only used in error messages.
func Load(data []byte, source string) (*Pact, error) {
	definition, err := decode(data)
	if err != nil {
		return nil, &ParseError{Source: source, Err: errors.Wrap(err, "invalid JSON")}
	}
	p, err := fromDefinition(definition)
	if err != nil {
		var parseErr *ParseError
		if errors.As(err, &parseErr) {
			parseErr.Source = source
			return nil, parseErr
		}
		return nil, &ParseError{Source: source, Err: err}
	}
	p.Source = source
	return p, nil
}

func decode(data []byte) (map[string]interface{}, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	definition := make(map[string]interface{})
	if err := decoder.Decode(&definition); err != nil {
		return nil, err
	}
	return definition, nil
}

func fromDefinition(definition map[string]interface{}) (*Pact, error) {
	consumer, err := pacticipant(definition, "consumer")
	if err != nil {
		return nil, err
	}
	provider, err := pacticipant(definition, "provider")
	if err != nil {
		return nil, err
	}

	p := &Pact{Consumer: consumer, Provider: provider}
	if metadata, ok := definition["metadata"].(map[string]interface{}); ok {
		p.Metadata = metadata
		p.Version, err = specVersion(metadata)
		if err != nil {
			return nil, errors.Wrap(err, "invalid pact specification version")
		}
	}

	raw, ok := definition["interactions"]
	if !ok {
		return nil, errors.New("no interactions defined")
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, errors.New("interactions must be a list")
	}

	for n, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, &ParseError{Interaction: fmt.Sprint(n), Err: errors.New("interaction is not an object")}
		}
		if kind, ok := m["type"].(string); ok && kind != "Synchronous/HTTP" {
			log.Warnf("skipping interaction %d of type '%s', only HTTP interactions can be verified", n, kind)
			continue
		}
		interaction, err := loadInteraction(m, p.Version)
		if err != nil {
			name, _ := m["description"].(string)
			if name == "" {
				name = fmt.Sprint(n)
			}
			return nil, &ParseError{Interaction: name, Err: err}
		}
		p.Interactions = append(p.Interactions, interaction)
	}
	return p, nil
}

func pacticipant(definition map[string]interface{}, name string) (Pacticipant, error) {
	m, ok := definition[name].(map[string]interface{})
	if !ok {
		return Pacticipant{}, errors.Errorf("no %s defined", name)
	}
	n, ok := m["name"].(string)
	if !ok || n == "" {
		return Pacticipant{}, errors.Errorf("no %s name defined", name)
	}
	return Pacticipant{Name: n}, nil
}

// specVersion reads the version from any of the metadata layouts used over time.
func specVersion(metadata map[string]interface{}) (SpecVersion, error) {
	for _, key := range []string{"pactSpecification", "pact-specification"} {
		if section, ok := metadata[key].(map[string]interface{}); ok {
			if v, ok := section["version"].(string); ok {
				return ParseSpecVersion(v)
			}
		}
	}
	if v, ok := metadata["pactSpecificationVersion"].(string); ok {
		return ParseSpecVersion(v)
	}
	return SpecVersion{}, nil
}

func loadInteraction(definition map[string]interface{}, v SpecVersion) (*Interaction, error) {
	description, ok := definition["description"].(string)
	if !ok {
		return nil, errors.New("no description defined")
	}

	request, ok := definition["request"].(map[string]interface{})
	if !ok {
		return nil, errors.New("no request defined")
	}
	response, ok := definition["response"].(map[string]interface{})
	if !ok {
		return nil, errors.New("no response defined")
	}

	interaction := &Interaction{
		Description: description,
		SpecVersion: v,
	}
	if id, ok := definition["_id"].(string); ok {
		interaction.ID = id
	} else if key, ok := definition["key"].(string); ok {
		interaction.ID = key
	}
	if pending, ok := definition["pending"].(bool); ok {
		interaction.Pending = pending
	}

	var err error
	if interaction.ProviderStates, err = providerStates(definition); err != nil {
		return nil, err
	}
	if interaction.Request, err = requestPattern(request, v); err != nil {
		return nil, errors.Wrap(err, "request")
	}
	if interaction.Response, err = responsePattern(response, v); err != nil {
		return nil, errors.Wrap(err, "response")
	}
	return interaction, nil
}

func providerStates(definition map[string]interface{}) ([]ProviderState, error) {
	if name, ok := definition["providerState"].(string); ok && name != "" {
		return []ProviderState{{Name: name}}, nil
	}

	raw, ok := definition["providerStates"]
	if !ok {
		raw, ok = definition["provider_states"]
	}
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, errors.New("provider states must be a list")
	}

	states := make([]ProviderState, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, errors.New("provider state is not an object")
		}
		name, ok := m["name"].(string)
		if !ok {
			return nil, errors.New("provider state has no name")
		}
		state := ProviderState{Name: name}
		if params, ok := m["params"].(map[string]interface{}); ok {
			state.Params = params
		}
		states = append(states, state)
	}
	return states, nil
}

func requestPattern(request map[string]interface{}, v SpecVersion) (RequestPattern, error) {
	method, ok := request["method"].(string)
	if !ok {
		return RequestPattern{}, errors.New("no method defined")
	}
	path, ok := request["path"].(string)
	if !ok {
		path = "/"
	}

	headers, err := parseHeaders(request)
	if err != nil {
		return RequestPattern{}, err
	}
	query, err := parseQuery(request)
	if err != nil {
		return RequestPattern{}, err
	}
	body, err := parseBody(request, headers, v)
	if err != nil {
		return RequestPattern{}, err
	}
	rules, err := parseMatchingRules(request, v)
	if err != nil {
		return RequestPattern{}, err
	}
	generators, err := parseGenerators(request)
	if err != nil {
		return RequestPattern{}, err
	}

	return RequestPattern{
		Method:        strings.ToUpper(method),
		Path:          path,
		Query:         query,
		Headers:       headers,
		Body:          body,
		MatchingRules: rules,
		Generators:    generators,
	}, nil
}

func responsePattern(response map[string]interface{}, v SpecVersion) (ResponsePattern, error) {
	status := 200
	if raw, ok := response["status"]; ok {
		f, ok := matchers.Float(raw)
		if !ok {
			return ResponsePattern{}, errors.Errorf("invalid status '%v'", raw)
		}
		status = int(f)
	}

	headers, err := parseHeaders(response)
	if err != nil {
		return ResponsePattern{}, err
	}
	body, err := parseBody(response, headers, v)
	if err != nil {
		return ResponsePattern{}, err
	}
	rules, err := parseMatchingRules(response, v)
	if err != nil {
		return ResponsePattern{}, err
	}
	generators, err := parseGenerators(response)
	if err != nil {
		return ResponsePattern{}, err
	}

	return ResponsePattern{
		Status:        status,
		Headers:       headers,
		Body:          body,
		MatchingRules: rules,
		Generators:    generators,
	}, nil
}

func parseHeaders(section map[string]interface{}) (Headers, error) {
	raw, ok := section["headers"]
	if !ok || raw == nil {
		return Headers{}, nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errors.New("incorrect format of headers")
	}

	headers := Headers{}
	for name, value := range m {
		switch v := value.(type) {
		case string:
			headers[name] = []string{v}
		case []interface{}:
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, errors.Errorf("incorrect format of header '%s'", name)
				}
				headers[name] = append(headers[name], s)
			}
		default:
			return nil, errors.Errorf("incorrect format of header '%s'", name)
		}
	}
	return headers, nil
}

// parseQuery accepts the query string of V1/V2 pacts and the parameter map of later versions.
func parseQuery(request map[string]interface{}) (url.Values, error) {
	raw, ok := request["query"]
	if !ok || raw == nil {
		return url.Values{}, nil
	}

	switch q := raw.(type) {
	case string:
		values, err := url.ParseQuery(q)
		if err != nil {
			return nil, errors.Wrap(err, "invalid query string")
		}
		return values, nil
	case map[string]interface{}:
		values := url.Values{}
		for name, value := range q {
			switch v := value.(type) {
			case string:
				values.Add(name, v)
			case []interface{}:
				for _, item := range v {
					values.Add(name, matchers.Text(item))
				}
			default:
				values.Add(name, matchers.Text(v))
			}
		}
		return values, nil
	}
	return nil, errors.New("incorrect format of query")
}

func parseBody(section map[string]interface{}, headers Headers, v SpecVersion) (Body, error) {
	raw, ok := section["body"]
	if !ok {
		return Body{}, nil
	}

	body := Body{Present: true, Value: raw}
	if values, ok := headers.Get("Content-Type"); ok && len(values) > 0 {
		body.ContentType = values[0]
		if _, _, err := mime.ParseMediaType(body.ContentType); err != nil {
			return Body{}, errors.Wrap(err, "unable to parse media type")
		}
	}

	// V4 bodies wrap the content
	if m, ok := raw.(map[string]interface{}); ok && v.Major() >= 4 && isV4Body(m) {
		body.Value = m["content"]
		if ct, ok := m["contentType"].(string); ok && body.ContentType == "" {
			body.ContentType = ct
		}
		encoded := m["encoded"]
		if enc, ok := encoded.(string); ok && strings.EqualFold(enc, "base64") {
			s, ok := body.Value.(string)
			if !ok {
				return Body{}, errors.New("base64 encoded body content is not a string")
			}
			decoded, err := decodeBase64(s)
			if err != nil {
				return Body{}, errors.Wrap(err, "invalid base64 body")
			}
			body.Value = decoded
		}
		if enc, ok := encoded.(string); ok && strings.EqualFold(enc, "json") {
			if s, ok := body.Value.(string); ok {
				value, err := decodeValue([]byte(s))
				if err != nil {
					return Body{}, errors.Wrap(err, "invalid JSON body")
				}
				body.Value = value
			}
		}
	}

	if body.ContentType == "" {
		if s, ok := body.Value.(string); ok {
			body.ContentType = matchers.DetectContentType([]byte(s))
		} else {
			body.ContentType = MediaTypeJSON
		}
	}

	if body.IsJSON() {
		// documents embedded as strings by older consumers
		if s, ok := body.Value.(string); ok && matchers.DetectContentType([]byte(s)) == MediaTypeJSON {
			value, err := decodeValue([]byte(s))
			if err != nil {
				return Body{}, errors.Wrap(err, "invalid JSON body")
			}
			body.Value = value
		}
		return body, nil
	}
	if _, ok := body.Value.(string); !ok && body.Value != nil {
		return Body{}, fmt.Errorf("media type is %s but body is not text", body.MediaType())
	}
	return body, nil
}

func isV4Body(m map[string]interface{}) bool {
	if _, ok := m["content"]; !ok {
		return false
	}
	for k := range m {
		switch k {
		case "content", "contentType", "encoded", "contentTypeHint":
		default:
			return false
		}
	}
	return true
}

func decodeValue(data []byte) (interface{}, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var value interface{}
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}

func parseMatchingRules(section map[string]interface{}, v SpecVersion) (matchers.MatchingRules, error) {
	raw, ok := section["matchingRules"]
	if !ok || raw == nil {
		return matchers.MatchingRules{}, nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errors.New("matchingRules must be an object")
	}
	if v.Major() < 3 {
		return matchers.ParseV2(m)
	}
	return matchers.ParseV3(m)
}

func parseGenerators(section map[string]interface{}) (Generators, error) {
	raw, ok := section["generators"]
	if !ok || raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errors.New("generators must be an object")
	}

	generators := Generators{}
	for _, category := range sortedKeys(m) {
		section, ok := m[category].(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("generators for '%s' are not an object", category)
		}
		switch category {
		case "path", "status":
			g, err := generator(section)
			if err != nil {
				return nil, errors.Wrap(err, category)
			}
			generators[category] = map[string]Generator{"": g}
		case "body", "header", "headers", "query":
			if category == "headers" {
				category = "header"
			}
			entries := map[string]Generator{}
			for key, value := range section {
				def, ok := value.(map[string]interface{})
				if !ok {
					return nil, errors.Errorf("generator '%s' is not an object", key)
				}
				g, err := generator(def)
				if err != nil {
					return nil, errors.Wrapf(err, "generator '%s'", key)
				}
				entries[key] = g
			}
			generators[category] = entries
		default:
			log.Warnf("ignoring generators for unsupported category '%s'", category)
		}
	}
	return generators, nil
}

func generator(definition map[string]interface{}) (Generator, error) {
	kind, ok := definition["type"].(string)
	if !ok {
		return Generator{}, errors.New("generator has no type")
	}
	attributes := map[string]interface{}{}
	for k, v := range definition {
		if k != "type" {
			attributes[k] = v
		}
	}
	return Generator{Type: kind, Attributes: attributes}, nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
