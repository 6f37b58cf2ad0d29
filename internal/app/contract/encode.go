package contract

import (
	"bytes"
	"encoding/json"

	"github.com/form3tech-oss/pact-verifier/internal/app/matcher"
	"github.com/pkg/errors"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
)

// SpecificationVersion is written to the metadata of encoded documents.
const SpecificationVersion = "2.0.0"

// Encode writes the canonical JSON form of doc: literal examples with a
// sibling matchingRules map keyed by rule path.
func Encode(doc Document) ([]byte, error) {
	if err := doc.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid contract document")
	}

	out := []byte(`{}`)
	var err error
	if out, err = sjson.SetBytes(out, "consumer.name", doc.Consumer); err != nil {
		return nil, errors.Wrap(err, "unable to set consumer")
	}
	if out, err = sjson.SetBytes(out, "provider.name", doc.Provider); err != nil {
		return nil, errors.Wrap(err, "unable to set provider")
	}
	if out, err = sjson.SetRawBytes(out, "interactions", []byte(`[]`)); err != nil {
		return nil, errors.Wrap(err, "unable to set interactions")
	}

	for _, i := range doc.Interactions {
		raw, err := json.Marshal(encodeInteraction(i))
		if err != nil {
			return nil, errors.Wrapf(err, "unable to encode interaction '%s'", i.Description)
		}
		if out, err = sjson.SetRawBytes(out, "interactions.-1", raw); err != nil {
			return nil, errors.Wrapf(err, "unable to append interaction '%s'", i.Description)
		}
	}

	if out, err = sjson.SetBytes(out, "metadata.pactSpecification.version", SpecificationVersion); err != nil {
		return nil, errors.Wrap(err, "unable to set metadata")
	}
	return pretty.Pretty(out), nil
}

func encodeInteraction(i Interaction) ordered {
	out := ordered{{"description", i.Description}}
	if i.ProviderState != "" {
		out = append(out, member{"providerState", i.ProviderState})
	}
	return append(out,
		member{"request", encodeRequest(i.Request)},
		member{"response", encodeResponse(i.Response)},
	)
}

func encodeRequest(r ExpectedRequest) ordered {
	e := &emitter{}
	out := ordered{
		{"method", r.Method},
		{"path", e.emit(r.Path, []segment{field("path")}, false)},
	}
	if r.Query != "" {
		out = append(out, member{"query", r.Query})
	}
	if len(r.Headers) > 0 {
		out = append(out, member{"headers", e.headers(r.Headers)})
	}
	if r.Body != nil {
		out = append(out, member{"body", e.emit(r.Body, []segment{field("body")}, false)})
	}
	if len(e.rules) > 0 {
		out = append(out, member{"matchingRules", e.rules})
	}
	return out
}

func encodeResponse(r ExpectedResponse) ordered {
	e := &emitter{}
	out := ordered{{"status", r.Status}}
	if len(r.Headers) > 0 {
		out = append(out, member{"headers", e.headers(r.Headers)})
	}
	if r.Body != nil {
		out = append(out, member{"body", e.emit(r.Body, []segment{field("body")}, false)})
	}
	if len(e.rules) > 0 {
		out = append(out, member{"matchingRules", e.rules})
	}
	return out
}

// emitter is the inverse of builder: it renders a rule tree as a literal
// example and collects the matching rules the example needs.
type emitter struct {
	rules ordered
}

func (e *emitter) rule(path []segment, def ordered) {
	e.rules = append(e.rules, member{renderPath(path), def})
}

func (e *emitter) headers(headers []Header) ordered {
	out := make(ordered, 0, len(headers))
	for _, h := range headers {
		out = append(out, member{h.Name, e.emit(h.Rule, []segment{field("headers"), field(h.Name)}, false)})
	}
	return out
}

func (e *emitter) emit(rule matcher.Rule, path []segment, cascade bool) interface{} {
	switch r := rule.(type) {
	case matcher.Exact:
		switch r.Value.(type) {
		case map[string]interface{}, []interface{}:
			e.rule(path, ordered{{"match", "equality"}})
		default:
			if cascade {
				e.rule(path, ordered{{"match", "equality"}})
			}
		}
		return r.Value
	case matcher.TypeOf:
		switch r.Kind {
		case matcher.KindInteger:
			e.rule(path, ordered{{"match", "integer"}})
		case matcher.KindNumber:
			e.rule(path, ordered{{"match", "decimal"}})
		default:
			e.rule(path, ordered{{"match", "type"}})
		}
		return matcher.Generate(r)
	case matcher.RegexMatch:
		e.rule(path, ordered{{"match", "regex"}, {"regex", r.Pattern}})
		return r.Example
	case matcher.ArrayMinLike:
		e.rule(path, ordered{{"match", "type"}, {"min", r.Min}})
		element := e.emit(r.Element, child(path, anyElement), true)
		n := r.Min
		if n < 1 {
			n = 1
		}
		items := make([]interface{}, n)
		for i := range items {
			items[i] = element
		}
		return items
	case matcher.ArrayMaxLike:
		e.rule(path, ordered{{"match", "type"}, {"max", r.Max}})
		return []interface{}{e.emit(r.Element, child(path, anyElement), true)}
	case matcher.ObjectLike:
		out := make(ordered, 0, len(r.Fields))
		for _, f := range r.Fields {
			out = append(out, member{f.Name, e.emit(f.Rule, child(path, field(f.Name)), cascade)})
		}
		return out
	}
	return nil
}

type member struct {
	key   string
	value interface{}
}

// ordered is a JSON object that keeps its keys in insertion order.
type ordered []member

func (o ordered) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(m.key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(m.value)
		if err != nil {
			return nil, errors.Wrapf(err, "field %s", m.key)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
