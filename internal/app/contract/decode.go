package contract

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/form3tech-oss/pact-verifier/internal/app/matcher"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// ParseError reports a contract document that is malformed or incomplete.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unable to parse contract document, %s: %s", e.Reason, e.Err)
	}
	return "unable to parse contract document, " + e.Reason
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func parseErrorf(format string, args ...interface{}) *ParseError {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}

// Decode loads a contract document. Keys the codec does not know are
// ignored; every failure is a *ParseError.
func Decode(data []byte) (Document, error) {
	if !gjson.ValidBytes(data) {
		return Document{}, parseErrorf("malformed JSON")
	}

	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Document{}, parseErrorf("document is not a JSON object")
	}

	doc := Document{}
	var err error
	if doc.Consumer, err = requiredString(root, "consumer.name"); err != nil {
		return Document{}, err
	}
	if doc.Provider, err = requiredString(root, "provider.name"); err != nil {
		return Document{}, err
	}

	interactions := root.Get("interactions")
	if interactions.Exists() && !interactions.IsArray() {
		return Document{}, parseErrorf("interactions is not an array")
	}

	seen := map[string]bool{}
	for idx, v := range interactions.Array() {
		interaction, err := decodeInteraction(v, idx)
		if err != nil {
			return Document{}, err
		}
		if seen[interaction.Description] {
			return Document{}, parseErrorf("duplicate interaction description '%s'", interaction.Description)
		}
		seen[interaction.Description] = true
		doc.Interactions = append(doc.Interactions, interaction)
	}

	if err := doc.Validate(); err != nil {
		return Document{}, &ParseError{Reason: "invalid document", Err: err}
	}
	return doc, nil
}

func requiredString(obj gjson.Result, path string) (string, error) {
	v := obj.Get(path)
	if v.Type != gjson.String || v.String() == "" {
		return "", parseErrorf("no %s defined", path)
	}
	return v.String(), nil
}

func decodeInteraction(v gjson.Result, idx int) (Interaction, error) {
	if !v.IsObject() {
		return Interaction{}, parseErrorf("interaction %d is not an object", idx)
	}

	description, err := requiredString(v, "description")
	if err != nil {
		return Interaction{}, parseErrorf("interaction %d has no description", idx)
	}

	interaction := Interaction{
		Description:   description,
		ProviderState: v.Get("providerState").String(),
	}
	if states := v.Get("providerStates"); interaction.ProviderState == "" && states.IsArray() {
		interaction.ProviderState = states.Get("0.name").String()
	}

	request := v.Get("request")
	if !request.IsObject() {
		return Interaction{}, parseErrorf("interaction '%s' has no request defined", description)
	}
	response := v.Get("response")
	if !response.IsObject() {
		return Interaction{}, parseErrorf("interaction '%s' has no response defined", description)
	}

	if interaction.Request, err = decodeRequest(request); err != nil {
		return Interaction{}, wrapParseError(err, "interaction '%s' request", description)
	}
	if interaction.Response, err = decodeResponse(response); err != nil {
		return Interaction{}, wrapParseError(err, "interaction '%s' response", description)
	}
	return interaction, nil
}

func wrapParseError(err error, format string, args ...interface{}) error {
	var pe *ParseError
	if errors.As(err, &pe) {
		return &ParseError{Reason: fmt.Sprintf(format, args...) + ": " + pe.Reason, Err: pe.Err}
	}
	return &ParseError{Reason: fmt.Sprintf(format, args...), Err: err}
}

func decodeRequest(req gjson.Result) (ExpectedRequest, error) {
	b, err := newBuilder(req.Get("matchingRules"))
	if err != nil {
		return ExpectedRequest{}, err
	}

	method, err := requiredString(req, "method")
	if err != nil {
		return ExpectedRequest{}, err
	}
	path := req.Get("path")
	if path.Type != gjson.String {
		return ExpectedRequest{}, parseErrorf("no path defined")
	}

	out := ExpectedRequest{Method: strings.ToUpper(method)}
	if out.Path, err = b.build([]segment{field("path")}, path, false); err != nil {
		return ExpectedRequest{}, err
	}

	switch q := req.Get("query"); {
	case !q.Exists():
	case q.Type == gjson.String:
		out.Query = q.String()
	case q.IsObject():
		out.Query = encodeQuery(q)
	default:
		return ExpectedRequest{}, parseErrorf("query is neither a string nor an object")
	}

	if out.Headers, err = b.headers(req.Get("headers")); err != nil {
		return ExpectedRequest{}, err
	}
	if body := req.Get("body"); body.Exists() {
		if out.Body, err = b.build([]segment{field("body")}, body, false); err != nil {
			return ExpectedRequest{}, err
		}
	}

	b.reportUnused(req)
	return out, nil
}

func decodeResponse(res gjson.Result) (ExpectedResponse, error) {
	b, err := newBuilder(res.Get("matchingRules"))
	if err != nil {
		return ExpectedResponse{}, err
	}

	status := res.Get("status")
	if status.Type != gjson.Number {
		return ExpectedResponse{}, parseErrorf("no status defined")
	}
	if status.Num != math.Trunc(status.Num) {
		return ExpectedResponse{}, parseErrorf("status %s is not an integer", status.Raw)
	}

	out := ExpectedResponse{Status: int(status.Int())}
	if out.Headers, err = b.headers(res.Get("headers")); err != nil {
		return ExpectedResponse{}, err
	}
	if body := res.Get("body"); body.Exists() {
		if out.Body, err = b.build([]segment{field("body")}, body, false); err != nil {
			return ExpectedResponse{}, err
		}
	}

	b.reportUnused(res)
	return out, nil
}

func encodeQuery(q gjson.Result) string {
	values := url.Values{}
	q.ForEach(func(k, v gjson.Result) bool {
		if v.IsArray() {
			for _, item := range v.Array() {
				values.Add(k.String(), item.String())
			}
		} else {
			values.Add(k.String(), v.String())
		}
		return true
	})
	return values.Encode()
}

type ruleDef struct {
	path  []segment
	match string
	regex string
	min   *int
	max   *int
}

// builder turns literal examples plus their matchingRules into rule trees.
type builder struct {
	rules map[string]*ruleDef
	order []string
	used  map[string]bool
}

func newBuilder(matchingRules gjson.Result) (*builder, error) {
	b := &builder{rules: map[string]*ruleDef{}, used: map[string]bool{}}
	if !matchingRules.Exists() {
		return b, nil
	}
	if !matchingRules.IsObject() {
		return nil, parseErrorf("matchingRules is not an object")
	}

	var err error
	matchingRules.ForEach(func(k, v gjson.Result) bool {
		key := k.String()
		switch {
		case strings.HasPrefix(key, "$"):
			// v2: "$.body.id": {"match": "type"}
			var path []segment
			if path, err = parsePath(key); err == nil {
				err = b.add(path, v)
			}
		case key == "path":
			err = b.add([]segment{field("path")}, v)
		case key == "body":
			// v3: "body": {"$.id": {"matchers": [...]}}
			if !v.IsObject() {
				err = parseErrorf("body matching rules are not an object")
				break
			}
			v.ForEach(func(sub, def gjson.Result) bool {
				var path []segment
				if path, err = parsePath(sub.String()); err == nil {
					err = b.add(append([]segment{field("body")}, path...), def)
				}
				return err == nil
			})
		case key == "header" || key == "headers":
			if !v.IsObject() {
				err = parseErrorf("header matching rules are not an object")
				break
			}
			v.ForEach(func(name, def gjson.Result) bool {
				err = b.add([]segment{field("headers"), field(strings.TrimPrefix(name.String(), "$."))}, def)
				return err == nil
			})
		case key == "query":
			log.Warn("query matching rules are not supported, matching query strings literally")
		default:
			err = parseErrorf("unrecognized matching rule key %q", key)
		}
		return err == nil
	})
	if err != nil {
		return nil, wrapParseError(err, "invalid matchingRules")
	}
	return b, nil
}

func (b *builder) add(path []segment, v gjson.Result) error {
	if len(path) > 0 && path[0].name == "header" {
		path[0].name = "headers"
	}
	if len(path) > 1 && path[0].name == "headers" {
		path[1].name = strings.ToLower(path[1].name)
	}

	def, err := parseRuleDef(v)
	if err != nil {
		return errors.Wrap(err, renderPath(path))
	}
	def.path = path

	key := renderPath(path)
	if _, exists := b.rules[key]; !exists {
		b.order = append(b.order, key)
	}
	b.rules[key] = def
	return nil
}

func parseRuleDef(v gjson.Result) (*ruleDef, error) {
	if !v.IsObject() {
		return nil, errors.New("matching rule is not an object")
	}
	if matchers := v.Get("matchers"); matchers.Exists() {
		list := matchers.Array()
		if len(list) == 0 {
			return nil, errors.New("empty matchers list")
		}
		if len(list) > 1 {
			log.Warnf("only the first of %d matchers is applied", len(list))
		}
		v = list[0]
	}

	def := &ruleDef{match: v.Get("match").String(), regex: v.Get("regex").String()}
	if min := v.Get("min"); min.Exists() {
		n := int(min.Int())
		def.min = &n
	}
	if max := v.Get("max"); max.Exists() {
		n := int(max.Int())
		def.max = &n
	}

	if def.match == "" {
		switch {
		case v.Get("regex").Exists():
			def.match = "regex"
		case def.min != nil || def.max != nil:
			def.match = "type"
		default:
			return nil, errors.New("matching rule has no match type")
		}
	}

	switch def.match {
	case "equality", "type", "integer", "decimal", "number", "boolean", "null":
	case "regex":
		if def.regex == "" {
			return nil, errors.New("regex rule has no pattern")
		}
	default:
		return nil, errors.Errorf("unrecognized matcher rule %q", def.match)
	}
	return def, nil
}

func (b *builder) headers(h gjson.Result) ([]Header, error) {
	if !h.Exists() {
		return nil, nil
	}
	if !h.IsObject() {
		return nil, parseErrorf("headers is not an object")
	}

	var headers []Header
	var err error
	h.ForEach(func(name, value gjson.Result) bool {
		if value.Type != gjson.String {
			err = parseErrorf("header %s is not a string", name.String())
			return false
		}
		var rule matcher.Rule
		rule, err = b.build([]segment{field("headers"), field(strings.ToLower(name.String()))}, value, false)
		headers = append(headers, Header{Name: name.String(), Rule: rule})
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return headers, nil
}

// build derives the rule for the literal at path. A "type" rule cascades:
// unannotated values below it are matched by type instead of equality.
func (b *builder) build(path []segment, lit gjson.Result, cascade bool) (matcher.Rule, error) {
	key := renderPath(path)
	if def, ok := b.rules[key]; ok {
		b.used[key] = true
		return b.apply(def, path, lit)
	}

	switch {
	case lit.IsObject():
		return b.object(path, lit, cascade)
	case cascade:
		return b.cascade(path, lit)
	case lit.IsArray() && len(lit.Array()) > 0 && b.rulesUnder(child(path, anyElement)):
		return b.elements(path, lit)
	}

	v, err := value(lit)
	if err != nil {
		return nil, err
	}
	return matcher.Exact{Value: v}, nil
}

func (b *builder) apply(def *ruleDef, path []segment, lit gjson.Result) (matcher.Rule, error) {
	switch def.match {
	case "equality":
		v, err := value(lit)
		if err != nil {
			return nil, err
		}
		return matcher.Exact{Value: v}, nil
	case "regex":
		if lit.Type != gjson.String {
			return nil, parseErrorf("regex rule at %s applies to a non-string example", renderPath(path))
		}
		rule := matcher.Regex(def.regex, lit.String())
		if err := matcher.Validate(rule); err != nil {
			return nil, &ParseError{Reason: "rule at " + renderPath(path), Err: err}
		}
		return rule, nil
	case "type":
		if def.min != nil || def.max != nil {
			return b.array(def, path, lit)
		}
		return b.cascade(path, lit)
	case "integer":
		return typed(matcher.KindInteger, path, lit)
	case "decimal", "number":
		return typed(matcher.KindNumber, path, lit)
	case "boolean":
		return typed(matcher.KindBoolean, path, lit)
	case "null":
		return typed(matcher.KindNull, path, lit)
	}
	return nil, parseErrorf("unrecognized matcher rule %q at %s", def.match, renderPath(path))
}

func (b *builder) cascade(path []segment, lit gjson.Result) (matcher.Rule, error) {
	switch {
	case lit.IsObject():
		return b.object(path, lit, true)
	case lit.IsArray():
		items := lit.Array()
		if len(items) == 0 {
			return matcher.Exact{Value: []interface{}{}}, nil
		}
		element, err := b.build(child(path, anyElement), items[0], true)
		if err != nil {
			return nil, err
		}
		return matcher.MinLike(0, element), nil
	}

	v, err := value(lit)
	if err != nil {
		return nil, err
	}
	return typed(matcher.KindOf(v), path, lit)
}

// rulesUnder reports whether a matching rule addresses path or anything
// below it.
func (b *builder) rulesUnder(path []segment) bool {
	prefix := renderPath(path)
	for key := range b.rules {
		if key == prefix || strings.HasPrefix(key, prefix+".") || strings.HasPrefix(key, prefix+"[") {
			return true
		}
	}
	return false
}

// elements handles a literal array without a rule of its own whose elements
// carry rules: the first element describes every element and the example
// length is the minimum.
func (b *builder) elements(path []segment, lit gjson.Result) (matcher.Rule, error) {
	items := lit.Array()
	element, err := b.build(child(path, anyElement), items[0], false)
	if err != nil {
		return nil, err
	}
	return matcher.MinLike(len(items), element), nil
}

func (b *builder) array(def *ruleDef, path []segment, lit gjson.Result) (matcher.Rule, error) {
	if def.min != nil && def.max != nil {
		return nil, parseErrorf("combined min and max bounds at %s are not supported", renderPath(path))
	}
	items := lit.Array()
	if !lit.IsArray() || len(items) == 0 {
		return nil, parseErrorf("array rule at %s needs a non-empty example array", renderPath(path))
	}

	element, err := b.build(child(path, anyElement), items[0], true)
	if err != nil {
		return nil, err
	}
	if def.min != nil {
		if *def.min < 0 {
			return nil, parseErrorf("negative min at %s", renderPath(path))
		}
		return matcher.MinLike(*def.min, element), nil
	}
	if *def.max < 0 {
		return nil, parseErrorf("negative max at %s", renderPath(path))
	}
	return matcher.MaxLike(*def.max, element), nil
}

func (b *builder) object(path []segment, lit gjson.Result, cascade bool) (matcher.Rule, error) {
	var fields []matcher.Field
	var err error
	lit.ForEach(func(k, v gjson.Result) bool {
		var rule matcher.Rule
		rule, err = b.build(child(path, field(k.String())), v, cascade)
		fields = append(fields, matcher.Key(k.String(), rule))
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return matcher.ObjectLike{Fields: fields}, nil
}

func typed(kind matcher.Kind, path []segment, lit gjson.Result) (matcher.Rule, error) {
	v, err := value(lit)
	if err != nil {
		return nil, err
	}
	rule := matcher.TypeOf{Kind: kind, Example: v}
	if matcher.DeepEqual(v, matcher.Sample(kind)) {
		rule.Example = nil
	}
	if err := matcher.Validate(rule); err != nil {
		return nil, &ParseError{Reason: "rule at " + renderPath(path), Err: err}
	}
	return rule, nil
}

func value(lit gjson.Result) (interface{}, error) {
	v, err := matcher.Decode([]byte(lit.Raw))
	if err != nil {
		return nil, &ParseError{Reason: "invalid literal", Err: err}
	}
	return v, nil
}

// reportUnused logs matching rules that did not attach to any part of the
// rule tree, telling apart paths that address nothing in the example.
func (b *builder) reportUnused(section gjson.Result) {
	var example map[string]interface{}
	for _, key := range b.order {
		if b.used[key] {
			continue
		}
		if example == nil {
			example = exampleDocument(section)
		}

		expr := jsonPathExpression(b.rules[key].path)
		if _, err := jsonpath.Get(expr, example); err != nil {
			log.Warnf("matching rule '%s' does not address any value in the example, ignoring", key)
			continue
		}
		log.Warnf("matching rule '%s' is not supported at that position, ignoring", key)
	}
}

func exampleDocument(section gjson.Result) map[string]interface{} {
	doc := map[string]interface{}{}
	if err := json.Unmarshal([]byte(section.Raw), &doc); err != nil {
		return doc
	}
	if headers, ok := doc["headers"].(map[string]interface{}); ok {
		lower := make(map[string]interface{}, len(headers))
		for name, v := range headers {
			lower[strings.ToLower(name)] = v
		}
		doc["headers"] = lower
	}
	return doc
}
