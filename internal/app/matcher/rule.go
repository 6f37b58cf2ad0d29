// Package matcher evaluates actual JSON values against declarative matching
// rules. Values are expected in the shape produced by encoding/json with
// UseNumber: map[string]interface{}, []interface{}, json.Number, string,
// bool and nil.
package matcher

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	"github.com/pkg/errors"
)

// Kind is the JSON type tag of a value.
type Kind string

const (
	KindString  Kind = "string"
	KindInteger Kind = "integer"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindNull    Kind = "null"
	KindArray   Kind = "array"
	KindObject  Kind = "object"
)

// Scalar reports whether k may be declared in a TypeOf rule.
func (k Kind) Scalar() bool {
	switch k {
	case KindString, KindInteger, KindNumber, KindBoolean, KindNull:
		return true
	}
	return false
}

func (k Kind) accepts(actual Kind) bool {
	if k == KindNumber {
		return actual == KindNumber || actual == KindInteger
	}
	return k == actual
}

// Rule is one node of a matching rule tree. The set of implementations is
// closed: Exact, TypeOf, RegexMatch, ArrayMinLike, ArrayMaxLike and ObjectLike.
type Rule interface {
	isRule()
}

// Exact requires deep JSON equality with Value.
type Exact struct {
	Value interface{}
}

// TypeOf requires the actual value to have the JSON type Kind. Example is
// only used when generating a value; nil means the default sample for Kind.
type TypeOf struct {
	Kind    Kind
	Example interface{}
}

// RegexMatch requires a string fully matching Pattern.
type RegexMatch struct {
	Pattern string
	Example string
}

// ArrayMinLike requires an array of at least Min elements, each matching Element.
type ArrayMinLike struct {
	Min     int
	Element Rule
}

// ArrayMaxLike requires an array of at most Max elements, each matching Element.
type ArrayMaxLike struct {
	Max     int
	Element Rule
}

// ObjectLike requires an object holding every declared field. Undeclared
// fields of the actual object are ignored.
type ObjectLike struct {
	Fields []Field
}

// Field is a named rule inside an ObjectLike. Declaration order is kept and
// drives mismatch ordering.
type Field struct {
	Name string
	Rule Rule
}

func (Exact) isRule()        {}
func (TypeOf) isRule()       {}
func (RegexMatch) isRule()   {}
func (ArrayMinLike) isRule() {}
func (ArrayMaxLike) isRule() {}
func (ObjectLike) isRule()   {}

func Equal(v interface{}) Exact {
	return Exact{Value: Normalize(v)}
}

func Type(kind Kind) TypeOf {
	return TypeOf{Kind: kind}
}

// Like builds a TypeOf rule from an example value.
func Like(example interface{}) TypeOf {
	example = Normalize(example)
	return TypeOf{Kind: KindOf(example), Example: example}
}

func Regex(pattern, example string) RegexMatch {
	return RegexMatch{Pattern: pattern, Example: example}
}

func MinLike(min int, element Rule) ArrayMinLike {
	return ArrayMinLike{Min: min, Element: element}
}

func MaxLike(max int, element Rule) ArrayMaxLike {
	return ArrayMaxLike{Max: max, Element: element}
}

func Object(fields ...Field) ObjectLike {
	return ObjectLike{Fields: fields}
}

func Key(name string, rule Rule) Field {
	return Field{Name: name, Rule: rule}
}

// Lookup returns the rule declared for name.
func (o ObjectLike) Lookup(name string) (Rule, bool) {
	for _, f := range o.Fields {
		if f.Name == name {
			return f.Rule, true
		}
	}
	return nil, false
}

// Validate checks that a rule tree is well formed: bounds are not negative,
// element rules are present, patterns compile, TypeOf kinds are scalar and
// object fields are unique.
func Validate(rule Rule) error {
	switch r := rule.(type) {
	case nil:
		return errors.New("missing rule")
	case Exact:
		return nil
	case TypeOf:
		if !r.Kind.Scalar() {
			return errors.Errorf("unsupported type %q", r.Kind)
		}
		if r.Example != nil && !r.Kind.accepts(KindOf(r.Example)) {
			return errors.Errorf("example %s is not of type %s", compact(r.Example), r.Kind)
		}
		return nil
	case RegexMatch:
		if _, err := compile(r.Pattern); err != nil {
			return errors.Wrapf(err, "invalid regex %q", r.Pattern)
		}
		return nil
	case ArrayMinLike:
		if r.Min < 0 {
			return errors.Errorf("negative minimum %d", r.Min)
		}
		return errors.Wrap(Validate(r.Element), "array element")
	case ArrayMaxLike:
		if r.Max < 0 {
			return errors.Errorf("negative maximum %d", r.Max)
		}
		return errors.Wrap(Validate(r.Element), "array element")
	case ObjectLike:
		seen := make(map[string]bool, len(r.Fields))
		for _, f := range r.Fields {
			if seen[f.Name] {
				return errors.Errorf("duplicate field %q", f.Name)
			}
			seen[f.Name] = true
			if err := Validate(f.Rule); err != nil {
				return errors.Wrapf(err, "field %q", f.Name)
			}
		}
		return nil
	}
	return errors.Errorf("unknown rule %T", rule)
}

// Describe renders what a rule expects, for mismatch reports.
func Describe(rule Rule) string {
	switch r := rule.(type) {
	case Exact:
		return "equal to " + compact(r.Value)
	case TypeOf:
		return fmt.Sprintf("a value of type %s", r.Kind)
	case RegexMatch:
		return fmt.Sprintf("a string matching /%s/", r.Pattern)
	case ArrayMinLike:
		return fmt.Sprintf("an array with at least %d element(s)", r.Min)
	case ArrayMaxLike:
		return fmt.Sprintf("an array with at most %d element(s)", r.Max)
	case ObjectLike:
		return "an object"
	}
	return "anything"
}

func compact(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

var (
	patternsMu sync.RWMutex
	patterns   = map[string]*regexp.Regexp{}
)

func compile(pattern string) (*regexp.Regexp, error) {
	patternsMu.RLock()
	re, ok := patterns[pattern]
	patternsMu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, err
	}

	patternsMu.Lock()
	patterns[pattern] = re
	patternsMu.Unlock()
	return re, nil
}
