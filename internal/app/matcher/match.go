package matcher

import (
	"fmt"
	"strings"
)

// Mismatch is one reason an actual value does not satisfy a rule.
type Mismatch struct {
	Path     string      `json:"path" yaml:"path"`
	Expected string      `json:"expected" yaml:"expected"`
	Actual   interface{} `json:"actual" yaml:"actual"`
	Missing  bool        `json:"missing,omitempty" yaml:"missing,omitempty"`
}

func (m Mismatch) String() string {
	path := m.Path
	if path == "" {
		path = "/"
	}
	if m.Missing {
		return fmt.Sprintf("%s: expected %s, but the field is missing", path, m.Expected)
	}
	return fmt.Sprintf("%s: expected %s, got %s", path, m.Expected, compact(m.Actual))
}

// Match evaluates rule against actual. A nil result means the value matches.
// Paths in the result are relative to actual.
func Match(rule Rule, actual interface{}) []Mismatch {
	return MatchAt(rule, actual, "")
}

// MatchAt is Match with every mismatch path prefixed by path.
func MatchAt(rule Rule, actual interface{}, path string) []Mismatch {
	var m matching
	m.match(rule, actual, path)
	return m.mismatches
}

type matching struct {
	mismatches []Mismatch
}

func (m *matching) fail(path string, rule Rule, actual interface{}) {
	m.mismatches = append(m.mismatches, Mismatch{
		Path:     path,
		Expected: Describe(rule),
		Actual:   actual,
	})
}

func (m *matching) match(rule Rule, actual interface{}, path string) {
	switch r := rule.(type) {
	case nil:
		return
	case Exact:
		if !DeepEqual(r.Value, actual) {
			m.fail(path, r, actual)
		}
	case TypeOf:
		if !r.Kind.accepts(KindOf(actual)) {
			m.fail(path, r, actual)
		}
	case RegexMatch:
		s, ok := actual.(string)
		if !ok {
			m.fail(path, r, actual)
			return
		}
		re, err := compile(r.Pattern)
		if err != nil {
			m.mismatches = append(m.mismatches, Mismatch{
				Path:     path,
				Expected: fmt.Sprintf("a string matching invalid pattern /%s/", r.Pattern),
				Actual:   actual,
			})
			return
		}
		if !re.MatchString(s) {
			m.fail(path, r, actual)
		}
	case ArrayMinLike:
		items, ok := actual.([]interface{})
		if !ok {
			m.fail(path, r, actual)
			return
		}
		if len(items) < r.Min {
			m.mismatches = append(m.mismatches, Mismatch{
				Path:     path,
				Expected: fmt.Sprintf("an array of length at least %d", r.Min),
				Actual:   len(items),
			})
		}
		m.each(r.Element, items, path)
	case ArrayMaxLike:
		items, ok := actual.([]interface{})
		if !ok {
			m.fail(path, r, actual)
			return
		}
		if len(items) > r.Max {
			m.mismatches = append(m.mismatches, Mismatch{
				Path:     path,
				Expected: fmt.Sprintf("an array of length at most %d", r.Max),
				Actual:   len(items),
			})
		}
		m.each(r.Element, items, path)
	case ObjectLike:
		obj, ok := actual.(map[string]interface{})
		if !ok {
			m.fail(path, r, actual)
			return
		}
		for _, f := range r.Fields {
			fieldPath := path + "/" + escapeToken(f.Name)
			value, present := obj[f.Name]
			if !present {
				m.mismatches = append(m.mismatches, Mismatch{
					Path:     fieldPath,
					Expected: Describe(f.Rule),
					Missing:  true,
				})
				continue
			}
			m.match(f.Rule, value, fieldPath)
		}
	default:
		m.mismatches = append(m.mismatches, Mismatch{
			Path:     path,
			Expected: fmt.Sprintf("a supported rule, found %T", rule),
			Actual:   actual,
		})
	}
}

func (m *matching) each(rule Rule, items []interface{}, path string) {
	for i, item := range items {
		m.match(rule, item, fmt.Sprintf("%s[%d]", path, i))
	}
}

var tokenEscaper = strings.NewReplacer("~", "~0", "/", "~1")

func escapeToken(name string) string {
	return tokenEscaper.Replace(name)
}
