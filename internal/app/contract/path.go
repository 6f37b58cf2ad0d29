package contract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// segment is one step of a matching rule path such as $.body.items[*].id.
type segment struct {
	name     string
	index    int
	isIndex  bool
	wildcard bool
}

func field(name string) segment {
	return segment{name: name}
}

var anyElement = segment{wildcard: true}

func child(path []segment, s segment) []segment {
	out := make([]segment, len(path), len(path)+1)
	copy(out, path)
	return append(out, s)
}

var (
	plainName  = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)
	strictName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

	nameEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)
)

// renderPath produces the key used in matchingRules maps.
func renderPath(path []segment) string {
	return render(path, plainName, func(name string) string {
		return "['" + nameEscaper.Replace(name) + "']"
	})
}

// jsonPathExpression renders a path for evaluation as a JSONPath expression.
func jsonPathExpression(path []segment) string {
	return render(path, strictName, func(name string) string {
		return "[" + strconv.Quote(name) + "]"
	})
}

func render(path []segment, plain *regexp.Regexp, quote func(string) string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, s := range path {
		switch {
		case s.wildcard:
			b.WriteString("[*]")
		case s.isIndex:
			b.WriteString("[" + strconv.Itoa(s.index) + "]")
		case plain.MatchString(s.name):
			b.WriteString("." + s.name)
		default:
			b.WriteString(quote(s.name))
		}
	}
	return b.String()
}

// parsePath reads $.a.b, $['a b'], $["a"], $.a[*], $.a[0] and $.a.* forms.
func parsePath(p string) ([]segment, error) {
	if !strings.HasPrefix(p, "$") {
		return nil, errors.Errorf("path %q does not start with $", p)
	}

	var path []segment
	rest := p[1:]
	for rest != "" {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			end := strings.IndexAny(rest, ".[")
			if end < 0 {
				end = len(rest)
			}
			name := rest[:end]
			if name == "" {
				return nil, errors.Errorf("empty segment in path %q", p)
			}
			if name == "*" {
				path = append(path, anyElement)
			} else {
				path = append(path, field(name))
			}
			rest = rest[end:]
		case '[':
			s, n, err := parseBracket(rest)
			if err != nil {
				return nil, errors.Wrapf(err, "path %q", p)
			}
			path = append(path, s)
			rest = rest[n:]
		default:
			return nil, errors.Errorf("unexpected %q in path %q", rest[0], p)
		}
	}
	return path, nil
}

// parseBracket parses one [...] group at the start of s and returns the
// number of bytes consumed.
func parseBracket(s string) (segment, int, error) {
	if len(s) < 3 {
		return segment{}, 0, errors.New("unterminated bracket")
	}

	if quote := s[1]; quote == '\'' || quote == '"' {
		var name strings.Builder
		for i := 2; i < len(s); i++ {
			switch {
			case s[i] == '\\' && i+1 < len(s):
				i++
				name.WriteByte(s[i])
			case s[i] == quote:
				if i+1 >= len(s) || s[i+1] != ']' {
					return segment{}, 0, errors.New("expected ] after quoted name")
				}
				return field(name.String()), i + 2, nil
			default:
				name.WriteByte(s[i])
			}
		}
		return segment{}, 0, errors.New("unterminated quoted name")
	}

	end := strings.IndexByte(s, ']')
	if end < 0 {
		return segment{}, 0, errors.New("unterminated bracket")
	}
	inner := s[1:end]
	if inner == "*" {
		return anyElement, end + 1, nil
	}
	idx, err := strconv.Atoi(inner)
	if err != nil || idx < 0 {
		return segment{}, 0, errors.Errorf("invalid index %q", inner)
	}
	return segment{index: idx, isIndex: true}, end + 1, nil
}
