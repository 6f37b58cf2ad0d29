package matcher

import "encoding/json"

// Sample is the value generated for a TypeOf rule without an example.
func Sample(kind Kind) interface{} {
	switch kind {
	case KindString:
		return "string"
	case KindInteger:
		return json.Number("1")
	case KindNumber:
		return json.Number("1.5")
	case KindBoolean:
		return true
	case KindArray:
		return []interface{}{}
	case KindObject:
		return map[string]interface{}{}
	}
	return nil
}

// Generate produces a value that satisfies rule.
func Generate(rule Rule) interface{} {
	switch r := rule.(type) {
	case Exact:
		return r.Value
	case TypeOf:
		if r.Example != nil {
			return r.Example
		}
		return Sample(r.Kind)
	case RegexMatch:
		return r.Example
	case ArrayMinLike:
		n := r.Min
		if n < 1 {
			n = 1
		}
		return repeat(r.Element, n)
	case ArrayMaxLike:
		if r.Max < 1 {
			return []interface{}{}
		}
		return repeat(r.Element, 1)
	case ObjectLike:
		obj := make(map[string]interface{}, len(r.Fields))
		for _, f := range r.Fields {
			obj[f.Name] = Generate(f.Rule)
		}
		return obj
	}
	return nil
}

func repeat(rule Rule, n int) []interface{} {
	items := make([]interface{}, n)
	for i := range items {
		items[i] = Generate(rule)
	}
	return items
}
