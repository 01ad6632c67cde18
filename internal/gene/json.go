package gene

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// JSONValue converts g into plain values accepted by encoding/json. Objects
// and maps keep their field order. Inactive optional fields are omitted.
func JSONValue(g Gene) any {
	switch v := g.(type) {
	case *Boolean:
		return v.value
	case *Integer:
		return v.value
	case *Float:
		return v.value
	case *Enum, *String, *Regex:
		return v.RawString()
	case *Optional:
		if !v.active {
			return nil
		}
		return JSONValue(v.inner)
	case *Array:
		out := make([]any, 0, len(v.elements))
		for _, e := range v.elements {
			out = append(out, JSONValue(e))
		}
		return out
	case *Object:
		out := make(orderedObject, 0, len(v.fields))
		for _, f := range v.fields {
			if opt, ok := f.(*Optional); ok && !opt.active {
				continue
			}
			out = append(out, member{key: f.Name(), value: JSONValue(f)})
		}
		return out
	case *Map:
		out := make(orderedObject, 0, len(v.keys))
		for i, k := range v.keys {
			out = append(out, member{key: k, value: JSONValue(v.values[i])})
		}
		return out
	default:
		return g.RawString()
	}
}

type member struct {
	key   string
	value any
}

type orderedObject []member

func (o orderedObject) MarshalJSON() ([]byte, error) {
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
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(m.value)
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func renderJSON(g Gene) string {
	raw, err := json.Marshal(JSONValue(g))
	if err != nil {
		return ""
	}
	return string(raw)
}

func decodeJSON(s string) (any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	return v, true
}

// setFromJSON decodes s into g. The decode is first rehearsed on a copy so a
// failure leaves g untouched.
func setFromJSON(g Gene, s string) bool {
	v, ok := decodeJSON(s)
	if !ok {
		return false
	}
	if !fromJSON(g.Copy(), v) {
		return false
	}
	return fromJSON(g, v)
}

func fromJSON(g Gene, v any) bool {
	if Frozen(g) {
		return sameJSON(JSONValue(g), v)
	}
	switch target := g.(type) {
	case *Boolean:
		b, ok := v.(bool)
		if !ok {
			return false
		}
		target.SetValue(b)
		return true
	case *Integer, *Float:
		n, ok := v.(json.Number)
		if !ok {
			return false
		}
		return target.SetFromString(n.String())
	case *Enum, *String, *Regex:
		s, ok := v.(string)
		if !ok {
			return false
		}
		return target.SetFromString(s)
	case *Optional:
		if v == nil {
			target.SetActive(false)
			return true
		}
		if !fromJSON(target.inner, v) {
			return false
		}
		target.SetActive(true)
		return true
	case *Array:
		items, ok := v.([]any)
		if !ok {
			return false
		}
		if len(items) < target.minSize || (target.maxSize >= 0 && len(items) > target.maxSize) {
			return false
		}
		elements := make([]Gene, 0, len(items))
		for _, item := range items {
			e := target.template.Copy()
			if !fromJSON(e, item) {
				return false
			}
			elements = append(elements, e)
		}
		target.setElements(elements)
		return true
	case *Object:
		fields, ok := v.(map[string]any)
		if !ok {
			return false
		}
		known := 0
		for _, f := range target.fields {
			raw, present := fields[f.Name()]
			if !present {
				opt, isOpt := f.(*Optional)
				if !isOpt {
					return false
				}
				opt.SetActive(false)
				continue
			}
			known++
			if !fromJSON(f, raw) {
				return false
			}
		}
		if known != len(fields) {
			return false
		}
		target.initialized = true
		return true
	case *Map:
		entries, ok := v.(map[string]any)
		if !ok {
			return false
		}
		if target.maxSize >= 0 && len(entries) > target.maxSize {
			return false
		}
		keys := make([]string, 0, len(entries))
		for k := range entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		values := make([]Gene, 0, len(keys))
		for _, k := range keys {
			value := target.template.Copy()
			if !fromJSON(value, entries[k]) {
				return false
			}
			values = append(values, value)
		}
		target.replaceEntries(keys, values)
		return true
	default:
		return false
	}
}

func sameJSON(a, b any) bool {
	left, err := json.Marshal(a)
	if err != nil {
		return false
	}
	right, err := json.Marshal(b)
	if err != nil {
		return false
	}
	l, ok := decodeJSON(string(left))
	if !ok {
		return false
	}
	r, ok := decodeJSON(string(right))
	if !ok {
		return false
	}
	lc, _ := json.Marshal(l)
	rc, _ := json.Marshal(r)
	return bytes.Equal(lc, rc)
}
