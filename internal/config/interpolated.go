package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Interpolated decodes a YAML value after expanding ${scheme://ref}
// references in it. Supported schemes are env and file; $${ escapes a literal ${.
// References nest: ${file://${env://DIR}/token}.
type Interpolated[T any] struct {
	Value T
}

func (r *Interpolated[T]) UnmarshalYAML(value *yaml.Node) (err error) {
	if value.Kind != yaml.ScalarNode || value.Tag != "!!str" {
		return value.Decode(&r.Value)
	}

	node := &yaml.Node{
		Kind: yaml.ScalarNode,
		Tag:  yamlTagForType(r.Value),
	}

	node.Value, err = expand(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}

	return node.Decode(&r.Value)
}

// lookupEnv is replaced in tests.
var lookupEnv = os.LookupEnv

// sources resolve the reference part of ${scheme://ref}.
var sources = map[string]func(ref string) (string, error){
	"env": func(ref string) (string, error) {
		v, _ := lookupEnv(ref)
		return v, nil
	},
	"file": func(ref string) (string, error) {
		b, err := os.ReadFile(ref)
		if err != nil {
			return "", err
		}
		// secret files are usually written with a trailing newline
		return strings.TrimSuffix(string(b), "\n"), nil
	},
}

var durationType = reflect.TypeOf(time.Duration(0))

func yamlTagForType(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return "!!null"
	}

	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == durationType {
		return "!!str"
	}

	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "!!int"
	case reflect.Float32, reflect.Float64:
		return "!!float"
	case reflect.Bool:
		return "!!bool"
	default:
		return "!!str"
	}
}

func expand(src string) (string, error) {
	var out strings.Builder
	for i := 0; i < len(src); i++ {
		c := src[i]
		if c != '$' || i+1 == len(src) {
			out.WriteByte(c)
			continue
		}

		switch next := src[i+1]; {
		case next == '$' && strings.HasPrefix(src[i+2:], "{"):
			out.WriteString("${")
			i += 2
			continue
		case next == '$':
			out.WriteByte('$')
			continue
		case next != '{':
			out.WriteByte(c)
			continue
		}

		end := closingBrace(src, i+2)
		if end < 0 {
			return "", fmt.Errorf("unterminated reference in %q", src)
		}

		ref, err := expand(src[i+2 : end])
		if err != nil {
			return "", err
		}
		v, err := lookup(ref)
		if err != nil {
			return "", err
		}
		out.WriteString(v)
		i = end
	}
	return out.String(), nil
}

// closingBrace returns the index of the brace closing the reference opened
// just before start, or -1.
func closingBrace(s string, start int) int {
	depth := 1
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func lookup(ref string) (string, error) {
	scheme, rest, ok := strings.Cut(ref, "://")
	if !ok {
		return "", fmt.Errorf("reference %q has no scheme", ref)
	}
	source, ok := sources[scheme]
	if !ok {
		return "", fmt.Errorf("unsupported reference scheme %q", scheme)
	}
	v, err := source(rest)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", ref, err)
	}
	return v, nil
}
