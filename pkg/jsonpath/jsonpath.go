// Package jsonpath resolves dotted paths ("data.price.usd") into decoded
// JSON documents. Shared by oracle value extraction, webhook filters, and
// ledger event-parameter substitution.
package jsonpath

import (
	"errors"
	"strconv"
	"strings"
)

var ErrPathNotFound = errors.New("path not found")

// Lookup walks a dotted path through nested maps and slices. Numeric
// path segments index into slices.
func Lookup(doc interface{}, path string) (interface{}, error) {
	if path == "" {
		return doc, nil
	}

	current := doc

	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[segment]
			if !ok {
				return nil, ErrPathNotFound
			}

			current = next
		case []interface{}:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, ErrPathNotFound
			}

			current = node[idx]
		default:
			return nil, ErrPathNotFound
		}
	}

	return current, nil
}

// LookupFloat resolves a path and coerces the result to float64.
func LookupFloat(doc interface{}, path string) (float64, error) {
	v, err := Lookup(doc, path)
	if err != nil {
		return 0, err
	}

	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, ErrPathNotFound
		}

		return f, nil
	default:
		return 0, ErrPathNotFound
	}
}
