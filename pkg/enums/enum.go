// Package enums holds the string enums stored in Postgres enum columns and
// carried on the wire. Parsing is exact unless a type says otherwise.
package enums

import (
	"fmt"
	"slices"
)

// set is the closed list of values for one enum type.
type set[T ~string] []T

func (s set[T]) has(v T) bool {
	return slices.Contains(s, v)
}

func (s set[T]) parse(raw, label string) (T, error) {
	if v := T(raw); s.has(v) {
		return v, nil
	}
	var zero T
	return zero, s.reject(raw, label)
}

func (s set[T]) reject(raw, label string) error {
	return fmt.Errorf("invalid %s %q", label, raw)
}

// Strings lists the values in declaration order, for help text and
// validator oneof tags.
func (s set[T]) Strings() []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = string(v)
	}
	return out
}
