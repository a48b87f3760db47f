package access

import "strings"

// AllowList validates driver access codes against a fixed set.
// Codes are compared trimmed and upper-cased.
type AllowList struct {
	codes map[string]struct{}
}

// NewAllowList builds an AllowList from the configured codes; blanks are ignored.
func NewAllowList(codes ...string) *AllowList {
	list := &AllowList{codes: make(map[string]struct{}, len(codes))}
	for _, c := range codes {
		if n := Normalize(c); n != "" {
			list.codes[n] = struct{}{}
		}
	}
	return list
}

// IsValidDriverCode reports whether code is on the allow-list.
func (list *AllowList) IsValidDriverCode(code string) bool {
	if list == nil {
		return false
	}
	_, ok := list.codes[Normalize(code)]
	return ok
}

// Len returns the number of distinct codes.
func (list *AllowList) Len() int {
	return len(list.codes)
}

// Normalize trims and upper-cases a code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
