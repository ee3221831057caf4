package allocation

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultGroupName stands in for a group without a display name.
const DefaultGroupName = "G"

// Key derives the stable identity of an allocation:
//
//	<group>-T<unit>-<department>-<activity>
//
// Department and activity never contain "-", so the key can be split from
// the right and two distinct inputs never share a key.
func Key(group string, unit int, department, activity string) string {
	if group == "" {
		group = DefaultGroupName
	}
	return fmt.Sprintf("%s-T%d-%s-%s", group, unit, department, activity)
}

// KeyParts are the components a key was derived from.
type KeyParts struct {
	Group      string
	Unit       int
	Department string
	Activity   string
}

// ParseKey splits a derived key back into its parts.
func ParseKey(key string) (KeyParts, error) {
	rest, activity, ok := cutLast(key)
	if !ok {
		return KeyParts{}, fmt.Errorf("parse key %q: missing activity", key)
	}
	rest, department, ok := cutLast(rest)
	if !ok {
		return KeyParts{}, fmt.Errorf("parse key %q: missing department", key)
	}
	group, unitPart, ok := cutLast(rest)
	if !ok || !strings.HasPrefix(unitPart, "T") {
		return KeyParts{}, fmt.Errorf("parse key %q: missing unit", key)
	}
	unit, err := strconv.Atoi(unitPart[1:])
	if err != nil {
		return KeyParts{}, fmt.Errorf("parse key %q: %w", key, err)
	}
	return KeyParts{Group: group, Unit: unit, Department: department, Activity: activity}, nil
}

func cutLast(s string) (before, after string, ok bool) {
	i := strings.LastIndexByte(s, '-')
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}
