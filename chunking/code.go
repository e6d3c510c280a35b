package chunking

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/engramhq/engram/errors"
)

// Hierarchical codes are dotted numeric paths. "1", "2", ... number the
// top-level chunks in document order; "2.1", "2.2" number the children a
// deeper strategy carved out of chunk "2". Sibling codes strictly increase
// in their final component.

// ChildCode appends the n-th (1-based) child component to parent. An empty
// parent yields a top-level code.
func ChildCode(parent string, n int) string {
	if parent == "" {
		return strconv.Itoa(n)
	}
	return fmt.Sprintf("%s.%d", parent, n)
}

// ParentCode strips the final component. Top-level codes have no parent and
// return "".
func ParentCode(code string) string {
	idx := strings.LastIndex(code, ".")
	if idx < 0 {
		return ""
	}
	return code[:idx]
}

// CompareCodes orders codes component-wise numerically, so "1.2" < "1.10"
// and "2" < "10". Shared prefixes order before their extensions.
func CompareCodes(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		ai, _ := strconv.Atoi(as[i])
		bi, _ := strconv.Atoi(bs[i])
		if ai != bi {
			if ai < bi {
				return -1
			}
			return 1
		}
	}
	if len(as) != len(bs) {
		if len(as) < len(bs) {
			return -1
		}
		return 1
	}
	return 0
}

// ParseCode checks that code is a well-formed dotted path of positive
// integers.
func ParseCode(code string) ([]int, error) {
	if code == "" {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "empty hierarchical code")
	}
	parts := strings.Split(code, ".")
	components := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 {
			return nil, errors.Wrapf(errors.ErrInvalidParams, "malformed hierarchical code %q", code)
		}
		components = append(components, n)
	}
	return components, nil
}

// IsAncestorCode reports whether parent is a strict ancestor of child in the
// code hierarchy.
func IsAncestorCode(parent, child string) bool {
	if parent == "" || child == "" || parent == child {
		return false
	}
	return strings.HasPrefix(child, parent+".")
}
