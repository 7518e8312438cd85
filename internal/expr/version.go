package expr

import (
	"strconv"
	"strings"
)

// Version is a dotted version with two to four components. Components that
// were not specified are -1, so 1.2 and 1.2.0 are different versions.
type Version struct {
	Major    int
	Minor    int
	Build    int
	Revision int
}

// ParseVersion parses major.minor[.build[.revision]].
func ParseVersion(s string) (Version, bool) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 || len(parts) > 4 {
		return Version{}, false
	}

	nums := [4]int{-1, -1, -1, -1}
	for i, p := range parts {
		if p == "" {
			return Version{}, false
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return Version{}, false
			}
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return Version{}, false
		}
		nums[i] = n
	}

	return Version{Major: nums[0], Minor: nums[1], Build: nums[2], Revision: nums[3]}, true
}

func (v Version) String() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(v.Major))
	b.WriteByte('.')
	b.WriteString(strconv.Itoa(v.Minor))
	if v.Build >= 0 {
		b.WriteByte('.')
		b.WriteString(strconv.Itoa(v.Build))
		if v.Revision >= 0 {
			b.WriteByte('.')
			b.WriteString(strconv.Itoa(v.Revision))
		}
	}
	return b.String()
}

// Compare returns -1, 0 or 1. An unspecified component sorts before zero.
func (v Version) Compare(o Version) int {
	a := [4]int{v.Major, v.Minor, v.Build, v.Revision}
	b := [4]int{o.Major, o.Minor, o.Build, o.Revision}
	for i := range a {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}
