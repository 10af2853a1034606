package schema

import (
	"cmp"
	"fmt"
	"regexp"
	"strconv"
)

var versionPattern = regexp.MustCompile(`^(\d{4})v(\d+)\.(\d+)$`)

// Version is a schema revision such as "2024v5.0": the tax year followed by a
// major and minor revision.
type Version struct {
	Year  int
	Major int
	Minor int
}

// ParseVersion reads a version string.
func ParseVersion(s string) (Version, error) {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("invalid schema version %q", s)
	}
	year, _ := strconv.Atoi(m[1])
	major, _ := strconv.Atoi(m[2])
	minor, _ := strconv.Atoi(m[3])
	return Version{Year: year, Major: major, Minor: minor}, nil
}

// Compare orders versions by tax year, then revision.
func (v Version) Compare(o Version) int {
	if c := cmp.Compare(v.Year, o.Year); c != 0 {
		return c
	}
	if c := cmp.Compare(v.Major, o.Major); c != 0 {
		return c
	}
	return cmp.Compare(v.Minor, o.Minor)
}

func (v Version) String() string {
	return fmt.Sprintf("%dv%d.%d", v.Year, v.Major, v.Minor)
}
