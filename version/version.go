// Package version implements the runtime's semantic version type and
// compatibility rule, ported from the original C implementation's
// fimo_version_* family (src/version.c) to idiomatic Go.
package version

import (
	"fmt"
	"strconv"
	"strings"

	errs "github.com/fimoengine/fimo-sub001/errors"
)

// Version is a semantic version with an auxiliary build field. Ordering is
// lexicographic over (Major, Minor, Patch); Build only breaks ties under
// CmpLong.
type Version struct {
	Major uint32
	Minor uint32
	Patch uint32
	Build uint64
}

// New constructs a Version with no build metadata.
func New(major, minor, patch uint32) Version {
	return Version{Major: major, Minor: minor, Patch: patch}
}

// Parse parses "MAJOR.MINOR.PATCH[+BUILD]", mirroring
// fimo_version_parse_str: strict unsigned-decimal components, no
// whitespace, '+' introduces the optional build field.
func Parse(s string) (Version, error) {
	if s == "" || s[0] == ' ' || s[0] == '\t' {
		return Version{}, errs.New(errs.InvalidArgument, "empty or leading-whitespace version string")
	}

	rest := s
	major, rest, err := parseU32(rest)
	if err != nil {
		return Version{}, err
	}
	rest, err = consume(rest, '.')
	if err != nil {
		return Version{}, err
	}

	minor, rest, err := parseU32(rest)
	if err != nil {
		return Version{}, err
	}
	rest, err = consume(rest, '.')
	if err != nil {
		return Version{}, err
	}

	patch, rest, err := parseU32(rest)
	if err != nil {
		return Version{}, err
	}

	if rest == "" {
		return Version{Major: major, Minor: minor, Patch: patch}, nil
	}
	if rest[0] != '+' {
		return Version{}, errs.New(errs.InvalidArgument, "unexpected trailing characters %q", rest)
	}
	rest = rest[1:]

	build, rest, err := parseU64(rest)
	if err != nil {
		return Version{}, err
	}
	if rest != "" {
		return Version{}, errs.New(errs.InvalidArgument, "unexpected trailing characters %q", rest)
	}
	return Version{Major: major, Minor: minor, Patch: patch, Build: build}, nil
}

func consume(s string, c byte) (string, error) {
	if s == "" || s[0] != c {
		return "", errs.New(errs.InvalidArgument, "expected %q", string(c))
	}
	return s[1:], nil
}

func digitSpan(s string) int {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return i
}

func parseU32(s string) (uint32, string, error) {
	n := digitSpan(s)
	if n == 0 {
		return 0, s, errs.New(errs.InvalidArgument, "expected digits")
	}
	v, err := strconv.ParseUint(s[:n], 10, 32)
	if err != nil {
		return 0, s, errs.New(errs.OutOfRange, "version component overflows u32: %s", s[:n])
	}
	return uint32(v), s[n:], nil
}

func parseU64(s string) (uint64, string, error) {
	n := digitSpan(s)
	if n == 0 {
		return 0, s, errs.New(errs.InvalidArgument, "expected digits")
	}
	v, err := strconv.ParseUint(s[:n], 10, 64)
	if err != nil {
		return 0, s, errs.New(errs.OutOfRange, "build component overflows u64: %s", s[:n])
	}
	return v, s[n:], nil
}

// String renders "major.minor.patch", matching fimo_version_write_str.
func (v Version) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d.%d.%d", v.Major, v.Minor, v.Patch)
	return b.String()
}

// StringLong renders "major.minor.patch+build", matching
// fimo_version_write_str_long.
func (v Version) StringLong() string {
	return fmt.Sprintf("%s+%d", v.String(), v.Build)
}

// Cmp compares (Major, Minor, Patch) lexicographically, ignoring Build.
func (v Version) Cmp(other Version) int {
	if v.Major != other.Major {
		return cmpU32(v.Major, other.Major)
	}
	if v.Minor != other.Minor {
		return cmpU32(v.Minor, other.Minor)
	}
	return cmpU32(v.Patch, other.Patch)
}

// CmpLong compares like Cmp, breaking ties with Build.
func (v Version) CmpLong(other Version) int {
	if res := v.Cmp(other); res != 0 {
		return res
	}
	if v.Build != other.Build {
		if v.Build < other.Build {
			return -1
		}
		return 1
	}
	return 0
}

func cmpU32(a, b uint32) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

// Compatible reports whether got satisfies required, per
// fimo_version_compatible: the major component must match; if required's
// major is 0 then minor must also match (0.x is not stable across minors);
// and got must be >= required under the short comparison.
func Compatible(got, required Version) bool {
	if required.Major != got.Major {
		return false
	}
	if required.Major == 0 && required.Minor != got.Minor {
		return false
	}
	return required.Cmp(got) <= 0
}
