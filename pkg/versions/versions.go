// Package versions implements version constraint sets for plugin
// resolution. A ConstraintSet is a conjunction of specifiers such as
// ">=1.0,<2.0"; an empty set matches every version. Bare literals with
// no operator ("1.0.2") are exact matches.
package versions

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ErrInvalidSpecifier is returned when a version specifier cannot be
// parsed. A blank specifier segment is also invalid; "no version
// requested" is expressed by Any, never by an invalid set.
var ErrInvalidSpecifier = errors.New("invalid version specifier")

// operators, longest first so that "===" is not read as "==" + "=1.0".
var operators = []string{"===", "==", "!=", ">=", "<=", "~=", ">", "<"}

// specifier is a single operator + version literal pair.
type specifier struct {
	// op is the comparison operator. Bare literals are stored as "===".
	op string

	// version is the parsed version literal.
	version *semver.Version

	// raw is the original text, kept for error messages and String.
	raw string

	// segments is the number of dotted components in the literal,
	// needed to compute the upper bound of a "~=" specifier.
	segments int
}

// ConstraintSet is a conjunction of version specifiers. The zero value
// is unconstrained and matches every version.
type ConstraintSet struct {
	specs []specifier
}

// Any returns an unconstrained set.
func Any() ConstraintSet {
	return ConstraintSet{}
}

// Exact returns a set matching exactly the given version literal.
func Exact(literal string) (ConstraintSet, error) {
	spec, err := parseSpecifier(literal)
	if err != nil {
		return ConstraintSet{}, err
	}
	return ConstraintSet{specs: []specifier{spec}}, nil
}

// Parse builds a ConstraintSet from one or more specifier values. Each
// value may itself hold several comma-joined specifiers; all of them
// are intersected together.
func Parse(values ...string) (ConstraintSet, error) {
	var specs []specifier
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			spec, err := parseSpecifier(part)
			if err != nil {
				return ConstraintSet{}, err
			}
			specs = append(specs, spec)
		}
	}
	return ConstraintSet{specs: specs}, nil
}

// parseSpecifier parses a single specifier segment.
func parseSpecifier(text string) (specifier, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return specifier{}, fmt.Errorf("%w: blank specifier", ErrInvalidSpecifier)
	}

	op := "==="
	literal := text
	for _, candidate := range operators {
		if strings.HasPrefix(text, candidate) {
			op = candidate
			literal = strings.TrimSpace(text[len(candidate):])
			break
		}
	}
	if literal == "" {
		return specifier{}, fmt.Errorf("%w: %q", ErrInvalidSpecifier, text)
	}

	version, err := semver.NewVersion(literal)
	if err != nil {
		return specifier{}, fmt.Errorf("%w: %q: %v", ErrInvalidSpecifier, text, err)
	}

	segments := strings.Count(strings.SplitN(literal, "-", 2)[0], ".") + 1
	if op == "~=" && segments < 2 {
		// "~=1" has no release segment to pin; rejected upstream too.
		return specifier{}, fmt.Errorf("%w: %q: compatible-release needs at least two segments", ErrInvalidSpecifier, text)
	}

	return specifier{op: op, version: version, raw: text, segments: segments}, nil
}

// Intersect returns the conjunction of two sets.
func (cs ConstraintSet) Intersect(other ConstraintSet) ConstraintSet {
	merged := make([]specifier, 0, len(cs.specs)+len(other.specs))
	merged = append(merged, cs.specs...)
	merged = append(merged, other.specs...)
	return ConstraintSet{specs: merged}
}

// Constrained reports whether the set carries any specifier at all.
func (cs ConstraintSet) Constrained() bool {
	return len(cs.specs) > 0
}

// Check reports whether the version satisfies every specifier in the
// set. An unconstrained set matches everything.
func (cs ConstraintSet) Check(v *semver.Version) bool {
	for _, spec := range cs.specs {
		if !spec.check(v) {
			return false
		}
	}
	return true
}

// CheckString parses a version literal and checks it against the set.
func (cs ConstraintSet) CheckString(literal string) (bool, error) {
	v, err := semver.NewVersion(literal)
	if err != nil {
		return false, fmt.Errorf("invalid version %q: %w", literal, err)
	}
	return cs.Check(v), nil
}

// String renders the set as a comma-joined specifier list.
func (cs ConstraintSet) String() string {
	if len(cs.specs) == 0 {
		return ""
	}
	parts := make([]string, len(cs.specs))
	for i, spec := range cs.specs {
		parts[i] = spec.raw
	}
	return strings.Join(parts, ",")
}

func (s specifier) check(v *semver.Version) bool {
	switch s.op {
	case "==", "===":
		return v.Equal(s.version)
	case "!=":
		return !v.Equal(s.version)
	case ">=":
		return v.Compare(s.version) >= 0
	case "<=":
		return v.Compare(s.version) <= 0
	case ">":
		return v.Compare(s.version) > 0
	case "<":
		return v.Compare(s.version) < 0
	case "~=":
		return v.Compare(s.version) >= 0 && v.LessThan(s.upperBound())
	default:
		return false
	}
}

// upperBound computes the exclusive upper bound of a compatible-release
// specifier: the literal with its last given segment dropped and the
// one before it incremented ("~=1.4.2" < 1.5.0, "~=1.4" < 2.0.0).
func (s specifier) upperBound() *semver.Version {
	if s.segments >= 3 {
		upper := s.version.IncMinor()
		return &upper
	}
	upper := s.version.IncMajor()
	return &upper
}
