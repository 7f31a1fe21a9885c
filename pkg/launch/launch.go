// Package launch decides from the host command line whether the
// transformation is installed, and defines the loader boundary used to
// extend a class loader's search path.
package launch

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// DefaultVersion is the supported host version, and the version assumed
// when the command line names none.
const DefaultVersion = "1.8.9"

// LoaderID identifies a host class loader. Zero is the bootstrap loader.
type LoaderID uint64

// PathExtender adds a location to a loader's search path.
type PathExtender interface {
	AddLocation(loader LoaderID, location string) error
}

// PathExtenderFunc adapts a function to PathExtender.
type PathExtenderFunc func(loader LoaderID, location string) error

func (f PathExtenderFunc) AddLocation(loader LoaderID, location string) error {
	return f(loader, location)
}

var (
	versionFlag = regexp.MustCompile(`--version[ =](\S+)`)
	numericCore = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*`)
)

// ExtractVersion returns the token following --version on cmdline.
func ExtractVersion(cmdline string) (string, bool) {
	m := versionFlag.FindStringSubmatch(cmdline)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Verdict is the outcome of a version check.
type Verdict int

const (
	Allow Verdict = iota
	Disallow
	AllowAssumed
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Disallow:
		return "disallow"
	case AllowAssumed:
		return "allow-assumed"
	}
	return fmt.Sprintf("Verdict(%d)", int(v))
}

// Decision is a verdict and the version it was reached for.
type Decision struct {
	Verdict Verdict
	Version string
}

// Allowed reports whether the transformation should be installed.
func (d Decision) Allowed() bool {
	return d.Verdict != Disallow
}

// Policy lists the host versions the transformation supports.
type Policy struct {
	Supported []string
	Assumed   string
}

// DefaultPolicy supports DefaultVersion only.
func DefaultPolicy() Policy {
	return Policy{Supported: []string{DefaultVersion}, Assumed: DefaultVersion}
}

// Check reads the version from cmdline and compares its release core
// (prerelease and build suffixes removed) against the supported list.
func (p Policy) Check(cmdline string) Decision {
	tok, ok := ExtractVersion(cmdline)
	if !ok {
		assumed := p.Assumed
		if assumed == "" {
			assumed = DefaultVersion
		}
		return Decision{Verdict: AllowAssumed, Version: assumed}
	}
	core := releaseCore(tok)
	if core != "" {
		for _, s := range p.Supported {
			if sc := releaseCore(s); sc != "" && semver.Compare(core, sc) == 0 {
				return Decision{Verdict: Allow, Version: tok}
			}
		}
	}
	return Decision{Verdict: Disallow, Version: tok}
}

// releaseCore returns the canonical "vMAJOR.MINOR.PATCH" form of v, or ""
// when v does not start with a version number.
func releaseCore(v string) string {
	v = strings.TrimPrefix(v, "v")
	if sv := "v" + v; semver.IsValid(sv) {
		c := semver.Canonical(sv)
		return strings.TrimSuffix(c, semver.Prerelease(c))
	}
	core := numericCore.FindString(v)
	if core == "" {
		return ""
	}
	return semver.Canonical("v" + core)
}
