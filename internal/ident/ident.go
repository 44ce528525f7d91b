// Package ident implements the deterministic naming scheme used to tag
// every container and network this engine creates, so that artefacts
// belonging to a pipeline run can be told apart from anything else on the
// host and partitioned by run.
package ident

import (
	"fmt"
	"strings"
)

// DefaultPrefix is the namespace prefix used unless a Config overrides it.
const DefaultPrefix = "jayporeci"

const sep = "__"

// Kind distinguishes the three kinds of artefact this engine names.
type Kind string

const (
	// KindNet names the per-run bridge network.
	KindNet Kind = "net"
	// KindJob names a per-job container.
	KindJob Kind = "job"
	// KindPipe names the per-run "outer" container, if any.
	KindPipe Kind = "pipe"
)

func parseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindNet, KindJob, KindPipe:
		return Kind(s), true
	default:
		return "", false
	}
}

// Name is a parsed or to-be-created artefact name.
type Name struct {
	Raw     string
	Prefix  string
	Kind    Kind
	SHA     string
	JobName string // only set when Kind == KindJob
}

// Create builds the canonical name for an artefact. jobName is required
// (and only meaningful) for KindJob.
func Create(prefix string, kind Kind, sha string, jobName string) Name {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	parts := []string{prefix, string(kind), sha}
	if kind == KindJob {
		parts = append(parts, jobName)
	}
	return Name{
		Raw:     strings.Join(parts, sep),
		Prefix:  prefix,
		Kind:    kind,
		SHA:     sha,
		JobName: jobName,
	}
}

// Parse recovers a Name from a raw container/network name. It returns
// false for names that do not belong to prefix (any name this engine did
// not create).
func Parse(prefix string, raw string) (Name, bool) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasPrefix(raw, prefix+sep) {
		return Name{}, false
	}
	parts := strings.Split(raw, sep)
	if len(parts) < 3 {
		return Name{}, false
	}
	kind, ok := parseKind(parts[1])
	if !ok {
		return Name{}, false
	}
	switch kind {
	case KindJob:
		if len(parts) != 4 {
			return Name{}, false
		}
		return Name{Raw: raw, Prefix: prefix, Kind: kind, SHA: parts[2], JobName: parts[3]}, true
	default:
		if len(parts) != 3 {
			return Name{}, false
		}
		return Name{Raw: raw, Prefix: prefix, Kind: kind, SHA: parts[2]}, true
	}
}

// Related returns the raw name of a sibling artefact of the given kind
// that shares this Name's sha (e.g. the network a job container runs on).
func (n Name) Related(kind Kind) string {
	return strings.Join([]string{n.Prefix, string(kind), n.SHA}, sep)
}

func (n Name) String() string {
	return n.Raw
}

// Sanitize collapses any run of non-alphanumeric characters into a
// single "-" so that user-provided stage/job names are safe to embed in
// a container or network name.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevDash := false
	for _, r := range s {
		alnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if alnum {
			b.WriteRune(r)
			prevDash = false
			continue
		}
		if !prevDash {
			b.WriteByte('-')
			prevDash = true
		}
	}
	return b.String()
}

// Validate reports whether s consists solely of the sanitised alphabet,
// i.e. is a name that Sanitize would leave unchanged.
func Validate(s string) error {
	if s == "" {
		return fmt.Errorf("ident: name must not be empty")
	}
	if Sanitize(s) != s {
		return fmt.Errorf("ident: name %q is not sanitised (expected %q)", s, Sanitize(s))
	}
	return nil
}
