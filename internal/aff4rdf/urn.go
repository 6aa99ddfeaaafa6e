// Package aff4rdf implements the typed RDF value model (spec §4.1) and
// the URN type (spec §3) shared by every other component.
package aff4rdf

import (
	"path"
	"strings"
)

// URN is a canonical globally-unique identifier: scheme, authority,
// path (normalised, "." and ".." collapsed) and an optional fragment.
// Equality is string equality after normalisation, so URN is comparable
// and usable as a map key.
type URN string

// NewURN normalises s (collapsing "." and ".." path components) and
// returns the canonical URN. An empty s yields the empty URN.
func NewURN(s string) URN {
	if s == "" {
		return ""
	}
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		return URN(cleanPath(s))
	}
	authority, p, _ := strings.Cut(rest, "/")
	if p == "" && !strings.Contains(rest, "/") {
		return URN(scheme + "://" + authority)
	}
	frag := ""
	if i := strings.IndexByte(p, '#'); i >= 0 {
		frag = p[i:]
		p = p[:i]
	}
	cleaned := cleanPath("/" + p)
	if cleaned == "/" {
		// Path cleaned away to nothing: collapse back to the bare
		// authority form (no trailing slash), the same shape NewURN
		// produces for a URN with no path component at all (spec §8
		// invariant 2: Join(S).Join("..") must round-trip exactly).
		out := scheme + "://" + authority
		if frag != "" {
			out += frag
		}
		return URN(out)
	}
	out := scheme + "://" + authority + cleaned
	if frag != "" {
		out += frag
	}
	return URN(out)
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := path.Clean(p)
	if !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}
	return cleaned
}

// String returns the canonical string form.
func (u URN) String() string { return string(u) }

// Join appends a single path component (never ".."-escaping above u)
// and returns the new, normalised URN. Per spec §8 invariant 2,
// URN(U).Join(S).Join("..") == URN(U) whenever S is a single
// non-".." component.
func (u URN) Join(component string) URN {
	if component == "" {
		return u
	}
	s := string(u)
	frag := ""
	if i := strings.IndexByte(s, '#'); i >= 0 {
		frag = s[i:]
		s = s[:i]
	}
	joined := strings.TrimRight(s, "/") + "/" + strings.TrimLeft(component, "/")
	return NewURN(joined + frag)
}

// IsUnder reports whether u is equal to prefix or nested under it.
func (u URN) IsUnder(prefix URN) bool {
	us, ps := string(u), string(prefix)
	return us == ps || strings.HasPrefix(us, ps+"/")
}

// RelativeTo strips prefix (plus the separating "/") from u, returning
// the relative path component used as a Zip member name. If u is not
// under prefix, RelativeTo returns u unchanged.
func (u URN) RelativeTo(prefix URN) string {
	us, ps := string(u), string(prefix)
	if us == ps {
		return ""
	}
	if strings.HasPrefix(us, ps+"/") {
		return us[len(ps)+1:]
	}
	return us
}

// Empty reports whether the URN is the zero value, used by the Map
// stream to mean "sparse" (spec §4.6).
func (u URN) Empty() bool { return u == "" }
