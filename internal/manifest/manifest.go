// Package manifest implements the RDF manifest segment I/O described in
// spec §4.7/§6 (C8): the line-oriented triple syntax a volume uses to
// persist the resolver's statements about its contained streams.
//
// Grounded on original_source/lib/rdf.c's serialise/parse pair, which
// walks one subject's statements at a time rather than the whole
// store, and on rdf.c's unknown-datatype fallback-to-string table
// (spec §4.7, SPEC_FULL "SUPPLEMENTED FEATURES" §4).
package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/CarbonWolf/aff4/internal/aff4log"
	"github.com/CarbonWolf/aff4/internal/aff4rdf"
	"github.com/CarbonWolf/aff4/internal/resolver"
)

// SerialiseSubject renders every non-volatile predicate of subject as
// one line per value, in insertion order within a predicate (spec §4.7).
// Predicates are emitted in sorted order for a deterministic byte form;
// that ordering is not itself meaningful to spec §8's round-trip
// property, which only constrains per-predicate value order.
func SerialiseSubject(store *resolver.Store, subject aff4rdf.URN) []byte {
	var buf bytes.Buffer
	preds := store.Predicates(subject)
	sort.Slice(preds, func(i, j int) bool { return preds[i] < preds[j] })
	for _, pred := range preds {
		if pred.IsVolatile() {
			continue
		}
		values, err := store.ResolveList(subject, pred)
		if err != nil {
			continue
		}
		for _, v := range values {
			writeTriple(&buf, subject, pred, v)
		}
	}
	return buf.Bytes()
}

// escapeLiteral backslash-escapes quotes and newlines so a literal's
// text cannot prematurely close its enclosing quotes.
func escapeLiteral(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

func writeTriple(buf *bytes.Buffer, subject aff4rdf.URN, pred aff4rdf.Attribute, v aff4rdf.Value) {
	fmt.Fprintf(buf, "<%s> <%s> ", subject, pred)
	if v.Kind == aff4rdf.KindURN || v.Kind == aff4rdf.KindMapBlob {
		fmt.Fprintf(buf, "<%s>", v.Serialise())
	} else {
		fmt.Fprintf(buf, "\"%s\"^^<%s>", escapeLiteral(v.Serialise()), v.Datatype())
	}
	buf.WriteString(" .\n")
}

// ParseInto reads a manifest segment's bytes and replays its triples
// into store. base is the directory URN the segment was found under
// (spec §4.4: "feed it to the RDF parser scoped at the member's
// directory URN"); it is informational only here since every subject
// and object in the grammar is already a fully-qualified URN.
//
// Malformed lines are recoverable InvalidFormat errors: logged and
// skipped rather than aborting the parse (spec §7 propagation policy).
// A subject not already asserted to be contained in the volume causes
// the parser to additionally assert "<volume> contains <subject>"
// (spec §4.7).
func ParseInto(store *resolver.Store, volume, base aff4rdf.URN, data []byte) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		subject, pred, value, ok := parseTriple(line)
		if !ok {
			aff4log.Errorf(base, "manifest: skipping malformed triple: %q", line)
			continue
		}
		already := false
		if contained, err := store.ResolveList(volume, aff4rdf.PredContains); err == nil {
			for _, c := range contained {
				if c.Kind == aff4rdf.KindURN && c.URN == subject {
					already = true
					break
				}
			}
		}
		if !already && subject != volume {
			store.Add(volume, aff4rdf.PredContains, aff4rdf.URNValue(subject), true)
		}
		store.Add(subject, pred, value, false)
	}
	return scanner.Err()
}

// parseTriple matches:
//
//	<subject> <predicate> "literal"^^<datatype> .
//	<subject> <predicate> <uri-object> .
func parseTriple(line string) (subject aff4rdf.URN, pred aff4rdf.Attribute, value aff4rdf.Value, ok bool) {
	line = strings.TrimSuffix(strings.TrimSpace(line), ".")
	line = strings.TrimSpace(line)

	subjStr, rest, ok1 := cutAngle(line)
	if !ok1 {
		return
	}
	predStr, rest, ok2 := cutAngle(rest)
	if !ok2 {
		return
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return
	}

	subject = aff4rdf.NewURN(subjStr)
	pred = aff4rdf.Attribute(predStr)

	if strings.HasPrefix(rest, "\"") {
		lit, datatype, okLit := cutLiteral(rest)
		if !okLit {
			return
		}
		v, err := aff4rdf.Parse(datatype, lit)
		if err != nil {
			return
		}
		value = v
		ok = true
		return
	}
	if strings.HasPrefix(rest, "<") {
		uriStr, _, okURI := cutAngle(rest)
		if !okURI {
			return
		}
		value = aff4rdf.URNValue(aff4rdf.NewURN(uriStr))
		ok = true
		return
	}
	return
}

// cutAngle extracts the content of a leading "<...>" token and returns
// the remainder of the line.
func cutAngle(s string) (inner, rest string, ok bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "<") {
		return "", s, false
	}
	end := strings.IndexByte(s, '>')
	if end < 0 {
		return "", s, false
	}
	return s[1:end], s[end+1:], true
}

// cutLiteral extracts a leading `"literal"^^<datatype>` token.
func cutLiteral(s string) (literal, datatype string, ok bool) {
	if !strings.HasPrefix(s, "\"") {
		return "", "", false
	}
	i := 1
	var b strings.Builder
	for i < len(s) {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'n':
				b.WriteByte('\n')
			default:
				b.WriteByte(s[i+1])
			}
			i += 2
			continue
		}
		if c == '"' {
			break
		}
		b.WriteByte(c)
		i++
	}
	if i >= len(s) {
		return "", "", false
	}
	rest := s[i+1:]
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, "^^<") {
		return "", "", false
	}
	rest = rest[3:]
	end := strings.IndexByte(rest, '>')
	if end < 0 {
		return "", "", false
	}
	return b.String(), rest[:end], true
}
