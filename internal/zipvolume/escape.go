package zipvolume

import (
	"fmt"
	"strings"
)

// isSafeFilenameByte reports whether b needs no escaping in a segment
// filename: [A-Za-z0-9._/-] (spec §6). This is slightly more permissive
// than original_source/lib/zip.c's escape_filename, which does not
// allow '/' because it joins path components itself before escaping;
// AFF4 segment names are already slash-structured, so leaving '/'
// unescaped avoids escaping every path separator (SPEC_FULL
// "SUPPLEMENTED FEATURES" §3).
func isSafeFilenameByte(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '.' || b == '_' || b == '/' || b == '-':
		return true
	}
	return false
}

// escapeFilename URL-escapes every byte outside the safe set.
func escapeFilename(name string) string {
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		if isSafeFilenameByte(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// unescapeFilename is the inverse of escapeFilename; malformed escapes
// are passed through verbatim rather than rejected, matching a
// lenient reader.
func unescapeFilename(name string) string {
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		if name[i] == '%' && i+2 < len(name) {
			var v int
			if _, err := fmt.Sscanf(name[i+1:i+3], "%02X", &v); err == nil {
				b.WriteByte(byte(v))
				i += 2
				continue
			}
		}
		b.WriteByte(name[i])
	}
	return b.String()
}
