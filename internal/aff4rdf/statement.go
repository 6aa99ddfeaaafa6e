package aff4rdf

import "strings"

// Attribute is a namespaced IRI naming a predicate. The "volatile"
// namespace marks attributes that must never be persisted into the
// manifest segment (spec §3).
type Attribute string

// VolatileNamespace is the namespace prefix reserved for attributes
// that are process-local bookkeeping and never serialised.
const VolatileNamespace = "volatile:"

// NewVolatileAttribute builds an attribute in the volatile namespace.
func NewVolatileAttribute(name string) Attribute {
	return Attribute(VolatileNamespace + name)
}

// IsVolatile reports whether a predicate must be excluded from the
// persisted manifest.
func (a Attribute) IsVolatile() bool {
	return strings.HasPrefix(string(a), VolatileNamespace)
}

func (a Attribute) String() string { return string(a) }

// Well-known predicates used by the stream descriptor invariants of
// spec §3.
const (
	PredStored          Attribute = "aff4:stored"
	PredType             Attribute = "aff4:type"
	PredSize             Attribute = "aff4:size"
	PredCompressedSize   Attribute = "aff4:compressed_size"
	PredCRC              Attribute = "aff4:crc32"
	PredCompression      Attribute = "aff4:compression"
	PredHeaderOffset     Attribute = "aff4:header_offset"
	PredFileOffset       Attribute = "aff4:file_offset"
	PredTimestamp        Attribute = "aff4:timestamp"
	PredChunkSize        Attribute = "aff4:chunk_size"
	PredChunksInSegment  Attribute = "aff4:chunks_in_segment"
	PredSHA256           Attribute = "aff4:sha256"
	PredContains         Attribute = "aff4:contains"
	PredImagePeriod      Attribute = "aff4:image_period"
	PredTargetPeriod     Attribute = "aff4:target_period"
	PredBlockSize        Attribute = "aff4:blocksize"
	PredMap              Attribute = "aff4:mapIdx"

	PredDirectoryOffset Attribute = "aff4:directory_offset"
)

// Stream types, the closed set named in spec §3.
const (
	TypeSegment        = "segment"
	TypeImage          = "image"
	TypeMap            = "map"
	TypeZipVolume      = "zip-volume"
	TypeDirectoryVolume = "directory-volume"
	TypeLink           = "link"
)

// Statement is a triple (subject, predicate, object) as described in
// spec §3. Multiple statements sharing (Subject, Predicate) are kept in
// insertion order by the resolver.
type Statement struct {
	Subject   URN
	Predicate Attribute
	Object    Value
}
