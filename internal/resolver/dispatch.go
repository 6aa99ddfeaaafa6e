package resolver

import (
	"strings"

	"github.com/CarbonWolf/aff4/internal/aff4rdf"
)

// Mode selects how OpenMember/Open materialise a stream.
type Mode int

const (
	ReadMode Mode = iota
	WriteMode
)

// StreamObject is the capability every materialised stream object
// exposes to the resolver: it must be closeable. Concrete stream
// packages (filestream, zipvolume, image, mapstream) satisfy richer
// interfaces (io.ReaderAt, io.WriterAt, ...) on top of this minimum;
// the resolver only needs to manage their lifetime.
type StreamObject interface {
	Close() error
}

// Constructor materialises the stream object named by urn.
type Constructor func(r *Resolver, urn aff4rdf.URN, mode Mode) (StreamObject, error)

// Dispatcher is the registry from a stream's "type" statement (or, for
// the outermost backing file, its URN scheme) to the constructor that
// knows how to build it (spec §4.2's "type dispatcher").
type Dispatcher struct {
	byType   map[string]Constructor
	byScheme map[string]Constructor
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{byType: make(map[string]Constructor), byScheme: make(map[string]Constructor)}
}

// RegisterType binds a "type" statement value (e.g. "image", "map") to
// a constructor.
func (d *Dispatcher) RegisterType(typ string, ctor Constructor) {
	d.byType[typ] = ctor
}

// RegisterScheme binds a URN scheme prefix (e.g. "file") to a
// constructor, used for the outermost file-backed volume which has no
// "type" statement of its own.
func (d *Dispatcher) RegisterScheme(scheme string, ctor Constructor) {
	d.byScheme[scheme] = ctor
}

func (d *Dispatcher) lookup(typ string, urn aff4rdf.URN) (Constructor, bool) {
	if typ != "" {
		if ctor, ok := d.byType[typ]; ok {
			return ctor, true
		}
	}
	if scheme, _, ok := strings.Cut(urn.String(), "://"); ok {
		if ctor, ok := d.byScheme[scheme]; ok {
			return ctor, true
		}
	}
	return nil, false
}
