package jrmp

import (
	"regexp"
	"strings"

	rtshare "github.com/sammck-go/rmitap/share"
)

// EndpointDescriptor collects what one enumeration pass learned about a target
type EndpointDescriptor struct {
	Endpoint rtshare.Endpoint

	// RMI is set once the target answered as a JRMP endpoint
	RMI bool

	// Registry is set if the target behaved like an RMI registry
	Registry bool

	// RemotelyModifiable is set if bind/rebind/unbind calls were accepted from a
	// non-local address
	RemotelyModifiable bool

	// Objects are the objects exposed by the registry
	Objects []*ObjectDescriptor

	// EnumErr holds the error that cut the enumeration short, if any
	EnumErr error
}

// NewEndpointDescriptor creates a descriptor for ep with no findings
func NewEndpointDescriptor(ep rtshare.Endpoint) *EndpointDescriptor {
	return &EndpointDescriptor{Endpoint: ep}
}

// AddObject appends an exposed object
func (d *EndpointDescriptor) AddObject(obj *ObjectDescriptor) {
	d.Objects = append(d.Objects, obj)
}

// IsRegistry reports whether the endpoint is an RMI registry
func (d *EndpointDescriptor) IsRegistry() bool {
	return d.RMI && d.Registry
}

// IsObjectEndpoint reports whether the endpoint is an RMI object endpoint rather than a registry
func (d *EndpointDescriptor) IsObjectEndpoint() bool {
	return d.RMI && !d.Registry
}

// HasClass reports whether any exposed object has className in its class chain
func (d *EndpointDescriptor) HasClass(className string) bool {
	return d.FindObjectWithClass(className) != nil
}

// FindObjectWithClass returns the first exposed object with className in its class chain
func (d *EndpointDescriptor) FindObjectWithClass(className string) *ObjectDescriptor {
	for _, obj := range d.Objects {
		if obj.HasClass(className) {
			return obj
		}
	}
	return nil
}

var (
	annotationSplitter = regexp.MustCompile(`[ ;:]`)
	pathSplitter       = regexp.MustCompile(`[\\/]`)
)

// HasJar reports whether any class annotation (typically a codebase URL list) names
// a file called jarName. The comparison is case-insensitive.
func (d *EndpointDescriptor) HasJar(jarName string) bool {
	if jarName == "" {
		return false
	}
	for _, obj := range d.Objects {
		for _, annotation := range obj.StringAnnotations() {
			for _, item := range annotationSplitter.Split(annotation, -1) {
				parts := pathSplitter.Split(item, -1)
				if strings.EqualFold(parts[len(parts)-1], jarName) {
					return true
				}
			}
		}
	}
	return false
}
