package jrmp

import (
	rtshare "github.com/sammck-go/rmitap/share"
)

type classEntry struct {
	name        string
	annotations []string
}

// ObjectDescriptor describes a remote object recovered from a ReplyData packet: the
// class chain of the outermost returned object (most derived first), the string
// annotations attached to each class, and where the object itself is exported.
//
// A descriptor is filled in by the decoder and should be treated as read-only afterwards.
type ObjectDescriptor struct {
	// Name is the registry name the object was looked up under
	Name string

	classes  []classEntry
	endpoint rtshare.Endpoint

	// ParseErr is set if decoding stopped early. What was decoded before the
	// error is still available.
	ParseErr error
}

// NewObjectDescriptor creates an empty descriptor
func NewObjectDescriptor(name string) *ObjectDescriptor {
	return &ObjectDescriptor{Name: name}
}

func (o *ObjectDescriptor) classIndex(className string) int {
	for i := range o.classes {
		if o.classes[i].name == className {
			return i
		}
	}
	return -1
}

// AddClass records a class name. Re-adding a class keeps its position but clears
// its annotations.
func (o *ObjectDescriptor) AddClass(className string) {
	if i := o.classIndex(className); i >= 0 {
		o.classes[i].annotations = nil
		return
	}
	o.classes = append(o.classes, classEntry{name: className})
}

// AddClassAnnotation attaches a string annotation to a recorded class. Annotations
// for unknown classes are ignored.
func (o *ObjectDescriptor) AddClassAnnotation(className, annotation string) {
	if i := o.classIndex(className); i >= 0 {
		o.classes[i].annotations = append(o.classes[i].annotations, annotation)
	}
}

// Classes returns the recorded class names, most derived first
func (o *ObjectDescriptor) Classes() []string {
	names := make([]string, len(o.classes))
	for i, c := range o.classes {
		names[i] = c.name
	}
	return names
}

// ClassAnnotations returns the annotations recorded for className
func (o *ObjectDescriptor) ClassAnnotations(className string) []string {
	if i := o.classIndex(className); i >= 0 {
		return append([]string(nil), o.classes[i].annotations...)
	}
	return nil
}

// HasClass reports whether className appears in the class chain
func (o *ObjectDescriptor) HasClass(className string) bool {
	return o.classIndex(className) >= 0
}

// StringAnnotations returns every annotation of every class, in class order
func (o *ObjectDescriptor) StringAnnotations() []string {
	var all []string
	for _, c := range o.classes {
		all = append(all, c.annotations...)
	}
	return all
}

// SetEndpoint records where the object is exported
func (o *ObjectDescriptor) SetEndpoint(ep rtshare.Endpoint) {
	o.endpoint = ep
}

// Endpoint returns the object's export endpoint, if one was found
func (o *ObjectDescriptor) Endpoint() (rtshare.Endpoint, bool) {
	return o.endpoint, o.endpoint.IsValid()
}
