package jrmp

import (
	"encoding/binary"
	"fmt"

	rtshare "github.com/sammck-go/rmitap/share"
)

// maxDecodeDepth bounds object nesting so hostile input cannot exhaust the stack
const maxDecodeDepth = 512

// DecodeError describes where a ReplyData packet stopped making sense. It
// matches rtshare.ErrInvalidReplyData with errors.Is.
type DecodeError struct {
	Offset int
	Msg    string
	Err    error
}

func (e *DecodeError) Error() string {
	s := fmt.Sprintf("invalid ReplyData at offset %d: %s", e.Offset, e.Msg)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Is makes errors.Is(err, rtshare.ErrInvalidReplyData) true
func (e *DecodeError) Is(target error) bool {
	return target == rtshare.ErrInvalidReplyData
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type fieldDesc struct {
	typeCode  byte
	className string
}

type classDesc struct {
	name        string
	flags       byte
	fields      []fieldDesc
	annotations []string
	interfaces  []string
	proxy       bool
	super       *classDesc
}

type decoder struct {
	data    []byte
	pos     int
	handles []interface{}
	obj     *ObjectDescriptor

	// seenObject is set once the outermost object has begun decoding; only
	// its class chain is recorded
	seenObject bool
}

// DecodeReplyData decodes a captured JRMP ReturnData packet and describes the
// returned object. It never panics or returns an error directly: decode failures
// are stored in ParseErr alongside whatever was recovered before the failure.
func DecodeReplyData(name string, data []byte) *ObjectDescriptor {
	obj := NewObjectDescriptor(name)
	d := &decoder{data: data, obj: obj}
	obj.ParseErr = d.decode()
	return obj
}

func (d *decoder) errorf(f string, args ...interface{}) error {
	return &DecodeError{Offset: d.pos, Msg: fmt.Sprintf(f, args...)}
}

func (d *decoder) need(n int) error {
	if n < 0 || n > len(d.data)-d.pos {
		return d.errorf("truncated data, wanted %d more bytes, have %d", n, len(d.data)-d.pos)
	}
	return nil
}

func (d *decoder) u8() (byte, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) u16() (uint16, error) {
	if err := d.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(d.data[d.pos:])
	d.pos += 2
	return v, nil
}

func (d *decoder) i32() (int32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint32(d.data[d.pos:]))
	d.pos += 4
	return v, nil
}

func (d *decoder) skip(n int) error {
	if err := d.need(n); err != nil {
		return err
	}
	d.pos += n
	return nil
}

func (d *decoder) take(n int) ([]byte, error) {
	if err := d.need(n); err != nil {
		return nil, err
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// utf reads a 2-byte length prefixed string. Bytes are kept as-is.
func (d *decoder) utf() (string, error) {
	n, err := d.u16()
	if err != nil {
		return "", err
	}
	b, err := d.take(int(n))
	return string(b), err
}

func (d *decoder) longUTF() (string, error) {
	if err := d.need(8); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint64(d.data[d.pos:])
	d.pos += 8
	if n > uint64(len(d.data)-d.pos) {
		return "", d.errorf("long string length %d exceeds remaining data", n)
	}
	b, _ := d.take(int(n))
	return string(b), nil
}

func (d *decoder) newHandle(v interface{}) {
	d.handles = append(d.handles, v)
}

func (d *decoder) lookupHandle(h int32) (interface{}, error) {
	idx := int(h) - BaseWireHandle
	if idx < 0 || idx >= len(d.handles) {
		return nil, d.errorf("reference to unknown handle 0x%08x", uint32(h))
	}
	return d.handles[idx], nil
}

func (d *decoder) decode() error {
	b, err := d.u8()
	if err != nil {
		return err
	}
	if b != MsgReturnData {
		d.pos--
		return d.errorf("not a ReturnData packet, got 0x%02x", b)
	}
	magic, err := d.u16()
	if err != nil {
		return err
	}
	if magic != StreamMagic {
		return d.errorf("bad stream magic 0x%04x", magic)
	}
	version, err := d.u16()
	if err != nil {
		return err
	}
	if version != StreamVersion {
		return d.errorf("unsupported stream version 0x%04x", version)
	}

	for d.pos < len(d.data) {
		tag, _ := d.u8()
		switch tag {
		case TCBlockData:
			n, err := d.u8()
			if err != nil {
				return err
			}
			if err := d.skip(int(n)); err != nil {
				return err
			}
		case TCBlockDataLong:
			n, err := d.i32()
			if err != nil {
				return err
			}
			if err := d.skip(int(n)); err != nil {
				return err
			}
		case TCObject:
			if err := d.readNewObject(0); err != nil {
				return err
			}
		case TCReset:
			d.handles = d.handles[:0]
		default:
			d.pos--
			return d.errorf("unexpected top-level element 0x%02x", tag)
		}
	}
	return nil
}

// readNewObject reads an object whose TC_OBJECT tag has been consumed
func (d *decoder) readNewObject(depth int) error {
	if depth > maxDecodeDepth {
		return d.errorf("objects nested too deeply")
	}
	record := !d.seenObject
	d.seenObject = true
	desc, err := d.readClassDesc(record)
	if err != nil {
		return err
	}
	if desc == nil {
		return d.errorf("object with null class descriptor")
	}
	d.newHandle(nil)
	return d.readClassData(desc, depth)
}

// readClassDesc reads one link of a class descriptor chain, and the rest of the
// chain behind it
func (d *decoder) readClassDesc(record bool) (*classDesc, error) {
	tag, err := d.u8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case TCNull:
		return nil, nil
	case TCClassDesc:
		return d.readNewClassDesc(record)
	case TCProxyClassDesc:
		return d.readProxyClassDesc(record)
	case TCReference:
		h, err := d.i32()
		if err != nil {
			return nil, err
		}
		v, err := d.lookupHandle(h)
		if err != nil {
			return nil, err
		}
		cd, ok := v.(*classDesc)
		if !ok {
			return nil, d.errorf("handle 0x%08x is not a class descriptor", uint32(h))
		}
		if record {
			d.recordChain(cd)
		}
		return cd, nil
	}
	d.pos--
	return nil, d.errorf("unknown class descriptor element 0x%02x", tag)
}

func (d *decoder) readNewClassDesc(record bool) (*classDesc, error) {
	name, err := d.utf()
	if err != nil {
		return nil, err
	}
	// serialVersionUID
	if err := d.skip(8); err != nil {
		return nil, err
	}
	cd := &classDesc{name: name}
	d.newHandle(cd)
	if record {
		d.obj.AddClass(name)
	}

	if cd.flags, err = d.u8(); err != nil {
		return nil, err
	}
	count, err := d.u16()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(count); i++ {
		typeCode, err := d.u8()
		if err != nil {
			return nil, err
		}
		// field name is not needed
		if _, err := d.utf(); err != nil {
			return nil, err
		}
		f := fieldDesc{typeCode: typeCode}
		switch {
		case typeCode == 'L' || typeCode == '[':
			if f.className, err = d.readStringElement(); err != nil {
				return nil, err
			}
		case primitiveWidth(typeCode) == 0:
			return nil, d.errorf("unknown field type code 0x%02x in class %s", typeCode, name)
		}
		cd.fields = append(cd.fields, f)
	}

	if cd.annotations, err = d.readClassAnnotations(); err != nil {
		return nil, err
	}
	if record {
		for _, a := range cd.annotations {
			d.obj.AddClassAnnotation(name, a)
		}
	}

	if cd.super, err = d.readClassDesc(record); err != nil {
		return nil, err
	}
	return cd, nil
}

func (d *decoder) readProxyClassDesc(record bool) (*classDesc, error) {
	cd := &classDesc{proxy: true}
	d.newHandle(cd)
	count, err := d.i32()
	if err != nil {
		return nil, err
	}
	if count < 0 || int(count) > (len(d.data)-d.pos)/2 {
		return nil, d.errorf("bad proxy interface count %d", count)
	}
	for i := 0; i < int(count); i++ {
		iface, err := d.utf()
		if err != nil {
			return nil, err
		}
		cd.interfaces = append(cd.interfaces, iface)
		if record {
			d.obj.AddClass(iface)
		}
	}
	if cd.annotations, err = d.readClassAnnotations(); err != nil {
		return nil, err
	}
	if record && len(cd.interfaces) > 0 {
		for _, a := range cd.annotations {
			d.obj.AddClassAnnotation(cd.interfaces[0], a)
		}
	}
	if cd.super, err = d.readClassDesc(record); err != nil {
		return nil, err
	}
	return cd, nil
}

// recordChain records a class chain that was introduced earlier in the stream
func (d *decoder) recordChain(cd *classDesc) {
	for ; cd != nil; cd = cd.super {
		if cd.proxy {
			for _, iface := range cd.interfaces {
				d.obj.AddClass(iface)
			}
			if len(cd.interfaces) > 0 {
				for _, a := range cd.annotations {
					d.obj.AddClassAnnotation(cd.interfaces[0], a)
				}
			}
			continue
		}
		d.obj.AddClass(cd.name)
		for _, a := range cd.annotations {
			d.obj.AddClassAnnotation(cd.name, a)
		}
	}
}

// readStringElement reads a string, long string or a back-reference to one
func (d *decoder) readStringElement() (string, error) {
	tag, err := d.u8()
	if err != nil {
		return "", err
	}
	switch tag {
	case TCString, TCLongString:
		var s string
		if tag == TCString {
			s, err = d.utf()
		} else {
			s, err = d.longUTF()
		}
		if err != nil {
			return "", err
		}
		d.newHandle(s)
		return s, nil
	case TCReference:
		h, err := d.i32()
		if err != nil {
			return "", err
		}
		v, err := d.lookupHandle(h)
		if err != nil {
			return "", err
		}
		s, _ := v.(string)
		return s, nil
	}
	d.pos--
	return "", d.errorf("expected a string element, got 0x%02x", tag)
}

// readClassAnnotations reads annotateClass output up to TC_ENDBLOCKDATA and returns
// the strings it contains. Back-referenced strings are skipped.
func (d *decoder) readClassAnnotations() ([]string, error) {
	var annotations []string
	for {
		tag, err := d.u8()
		if err != nil {
			return nil, err
		}
		switch tag {
		case TCEndBlockData:
			return annotations, nil
		case TCString, TCLongString:
			d.pos--
			s, err := d.readStringElement()
			if err != nil {
				return nil, err
			}
			annotations = append(annotations, s)
		case TCReference:
			if err := d.skip(4); err != nil {
				return nil, err
			}
		case TCNull:
		case TCBlockData:
			n, err := d.u8()
			if err != nil {
				return nil, err
			}
			if err := d.skip(int(n)); err != nil {
				return nil, err
			}
		default:
			d.pos--
			return nil, d.errorf("unknown classAnnotation element type 0x%02x", tag)
		}
	}
}

// readClassData reads the serialized field values of an object, most super class first
func (d *decoder) readClassData(desc *classDesc, depth int) error {
	var chain []*classDesc
	for c := desc; c != nil; c = c.super {
		chain = append(chain, c)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		c := chain[i]
		if c.proxy {
			continue
		}
		if c.flags&SCExternalizable != 0 {
			return d.errorf("externalizable class %s has class-specific data", c.name)
		}
		if c.flags&SCSerializable == 0 {
			continue
		}
		for _, f := range c.fields {
			if w := primitiveWidth(f.typeCode); w > 0 {
				if err := d.skip(w); err != nil {
					return err
				}
				continue
			}
			if err := d.readContent(depth + 1); err != nil {
				return err
			}
		}
		if c.flags&SCWriteMethod != 0 {
			if err := d.readObjectAnnotation(depth); err != nil {
				return err
			}
		}
	}
	return nil
}

// readContent reads one object-valued element: a field value, an array element or
// an object written by a custom writeObject method
func (d *decoder) readContent(depth int) error {
	if depth > maxDecodeDepth {
		return d.errorf("objects nested too deeply")
	}
	tag, err := d.u8()
	if err != nil {
		return err
	}
	switch tag {
	case TCNull:
		return nil
	case TCObject:
		return d.readNewObject(depth)
	case TCString, TCLongString, TCReference:
		d.pos--
		_, err := d.readStringElement()
		return err
	case TCArray:
		return d.readNewArray(depth)
	case TCEnum:
		if _, err := d.readClassDesc(false); err != nil {
			return err
		}
		d.newHandle(nil)
		_, err := d.readStringElement()
		return err
	case TCClass:
		if _, err := d.readClassDesc(false); err != nil {
			return err
		}
		d.newHandle(nil)
		return nil
	}
	d.pos--
	return d.errorf("unknown object element type 0x%02x", tag)
}

func (d *decoder) readNewArray(depth int) error {
	cd, err := d.readClassDesc(false)
	if err != nil {
		return err
	}
	if cd == nil || len(cd.name) < 2 || cd.name[0] != '[' {
		return d.errorf("array with a non-array class descriptor")
	}
	d.newHandle(nil)
	size, err := d.i32()
	if err != nil {
		return err
	}
	if size < 0 {
		return d.errorf("negative array size %d", size)
	}
	elem := cd.name[1]
	if w := primitiveWidth(elem); w > 0 {
		if int64(size)*int64(w) > int64(len(d.data)-d.pos) {
			return d.errorf("array of %d elements exceeds remaining data", size)
		}
		return d.skip(int(size) * w)
	}
	if elem != 'L' && elem != '[' {
		return d.errorf("unknown array element type %q", elem)
	}
	if int(size) > len(d.data)-d.pos {
		return d.errorf("array of %d elements exceeds remaining data", size)
	}
	for i := 0; i < int(size); i++ {
		if err := d.readContent(depth + 1); err != nil {
			return err
		}
	}
	return nil
}

// readObjectAnnotation reads custom writeObject output up to TC_ENDBLOCKDATA,
// looking for the block in which a remote reference names its endpoint
func (d *decoder) readObjectAnnotation(depth int) error {
	for {
		tag, err := d.u8()
		if err != nil {
			return err
		}
		switch tag {
		case TCEndBlockData:
			return nil
		case TCBlockData, TCBlockDataLong:
			var n int
			if tag == TCBlockData {
				b, err := d.u8()
				if err != nil {
					return err
				}
				n = int(b)
			} else {
				l, err := d.i32()
				if err != nil {
					return err
				}
				n = int(l)
			}
			start := d.pos
			block, err := d.take(n)
			if err != nil {
				return err
			}
			if err := d.extractEndpoint(block, start); err != nil {
				return err
			}
		default:
			d.pos--
			if err := d.readContent(depth + 1); err != nil {
				return err
			}
		}
	}
}

// extractEndpoint records the endpoint of a UnicastRef or UnicastRef2 written at the
// start of block. Blocks that do not start with either type name are ignored.
func (d *decoder) extractEndpoint(block []byte, offset int) error {
	if len(block) < 2 {
		return nil
	}
	var want string
	switch binary.BigEndian.Uint16(block) {
	case uint16(len(UnicastRefName)):
		want = UnicastRefName
	case uint16(len(UnicastRef2Name)):
		want = UnicastRef2Name
	default:
		return nil
	}
	sub := &decoder{data: block}
	name, err := sub.utf()
	if err != nil || name != want {
		return nil
	}
	if want == UnicastRef2Name {
		if err := sub.skip(1); err != nil {
			return d.blockError(offset, err)
		}
	}
	host, err := sub.utf()
	if err != nil {
		return d.blockError(offset, err)
	}
	port, err := sub.i32()
	if err != nil {
		return d.blockError(offset, err)
	}
	ep, err := rtshare.NewEndpoint(host, int(port))
	if err != nil {
		return &DecodeError{Offset: offset + sub.pos - 4, Msg: want + " contained an invalid port number", Err: err}
	}
	d.obj.SetEndpoint(ep)
	return nil
}

func (d *decoder) blockError(offset int, err error) error {
	if de, ok := err.(*DecodeError); ok {
		return &DecodeError{Offset: offset + de.Offset, Msg: "remote reference: " + de.Msg}
	}
	return err
}
