package tlv

import (
	"encoding/binary"
	"io"
	"math"
	"unicode/utf8"
)

// Reader pulls TLV elements off an io.Reader one at a time. Call Next to
// advance to an element, then one of the typed accessors (Int, Uint, Bool,
// ...) to consume its value; calling Next again (or EnterContainer/Skip)
// discards an unread value automatically.
type Reader struct {
	src io.Reader

	// nesting records the container type (structure/array/list) at each
	// depth so ExitContainer knows what it's closing.
	nesting []ElementType

	// cur describes the element Next most recently positioned on.
	cur        bool // an element is currently positioned
	curType    ElementType
	curTag     Tag
	consumed   bool // the value for cur has been read or explicitly skipped

	// fixed holds the raw bytes of a fixed-width value (int/float); strLen
	// holds the byte length of a pending string/bytes value, read lazily.
	fixed  [8]byte
	fixedN int
	strLen uint64
}

// NewReader creates a Reader pulling TLV elements from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{src: r}
}

// Next advances to the following TLV element, discarding the previous
// element's value if the caller never read it. Returns io.EOF once the
// underlying stream is exhausted.
func (r *Reader) Next() error {
	if r.cur && !r.consumed {
		if err := r.discardValue(); err != nil {
			return err
		}
	}

	var octet [1]byte
	if _, err := io.ReadFull(r.src, octet[:]); err != nil {
		return err
	}

	elemType, tagCtrl := ParseControlOctet(octet[0])
	if elemType > ElementTypeEnd {
		return ErrInvalidElementType
	}

	tag, err := ReadTag(r.src, tagCtrl)
	if err != nil {
		return err
	}

	r.curType = elemType
	r.curTag = tag
	if err := r.primeValue(); err != nil {
		return err
	}

	r.cur = true
	r.consumed = false
	return nil
}

// primeValue reads a fixed-size value into fixed, or a length prefix into
// strLen for string/bytes elements; containers and valueless elements
// (bool, null, end-of-container) carry nothing to prime.
func (r *Reader) primeValue() error {
	switch {
	case r.curType.IsInt() || r.curType.IsFloat():
		r.fixedN = r.curType.ValueSize()
		if r.fixedN > 0 {
			if _, err := io.ReadFull(r.src, r.fixed[:r.fixedN]); err != nil {
				return err
			}
		}
		return nil

	case r.curType.IsString():
		lenSize := r.curType.LengthFieldSize()
		var lenBuf [8]byte
		if _, err := io.ReadFull(r.src, lenBuf[:lenSize]); err != nil {
			return err
		}
		r.strLen = decodeLengthField(lenBuf[:lenSize])
		return nil

	default:
		r.fixedN = 0
		r.strLen = 0
		return nil
	}
}

func decodeLengthField(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	default:
		return 0
	}
}

// Type reports the element type Next most recently positioned on.
func (r *Reader) Type() ElementType { return r.curType }

// Tag reports the tag of the current element.
func (r *Reader) Tag() Tag { return r.curTag }

// HasElement reports whether the reader is currently positioned on an element.
func (r *Reader) HasElement() bool { return r.cur }

// ready validates that an element is present, unread, and of an expected
// shape, marking it consumed on success. Every typed accessor below is a
// thin wrapper around this plus the actual value decode.
func (r *Reader) ready(accepts func(ElementType) bool, mismatch error) error {
	if !r.cur {
		return ErrNoElement
	}
	if r.consumed {
		return ErrValueAlreadyRead
	}
	if !accepts(r.curType) {
		return mismatch
	}
	r.consumed = true
	return nil
}

// Int reads the current element as a signed integer.
func (r *Reader) Int() (int64, error) {
	if err := r.ready(ElementType.IsSignedInt, ErrTypeMismatch); err != nil {
		return 0, err
	}
	switch r.curType {
	case ElementTypeInt8:
		return int64(int8(r.fixed[0])), nil
	case ElementTypeInt16:
		return int64(int16(binary.LittleEndian.Uint16(r.fixed[:2]))), nil
	case ElementTypeInt32:
		return int64(int32(binary.LittleEndian.Uint32(r.fixed[:4]))), nil
	case ElementTypeInt64:
		return int64(binary.LittleEndian.Uint64(r.fixed[:8])), nil
	}
	return 0, ErrTypeMismatch
}

// Uint reads the current element as an unsigned integer.
func (r *Reader) Uint() (uint64, error) {
	if err := r.ready(ElementType.IsUnsignedInt, ErrTypeMismatch); err != nil {
		return 0, err
	}
	switch r.curType {
	case ElementTypeUInt8:
		return uint64(r.fixed[0]), nil
	case ElementTypeUInt16:
		return uint64(binary.LittleEndian.Uint16(r.fixed[:2])), nil
	case ElementTypeUInt32:
		return uint64(binary.LittleEndian.Uint32(r.fixed[:4])), nil
	case ElementTypeUInt64:
		return binary.LittleEndian.Uint64(r.fixed[:8]), nil
	}
	return 0, ErrTypeMismatch
}

// Bool reads the current element as a boolean.
func (r *Reader) Bool() (bool, error) {
	if err := r.ready(ElementType.IsBool, ErrTypeMismatch); err != nil {
		return false, err
	}
	return r.curType == ElementTypeTrue, nil
}

// Float32 reads the current element as a 32-bit float.
func (r *Reader) Float32() (float32, error) {
	if err := r.ready(func(t ElementType) bool { return t == ElementTypeFloat32 }, ErrTypeMismatch); err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(r.fixed[:4])), nil
}

// Float64 reads the current element as a 64-bit float.
func (r *Reader) Float64() (float64, error) {
	if err := r.ready(func(t ElementType) bool { return t == ElementTypeFloat64 }, ErrTypeMismatch); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(r.fixed[:8])), nil
}

// String reads the current element as a UTF-8 string.
func (r *Reader) String() (string, error) {
	if err := r.ready(ElementType.IsUTF8String, ErrTypeMismatch); err != nil {
		return "", err
	}
	if r.strLen == 0 {
		return "", nil
	}
	data := make([]byte, r.strLen)
	if _, err := io.ReadFull(r.src, data); err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", ErrInvalidUTF8
	}
	return string(data), nil
}

// Bytes reads the current element as an opaque byte string.
func (r *Reader) Bytes() ([]byte, error) {
	if err := r.ready(ElementType.IsBytes, ErrTypeMismatch); err != nil {
		return nil, err
	}
	if r.strLen == 0 {
		return nil, nil
	}
	data := make([]byte, r.strLen)
	if _, err := io.ReadFull(r.src, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Null confirms the current element is a null value.
func (r *Reader) Null() error {
	return r.ready(func(t ElementType) bool { return t == ElementTypeNull }, ErrTypeMismatch)
}

// EnterContainer descends into the current structure, array, or list.
func (r *Reader) EnterContainer() error {
	if !r.cur {
		return ErrNoElement
	}
	if !r.curType.IsContainer() {
		return ErrTypeMismatch
	}
	r.nesting = append(r.nesting, r.curType)
	r.cur = false
	r.consumed = true
	return nil
}

// ExitContainer returns to the enclosing container, consuming any elements
// of the current one the caller didn't read itself.
func (r *Reader) ExitContainer() error {
	if len(r.nesting) == 0 {
		return ErrNotInContainer
	}

	if r.cur && r.curType == ElementTypeEnd {
		r.nesting = r.nesting[:len(r.nesting)-1]
		r.cur = false
		return nil
	}

	for depth := 1; depth > 0; {
		if err := r.Next(); err != nil {
			return err
		}
		switch {
		case r.curType == ElementTypeEnd:
			depth--
		case r.curType.IsContainer():
			depth++
		}
	}

	r.nesting = r.nesting[:len(r.nesting)-1]
	r.cur = false
	return nil
}

// ContainerDepth reports the current container nesting depth.
func (r *Reader) ContainerDepth() int { return len(r.nesting) }

// IsEndOfContainer reports whether the current element is an
// end-of-container marker.
func (r *Reader) IsEndOfContainer() bool { return r.cur && r.curType == ElementTypeEnd }

// Skip discards the current element, descending into and past any nested
// content if it's a container.
func (r *Reader) Skip() error {
	if !r.cur {
		return ErrNoElement
	}
	if r.curType.IsContainer() {
		if err := r.EnterContainer(); err != nil {
			return err
		}
		return r.ExitContainer()
	}
	return r.discardValue()
}

// discardValue consumes the current element's value without interpreting it.
func (r *Reader) discardValue() error {
	if r.consumed {
		return nil
	}
	r.consumed = true

	if r.curType.IsString() && r.strLen > 0 {
		_, err := io.CopyN(io.Discard, r.src, int64(r.strLen))
		return err
	}
	return nil
}

// RawBytes returns the current element re-encoded verbatim — control octet,
// tag, and value — so it can be re-tagged and re-emitted via PutRaw without
// the caller needing to understand its contents.
func (r *Reader) RawBytes() ([]byte, error) {
	if !r.cur {
		return nil, ErrNoElement
	}

	out := []byte{BuildControlOctet(r.curType, r.curTag.Control())}

	tagBytes, err := encodeTag(r.curTag)
	if err != nil {
		return nil, err
	}
	out = append(out, tagBytes...)

	switch {
	case r.curType.IsContainer():
		return r.rawContainerBytes(out)
	case r.curType.IsString():
		return r.rawStringBytes(out)
	default:
		out = append(out, r.fixed[:r.fixedN]...)
		r.consumed = true
		return out, nil
	}
}

func (r *Reader) rawContainerBytes(out []byte) ([]byte, error) {
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}

	for {
		if err := r.Next(); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if r.IsEndOfContainer() {
			break
		}
		nested, err := r.RawBytes()
		if err != nil {
			return nil, err
		}
		out = append(out, nested...)
	}

	if err := r.ExitContainer(); err != nil {
		return nil, err
	}
	return append(out, byte(ElementTypeEnd)), nil
}

func (r *Reader) rawStringBytes(out []byte) ([]byte, error) {
	out = append(out, encodeLengthField(r.strLen, r.curType.LengthFieldSize())...)
	if r.strLen > 0 {
		data := make([]byte, r.strLen)
		if _, err := io.ReadFull(r.src, data); err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	r.consumed = true
	return out, nil
}

// encodeTag serializes a tag according to its control nibble.
func encodeTag(tag Tag) ([]byte, error) {
	switch tag.Control() {
	case TagControlAnonymous:
		return nil, nil
	case TagControlContext:
		return []byte{byte(tag.TagNumber())}, nil
	case TagControlCommonProfile2, TagControlImplicitProfile2:
		return []byte{byte(tag.TagNumber()), byte(tag.TagNumber() >> 8)}, nil
	case TagControlCommonProfile4, TagControlImplicitProfile4:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, tag.TagNumber())
		return b, nil
	case TagControlFullyQualified6:
		b := make([]byte, 6)
		binary.LittleEndian.PutUint16(b[0:], uint16(tag.VendorID()))
		binary.LittleEndian.PutUint16(b[2:], uint16(tag.ProfileNumber()))
		binary.LittleEndian.PutUint16(b[4:], uint16(tag.TagNumber()))
		return b, nil
	case TagControlFullyQualified8:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint16(b[0:], uint16(tag.VendorID()))
		binary.LittleEndian.PutUint16(b[2:], uint16(tag.ProfileNumber()))
		binary.LittleEndian.PutUint32(b[4:], tag.TagNumber())
		return b, nil
	default:
		return nil, ErrInvalidTagControl
	}
}

// encodeLengthField serializes length in a field of the given byte width.
func encodeLengthField(length uint64, fieldSize int) []byte {
	b := make([]byte, fieldSize)
	switch fieldSize {
	case 1:
		b[0] = byte(length)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(length))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(length))
	case 8:
		binary.LittleEndian.PutUint64(b, length)
	}
	return b
}
