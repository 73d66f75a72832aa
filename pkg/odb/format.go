package odb

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/stratumdb/stratum/pkg/ref"
)

// appendUTF appends the length-prefixed UTF-8 form of s: a 2-byte
// big-endian length followed by the bytes.
func appendUTF(b []byte, s string) []byte {
	if len(s) > 0xffff {
		// Field strings are bounded by the 2-byte length prefix. Callers
		// validate before encoding; truncation here would corrupt records.
		panic(fmt.Sprintf("string of %d bytes exceeds the UTF record limit", len(s)))
	}
	b = binary.BigEndian.AppendUint16(b, uint16(len(s)))
	return append(b, s...)
}

// readUTF decodes a length-prefixed UTF-8 string at off and returns it with
// the offset past it.
func readUTF(b []byte, off int) (string, int, error) {
	if off+2 > len(b) {
		return "", 0, fmt.Errorf("truncated record: no UTF length at offset %d", off)
	}
	n := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if off+n > len(b) {
		return "", 0, fmt.Errorf("truncated record: UTF of %d bytes at offset %d", n, off)
	}
	return string(b[off : off+n]), off + n, nil
}

// utfOK reports whether s fits a length-prefixed UTF record.
func utfOK(s string) bool {
	return len(s) <= 0xffff
}

// parseProperties decodes a property file: sorted "key=value" lines.
func parseProperties(b []byte) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if ok {
			props[k] = v
		}
	}
	return props
}

// encodeProperties encodes a property map as sorted "key=value" lines.
func encodeProperties(props map[string]string) []byte {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(props[k])
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}

// Field value tags in a serialized object record.
const (
	tagNull   byte = 0
	tagString byte = 1
	tagRef    byte = 2
)

// fieldValue is one field slot of an object instance: null, an inline
// string, or a reference.
type fieldValue struct {
	tag byte
	str string
	ref ref.Ref
}

func nullValue() fieldValue {
	return fieldValue{tag: tagNull}
}

func stringValue(s string) fieldValue {
	return fieldValue{tag: tagString, str: s}
}

func refValue(r ref.Ref) fieldValue {
	return fieldValue{tag: tagRef, ref: r}
}

// encodeObject serializes an object record: the 16-byte reference header
// followed by one tagged value per field.
func encodeObject(r ref.Ref, values []fieldValue) []byte {
	b := make([]byte, 0, ref.Size+len(values)*(1+ref.Size))
	b = append(b, r.Bytes()...)
	for _, v := range values {
		b = append(b, v.tag)
		switch v.tag {
		case tagString:
			b = appendUTF(b, v.str)
		case tagRef:
			b = append(b, v.ref.Bytes()...)
		}
	}
	return b
}

// decodeObject parses a serialized object record.
func decodeObject(b []byte) (ref.Ref, []fieldValue, error) {
	if len(b) < ref.Size {
		return ref.Nil, nil, fmt.Errorf("truncated object record of %d bytes", len(b))
	}
	r := ref.FromBytes(b)
	var values []fieldValue
	off := ref.Size
	for off < len(b) {
		tag := b[off]
		off++
		switch tag {
		case tagNull:
			values = append(values, nullValue())
		case tagString:
			s, next, err := readUTF(b, off)
			if err != nil {
				return ref.Nil, nil, err
			}
			values = append(values, stringValue(s))
			off = next
		case tagRef:
			if off+ref.Size > len(b) {
				return ref.Nil, nil, fmt.Errorf("truncated reference at offset %d", off)
			}
			values = append(values, refValue(ref.FromBytes(b[off:])))
			off += ref.Size
		default:
			return ref.Nil, nil, fmt.Errorf("unknown field tag 0x%02x at offset %d", tag, off-1)
		}
	}
	return r, values, nil
}
