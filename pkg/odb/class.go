package odb

import (
	"fmt"
	"strings"

	"github.com/stratumdb/stratum/pkg/ref"
)

// Source tags where a class definition came from.
type Source int

const (
	// SystemClass marks the pre-baked $Class and $Namer definitions.
	SystemClass Source = iota
	// UserClass marks classes defined through a ClassCreator.
	UserClass
)

// Field type codes.
const (
	// TypeString is an inline UTF string field.
	TypeString = "[S"
	// TypeData is an external data blob field.
	TypeData = "[D"
	// TypeClass is a reference to a class.
	TypeClass = "$Class"

	listTypePrefix = "[L<"
)

// Field is one field of a class schema: a name, a type code and whether the
// field admits in-place replacement within its containing object.
type Field struct {
	Name    string
	Type    string
	Mutable bool
}

// Class is an immutable class definition. Once defined, the name, field
// schema and reference never change.
type Class struct {
	name   string
	fields []Field
	ref    ref.Ref
	source Source
}

// Name returns the class name.
func (c *Class) Name() string { return c.name }

// Ref returns the class reference.
func (c *Class) Ref() ref.Ref { return c.ref }

// Source reports whether the class is system or user defined.
func (c *Class) Source() Source { return c.source }

// FieldCount returns the number of fields.
func (c *Class) FieldCount() int { return len(c.fields) }

// Field returns field i.
func (c *Class) Field(i int) Field { return c.fields[i] }

// FieldIndex returns the index of the named field, or -1.
func (c *Class) FieldIndex(name string) int {
	for i, f := range c.fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Serialization returns the line-delimited field schema: one
// "name type mutable" triplet per field.
func (c *Class) Serialization() string {
	var sb strings.Builder
	for _, f := range c.fields {
		fmt.Fprintf(&sb, "%s %s %t\n", f.Name, f.Type, f.Mutable)
	}
	return sb.String()
}

// parseClassFields parses the serialization form back into a field schema.
func parseClassFields(serialization string) ([]Field, error) {
	var fields []Field
	for _, line := range strings.Split(serialization, "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, " ")
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed field line %q", line)
		}
		fields = append(fields, Field{
			Name:    parts[0],
			Type:    parts[1],
			Mutable: parts[2] == "true",
		})
	}
	return fields, nil
}

// systemClasses returns the pre-baked $Class and $Namer definitions.
func systemClasses() map[ref.Ref]*Class {
	return map[ref.Ref]*Class{
		ClassClassRef: {
			name: "$Class",
			fields: []Field{
				{Name: "name", Type: TypeString},
				{Name: "serialization", Type: TypeString},
			},
			ref:    ClassClassRef,
			source: SystemClass,
		},
		NamerClassRef: {
			name: "$Namer",
			fields: []Field{
				{Name: "name", Type: TypeString},
				{Name: "class_ref", Type: TypeString},
				{Name: "ref", Type: TypeString},
			},
			ref:    NamerClassRef,
			source: SystemClass,
		},
	}
}

// listSpec is a parsed ordered-reference-list type: the element class, the
// duplicate policy and the order.
type listSpec struct {
	ElementName string
	ElementRef  ref.Ref // Nil while unresolved
	AllowDups   bool
	KeyField    string // empty means ordered by reference value
	Collator    string
	Descending  bool
}

// byKey reports whether the list is ordered by a string field of the
// referenced objects rather than by reference value.
func (s listSpec) byKey() bool {
	return s.KeyField != ""
}

// typeString renders the list type code, with the element reference when
// resolved.
func (s listSpec) typeString() string {
	elem := s.ElementName
	if !s.ElementRef.IsNil() {
		elem = s.ElementName + "#" + s.ElementRef.String()
	}
	var sb strings.Builder
	sb.WriteString(listTypePrefix)
	sb.WriteString(elem)
	sb.WriteString(">(")
	if s.AllowDups {
		sb.WriteString("duplicates")
	} else {
		sb.WriteString("unique")
	}
	if s.byKey() {
		sb.WriteByte(',')
		sb.WriteString(s.KeyField)
		sb.WriteByte(',')
		if s.Descending {
			sb.WriteByte('-')
		}
		sb.WriteString(s.Collator)
	}
	sb.WriteByte(')')
	return sb.String()
}

// isListType reports whether a field type code is an ordered reference list.
func isListType(t string) bool {
	return strings.HasPrefix(t, listTypePrefix)
}

// parseListType parses a list type code of the form
// [L<Element[#ref]>(unique|duplicates[,keyField,[-]collator]).
func parseListType(t string) (listSpec, error) {
	var spec listSpec
	if !isListType(t) {
		return spec, fmt.Errorf("not a list type: %q", t)
	}
	rest := t[len(listTypePrefix):]
	elem, rest, ok := strings.Cut(rest, ">(")
	if !ok || !strings.HasSuffix(rest, ")") {
		return spec, fmt.Errorf("malformed list type %q", t)
	}
	name, refPart, hasRef := strings.Cut(elem, "#")
	spec.ElementName = name
	if hasRef {
		r, err := ref.Parse(refPart)
		if err != nil {
			return spec, fmt.Errorf("malformed list type %q: %w", t, err)
		}
		spec.ElementRef = r
	}
	args := strings.Split(strings.TrimSuffix(rest, ")"), ",")
	switch args[0] {
	case "duplicates":
		spec.AllowDups = true
	case "unique":
	default:
		return spec, fmt.Errorf("malformed list type %q: unknown policy %q", t, args[0])
	}
	switch len(args) {
	case 1:
	case 3:
		spec.KeyField = args[1]
		collator := args[2]
		if strings.HasPrefix(collator, "-") {
			spec.Descending = true
			collator = collator[1:]
		}
		spec.Collator = collator
	default:
		return spec, fmt.Errorf("malformed list type %q", t)
	}
	return spec, nil
}

// refTypeTarget extracts the class reference of an object reference field
// type Name#<32-hex>. ok is false for non-reference types or the
// unresolved bare-name form.
func refTypeTarget(t string) (ref.Ref, bool) {
	_, hexPart, found := strings.Cut(t, "#")
	if !found {
		return ref.Nil, false
	}
	r, err := ref.Parse(hexPart)
	if err != nil {
		return ref.Nil, false
	}
	return r, true
}

// isInlineType reports whether t is one of the built-in non-reference
// type codes.
func isInlineType(t string) bool {
	return t == TypeString || t == TypeData || t == TypeClass
}
