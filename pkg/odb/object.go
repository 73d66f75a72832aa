package odb

import (
	"fmt"

	"github.com/stratumdb/stratum/pkg/ref"
)

// Object is a handle on one instance loaded in a transaction. It holds the
// decoded field values; setters rewrite the full serialized record in the
// class bucket and journal the change. An object must not outlive its
// transaction.
type Object struct {
	tx     *Transaction
	class  *Class
	ref    ref.Ref
	values []fieldValue
}

// Ref returns the object's reference.
func (o *Object) Ref() ref.Ref { return o.ref }

// Class returns the object's class.
func (o *Object) Class() *Class { return o.class }

func (o *Object) fieldIndex(name string) (int, error) {
	i := o.class.FieldIndex(name)
	if i < 0 {
		return 0, typeMismatchf("class %s has no field %q", o.class.Name(), name)
	}
	return i, nil
}

// IsNull reports whether the named field holds no value.
func (o *Object) IsNull(field string) (bool, error) {
	i, err := o.fieldIndex(field)
	if err != nil {
		return false, err
	}
	return o.values[i].tag == tagNull, nil
}

// GetString reads an inline string field. A null field reads as the empty
// string with no error.
func (o *Object) GetString(field string) (string, error) {
	i, err := o.fieldIndex(field)
	if err != nil {
		return "", err
	}
	switch o.values[i].tag {
	case tagNull:
		return "", nil
	case tagString:
		return o.values[i].str, nil
	}
	return "", typeMismatchf("field %s.%s does not hold a string", o.class.Name(), field)
}

// GetRef reads a reference-valued field (object, class, data or list).
// A null field reads as the nil reference.
func (o *Object) GetRef(field string) (ref.Ref, error) {
	i, err := o.fieldIndex(field)
	if err != nil {
		return ref.Nil, err
	}
	switch o.values[i].tag {
	case tagNull:
		return ref.Nil, nil
	case tagRef:
		return o.values[i].ref, nil
	}
	return ref.Nil, typeMismatchf("field %s.%s does not hold a reference", o.class.Name(), field)
}

// GetObject resolves an object-reference field to its instance.
func (o *Object) GetObject(field string) (*Object, error) {
	i, err := o.fieldIndex(field)
	if err != nil {
		return nil, err
	}
	f := o.class.Field(i)
	target, ok := refTypeTarget(f.Type)
	if !ok {
		return nil, typeMismatchf("field %s.%s is not an object reference", o.class.Name(), field)
	}
	if o.values[i].tag != tagRef {
		return nil, fmt.Errorf("field %s.%s is null: %w", o.class.Name(), field, ErrNoSuchReference)
	}
	class, err := o.tx.classFor(target)
	if err != nil {
		return nil, err
	}
	return o.tx.GetObject(class, o.values[i].ref)
}

// SetString replaces the value of a mutable string field.
func (o *Object) SetString(field, value string) error {
	i, err := o.setter(field)
	if err != nil {
		return err
	}
	if o.class.Field(i).Type != TypeString {
		return typeMismatchf("field %s.%s wants a string", o.class.Name(), field)
	}
	if !utfOK(value) {
		return typeMismatchf("string for %s.%s exceeds the record limit", o.class.Name(), field)
	}
	return o.store(i, stringValue(value))
}

// SetNull clears a mutable field.
func (o *Object) SetNull(field string) error {
	i, err := o.setter(field)
	if err != nil {
		return err
	}
	return o.store(i, nullValue())
}

// SetObject replaces the value of a mutable object-reference field.
func (o *Object) SetObject(field string, v *Object) error {
	i, err := o.setter(field)
	if err != nil {
		return err
	}
	f := o.class.Field(i)
	target, ok := refTypeTarget(f.Type)
	if !ok {
		return typeMismatchf("field %s.%s is not an object reference", o.class.Name(), field)
	}
	if v.Class().Ref() != target {
		return typeMismatchf("field %s.%s wants %s, got %s",
			o.class.Name(), field, f.Type, v.Class().Name())
	}
	return o.store(i, refValue(v.Ref()))
}

func (o *Object) setter(field string) (int, error) {
	if err := o.tx.mutable(); err != nil {
		return 0, err
	}
	i, err := o.fieldIndex(field)
	if err != nil {
		return 0, err
	}
	if !o.class.Field(i).Mutable {
		return 0, fmt.Errorf("field %s.%s: %w", o.class.Name(), field, ErrFieldImmutable)
	}
	return i, nil
}

// store rewrites the serialized record in place and journals the change.
func (o *Object) store(i int, v fieldValue) error {
	prev := o.values[i]
	o.values[i] = v
	b, err := o.tx.bucketFor(o.class.Ref())
	if err == nil {
		err = b.replace(encodeObject(o.ref, o.values))
	}
	if err != nil {
		o.values[i] = prev
		return err
	}
	o.tx.log.logObjectChange(o.class.Ref(), o.ref)
	return nil
}

// List opens the ordered reference list behind a list field.
func (o *Object) List(field string) (*List, error) {
	if err := o.tx.usable(); err != nil {
		return nil, err
	}
	i, err := o.fieldIndex(field)
	if err != nil {
		return nil, err
	}
	f := o.class.Field(i)
	if !isListType(f.Type) {
		return nil, typeMismatchf("field %s.%s is not a list", o.class.Name(), field)
	}
	if o.values[i].tag != tagRef {
		return nil, fmt.Errorf("list field %s.%s is null: %w", o.class.Name(), field, ErrNoSuchReference)
	}
	spec, err := parseListType(f.Type)
	if err != nil {
		return nil, err
	}
	d, err := o.tx.dict()
	if err != nil {
		return nil, err
	}
	listClassRef, ok := d.refForType(f.Type)
	if !ok {
		return nil, fmt.Errorf("list type %q: %w", f.Type, ErrNoSuchReference)
	}
	return o.tx.openList(o.values[i].ref, listClassRef, spec)
}

// Data opens the data blob behind a data field.
func (o *Object) Data(field string) (*Data, error) {
	if err := o.tx.usable(); err != nil {
		return nil, err
	}
	i, err := o.fieldIndex(field)
	if err != nil {
		return nil, err
	}
	if o.class.Field(i).Type != TypeData {
		return nil, typeMismatchf("field %s.%s is not a data blob", o.class.Name(), field)
	}
	if o.values[i].tag != tagRef {
		return nil, fmt.Errorf("data field %s.%s is null: %w", o.class.Name(), field, ErrNoSuchReference)
	}
	dataRef := o.values[i].ref
	k, err := o.tx.deref(dataRef)
	if err != nil {
		return nil, err
	}
	f, err := o.tx.sub.DataFile(k)
	if err != nil {
		return nil, err
	}
	return &Data{tx: o.tx, ref: dataRef, f: f}, nil
}
