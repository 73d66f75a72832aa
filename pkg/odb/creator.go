package odb

import (
	"errors"
	"strings"

	"github.com/stratumdb/stratum/pkg/ref"
)

// ClassCreator collects a batch of class definitions and defines them
// atomically. Classes in one batch may reference each other by name; the
// batch either validates and defines completely or leaves the substrate
// untouched.
type ClassCreator struct {
	tx      *Transaction
	pending []*ClassBuilder
	invalid bool
	done    bool
}

// ClassBuilder accumulates the field schema of one class being defined.
type ClassBuilder struct {
	name   string
	fields []Field
}

// Class starts the definition of a new class in the batch.
func (c *ClassCreator) Class(name string) *ClassBuilder {
	b := &ClassBuilder{name: name}
	c.pending = append(c.pending, b)
	return b
}

// String adds an inline string field.
func (b *ClassBuilder) String(name string, mutable bool) *ClassBuilder {
	b.fields = append(b.fields, Field{Name: name, Type: TypeString, Mutable: mutable})
	return b
}

// Data adds an external data blob field.
func (b *ClassBuilder) Data(name string) *ClassBuilder {
	b.fields = append(b.fields, Field{Name: name, Type: TypeData})
	return b
}

// ObjectRef adds a reference field to an instance of className. The class
// may be one defined in this batch or an existing one.
func (b *ClassBuilder) ObjectRef(name, className string, mutable bool) *ClassBuilder {
	b.fields = append(b.fields, Field{Name: name, Type: className, Mutable: mutable})
	return b
}

// ClassRef adds a reference field to a class.
func (b *ClassBuilder) ClassRef(name string, mutable bool) *ClassBuilder {
	b.fields = append(b.fields, Field{Name: name, Type: TypeClass, Mutable: mutable})
	return b
}

// List adds an ordered reference list field ordered by reference value.
func (b *ClassBuilder) List(name, elementClass string, allowDups bool) *ClassBuilder {
	spec := listSpec{ElementName: elementClass, AllowDups: allowDups}
	b.fields = append(b.fields, Field{Name: name, Type: spec.typeString()})
	return b
}

// KeyedList adds an ordered reference list field ordered by a string field
// of the element class. A collator of "-lexi" orders descending.
func (b *ClassBuilder) KeyedList(name, elementClass string, allowDups bool, keyField, collator string) *ClassBuilder {
	spec := listSpec{ElementName: elementClass, AllowDups: allowDups, KeyField: keyField}
	spec.Collator = strings.TrimPrefix(collator, "-")
	spec.Descending = strings.HasPrefix(collator, "-")
	b.fields = append(b.fields, Field{Name: name, Type: spec.typeString()})
	return b
}

// ValidateAndComplete resolves every cross-class reference in the batch,
// allocates class references, binds list types in the dictionary and
// defines the classes. A validation failure invalidates the creator and
// leaves the substrate untouched.
func (c *ClassCreator) ValidateAndComplete() ([]*Class, error) {
	if c.done || c.invalid {
		return nil, classValidationf("creator is spent")
	}
	if err := c.tx.mutable(); err != nil {
		return nil, err
	}

	// Step 1: resolve names. Nothing is written until the whole batch
	// resolves.
	batch := make(map[string]ref.Ref, len(c.pending))
	for _, b := range c.pending {
		if err := c.checkShape(b); err != nil {
			c.invalid = true
			return nil, err
		}
		if _, dup := batch[b.name]; dup {
			c.invalid = true
			return nil, classValidationf("class %q defined twice in one batch", b.name)
		}
		if _, err := c.tx.FindClass(b.name); !errors.Is(err, ErrClassNotFound) {
			c.invalid = true
			if err == nil {
				return nil, classValidationf("class %q already exists", b.name)
			}
			return nil, err
		}
		// Step 2: a fresh reference per created class.
		batch[b.name] = ref.New()
	}
	resolved := make([][]Field, len(c.pending))
	for i, b := range c.pending {
		fields, err := c.resolveFields(b, batch)
		if err != nil {
			c.invalid = true
			return nil, err
		}
		resolved[i] = fields
	}

	// Steps 4 and 5: bind list types, then define every class.
	classes := make([]*Class, 0, len(c.pending))
	for i, b := range c.pending {
		for _, f := range resolved[i] {
			if isListType(f.Type) {
				if err := c.bindListType(f.Type); err != nil {
					return nil, err
				}
			}
		}
		class, err := c.define(b.name, batch[b.name], resolved[i])
		if err != nil {
			return nil, err
		}
		classes = append(classes, class)
	}
	c.done = true
	return classes, nil
}

func (c *ClassCreator) checkShape(b *ClassBuilder) error {
	if b.name == "" || strings.ContainsAny(b.name, "# \n") || strings.HasPrefix(b.name, "$") {
		return classValidationf("invalid class name %q", b.name)
	}
	seen := make(map[string]bool, len(b.fields))
	for _, f := range b.fields {
		if f.Name == "" || strings.ContainsAny(f.Name, " \n") {
			return classValidationf("class %q: invalid field name %q", b.name, f.Name)
		}
		if seen[f.Name] {
			return classValidationf("class %q: field %q defined twice", b.name, f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

// resolveFields rewrites bare class names into Name#ref form (step 3).
func (c *ClassCreator) resolveFields(b *ClassBuilder, batch map[string]ref.Ref) ([]Field, error) {
	fields := make([]Field, len(b.fields))
	for i, f := range b.fields {
		switch {
		case isListType(f.Type):
			spec, err := parseListType(f.Type)
			if err != nil {
				return nil, classValidationf("class %q field %q: %v", b.name, f.Name, err)
			}
			if spec.ElementRef.IsNil() {
				r, err := c.resolveName(spec.ElementName, batch)
				if err != nil {
					return nil, classValidationf("class %q field %q: %v", b.name, f.Name, err)
				}
				spec.ElementRef = r
			}
			f.Type = spec.typeString()
		case isInlineType(f.Type):
		default:
			name, _, hasRef := strings.Cut(f.Type, "#")
			if !hasRef {
				r, err := c.resolveName(name, batch)
				if err != nil {
					return nil, classValidationf("class %q field %q: %v", b.name, f.Name, err)
				}
				f.Type = name + "#" + r.String()
			}
		}
		fields[i] = f
	}
	return fields, nil
}

func (c *ClassCreator) resolveName(name string, batch map[string]ref.Ref) (ref.Ref, error) {
	if r, ok := batch[name]; ok {
		return r, nil
	}
	class, err := c.tx.FindClass(name)
	if err != nil {
		return ref.Nil, classValidationf("unknown class %q", name)
	}
	return class.Ref(), nil
}

// bindListType ensures a list type string has a dictionary binding. Each
// list type is itself a class with a reference; identical list types share
// one binding.
func (c *ClassCreator) bindListType(typeStr string) error {
	d, err := c.tx.dict()
	if err != nil {
		return err
	}
	if _, ok := d.refForType(typeStr); ok {
		return nil
	}
	r := ref.New()
	d.add(typeStr, r)
	c.tx.log.logDictionaryAdd(r)
	return nil
}

// define inserts the class record, allocates the instance bucket and adds
// the class to the system class list.
func (c *ClassCreator) define(name string, classRef ref.Ref, fields []Field) (*Class, error) {
	class := &Class{name: name, fields: fields, ref: classRef, source: UserClass}
	if _, err := c.tx.construct(systemClasses()[ClassClassRef], classRef,
		[]any{name, class.Serialization()}); err != nil {
		return nil, err
	}
	if _, err := c.tx.allocateResource(classRef); err != nil {
		return nil, err
	}
	list, err := c.tx.systemList(classListRef)
	if err != nil {
		return nil, err
	}
	if err := list.AddRef(classRef); err != nil {
		return nil, err
	}
	c.tx.sub.Cache("odb.classes")[classRef.String()] = class
	return class, nil
}
