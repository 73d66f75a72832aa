package odb

import (
	"fmt"

	"github.com/stratumdb/stratum/pkg/metrics"
	"github.com/stratumdb/stratum/pkg/ref"
	"github.com/stratumdb/stratum/pkg/substrate"
)

// Transaction is a snapshot-isolated working space over a database path.
// It reads its base snapshot plus its own buffered mutations; concurrent
// commits by others are invisible until a fresh transaction is opened.
//
// A transaction and every object, list and data handle derived from it
// must be used from one goroutine at a time, and none of them may outlive
// it. Close releases the substrate transaction; closing without a commit
// is a rollback.
type Transaction struct {
	db       *Database
	sub      *substrate.Transaction
	baseRoot substrate.Address
	log      *objectLog

	readOnly  bool
	invalid   bool
	committed bool
	closed    bool
}

// Base returns the snapshot address the transaction was started on.
func (t *Transaction) Base() substrate.Address {
	return t.baseRoot
}

// ReadOnly reports whether the transaction rejects mutations.
func (t *Transaction) ReadOnly() bool {
	return t.readOnly
}

// usable fails when the transaction can no longer serve reads.
func (t *Transaction) usable() error {
	switch {
	case t.closed:
		return ErrClosed
	case t.invalid:
		return ErrInvalidated
	}
	return nil
}

// mutable fails when the transaction cannot accept a mutation. A mutation
// attempt on a read-only transaction is fatal to it.
func (t *Transaction) mutable() error {
	if err := t.usable(); err != nil {
		return err
	}
	if t.readOnly {
		t.invalid = true
		return ErrReadOnly
	}
	return nil
}

// deref resolves a reference to its storage key through the lookup table.
// System references resolve to their reserved keys directly.
func (t *Transaction) deref(r ref.Ref) (substrate.Key, error) {
	if k, ok := systemKeyFor(r); ok {
		return k, nil
	}
	lk, err := t.lookup()
	if err != nil {
		return substrate.Key{}, err
	}
	k, ok := lk.get(r)
	if !ok {
		return substrate.Key{}, fmt.Errorf("reference %s is unresolved: %w", r, ErrNoSuchReference)
	}
	return k, nil
}

func (t *Transaction) lookup() (lookupTable, error) {
	f, err := t.sub.DataFile(keyLookup)
	if err != nil {
		return lookupTable{}, err
	}
	return lookupTable{f: f}, nil
}

func (t *Transaction) counter() (keyCounter, error) {
	f, err := t.sub.DataFile(keyAllocCounter)
	if err != nil {
		return keyCounter{}, err
	}
	return keyCounter{f: f}, nil
}

// dict returns the class dictionary, memoized so the record index survives
// across calls.
func (t *Transaction) dict() (dictionary, error) {
	cache := t.sub.Cache("odb.structures")
	if d, ok := cache["dictionary"]; ok {
		return d.(dictionary), nil
	}
	f, err := t.sub.DataFile(keyDictionary)
	if err != nil {
		return dictionary{}, err
	}
	d := dictionary{set: newOrderedSet(f, compareDictEntries)}
	cache["dictionary"] = d
	return d, nil
}

// bucketFor returns the object bucket of a class, memoized per class.
func (t *Transaction) bucketFor(classRef ref.Ref) (bucket, error) {
	cache := t.sub.Cache("odb.buckets")
	if b, ok := cache[classRef.String()]; ok {
		return b.(bucket), nil
	}
	k, err := t.deref(classRef)
	if err != nil {
		return bucket{}, err
	}
	f, err := t.sub.DataFile(k)
	if err != nil {
		return bucket{}, err
	}
	b := bucket{classRef: classRef, set: newOrderedSet(f, compareBucketRecords)}
	cache[classRef.String()] = b
	return b, nil
}

// allocateResource binds a fresh storage key to r and journals the
// allocation.
func (t *Transaction) allocateResource(r ref.Ref) (substrate.Key, error) {
	c, err := t.counter()
	if err != nil {
		return substrate.Key{}, err
	}
	key := c.next()
	lk, err := t.lookup()
	if err != nil {
		return substrate.Key{}, err
	}
	lk.put(r, key)
	t.log.logKeyAlloc(key, r)
	return key, nil
}

// GetClass reads the class definition at r.
func (t *Transaction) GetClass(r ref.Ref) (*Class, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}
	return t.classFor(r)
}

func (t *Transaction) classFor(r ref.Ref) (*Class, error) {
	if c, ok := systemClasses()[r]; ok {
		return c, nil
	}
	cache := t.sub.Cache("odb.classes")
	if c, ok := cache[r.String()]; ok {
		return c.(*Class), nil
	}
	b, err := t.bucketFor(ClassClassRef)
	if err != nil {
		return nil, err
	}
	rec, ok := b.get(r)
	if !ok {
		return nil, fmt.Errorf("class %s: %w", r, ErrNoSuchReference)
	}
	_, values, err := decodeObject(rec)
	if err != nil {
		return nil, fmt.Errorf("class record %s: %w", r, err)
	}
	if len(values) != 2 || values[0].tag != tagString || values[1].tag != tagString {
		return nil, fmt.Errorf("class record %s is malformed", r)
	}
	fields, err := parseClassFields(values[1].str)
	if err != nil {
		return nil, fmt.Errorf("class record %s: %w", r, err)
	}
	c := &Class{name: values[0].str, fields: fields, ref: r, source: UserClass}
	cache[r.String()] = c
	return c, nil
}

// FindClass resolves a class by name through the system class list.
func (t *Transaction) FindClass(name string) (*Class, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}
	list, err := t.systemList(classListRef)
	if err != nil {
		return nil, err
	}
	r, found, err := list.findKey(name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("class %q: %w", name, ErrClassNotFound)
	}
	return t.classFor(r)
}

// Classes starts a batch of class definitions.
func (t *Transaction) Classes() *ClassCreator {
	return &ClassCreator{tx: t}
}

// ConstructObject creates an instance of class with one argument per
// field: nil, a string, a ref.Ref, an *Object or a *Class, as the field
// type admits. Data and list fields take nil and receive freshly
// allocated backing resources.
func (t *Transaction) ConstructObject(class *Class, args ...any) (*Object, error) {
	if err := t.mutable(); err != nil {
		return nil, err
	}
	if class.Source() == SystemClass {
		return nil, typeMismatchf("cannot construct instances of system class %s", class.Name())
	}
	return t.construct(class, ref.New(), args)
}

func (t *Transaction) construct(class *Class, r ref.Ref, args []any) (*Object, error) {
	if len(args) != class.FieldCount() {
		return nil, typeMismatchf("class %s has %d fields, got %d arguments",
			class.Name(), class.FieldCount(), len(args))
	}
	values := make([]fieldValue, len(args))
	for i := range args {
		v, err := t.fieldValueFor(class, class.Field(i), args[i])
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	rec := encodeObject(r, values)
	b, err := t.bucketFor(class.Ref())
	if err != nil {
		return nil, err
	}
	if err := b.insert(rec); err != nil {
		return nil, err
	}
	t.log.logObjectChange(class.Ref(), r)
	metrics.ObjectsConstructed.Inc()
	return &Object{tx: t, class: class, ref: r, values: values}, nil
}

func (t *Transaction) fieldValueFor(class *Class, f Field, arg any) (fieldValue, error) {
	switch {
	case f.Type == TypeData || isListType(f.Type):
		if arg != nil {
			return fieldValue{}, typeMismatchf("field %s.%s is externally backed and takes no value",
				class.Name(), f.Name)
		}
		sub := ref.New()
		if _, err := t.allocateResource(sub); err != nil {
			return fieldValue{}, err
		}
		return refValue(sub), nil

	case f.Type == TypeString:
		switch v := arg.(type) {
		case nil:
			return nullValue(), nil
		case string:
			if !utfOK(v) {
				return fieldValue{}, typeMismatchf("string for %s.%s exceeds the record limit",
					class.Name(), f.Name)
			}
			return stringValue(v), nil
		}
		return fieldValue{}, typeMismatchf("field %s.%s wants a string", class.Name(), f.Name)

	case f.Type == TypeClass:
		switch v := arg.(type) {
		case nil:
			return nullValue(), nil
		case *Class:
			return refValue(v.Ref()), nil
		case ref.Ref:
			if _, err := t.classFor(v); err != nil {
				return fieldValue{}, err
			}
			return refValue(v), nil
		}
		return fieldValue{}, typeMismatchf("field %s.%s wants a class", class.Name(), f.Name)

	default:
		target, ok := refTypeTarget(f.Type)
		if !ok {
			return fieldValue{}, typeMismatchf("field %s.%s has unresolved type %q",
				class.Name(), f.Name, f.Type)
		}
		switch v := arg.(type) {
		case nil:
			return nullValue(), nil
		case *Object:
			if v.Class().Ref() != target {
				return fieldValue{}, typeMismatchf("field %s.%s wants %s, got %s",
					class.Name(), f.Name, f.Type, v.Class().Name())
			}
			return refValue(v.Ref()), nil
		case ref.Ref:
			b, err := t.bucketFor(target)
			if err != nil {
				return fieldValue{}, err
			}
			if !b.contains(v) {
				return fieldValue{}, fmt.Errorf("field %s.%s value %s: %w",
					class.Name(), f.Name, v, ErrNoSuchReference)
			}
			return refValue(v), nil
		}
		return fieldValue{}, typeMismatchf("field %s.%s wants an object reference", class.Name(), f.Name)
	}
}

// GetObject loads the instance of class at r.
func (t *Transaction) GetObject(class *Class, r ref.Ref) (*Object, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}
	b, err := t.bucketFor(class.Ref())
	if err != nil {
		return nil, err
	}
	rec, ok := b.get(r)
	if !ok {
		return nil, fmt.Errorf("object %s of class %s: %w", r, class.Name(), ErrNoSuchReference)
	}
	recRef, values, err := decodeObject(rec)
	if err != nil {
		return nil, fmt.Errorf("object %s of class %s: %w", r, class.Name(), err)
	}
	if recRef != r || len(values) != class.FieldCount() {
		return nil, fmt.Errorf("object %s of class %s is malformed", r, class.Name())
	}
	return &Object{tx: t, class: class, ref: r, values: values}, nil
}

// HasObject reports whether class has an instance at r.
func (t *Transaction) HasObject(class *Class, r ref.Ref) (bool, error) {
	if err := t.usable(); err != nil {
		return false, err
	}
	b, err := t.bucketFor(class.Ref())
	if err != nil {
		return false, err
	}
	return b.contains(r), nil
}

// systemList returns one of the two built-in lists (class list, named
// items list).
func (t *Transaction) systemList(r ref.Ref) (*List, error) {
	spec, ok := systemListSpec(r)
	if !ok {
		return nil, fmt.Errorf("list %s: %w", r, ErrNoSuchReference)
	}
	return t.openList(r, r, spec)
}

// openList builds a list handle over its backing file.
func (t *Transaction) openList(listRef, listClassRef ref.Ref, spec listSpec) (*List, error) {
	k, err := t.deref(listRef)
	if err != nil {
		return nil, err
	}
	f, err := t.sub.DataFile(k)
	if err != nil {
		return nil, err
	}
	return &List{tx: t, ref: listRef, classRef: listClassRef, spec: spec, f: f}, nil
}

// listForClassRef resolves a list's order spec from its list class and
// opens it. The merge engine replays list events through this.
func (t *Transaction) listForClassRef(listRef, listClassRef ref.Ref) (*List, error) {
	if spec, ok := systemListSpec(listClassRef); ok {
		return t.openList(listRef, listClassRef, spec)
	}
	d, err := t.dict()
	if err != nil {
		return nil, err
	}
	typeStr, ok := d.typeForRef(listClassRef)
	if !ok {
		return nil, fmt.Errorf("list class %s: %w", listClassRef, ErrNoSuchReference)
	}
	spec, err := parseListType(typeStr)
	if err != nil {
		return nil, err
	}
	return t.openList(listRef, listClassRef, spec)
}

func systemListSpec(r ref.Ref) (listSpec, bool) {
	switch r {
	case classListRef:
		return listSpec{ElementName: "$Class", ElementRef: ClassClassRef,
			KeyField: "name", Collator: "lexi"}, true
	case namerListRef:
		return listSpec{ElementName: "$Namer", ElementRef: NamerClassRef,
			KeyField: "name", Collator: "lexi"}, true
	}
	return listSpec{}, false
}

// ClassNamesList returns the system class list: class references ordered
// by class name.
func (t *Transaction) ClassNamesList() (*List, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}
	return t.systemList(classListRef)
}

// NamedItemsList returns the named items list: $Namer references ordered
// by item name.
func (t *Transaction) NamedItemsList() (*List, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}
	return t.systemList(namerListRef)
}

// AddNamedItem binds name to obj as a graph root, replacing any existing
// binding of the same name.
func (t *Transaction) AddNamedItem(name string, obj *Object) error {
	if err := t.mutable(); err != nil {
		return err
	}
	if !utfOK(name) {
		return typeMismatchf("named item name exceeds the record limit")
	}
	list, err := t.systemList(namerListRef)
	if err != nil {
		return err
	}
	if existing, found, err := list.findKey(name); err != nil {
		return err
	} else if found {
		if _, err := list.Remove(existing); err != nil {
			return err
		}
	}
	namer, err := t.construct(systemClasses()[NamerClassRef], ref.New(),
		[]any{name, obj.Class().Ref().String(), obj.Ref().String()})
	if err != nil {
		return err
	}
	return list.AddRef(namer.Ref())
}

// RemoveNamedItem unbinds a graph root. It reports false for an unknown
// name.
func (t *Transaction) RemoveNamedItem(name string) (bool, error) {
	if err := t.mutable(); err != nil {
		return false, err
	}
	list, err := t.systemList(namerListRef)
	if err != nil {
		return false, err
	}
	r, found, err := list.findKey(name)
	if err != nil || !found {
		return false, err
	}
	return list.Remove(r)
}

// NamedItem resolves a graph root to its object.
func (t *Transaction) NamedItem(name string) (*Object, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}
	list, err := t.systemList(namerListRef)
	if err != nil {
		return nil, err
	}
	r, found, err := list.findKey(name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%q: %w", name, ErrNamedItemNotFound)
	}
	namer, err := t.GetObject(systemClasses()[NamerClassRef], r)
	if err != nil {
		return nil, err
	}
	classStr, err := namer.GetString("class_ref")
	if err != nil {
		return nil, err
	}
	refStr, err := namer.GetString("ref")
	if err != nil {
		return nil, err
	}
	classRef, err := ref.Parse(classStr)
	if err != nil {
		return nil, err
	}
	objRef, err := ref.Parse(refStr)
	if err != nil {
		return nil, err
	}
	class, err := t.classFor(classRef)
	if err != nil {
		return nil, err
	}
	return t.GetObject(class, objRef)
}

// Commit flushes the transaction as a proposal and runs it through the
// path's commit procedure. On success the transaction is committed and
// the new root address returned; on a commit fault the transaction is
// invalidated and the caller retries on a fresh base.
func (t *Transaction) Commit() (substrate.Address, error) {
	if err := t.usable(); err != nil {
		return substrate.NilAddress, err
	}
	if t.readOnly {
		t.invalid = true
		return substrate.NilAddress, ErrReadOnly
	}
	if t.committed {
		return substrate.NilAddress, fmt.Errorf("transaction already committed")
	}

	props, err := t.sub.DataFile(keyProperties)
	if err != nil {
		return substrate.NilAddress, err
	}
	baseRoot := propNoBaseRoot
	if !t.baseRoot.IsNil() {
		baseRoot = t.baseRoot.String()
	}
	props.SetSize(0)
	props.WriteAt(encodeProperties(map[string]string{propBaseRoot: baseRoot}), 0)

	proposal, err := t.db.store.Flush(t.sub)
	if err != nil {
		return substrate.NilAddress, fmt.Errorf("flush proposal: %w", err)
	}
	final, err := t.db.store.PerformCommit(t.db.path, proposal)
	if err != nil {
		if IsCommitFault(err) {
			t.invalid = true
		}
		return substrate.NilAddress, err
	}
	t.committed = true
	return final, nil
}

// resetJournal truncates the inherited object log and proposal properties;
// both are per-transaction state.
func (t *Transaction) resetJournal() error {
	for _, k := range []substrate.Key{keyObjectLog, keyProperties} {
		f, err := t.sub.DataFile(k)
		if err != nil {
			return err
		}
		if f.Size() > 0 {
			f.SetSize(0)
		}
	}
	return nil
}

// Close releases the transaction. Closing before a successful commit
// discards all buffered mutations.
func (t *Transaction) Close() {
	if t.closed {
		return
	}
	t.closed = true
	t.sub.Close()
	metrics.TransactionsActive.Dec()
}
