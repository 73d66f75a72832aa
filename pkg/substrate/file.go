package substrate

// File is a mutable byte-file inside a transaction. The transaction
// materializes the file's content from its base snapshot on first access;
// all mutations stay in memory until the transaction is flushed.
//
// Offsets past the current size extend the file with zero bytes on write.
// Files are not safe for concurrent use, matching the transaction contract.
type File struct {
	data     []byte
	modified bool
	deleted  bool
}

// Size returns the current size in bytes.
func (f *File) Size() int64 {
	return int64(len(f.data))
}

// SetSize truncates or zero-extends the file to n bytes.
func (f *File) SetSize(n int64) {
	f.touch()
	switch {
	case n < int64(len(f.data)):
		f.data = f.data[:n]
	case n > int64(len(f.data)):
		f.data = append(f.data, make([]byte, n-int64(len(f.data)))...)
	}
}

// ReadAt copies into p from offset off. Reading past the end leaves the
// remainder of p untouched and returns the number of bytes copied.
func (f *File) ReadAt(p []byte, off int64) int {
	if off >= int64(len(f.data)) {
		return 0
	}
	return copy(p, f.data[off:])
}

// WriteAt copies p into the file at offset off, extending it as needed.
func (f *File) WriteAt(p []byte, off int64) {
	f.touch()
	end := off + int64(len(p))
	if end > int64(len(f.data)) {
		f.data = append(f.data, make([]byte, end-int64(len(f.data)))...)
	}
	copy(f.data[off:end], p)
}

// Shift inserts n zero bytes at offset off when n > 0, or deletes n bytes
// starting at off when n < 0. Everything at or after off moves by n.
func (f *File) Shift(off, n int64) {
	if n == 0 {
		return
	}
	f.touch()
	if n > 0 {
		f.data = append(f.data, make([]byte, n)...)
		copy(f.data[off+n:], f.data[off:])
		for i := off; i < off+n; i++ {
			f.data[i] = 0
		}
		return
	}
	copy(f.data[off:], f.data[off-n:])
	f.data = f.data[:int64(len(f.data))+n]
}

// ReplicateFrom replaces the file's content with a copy of other's.
func (f *File) ReplicateFrom(other *File) {
	f.touch()
	f.data = append(f.data[:0:0], other.data...)
}

// Bytes returns the file content. The slice aliases internal storage and is
// only valid until the next mutation.
func (f *File) Bytes() []byte {
	return f.data
}

// Delete empties the file and marks it removed from the snapshot at flush.
func (f *File) Delete() {
	f.touch()
	f.data = nil
	f.deleted = true
}

func (f *File) touch() {
	f.modified = true
	f.deleted = false
}
