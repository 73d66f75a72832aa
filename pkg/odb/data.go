package odb

import (
	"github.com/stratumdb/stratum/pkg/ref"
	"github.com/stratumdb/stratum/pkg/substrate"
)

// Data is a handle on an external byte buffer addressed by its own
// reference. Writes journal a DataChange so concurrent mutation of the
// same blob is detected at commit.
type Data struct {
	tx  *Transaction
	ref ref.Ref
	f   *substrate.File
}

// Ref returns the blob's reference.
func (d *Data) Ref() ref.Ref { return d.ref }

// Size returns the blob size in bytes.
func (d *Data) Size() int64 { return d.f.Size() }

// ReadAt copies into p from offset off and returns the bytes copied.
func (d *Data) ReadAt(p []byte, off int64) int {
	return d.f.ReadAt(p, off)
}

// WriteAt copies p into the blob at offset off, extending it as needed.
func (d *Data) WriteAt(p []byte, off int64) error {
	if err := d.tx.mutable(); err != nil {
		return err
	}
	d.f.WriteAt(p, off)
	d.tx.log.logDataChange(d.ref)
	return nil
}

// SetSize truncates or zero-extends the blob.
func (d *Data) SetSize(n int64) error {
	if err := d.tx.mutable(); err != nil {
		return err
	}
	d.f.SetSize(n)
	d.tx.log.logDataChange(d.ref)
	return nil
}
