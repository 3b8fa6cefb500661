package tensor

import "fmt"

// CopyStrided copies the elements of src addressed by srcL, in logical row-major
// order, into dst starting at element dstOffset. This is the host reference for
// the backend CopyStridedSrc operation.
func CopyStrided(src *HostStorage, srcL Layout, dst *HostStorage, dstOffset int) error {
	if src.dtype != dst.dtype {
		return fmt.Errorf("%w: copy from %s into %s", ErrDType, src.dtype, dst.dtype)
	}
	if err := srcL.CheckBounds(src.Len()); err != nil {
		return err
	}
	n := srcL.NumElements()
	if dstOffset < 0 || dstOffset+n > dst.Len() {
		return fmt.Errorf("%w: destination range [%d, %d) exceeds %d elements", ErrLayout, dstOffset, dstOffset+n, dst.Len())
	}

	w := src.dtype.Size()
	sb, db := src.Bytes(), dst.Bytes()
	starts, blockLen := srcL.Blocks()
	pos := dstOffset * w
	for _, s := range starts {
		size := blockLen * w
		copy(db[pos:pos+size], sb[s*w:s*w+size])
		pos += size
	}
	return nil
}

// Contiguous gathers the elements of h addressed by l into a new contiguous storage.
// When l is already contiguous and covers the whole storage, h itself is returned.
func (h *HostStorage) Contiguous(l Layout) (*HostStorage, error) {
	if l.IsContiguous() && l.Offset() == 0 && l.NumElements() == h.Len() {
		return h, nil
	}
	out, err := NewHostStorage(h.dtype, l.NumElements())
	if err != nil {
		return nil, err
	}
	if err := CopyStrided(h, l, out, 0); err != nil {
		return nil, err
	}
	return out, nil
}
