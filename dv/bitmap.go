package dv

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"sort"

	"github.com/RoaringBitmap/roaring"

	"github.com/deltakernel/deltakernel/errs"
)

// Bitmap is the in-memory deserialized form of a deletion vector: the set of
// deleted row indices within one data file.
type Bitmap struct {
	buckets map[uint32]*roaring.Bitmap // high 32 bits -> bitmap of low 32 bits
}

func NewBitmap() *Bitmap {
	return &Bitmap{buckets: map[uint32]*roaring.Bitmap{}}
}

func (b *Bitmap) bucket(high uint32) *roaring.Bitmap {
	bm, ok := b.buckets[high]
	if !ok {
		bm = roaring.New()
		b.buckets[high] = bm
	}
	return bm
}

// Add marks row as deleted.
func (b *Bitmap) Add(row uint64) {
	high := uint32(row >> 32)
	low := uint32(row)
	b.bucket(high).Add(low)
}

// Contains reports whether row is marked deleted.
func (b *Bitmap) Contains(row uint64) bool {
	high := uint32(row >> 32)
	low := uint32(row)
	bm, ok := b.buckets[high]
	return ok && bm.Contains(low)
}

// Cardinality returns the number of deleted rows (§4.2 "DV cardinality").
func (b *Bitmap) Cardinality() uint64 {
	var n uint64
	for _, bm := range b.buckets {
		n += bm.GetCardinality()
	}
	return n
}

// Rows returns all deleted row indices, sorted ascending.
func (b *Bitmap) Rows() []uint64 {
	highs := make([]uint32, 0, len(b.buckets))
	for h := range b.buckets {
		highs = append(highs, h)
	}
	sort.Slice(highs, func(i, j int) bool { return highs[i] < highs[j] })

	var out []uint64
	for _, h := range highs {
		it := b.buckets[h].Iterator()
		for it.HasNext() {
			low := it.Next()
			out = append(out, uint64(h)<<32|uint64(low))
		}
	}
	return out
}

// Merge returns a new Bitmap containing the union of b and newDeletes
// (§4.2 "merge(dv, newDeletes) -> dv'").
func Merge(b *Bitmap, newDeletes []uint64) *Bitmap {
	out := NewBitmap()
	for h, bm := range b.buckets {
		out.buckets[h] = bm.Clone()
	}
	for _, row := range newDeletes {
		out.Add(row)
	}
	return out
}

// Encode serializes the bitmap as a 64-bit roaring treemap (§4.2): a
// little-endian uint64 bucket count, followed by (uint32 high-key,
// roaring-32-bitmap) pairs, ordered by ascending high-key for determinism.
// Each serialized roaring-32-bitmap is preceded by its little-endian uint32
// byte length.
// No magic/size/checksum header is written (Open Question (b): the header
// is tolerated on read, never produced here).
func (b *Bitmap) Encode() ([]byte, error) {
	highs := make([]uint32, 0, len(b.buckets))
	for h := range b.buckets {
		highs = append(highs, h)
	}
	sort.Slice(highs, func(i, j int) bool { return highs[i] < highs[j] })

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, uint64(len(highs))); err != nil {
		return nil, errs.Wrap(errs.KindStorage, err, "encode dv bucket count")
	}
	for _, h := range highs {
		if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
			return nil, errs.Wrap(errs.KindStorage, err, "encode dv high key")
		}
		bm := b.buckets[h]
		bm.RunOptimize()
		bmBytes, err := bm.ToBytes()
		if err != nil {
			return nil, errs.Wrap(errs.KindStorage, err, "encode dv roaring bitmap")
		}
		if err := binary.Write(&buf, binary.LittleEndian, uint32(len(bmBytes))); err != nil {
			return nil, errs.Wrap(errs.KindStorage, err, "encode dv bitmap length")
		}
		buf.Write(bmBytes)
	}
	return buf.Bytes(), nil
}

// headerMagic is the optional magic prefix this store tolerates (and skips)
// on read per Open Question (b).
var headerMagic = []byte("DVH1")

// Decode parses the 64-bit roaring treemap format, tolerating and skipping a
// recognized magic+size+checksum header if present.
func Decode(data []byte) (*Bitmap, error) {
	data = maybeSkipHeader(data)

	r := bytes.NewReader(data)
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, errs.Wrap(errs.KindStorage, err, "decode dv bucket count")
	}

	b := NewBitmap()
	for i := uint64(0); i < count; i++ {
		var high uint32
		if err := binary.Read(r, binary.LittleEndian, &high); err != nil {
			return nil, errs.Wrap(errs.KindStorage, err, "decode dv high key")
		}
		var length uint32
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return nil, errs.Wrap(errs.KindStorage, err, "decode dv bitmap length")
		}
		chunk := make([]byte, length)
		if _, err := r.Read(chunk); err != nil {
			return nil, errs.Wrap(errs.KindStorage, err, "decode dv bitmap bytes")
		}
		bm := roaring.New()
		if _, err := bm.FromBuffer(chunk); err != nil {
			return nil, errs.Wrap(errs.KindStorage, err, "decode dv roaring bitmap")
		}
		b.buckets[high] = bm
	}
	return b, nil
}

// maybeSkipHeader tolerates a magic+size+checksum header per Open Question
// (b): advisory only, the descriptor's sizeInBytes is authoritative.
func maybeSkipHeader(data []byte) []byte {
	const headerLen = len(headerMagic) + 4 + 4 // magic + size + crc32
	if len(data) < headerLen || !bytes.Equal(data[:len(headerMagic)], headerMagic) {
		return data
	}
	size := binary.LittleEndian.Uint32(data[len(headerMagic) : len(headerMagic)+4])
	if int(size) != len(data)-headerLen {
		// Size doesn't match a header+payload split; treat as unprefixed
		// payload instead of guessing.
		return data
	}
	crc := binary.LittleEndian.Uint32(data[len(headerMagic)+4 : headerLen])
	if crc32.ChecksumIEEE(data[headerLen:]) != crc {
		return data
	}
	return data[headerLen:]
}
