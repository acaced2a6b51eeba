// Package dv implements the Deletion Vector Store (§4.2): per-file soft-
// delete bitmaps persisted as roaring-treemap binary blobs, addressed either
// inline in the descriptor or as a standalone object whose path is the Z85
// encoding of a UUID, following the teacher's convention of keeping on-disk
// object names short and collision-resistant.
package dv

import (
	"context"

	"github.com/google/uuid"

	"github.com/deltakernel/deltakernel/action"
	"github.com/deltakernel/deltakernel/errs"
	"github.com/deltakernel/deltakernel/storage"
)

// pathPrefix is the directory deletion vector blobs are written under,
// relative to the table root: directly at table root (§4.2
// "<table>/deletion_vector_<z85-uuid>.bin"), alongside the data files rather
// than under `_delta_log`.
const pathPrefix = ""

// NewDescriptor serializes bm and writes it to storage, returning an
// action.DVDescriptor of storage type "p" (path) ready to attach to an Add.
func NewDescriptor(ctx context.Context, backend storage.Backend, tablePath string, bm *Bitmap) (*action.DVDescriptor, error) {
	data, err := bm.Encode()
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	name, err := EncodeUUID(id)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, err, "encode deletion vector name")
	}
	relPath := pathPrefix + "deletion_vector_" + name + ".bin"

	fullPath := tablePath + "/" + relPath
	if err := backend.Write(ctx, fullPath, data); err != nil {
		return nil, err
	}

	return &action.DVDescriptor{
		StorageType:    action.DVStoragePath,
		PathOrInlineDv: relPath,
		SizeInBytes:    int64(len(data)),
		Cardinality:    int64(bm.Cardinality()),
	}, nil
}

// Load reads and deserializes the bitmap referenced by descriptor (§4.2
// "load(descriptor)"), resolving storage type "p" against the object store
// and type "i" from the inline payload directly. For a stored blob, a length
// that differs from a non-zero descriptor.SizeInBytes is a storage error.
func Load(ctx context.Context, backend storage.Backend, tablePath string, descriptor *action.DVDescriptor) (*Bitmap, error) {
	if descriptor == nil {
		return NewBitmap(), nil
	}

	switch descriptor.StorageType {
	case action.DVStoragePath, action.DVStorageUUID:
		data, err := backend.Read(ctx, tablePath+"/"+descriptor.PathOrInlineDv)
		if err != nil {
			return nil, err
		}
		if descriptor.SizeInBytes > 0 && int64(len(data)) != descriptor.SizeInBytes {
			return nil, errs.Newf(errs.KindStorage, "deletion vector %s: read %d bytes, descriptor sizeInBytes is %d", descriptor.PathOrInlineDv, len(data), descriptor.SizeInBytes)
		}
		return Decode(data)
	case action.DVStorageInline:
		raw, err := Z85Decode(descriptor.PathOrInlineDv)
		if err != nil {
			return nil, err
		}
		return Decode(raw)
	default:
		return nil, errs.Validationf("deletion vector: unknown storage type %q", descriptor.StorageType)
	}
}

// MergeDescriptors loads the deletion vector referenced by descriptor (if
// any), unions in newDeletes, and writes a new descriptor (§4.2
// "merge(dv, newDeletes) -> dv'"). Deletion vectors are immutable once
// written; merging always produces a new blob rather than mutating in place.
func MergeDescriptors(ctx context.Context, backend storage.Backend, tablePath string, descriptor *action.DVDescriptor, newDeletes []uint64) (*action.DVDescriptor, error) {
	existing, err := Load(ctx, backend, tablePath, descriptor)
	if err != nil {
		return nil, err
	}
	merged := Merge(existing, newDeletes)
	return NewDescriptor(ctx, backend, tablePath, merged)
}
