// Package ddserrors provides common shared-data-structure error
// definitions.
package ddserrors

import "github.com/pkg/errors"

var (
	// ErrInvalidName is returned when a subdirectory name contains the
	// path separator, or a key is empty or non-string.
	ErrInvalidName = errors.New("shareddata: invalid name")

	// ErrUnknownValueType is returned when a remote set/act names a
	// value type that is not registered on this replica.
	ErrUnknownValueType = errors.New("shareddata: unknown value type")

	// ErrUnresolvedHandle is returned when a Shared-kind serializable
	// value's handle cannot be resolved through the host runtime.
	ErrUnresolvedHandle = errors.New("shareddata: unresolved handle")

	// ErrUnknownOp is returned by a kernel's Prepare for a "set" or
	// "act" that carries no payload, or an "act" whose op name the
	// value type has no handler for. It surfaces from a container's
	// Process; hoststub.Connect logs it. An unrecognized op type is not
	// reported with it: the router and kernel drop such ops.
	ErrUnknownOp = errors.New("shareddata: unknown operation type")

	// ErrUnattached names the not-yet-attached condition. No submission
	// path returns it: an unattached submit is reported by the
	// client-sequence-number -1 instead.
	ErrUnattached = errors.New("shareddata: not attached")

	// ErrBlobNotFound is returned by a BlobStore.Read for a name it has
	// no content for.
	ErrBlobNotFound = errors.New("shareddata: blob not found")

	// ErrBlobCorrupted is returned when a snapshot blob's content does
	// not match the xxhash checksum recorded for it at write time.
	ErrBlobCorrupted = errors.New("shareddata: blob failed integrity check")
)
