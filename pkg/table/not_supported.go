package table

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrNotSupported is the generic Unimplemented error for the accessors
// a mirroring table must reject outright (§6): getConfiguration,
// getTableDescriptor, coprocessor invocations, and write-buffer-
// size/timeout accessors. Those accessors return NotSupportedf's
// operation-specific errors, which carry the same code but are
// distinct values from ErrNotSupported. These accessors concern a
// single backend's internals and have no meaningful mirrored
// equivalent.
var ErrNotSupported = status.Error(codes.Unimplemented, "operation not supported by a mirroring table")

// NotSupportedf builds an ErrNotSupported-coded error naming the
// rejected operation, e.g. NotSupportedf("GetTableDescriptor").
func NotSupportedf(operation string) error {
	return status.Errorf(codes.Unimplemented, "%s is not supported by a mirroring table", operation)
}
