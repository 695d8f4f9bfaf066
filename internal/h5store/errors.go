package h5store

import (
	"errors"

	"github.com/scigolib/missingframes/internal/core"
	"github.com/scigolib/missingframes/internal/writer"
)

// Errors returned by the store. Callers match them with errors.Is; the
// returned errors carry the failing operation as context.
var (
	ErrReadOnly    = writer.ErrReadOnly
	ErrCorrupt     = core.ErrCorrupt
	ErrChecksum    = writer.ErrChecksum
	ErrShrink      = core.ErrShrink
	ErrOutOfBounds = core.ErrOutOfBounds

	ErrClosed            = errors.New("file or dataset is closed")
	ErrDatasetExists     = errors.New("file already holds a dataset")
	ErrDatasetNotFound   = errors.New("dataset not found")
	ErrChunkNotAllocated = errors.New("chunk is not allocated")

	// ErrObjectsOpen is returned by Close under CloseSemi while dataset
	// handles are still open. The file stays open.
	ErrObjectsOpen = errors.New("file has open datasets")

	// ErrWriteOpen is returned when opening for writing a file whose
	// superblock says a writer still has it open.
	ErrWriteOpen = errors.New("file is already open for writing or was not closed cleanly")
)
