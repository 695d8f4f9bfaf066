package h5store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ledgerwatch/log/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/missingframes/internal/core"
)

func quietLogger() log.Logger {
	l := log.New()
	l.SetHandler(log.DiscardHandler())
	return l
}

func tempPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}

func createFile(t *testing.T, path string, opts ...FileOption) *File {
	t.Helper()
	f, err := Create(path, CreateTruncate, append([]FileOption{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	return f
}

func openFile(t *testing.T, path string, mode OpenMode, opts ...FileOption) *File {
	t.Helper()
	f, err := Open(path, mode, append([]FileOption{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	return f
}

func readSuperblock(t *testing.T, path string) *core.Superblock {
	t.Helper()
	raw, err := os.Open(path)
	require.NoError(t, err)
	defer raw.Close()
	sb, err := core.ReadSuperblock(raw)
	require.NoError(t, err)
	return sb
}

func TestCreate_EmptyFileRoundTrip(t *testing.T) {
	path := tempPath(t, "empty.h5")

	f := createFile(t, path, WithIstoreK(32770))
	assert.Equal(t, uint32(32770), f.IstoreK())
	assert.False(t, f.ReadOnly())
	assert.Equal(t, path, f.Path())

	assert.True(t, readSuperblock(t, path).WriteOpen(), "flag set while open")
	require.NoError(t, f.Close())
	require.NoError(t, f.Close(), "second close is a no-op")

	sb := readSuperblock(t, path)
	assert.False(t, sb.WriteOpen())
	assert.Equal(t, uint32(32770), sb.IstoreK)
	assert.Equal(t, core.UndefinedAddress, sb.DatasetHeader)

	ro := openFile(t, path, OpenReadOnly, WithIstoreK(7))
	defer ro.Close()
	assert.True(t, ro.ReadOnly())
	assert.Equal(t, uint32(32770), ro.IstoreK(), "file keeps its creation order")

	_, err := ro.OpenDataset("ExtendibleArray")
	require.ErrorIs(t, err, ErrDatasetNotFound)
}

func TestCreate_Errors(t *testing.T) {
	t.Run("istorek zero", func(t *testing.T) {
		_, err := Create(tempPath(t, "k.h5"), CreateTruncate, WithIstoreK(0))
		require.Error(t, err)
	})

	t.Run("istorek too large", func(t *testing.T) {
		_, err := Create(tempPath(t, "k.h5"), CreateTruncate, WithIstoreK(65536))
		require.Error(t, err)
	})

	t.Run("exclusive on existing file", func(t *testing.T) {
		path := tempPath(t, "x.h5")
		require.NoError(t, createFile(t, path).Close())
		_, err := Create(path, CreateExclusive)
		require.Error(t, err)
	})

	t.Run("invalid mode", func(t *testing.T) {
		_, err := Create(tempPath(t, "m.h5"), CreateMode(9))
		require.Error(t, err)
	})
}

func TestOpen_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Open(tempPath(t, "nope.h5"), OpenReadOnly)
		require.Error(t, err)
	})

	t.Run("not a store file", func(t *testing.T) {
		path := tempPath(t, "junk.h5")
		require.NoError(t, os.WriteFile(path, make([]byte, 100), 0o600))
		_, err := Open(path, OpenReadOnly)
		require.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("writer still open", func(t *testing.T) {
		path := tempPath(t, "busy.h5")
		f := createFile(t, path)
		defer f.Close()

		_, err := Open(path, OpenReadWrite)
		require.ErrorIs(t, err, ErrWriteOpen)
	})
}

func TestOpen_ReadOnlyRejectsMutation(t *testing.T) {
	path := tempPath(t, "ro.h5")
	writeFrames(t, path, 3, []uint64{1, 4, 6})

	f := openFile(t, path, OpenReadOnly)
	defer f.Close()

	_, err := f.CreateDataset("other", Int32, []uint64{1})
	require.ErrorIs(t, err, ErrReadOnly)

	ds, err := f.OpenDataset(datasetName)
	require.NoError(t, err)

	require.ErrorIs(t, ds.SetExtent([]uint64{4, 4, 6}), ErrReadOnly)
	require.ErrorIs(t, ds.Write(frameSelection(0), frame(0)), ErrReadOnly)
	require.NoError(t, f.Flush(), "nothing to flush")

	buf := make([]int32, frameElements)
	require.NoError(t, ds.Read(frameSelection(2), buf))
	assert.Equal(t, frame(2), buf)
}

func TestOpen_ReadWriteExtends(t *testing.T) {
	path := tempPath(t, "rw.h5")
	writeFrames(t, path, 3, []uint64{1, 4, 6})

	f := openFile(t, path, OpenReadWrite)
	ds, err := f.OpenDataset(datasetName)
	require.NoError(t, err)
	appendFrames(t, ds, 3, 5)
	require.NoError(t, f.Close())

	assertFrames(t, path, 5)
}

func TestOpen_ReadOnlySeesLastFlush(t *testing.T) {
	path := tempPath(t, "unclean.h5")

	f := createFile(t, path)
	defer f.Close()
	ds := createFrameDataset(t, f, []uint64{1, 4, 6})
	appendFrames(t, ds, 0, 4)
	require.NoError(t, ds.Flush())

	assert.True(t, readSuperblock(t, path).WriteOpen())
	assertFrames(t, path, 4)
}

func TestClose_Degrees(t *testing.T) {
	t.Run("strong closes handles", func(t *testing.T) {
		path := tempPath(t, "strong.h5")
		f := createFile(t, path, WithCloseDegree(CloseStrong))
		ds := createFrameDataset(t, f, []uint64{1, 4, 6})
		appendFrames(t, ds, 0, 2)

		require.NoError(t, f.Close())
		require.ErrorIs(t, ds.Write(frameSelection(0), frame(0)), ErrClosed)
		require.NoError(t, ds.Close())

		assertFrames(t, path, 2)
	})

	t.Run("default is strong", func(t *testing.T) {
		path := tempPath(t, "default.h5")
		f := createFile(t, path)
		ds := createFrameDataset(t, f, []uint64{1, 4, 6})
		appendFrames(t, ds, 0, 2)

		require.NoError(t, f.Close())
		require.ErrorIs(t, ds.SetExtent([]uint64{3, 4, 6}), ErrClosed)
		assertFrames(t, path, 2)
	})

	t.Run("semi refuses with open handles", func(t *testing.T) {
		path := tempPath(t, "semi.h5")
		f := createFile(t, path, WithCloseDegree(CloseSemi))
		ds := createFrameDataset(t, f, []uint64{1, 4, 6})
		appendFrames(t, ds, 0, 2)

		require.ErrorIs(t, f.Close(), ErrObjectsOpen)
		appendFrames(t, ds, 2, 3) // still open

		require.NoError(t, ds.Close())
		require.NoError(t, f.Close())
		assertFrames(t, path, 3)
	})

	t.Run("weak defers to last handle", func(t *testing.T) {
		path := tempPath(t, "weak.h5")
		f := createFile(t, path, WithCloseDegree(CloseWeak))
		ds := createFrameDataset(t, f, []uint64{1, 4, 6})
		appendFrames(t, ds, 0, 2)

		require.NoError(t, f.Close())
		_, err := f.OpenDataset(datasetName)
		require.ErrorIs(t, err, ErrClosed)
		assert.True(t, readSuperblock(t, path).WriteOpen(), "not closed yet")

		appendFrames(t, ds, 2, 3)
		require.NoError(t, ds.Close())

		assert.False(t, readSuperblock(t, path).WriteOpen())
		assertFrames(t, path, 3)
	})
}

func TestCloseDegree_String(t *testing.T) {
	assert.Equal(t, "weak", CloseWeak.String())
	assert.Equal(t, "semi", CloseSemi.String())
	assert.Equal(t, "strong", CloseStrong.String())
	assert.Equal(t, "default", CloseDefault.String())
	assert.Equal(t, "CloseDegree(9)", CloseDegree(9).String())
}
