package missingframes

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariants(t *testing.T) {
	tests := []struct {
		cfg     Config
		name    string
		path    string
		chunk   [Rank]uint64
		istoreK uint32
	}{
		{Test1(), "test1", "repro_test1.h5", [Rank]uint64{1, 4, 6}, 32770},
		{Test2(), "test2", "repro_test2.h5", [Rank]uint64{2, 4, 6}, 32770},
		{Test3(), "test3", "repro_test3.h5", [Rank]uint64{1, 4, 6}, 32769},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.cfg.Validate())
			assert.Equal(t, tt.name, tt.cfg.Name)
			assert.Equal(t, tt.path, tt.cfg.Path)
			assert.Equal(t, tt.chunk, tt.cfg.ChunkDims)
			assert.Equal(t, tt.istoreK, tt.cfg.IstoreK)
			assert.Equal(t, DefaultFrames, tt.cfg.Frames)
			assert.Equal(t, 3, tt.cfg.CacheSlots)
			assert.Equal(t, uint64(192), tt.cfg.CacheSize.Bytes())
			assert.InDelta(t, 1.0, tt.cfg.CacheW0, 0)
			assert.Empty(t, tt.cfg.Filters)
		})
	}

	assert.Len(t, Variants(), 3)
}

func TestVariantByName(t *testing.T) {
	cfg, err := VariantByName("test2")
	require.NoError(t, err)
	assert.Equal(t, Test2(), cfg)

	cfg, err = VariantByName("TEST3")
	require.NoError(t, err)
	assert.Equal(t, "test3", cfg.Name)

	_, err = VariantByName("test4")
	require.ErrorContains(t, err, "test1, test2, test3")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"preset", func(*Config) {}, ""},
		{"no frames", func(c *Config) { c.Frames = 0 }, ""},
		{"chunk longer than any extent", func(c *Config) { c.ChunkDims[0] = 1 << 40 }, ""},
		{"empty path", func(c *Config) { c.Path = "" }, "path is empty"},
		{"negative frames", func(c *Config) { c.Frames = -1 }, "negative"},
		{"zero chunk dim", func(c *Config) { c.ChunkDims[1] = 0 }, "chunk dimension 1 is zero"},
		{"chunk wider than frame", func(c *Config) { c.ChunkDims[2] = 7 }, "exceeds frame dimension 6"},
		{"istorek zero", func(c *Config) { c.IstoreK = 0 }, "istore K"},
		{"negative slots", func(c *Config) { c.CacheSlots = -3 }, "cache slots"},
		{"w0 above one", func(c *Config) { c.CacheW0 = 1.5 }, "cache w0"},
		{"unknown filter", func(c *Config) { c.Filters = []string{"bzip2"} }, "unknown filter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Test1()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
			require.ErrorContains(t, err, `invalid config "test1"`)
		})
	}
}

func TestConfig_ValidateReportsEveryProblem(t *testing.T) {
	cfg := Test1()
	cfg.Path = ""
	cfg.IstoreK = 0
	err := cfg.Validate()
	require.ErrorContains(t, err, "path is empty")
	require.ErrorContains(t, err, "istore K")
}

func TestConfig_String(t *testing.T) {
	cfg := Test2()
	assert.Equal(t, "test2 frames=65540 chunk=[2 4 6] istorek=32770 cache=3/192B/1", cfg.String())

	cfg.Filters = []string{"shuffle", "deflate"}
	cfg.CacheSize = 1 * datasize.MB
	assert.Equal(t, "test2 frames=65540 chunk=[2 4 6] istorek=32770 cache=3/1MB/1 filters=shuffle,deflate", cfg.String())
}

func TestPattern(t *testing.T) {
	p := Pattern()
	assert.Equal(t, [FrameCols]int32{11, 12, 13, 14, 15, 16}, p[0])
	assert.Equal(t, [FrameCols]int32{41, 42, 43, 44, 45, 46}, p[3])
	assert.Equal(t, expectedFirst, p[0][0])

	vals := p.Values()
	require.Len(t, vals, FrameElements)
	assert.Equal(t, int32(21), vals[FrameCols])
	assert.Equal(t, int32(46), vals[FrameElements-1])
}

func TestReport(t *testing.T) {
	tests := []struct {
		name string
		v    Verification
		want string
	}{
		{"all ok", Verification{Extent: 5}, "Missing number of frames: 0\nAll OK!\n"},
		{"missing", Verification{Extent: 65540, Missing: 4, FirstMissing: 65537}, "Missing number of frames: 4\nFirst missing frame: 65537\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, Report(&out, &tt.v))
			assert.Equal(t, tt.want, out.String())
		})
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestReport_WriterError(t *testing.T) {
	require.ErrorContains(t, Report(failingWriter{}, &Verification{}), "closed pipe")
}

func TestReportSummary(t *testing.T) {
	missing := roaring64.New()
	missing.Add(65536)
	results := []*Result{
		{Config: Test1(), Write: &WriteStats{Frames: 65540}, Verification: Verification{Extent: 65540, MissingFrames: roaring64.New()}},
		{Config: Test3(), Write: &WriteStats{Frames: 65540}, Verification: Verification{Extent: 65540, Missing: 1, FirstMissing: 65537, MissingFrames: missing}},
	}

	var out bytes.Buffer
	require.NoError(t, ReportSummary(&out, results))
	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Contains(t, string(lines[1]), "test1")
	assert.Contains(t, string(lines[1]), "ok")
	assert.Contains(t, string(lines[2]), fmt.Sprint(65537))
	assert.Contains(t, string(lines[2]), "MISSING")
}

func TestPhaseError(t *testing.T) {
	cause := errors.New("disk full")

	err := writeErr("write frame", 41, cause)
	assert.Equal(t, "write phase: write frame (frame 41): disk full", err.Error())
	require.ErrorIs(t, err, cause)

	err = verifyErr("open file", -1, cause)
	assert.Equal(t, "verify phase: open file: disk full", err.Error())
}
