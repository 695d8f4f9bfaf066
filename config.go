package missingframes

import (
	"errors"
	"fmt"
	"strings"

	"github.com/c2h5oh/datasize"

	"github.com/scigolib/missingframes/internal/core"
	"github.com/scigolib/missingframes/internal/writer"
)

// Dataset geometry shared by every variant.
const (
	DatasetName   = "ExtendibleArray"
	Rank          = 3
	FrameRows     = 4
	FrameCols     = 6
	FrameElements = FrameRows * FrameCols

	// DefaultFrames is the frame count of the regression variants.
	DefaultFrames = 65540
)

// Config is one harness variant: how many frames to append and the storage
// knobs under test.
type Config struct {
	Name      string
	Path      string
	Frames    int
	ChunkDims [Rank]uint64

	// IstoreK is the chunk index B-tree order. Nodes hold up to 2*IstoreK entries.
	IstoreK uint32

	// Chunk cache of the dataset: hash slots, byte budget, preemption weight.
	CacheSlots int
	CacheSize  datasize.ByteSize
	CacheW0    float64

	// Filters is the chunk filter pipeline by name, empty for none.
	Filters []string
}

// Test1 chunks one frame per chunk with a B-tree order whose leaf holds all
// 65540 chunks.
func Test1() Config {
	return Config{
		Name:       "test1",
		Path:       "repro_test1.h5",
		Frames:     DefaultFrames,
		ChunkDims:  [Rank]uint64{1, FrameRows, FrameCols},
		IstoreK:    32770,
		CacheSlots: 3,
		CacheSize:  192 * datasize.B,
		CacheW0:    1.0,
	}
}

// Test2 is Test1 with two frames per chunk.
func Test2() Config {
	cfg := Test1()
	cfg.Name = "test2"
	cfg.Path = "repro_test2.h5"
	cfg.ChunkDims = [Rank]uint64{2, FrameRows, FrameCols}
	return cfg
}

// Test3 is Test1 with a B-tree order one lower, so the chunk index no longer
// fits a single leaf.
func Test3() Config {
	cfg := Test1()
	cfg.Name = "test3"
	cfg.Path = "repro_test3.h5"
	cfg.IstoreK = 32769
	return cfg
}

// Variants returns the preset variants in order.
func Variants() []Config {
	return []Config{Test1(), Test2(), Test3()}
}

// VariantByName returns the preset with the given name.
func VariantByName(name string) (Config, error) {
	for _, v := range Variants() {
		if strings.EqualFold(v.Name, name) {
			return v, nil
		}
	}
	names := make([]string, 0, 3)
	for _, v := range Variants() {
		names = append(names, v.Name)
	}
	return Config{}, fmt.Errorf("unknown variant %q (have %s)", name, strings.Join(names, ", "))
}

// Validate checks the configuration before any file is touched.
func (c Config) Validate() error {
	var errs []error

	if c.Path == "" {
		errs = append(errs, errors.New("path is empty"))
	}
	if c.Frames < 0 {
		errs = append(errs, fmt.Errorf("frames %d is negative", c.Frames))
	}

	limits := [Rank]uint64{core.Unlimited, FrameRows, FrameCols}
	for i, d := range c.ChunkDims {
		if d == 0 {
			errs = append(errs, fmt.Errorf("chunk dimension %d is zero", i))
		} else if d > limits[i] {
			errs = append(errs, fmt.Errorf("chunk dimension %d: %d exceeds frame dimension %d", i, d, limits[i]))
		}
	}

	if err := core.ValidateIstoreK(c.IstoreK); err != nil {
		errs = append(errs, err)
	}
	if c.CacheSlots < 0 {
		errs = append(errs, fmt.Errorf("cache slots %d is negative", c.CacheSlots))
	}
	if c.CacheW0 < 0 || c.CacheW0 > 1 {
		errs = append(errs, fmt.Errorf("cache w0 %g out of range [0,1]", c.CacheW0))
	}
	for _, name := range c.Filters {
		if _, err := writer.FilterByName(name, 4); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config %q: %w", c.Name, err)
	}
	return nil
}

// String summarizes the knobs of the variant.
func (c Config) String() string {
	s := fmt.Sprintf("%s frames=%d chunk=%v istorek=%d cache=%d/%s/%g",
		c.Name, c.Frames, c.ChunkDims, c.IstoreK, c.CacheSlots, c.CacheSize, c.CacheW0)
	if len(c.Filters) > 0 {
		s += " filters=" + strings.Join(c.Filters, ",")
	}
	return s
}
