package missingframes

// Frame is one 4x6 grid of the dataset.
type Frame [FrameRows][FrameCols]int32

// Pattern returns the frame every iteration writes: row r holds
// 10*(r+1)+1 .. 10*(r+1)+6.
func Pattern() Frame {
	var f Frame
	for r := 0; r < FrameRows; r++ {
		for c := 0; c < FrameCols; c++ {
			f[r][c] = int32(10*(r+1) + c + 1)
		}
	}
	return f
}

// Values returns the frame in row-major order.
func (f *Frame) Values() []int32 {
	out := make([]int32, 0, FrameElements)
	for r := range f {
		out = append(out, f[r][:]...)
	}
	return out
}

// expectedFirst is element [0][0] of the pattern, the value the verifier checks.
const expectedFirst int32 = 11
