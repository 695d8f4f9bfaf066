package core

import "fmt"

// Datatype identifies the element type of a dataset.
type Datatype uint8

// Supported datatypes. Elements are stored little-endian.
const (
	Int32 Datatype = 1
)

// Size returns the element size in bytes, 0 for an unknown type.
func (t Datatype) Size() uint32 {
	switch t {
	case Int32:
		return 4
	default:
		return 0
	}
}

// Validate rejects unknown datatypes.
func (t Datatype) Validate() error {
	if t.Size() == 0 {
		return fmt.Errorf("unsupported datatype %d", uint8(t))
	}
	return nil
}

func (t Datatype) String() string {
	switch t {
	case Int32:
		return "int32"
	default:
		return fmt.Sprintf("Datatype(%d)", uint8(t))
	}
}
