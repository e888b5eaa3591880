package packet

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Vector2 is a world position. It occupies 8 bytes on the wire, x then y.
type Vector2 struct {
	X float32
	Y float32
}

func NewVector2(x, y float32) Vector2 {
	return Vector2{X: x, Y: y}
}

func (v Vector2) String() string {
	return fmt.Sprintf("{%.2f, %.2f}", v.X, v.Y)
}

func (v Vector2) appendTo(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, math.Float32bits(v.X))
	return binary.BigEndian.AppendUint32(b, math.Float32bits(v.Y))
}

func readVector2(b []byte) Vector2 {
	return Vector2{
		X: math.Float32frombits(binary.BigEndian.Uint32(b[0:4])),
		Y: math.Float32frombits(binary.BigEndian.Uint32(b[4:8])),
	}
}
