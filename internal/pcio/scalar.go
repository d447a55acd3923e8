package pcio

import (
	"encoding/binary"
	"math"
)

// scalarKind is a fixed-width numeric type shared by the PLY and PCD codecs.
type scalarKind int

const (
	kindInvalid scalarKind = iota
	kindInt8
	kindUint8
	kindInt16
	kindUint16
	kindInt32
	kindUint32
	kindInt64
	kindUint64
	kindFloat32
	kindFloat64
)

func (k scalarKind) size() int {
	switch k {
	case kindInt8, kindUint8:
		return 1
	case kindInt16, kindUint16:
		return 2
	case kindInt32, kindUint32, kindFloat32:
		return 4
	case kindInt64, kindUint64, kindFloat64:
		return 8
	}
	return 0
}

func (k scalarKind) isInteger() bool {
	return k != kindInvalid && k != kindFloat32 && k != kindFloat64
}

// decode reads one value of kind k from the front of b.
func (k scalarKind) decode(b []byte, order binary.ByteOrder) float64 {
	switch k {
	case kindInt8:
		return float64(int8(b[0]))
	case kindUint8:
		return float64(b[0])
	case kindInt16:
		return float64(int16(order.Uint16(b)))
	case kindUint16:
		return float64(order.Uint16(b))
	case kindInt32:
		return float64(int32(order.Uint32(b)))
	case kindUint32:
		return float64(order.Uint32(b))
	case kindInt64:
		return float64(int64(order.Uint64(b)))
	case kindUint64:
		return float64(order.Uint64(b))
	case kindFloat32:
		return float64(math.Float32frombits(order.Uint32(b)))
	case kindFloat64:
		return math.Float64frombits(order.Uint64(b))
	}
	return math.NaN()
}

// plyKind maps PLY property type names (both the classic and the sized
// spellings) to scalar kinds.
func plyKind(name string) scalarKind {
	switch name {
	case "char", "int8":
		return kindInt8
	case "uchar", "uint8":
		return kindUint8
	case "short", "int16":
		return kindInt16
	case "ushort", "uint16":
		return kindUint16
	case "int", "int32":
		return kindInt32
	case "uint", "uint32":
		return kindUint32
	case "float", "float32":
		return kindFloat32
	case "double", "float64":
		return kindFloat64
	}
	return kindInvalid
}

// pcdKind maps a PCD TYPE letter and SIZE to a scalar kind.
func pcdKind(typ string, size int) scalarKind {
	switch typ {
	case "F":
		switch size {
		case 4:
			return kindFloat32
		case 8:
			return kindFloat64
		}
	case "I":
		switch size {
		case 1:
			return kindInt8
		case 2:
			return kindInt16
		case 4:
			return kindInt32
		case 8:
			return kindInt64
		}
	case "U":
		switch size {
		case 1:
			return kindUint8
		case 2:
			return kindUint16
		case 4:
			return kindUint32
		case 8:
			return kindUint64
		}
	}
	return kindInvalid
}

// colorChannel normalises a colour channel to [0,1]. Integer channels are
// treated as 8-bit (0..255) values, float channels are taken as-is.
func colorChannel(v float64, k scalarKind) float64 {
	if k.isInteger() {
		return v / 255.0
	}
	return v
}

// toByte converts a [0,1] channel to 0..255 with clamping.
func toByte(v float64) uint8 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(math.Round(v * 255))
}
