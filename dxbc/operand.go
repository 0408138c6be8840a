// Package dxbc emits Shader Model 5 style bytecode: encoded operands,
// instructions appended to a growable word buffer, and the chunked container
// the driver consumes. It is a pure emitter; all semantic decisions belong to
// the caller.
package dxbc

import "math"

// OperandType is the register file an operand addresses.
type OperandType uint32

const (
	OperandTemp           OperandType = 0
	OperandInput          OperandType = 1
	OperandOutput         OperandType = 2
	OperandIndexableTemp  OperandType = 3
	OperandImmediate32    OperandType = 4
	OperandSampler        OperandType = 6
	OperandResource       OperandType = 7
	OperandConstantBuffer OperandType = 8
	OperandOutputDepth    OperandType = 12
	OperandNull           OperandType = 13
	OperandUAV            OperandType = 30
)

// Swizzle packs four 2-bit component selections, component 0 in the low bits.
const (
	SwizzleXYZW uint32 = 0b11100100
	SwizzleXXXX uint32 = 0b00000000
	SwizzleYYYY uint32 = 0b01010101
	SwizzleZZZZ uint32 = 0b10101010
	SwizzleWWWW uint32 = 0b11111111
	SwizzleXYXY uint32 = 0b01000100
	SwizzleWZYX uint32 = 0b00011011
)

// SwizzleForComponent returns the broadcast swizzle of component c.
func SwizzleForComponent(c uint32) uint32 {
	c &= 3
	return c | c<<2 | c<<4 | c<<6
}

// Index is one dimension of an operand address: a literal value, optionally
// biased at runtime by one component of a temp register.
type Index struct {
	Value        uint32
	Relative     bool
	RelTemp      uint32
	RelComponent uint32
	// RelIndexable addresses the relative register in x0 space instead of
	// r space.
	RelIndexable      bool
	RelIndexableIndex uint32
}

// Idx is a static index.
func Idx(v uint32) Index { return Index{Value: v} }

// IdxRel is an index biased by component of temp register reg at runtime.
func IdxRel(v, reg, component uint32) Index {
	return Index{Value: v, Relative: true, RelTemp: reg, RelComponent: component}
}

const (
	// operand token layout
	operandComponents1      = 1
	operandComponents4      = 2
	operandSelectionMask    = 0 << 2
	operandSelectionSwizzle = 1 << 2
	operandSelectionSelect1 = 2 << 2

	operandTypeShift     = 12
	operandIndexDimShift = 20
	operandIndexRepShift = 22 // 3 bits per dimension

	operandExtendedBit = 1 << 31

	indexRepImmediate         = 0
	indexRepImmediateRelative = 3

	extendedModifierNeg    = 1
	extendedModifierAbs    = 2
	extendedModifierAbsNeg = 3
)

// Src is a source operand: register file reference with swizzle and
// modifiers, or a 4-component immediate.
type Src struct {
	Type    OperandType
	Dims    uint8
	Index   [2]Index
	Swizzle uint32

	Absolute bool
	Negate   bool

	Imm [4]uint32
}

// SrcR reads temp register r#.
func SrcR(r uint32) Src {
	return Src{Type: OperandTemp, Dims: 1, Index: [2]Index{Idx(r)}, Swizzle: SwizzleXYZW}
}

// SrcX reads indexable temp array x#[index].
func SrcX(x uint32, index Index) Src {
	return Src{Type: OperandIndexableTemp, Dims: 2, Index: [2]Index{Idx(x), index}, Swizzle: SwizzleXYZW}
}

// SrcV reads input register v#.
func SrcV(v uint32) Src {
	return Src{Type: OperandInput, Dims: 1, Index: [2]Index{Idx(v)}, Swizzle: SwizzleXYZW}
}

// SrcCB reads constant buffer cb#[index].
func SrcCB(buffer uint32, index Index) Src {
	return Src{Type: OperandConstantBuffer, Dims: 2, Index: [2]Index{Idx(buffer), index}, Swizzle: SwizzleXYZW}
}

// SrcT references shader resource t#.
func SrcT(t uint32) Src {
	return Src{Type: OperandResource, Dims: 1, Index: [2]Index{Idx(t)}, Swizzle: SwizzleXYZW}
}

// SrcS references sampler s#.
func SrcS(s uint32) Src {
	return Src{Type: OperandSampler, Dims: 1, Index: [2]Index{Idx(s)}, Swizzle: SwizzleXYZW}
}

// SrcU references unordered access view u#.
func SrcU(u uint32) Src {
	return Src{Type: OperandUAV, Dims: 1, Index: [2]Index{Idx(u)}, Swizzle: SwizzleXYZW}
}

// SrcLU is a 4-component immediate with all lanes set to v.
func SrcLU(v uint32) Src {
	return Src{Type: OperandImmediate32, Imm: [4]uint32{v, v, v, v}, Swizzle: SwizzleXYZW}
}

// SrcLU4 is a 4-component immediate.
func SrcLU4(x, y, z, w uint32) Src {
	return Src{Type: OperandImmediate32, Imm: [4]uint32{x, y, z, w}, Swizzle: SwizzleXYZW}
}

// SrcLI is a 4-component signed immediate with all lanes set to v.
func SrcLI(v int32) Src {
	return SrcLU(uint32(v))
}

// SrcLF is a 4-component float immediate with all lanes set to v.
func SrcLF(v float32) Src {
	b := math.Float32bits(v)
	return SrcLU(b)
}

// SrcLF4 is a 4-component float immediate.
func SrcLF4(x, y, z, w float32) Src {
	return SrcLU4(math.Float32bits(x), math.Float32bits(y),
		math.Float32bits(z), math.Float32bits(w))
}

// Swiz returns a copy with the given 8-bit swizzle applied on top of the
// existing one.
func (s Src) Swiz(swizzle uint32) Src {
	var out uint32
	for i := uint32(0); i < 4; i++ {
		c := (swizzle >> (2 * i)) & 3
		out |= ((s.Swizzle >> (2 * c)) & 3) << (2 * i)
	}
	s.Swizzle = out
	return s
}

// Select broadcasts one component to all four lanes.
func (s Src) Select(component uint32) Src {
	return s.Swiz(SwizzleForComponent(component))
}

// Abs returns a copy with the absolute-value modifier set.
func (s Src) Abs() Src {
	s.Absolute = true
	return s
}

// Neg returns a copy with the negate modifier toggled on.
func (s Src) Neg() Src {
	s.Negate = true
	return s
}

// WithModifiers applies absolute then negate per the guest operand order.
func (s Src) WithModifiers(absolute, negate bool) Src {
	s.Absolute = s.Absolute || absolute
	if negate {
		s.Negate = !s.Negate
	}
	return s
}

func (s Src) encode(code *[]uint32) {
	if s.Type == OperandImmediate32 {
		*code = append(*code, uint32(OperandImmediate32)<<operandTypeShift|operandComponents4)
		*code = append(*code, s.Imm[0], s.Imm[1], s.Imm[2], s.Imm[3])
		return
	}
	token := uint32(operandComponents4) | operandSelectionSwizzle |
		s.Swizzle<<4 | uint32(s.Type)<<operandTypeShift |
		uint32(s.Dims)<<operandIndexDimShift
	for i := 0; i < int(s.Dims); i++ {
		rep := uint32(indexRepImmediate)
		if s.Index[i].Relative {
			rep = indexRepImmediateRelative
		}
		token |= rep << (operandIndexRepShift + 3*i)
	}
	extended := s.Absolute || s.Negate
	if extended {
		token |= operandExtendedBit
	}
	*code = append(*code, token)
	if extended {
		mod := uint32(0)
		switch {
		case s.Absolute && s.Negate:
			mod = extendedModifierAbsNeg
		case s.Absolute:
			mod = extendedModifierAbs
		case s.Negate:
			mod = extendedModifierNeg
		}
		*code = append(*code, 1|mod<<6)
	}
	for i := 0; i < int(s.Dims); i++ {
		encodeIndex(code, s.Index[i])
	}
}

// encodeIndex appends one index dimension, including the relative register
// operand when present.
func encodeIndex(code *[]uint32, idx Index) {
	*code = append(*code, idx.Value)
	if !idx.Relative {
		return
	}
	if idx.RelIndexable {
		token := uint32(operandComponents4) | operandSelectionSelect1 |
			idx.RelComponent<<4 |
			uint32(OperandIndexableTemp)<<operandTypeShift |
			2<<operandIndexDimShift
		*code = append(*code, token, idx.RelIndexableIndex, idx.RelTemp)
		return
	}
	token := uint32(operandComponents4) | operandSelectionSelect1 |
		idx.RelComponent<<4 |
		uint32(OperandTemp)<<operandTypeShift |
		1<<operandIndexDimShift
	*code = append(*code, token, idx.RelTemp)
}

// Dest is a destination operand with a component write mask.
type Dest struct {
	Type      OperandType
	Dims      uint8
	Index     [2]Index
	WriteMask uint8
}

// DestR writes temp register r# under mask.
func DestR(r uint32, mask uint8) Dest {
	return Dest{Type: OperandTemp, Dims: 1, Index: [2]Index{Idx(r)}, WriteMask: mask}
}

// DestX writes indexable temp array x#[index].
func DestX(x uint32, index Index, mask uint8) Dest {
	return Dest{Type: OperandIndexableTemp, Dims: 2, Index: [2]Index{Idx(x), index}, WriteMask: mask}
}

// DestO writes output register o#.
func DestO(o uint32, mask uint8) Dest {
	return Dest{Type: OperandOutput, Dims: 1, Index: [2]Index{Idx(o)}, WriteMask: mask}
}

// DestODepth writes the depth output.
func DestODepth() Dest {
	return Dest{Type: OperandOutputDepth}
}

// DestU writes raw UAV u#.
func DestU(u uint32, mask uint8) Dest {
	return Dest{Type: OperandUAV, Dims: 1, Index: [2]Index{Idx(u)}, WriteMask: mask}
}

// DestNull discards the result; used for instructions executed only for
// side effects or statistics.
func DestNull() Dest {
	return Dest{Type: OperandNull}
}

func (d Dest) encode(code *[]uint32) {
	switch d.Type {
	case OperandNull:
		*code = append(*code, uint32(OperandNull)<<operandTypeShift)
		return
	case OperandOutputDepth:
		*code = append(*code, uint32(OperandOutputDepth)<<operandTypeShift|operandComponents1)
		return
	}
	token := uint32(operandComponents4) | operandSelectionMask |
		uint32(d.WriteMask&0b1111)<<4 | uint32(d.Type)<<operandTypeShift |
		uint32(d.Dims)<<operandIndexDimShift
	for i := 0; i < int(d.Dims); i++ {
		rep := uint32(indexRepImmediate)
		if d.Index[i].Relative {
			rep = indexRepImmediateRelative
		}
		token |= rep << (operandIndexRepShift + 3*i)
	}
	*code = append(*code, token)
	for i := 0; i < int(d.Dims); i++ {
		encodeIndex(code, d.Index[i])
	}
}

// Mask returns the write mask, which for the depth output is a single lane.
func (d Dest) Mask() uint8 {
	switch d.Type {
	case OperandNull:
		return 0
	case OperandOutputDepth:
		return 0b0001
	}
	return d.WriteMask & 0b1111
}
