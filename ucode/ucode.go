// Package ucode defines the decoded form of Xenos guest shader microcode:
// operands, results, ALU and fetch instructions, and the control-flow records
// (exec blocks, loops, jumps, allocs) a translator walks in a single pass.
//
// The package is a pure data model. Decoding raw microcode dwords into these
// records is the job of an upstream decoder; translation of these records into
// host bytecode lives in the translate package.
package ucode

import "math/bits"

// ShaderType identifies the guest pipeline stage a program was written for.
type ShaderType uint8

const (
	ShaderTypeVertex ShaderType = iota
	ShaderTypePixel
)

func (t ShaderType) String() string {
	if t == ShaderTypeVertex {
		return "vertex"
	}
	return "pixel"
}

// SwizzleSource selects where one lane of an operand or result takes its
// value from: one of the four components of the source, or a literal 0 or 1.
// Literal selections are only valid in results.
type SwizzleSource uint8

const (
	SwizzleX SwizzleSource = iota
	SwizzleY
	SwizzleZ
	SwizzleW
	Swizzle0
	Swizzle1
)

func (s SwizzleSource) String() string {
	switch s {
	case SwizzleX:
		return "x"
	case SwizzleY:
		return "y"
	case SwizzleZ:
		return "z"
	case SwizzleW:
		return "w"
	case Swizzle0:
		return "0"
	}
	return "1"
}

// SwizzleFromComponent returns the swizzle selecting component i (0-3).
func SwizzleFromComponent(i uint32) SwizzleSource { return SwizzleSource(i) }

// IdentityComponents is the no-op result component selection (x, y, z, w).
var IdentityComponents = [4]SwizzleSource{SwizzleX, SwizzleY, SwizzleZ, SwizzleW}

// OperandStorage is the guest-visible storage class an operand reads from.
type OperandStorage uint8

const (
	StorageRegister OperandStorage = iota
	StorageConstantFloat
	StorageConstantInt
	StorageConstantBool
	StorageLoopCount
	StoragePreviousVector
	StoragePreviousScalar
	StoragePredicate
)

// AddressingMode selects how an operand or result index is formed.
type AddressingMode uint8

const (
	// AddressStatic uses the encoded index as-is.
	AddressStatic AddressingMode = iota
	// AddressRelativeA0 adds the a0 address register to the encoded index.
	AddressRelativeA0
	// AddressRelativeAL adds the current loop induction variable (aL) to the
	// encoded index.
	AddressRelativeAL
)

// Operand is one source reference of a guest instruction. Immutable once
// decoded.
type Operand struct {
	Storage    OperandStorage
	Index      uint32
	Addressing AddressingMode

	// Negate and Absolute apply in the order |x| then -|x|, matching the
	// guest encoding.
	Negate   bool
	Absolute bool

	// ComponentCount is how many components the consuming operation reads
	// (1 for scalar operands, up to 4 for vector operands).
	ComponentCount uint8

	// Components holds the per-lane swizzle. Only SwizzleX..SwizzleW are
	// valid here; lanes beyond ComponentCount are ignored.
	Components [4]SwizzleSource
}

// Component returns the swizzle source for lane i, treating out-of-range
// lanes as lane repetition of the last valid component.
func (o *Operand) Component(i int) SwizzleSource {
	if i >= int(o.ComponentCount) && o.ComponentCount > 0 {
		i = int(o.ComponentCount) - 1
	}
	return o.Components[i]
}

// ResultStorage is the write target class of a guest instruction result.
type ResultStorage uint8

const (
	TargetNone ResultStorage = iota
	TargetRegister
	TargetInterpolator
	TargetPosition
	// TargetPointSizeEdgeFlagKillVertex packs point size (x), edge flag (y)
	// and the vertex-kill value (z) into one export.
	TargetPointSizeEdgeFlagKillVertex
	TargetColor
	TargetDepth
	TargetExportAddress
	TargetExportData
)

// Result is the write target of a guest instruction, with per-lane source
// selection. A lane may take a swizzled source component or a literal 0/1;
// lanes outside WriteMask are not written at all.
type Result struct {
	Storage    ResultStorage
	Index      uint32
	Addressing AddressingMode

	// Clamp saturates the written value to [0, 1].
	Clamp bool

	// WriteMask has bit i set when lane i is written (bit 0 = x).
	WriteMask uint8

	Components [4]SwizzleSource
}

// UsedWriteMask returns the lanes actually written, which for a TargetNone
// result is always zero.
func (r *Result) UsedWriteMask() uint8 {
	if r.Storage == TargetNone {
		return 0
	}
	return r.WriteMask & 0b1111
}

// UsedResultComponents returns a mask of which components of the computed
// value are consumed by the write, resolving the per-lane swizzle. Lanes
// selecting literal 0/1 consume nothing.
func (r *Result) UsedResultComponents() uint8 {
	mask := r.UsedWriteMask()
	var used uint8
	for i := 0; i < 4; i++ {
		if mask&(1<<i) == 0 {
			continue
		}
		if c := r.Components[i]; c <= SwizzleW {
			used |= 1 << c
		}
	}
	return used
}

// IsStandardSwizzle reports whether every written lane takes its own
// component (x from x, y from y, ...), so the write needs no re-swizzling.
func (r *Result) IsStandardSwizzle() bool {
	mask := r.UsedWriteMask()
	for i := 0; i < 4; i++ {
		if mask&(1<<i) != 0 && r.Components[i] != SwizzleSource(i) {
			return false
		}
	}
	return true
}

// LoopConstant is one packed guest loop constant: iteration count, initial
// induction value and signed step.
type LoopConstant uint32

// Count returns the trip count (0-255).
func (c LoopConstant) Count() uint32 { return uint32(c) & 0xFF }

// Start returns the initial aL value.
func (c LoopConstant) Start() uint32 { return (uint32(c) >> 8) & 0xFF }

// Step returns the signed per-iteration aL increment.
func (c LoopConstant) Step() int32 { return int32(uint32(c)<<8) >> 24 }

// MakeLoopConstant packs count, start and step into a loop constant dword.
func MakeLoopConstant(count, start uint32, step int32) LoopConstant {
	return LoopConstant(count&0xFF | (start&0xFF)<<8 | (uint32(step)&0xFF)<<16)
}

// ConstantRegisterMap records which of the 256 float constant registers a
// shader references statically, so the host constant buffer can pack only
// those. When the shader addresses constants dynamically the packing is
// abandoned and the full register file is bound instead.
type ConstantRegisterMap struct {
	FloatBitmap [4]uint64

	// DynamicAddressed is set when any float constant is accessed through
	// a0/aL, which defeats static packing.
	DynamicAddressed bool
}

// MarkFloat records a static reference to float constant index.
func (m *ConstantRegisterMap) MarkFloat(index uint32) {
	if index < 256 {
		m.FloatBitmap[index>>6] |= 1 << (index & 63)
	}
}

// FloatCount returns the number of statically referenced float constants.
func (m *ConstantRegisterMap) FloatCount() uint32 {
	var n int
	for _, w := range m.FloatBitmap {
		n += bits.OnesCount64(w)
	}
	return uint32(n)
}

// PackedFloatIndex returns the position of float constant index within the
// packed constant buffer, or -1 when the constant was never statically
// referenced. Callers treat -1 as "read zero" rather than an error, since
// shipped guest content does contain stale constant references.
func (m *ConstantRegisterMap) PackedFloatIndex(index uint32) int {
	if index >= 256 || m.FloatBitmap[index>>6]&(1<<(index&63)) == 0 {
		return -1
	}
	n := 0
	for i := uint32(0); i < index>>6; i++ {
		n += bits.OnesCount64(m.FloatBitmap[i])
	}
	n += bits.OnesCount64(m.FloatBitmap[index>>6] & (1<<(index&63) - 1))
	return n
}
