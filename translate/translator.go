// Package translate lowers decoded guest microcode into host bytecode
// containers. A Translator is a reusable single-pass session: reset, emit the
// stage prologue, walk the control-flow records, emit the stage epilogue, and
// serialize declarations plus code into a container blob.
package translate

import (
	"fmt"
	"log/slog"
	"math"
	"math/bits"

	"github.com/gogpu/xgpu/dxbc"
	"github.com/gogpu/xgpu/ucode"
)

// System flags, passed to translated shaders through the flags component of
// the system constants buffer.
const (
	FlagXYDividedByW uint32 = 1 << iota
	FlagZDividedByW
	FlagWNotReciprocal
	FlagReverseZ
	FlagKillIfAnyVertexKilled
	FlagAlphaPassIfLess
	FlagAlphaPassIfEqual
	FlagAlphaPassIfGreater
	FlagUserClipPlane0
	FlagUserClipPlane1
	FlagUserClipPlane2
	FlagUserClipPlane3
	FlagUserClipPlane4
	FlagUserClipPlane5
	FlagColor0Gamma
	FlagColor1Gamma
	FlagColor2Gamma
	FlagColor3Gamma
	FlagConvertColor0ToGamma
	FlagConvertColor1ToGamma
	FlagConvertColor2ToGamma
	FlagConvertColor3ToGamma
)

// Constant buffer registers. Binding order (the logical cbuffer index) is
// allocation order within one translation; the b# register is fixed.
const (
	cbufferRegisterSystemConstants   = 0
	cbufferRegisterFloatConstants    = 1
	cbufferRegisterBoolLoopConstants = 2
	cbufferRegisterFetchConstants    = 3
)

// System constants buffer layout, in vec4 units.
const (
	// x: flags, y: vertex index endian, z: base vertex index,
	// w: alpha test reference.
	sysConstFlagsVec = 0
	// xyz: NDC scale, w: point size.
	sysConstNDCScaleVec = 1
	// xyz: NDC offset.
	sysConstNDCOffsetVec = 2
	// Per-render-target exponent bias as a 2^bias multiplier.
	sysConstColorExpBiasVec = 3
	// Six user clip planes.
	sysConstUserClipPlanesVec = 4

	sysConstVectorCount = 10
)

// Bool/loop constants buffer layout: 256 bool bits in two vec4s, then the 32
// loop constants, one dword per component.
const (
	boolLoopConstBoolVec     = 0
	boolLoopConstLoopVec     = 2
	boolLoopConstVectorCount = 10
)

// Fetch constants buffer: 32 texture fetch constants of 6 dwords each, which
// is also 96 vertex fetch constants of 2 dwords each.
const fetchConstVectorCount = 48

// Stage input/output registers.
const (
	maxInterpolators = 16

	vsInVertexIndex = 0

	vsOutInterpolators    = 0
	vsOutPointParameters  = 16
	vsOutClipDistance0123 = 17
	vsOutClipDistance45   = 18
	vsOutPosition         = 19

	psInInterpolators   = 0
	psInPointParameters = 16
	psInPosition        = 17
	psInFrontFace       = 18
)

const bindingUnallocated = ^uint32(0)

// vendorIDIntel hosts get the if-cascade control flow lowering regardless of
// options; switch dispatch is broken in some of their compilers.
const vendorIDIntel = 0x8086

// Options configures a Translator. The zero value is usable; DefaultOptions
// enables the preferred control-flow lowering.
type Options struct {
	// VendorID is the PCI vendor of the host GPU, used for driver
	// workarounds.
	VendorID uint32
	// SwitchFlowControl lowers guest jumps to a switch jump table over the
	// program counter instead of an if cascade.
	SwitchFlowControl bool
	Logger            *slog.Logger
}

// DefaultOptions returns the options used when none are supplied.
func DefaultOptions() Options {
	return Options{SwitchFlowControl: true}
}

// Translator is a reusable translation session. Not safe for concurrent use;
// a pipeline cache creates one per worker.
type Translator struct {
	opts Options
	log  *slog.Logger

	shader       *Shader
	program      *ucode.Program
	modification Modification

	code  []uint32
	stats dxbc.Statistics
	asm   *dxbc.Assembler
	alloc RegisterAllocator

	err error

	// Constant buffer logical indices, in allocation order.
	cbufferCount         uint32
	cbufferIndexSystem   uint32
	cbufferIndexFloat    uint32
	cbufferIndexBoolLoop uint32
	cbufferIndexFetch    uint32

	srvCount             uint32
	srvIndexSharedMemory uint32
	uavIndexSharedMemory uint32
	textureBindings      []TextureBinding
	samplerBindings      []SamplerBinding

	// System temps, bindingUnallocated when the stage does not use them.
	tempPosition                    uint32
	tempPointSizeEdgeFlagKillVertex uint32
	tempDepth                       uint32
	tempColor                       [4]uint32
	tempMemExportWritten            uint32
	tempMemExportAddress            [MaxMemExports]uint32
	tempMemExportData               [MaxMemExports][5]uint32
	tempResult                      uint32
	// x: previous scalar (ps), y: program counter, z: predicate (p0),
	// w: address register (a0).
	tempPsPcP0A0  uint32
	tempAL        uint32
	tempLoopCount uint32
	tempGradHLOD  uint32
	tempGradV     uint32

	useSwitch bool

	// Exec conditional state; see controlflow.go.
	execBoolConstant     int64
	execBoolCondition    bool
	execPredicated       bool
	execPredCondition    bool
	execPredicateWritten bool
	instrPredicated      bool
	instrPredCondition   bool

	memexportAllocCount uint32
}

// NewTranslator returns a translator with the given options.
func NewTranslator(opts Options) *Translator {
	t := &Translator{opts: opts, log: opts.Logger}
	if t.log == nil {
		t.log = slog.New(slog.DiscardHandler)
	}
	return t
}

// useSwitchForControlFlow reports whether the jump table lowering is active.
func (t *Translator) useSwitchForControlFlow() bool {
	return t.opts.SwitchFlowControl && t.opts.VendorID != vendorIDIntel
}

// Translate produces the container blob for one modification of the shader.
// The result is deterministic: translating the same microcode with the same
// modification yields a byte-identical blob.
func (t *Translator) Translate(sh *Shader, mod Modification) (*Translation, error) {
	t.reset(sh, mod)
	t.startTranslation()
	for i := range t.program.Blocks {
		block := &t.program.Blocks[i]
		if i > 0 {
			t.processLabel(uint32(i))
		}
		for _, rec := range block.Records {
			t.processRecord(rec)
		}
		if t.err != nil {
			return nil, &TranslationError{
				ShaderType: t.program.Type,
				Address:    block.Address,
				Err:        t.err,
			}
		}
	}
	t.completeShaderCode()
	if t.err != nil {
		return nil, &TranslationError{ShaderType: t.program.Type, Err: t.err}
	}
	blob := t.completeTranslation()
	tr := &Translation{
		Modification:    mod,
		Binary:          blob,
		Statistics:      t.stats,
		TextureBindings: append([]TextureBinding(nil), t.textureBindings...),
		SamplerBindings: append([]SamplerBinding(nil), t.samplerBindings...),
	}
	sh.commitBindings(tr.TextureBindings, tr.SamplerBindings)
	t.log.Debug("shader translated",
		"hash", fmt.Sprintf("%016x", sh.Hash()),
		"type", t.program.Type.String(),
		"modification", uint32(mod),
		"instructions", t.stats.InstructionCount)
	return tr, nil
}

func (t *Translator) reset(sh *Shader, mod Modification) {
	t.shader = sh
	t.program = sh.program
	t.modification = mod
	t.err = nil

	t.code = t.code[:0]
	t.stats = dxbc.Statistics{}
	t.asm = dxbc.NewAssembler(&t.code, &t.stats)
	base := t.program.RegisterCount
	if t.program.DynamicRegisterAddressing {
		base = 0
	}
	t.alloc.Reset(t.asm, base)

	t.cbufferCount = 0
	t.cbufferIndexSystem = t.cbufferCount
	t.cbufferCount++
	t.cbufferIndexFloat = bindingUnallocated
	t.cbufferIndexBoolLoop = bindingUnallocated
	t.cbufferIndexFetch = bindingUnallocated

	t.srvCount = 0
	t.srvIndexSharedMemory = bindingUnallocated
	t.uavIndexSharedMemory = bindingUnallocated
	t.textureBindings = t.textureBindings[:0]
	t.samplerBindings = t.samplerBindings[:0]

	t.tempPosition = bindingUnallocated
	t.tempPointSizeEdgeFlagKillVertex = bindingUnallocated
	t.tempDepth = bindingUnallocated
	for i := range t.tempColor {
		t.tempColor[i] = bindingUnallocated
	}
	t.tempMemExportWritten = bindingUnallocated
	for i := range t.tempMemExportAddress {
		t.tempMemExportAddress[i] = bindingUnallocated
		for j := range t.tempMemExportData[i] {
			t.tempMemExportData[i][j] = bindingUnallocated
		}
	}

	t.useSwitch = t.useSwitchForControlFlow()
	t.execBoolConstant = -1
	t.execPredicated = false
	t.execPredicateWritten = false
	t.instrPredicated = false
	t.memexportAllocCount = 0
}

// fail records the first error; emission continues but the result is
// discarded.
func (t *Translator) fail(err error) {
	if t.err == nil {
		t.err = err
	}
}

func (t *Translator) pop(count uint32) {
	if err := t.alloc.Pop(count); err != nil {
		t.fail(err)
	}
}

// sysConst reads one component of the system constants buffer.
func (t *Translator) sysConst(vec, component uint32) dxbc.Src {
	return dxbc.SrcCB(cbufferRegisterSystemConstants, dxbc.Idx(vec)).Select(component)
}

// boolLoopConst reads a whole vector of the bool/loop constants buffer,
// allocating its logical binding on first use.
func (t *Translator) boolLoopConst(vec uint32) dxbc.Src {
	if t.cbufferIndexBoolLoop == bindingUnallocated {
		t.cbufferIndexBoolLoop = t.cbufferCount
		t.cbufferCount++
	}
	return dxbc.SrcCB(cbufferRegisterBoolLoopConstants, dxbc.Idx(vec))
}

// fetchConstPair reads the two dwords of vertex fetch constant index into the
// xy lanes of the returned source.
func (t *Translator) fetchConstPair(index uint32) dxbc.Src {
	if t.cbufferIndexFetch == bindingUnallocated {
		t.cbufferIndexFetch = t.cbufferCount
		t.cbufferCount++
	}
	src := dxbc.SrcCB(cbufferRegisterFetchConstants, dxbc.Idx(index>>1))
	if index&1 != 0 {
		// Odd constants are in zw.
		return src.Swiz(0b10101110)
	}
	return src.Swiz(0b00000100)
}

// sharedMemorySRV allocates and returns the shared memory t# binding.
func (t *Translator) sharedMemorySRV() dxbc.Src {
	if t.srvIndexSharedMemory == bindingUnallocated {
		t.srvIndexSharedMemory = t.srvCount
		t.srvCount++
	}
	return dxbc.SrcT(0)
}

// sharedMemoryUAV allocates and returns the shared memory u# binding used by
// memory export.
func (t *Translator) sharedMemoryUAV() uint32 {
	if t.uavIndexSharedMemory == bindingUnallocated {
		t.uavIndexSharedMemory = 0
	}
	return 0
}

func maskDest(d dxbc.Dest, mask uint8) dxbc.Dest {
	d.WriteMask = mask
	return d
}

// startTranslation allocates the per-stage system temps, initializes the
// guest register file and opens the control-flow dispatch loop.
func (t *Translator) startTranslation() {
	a := t.asm
	an := t.shader.analysis

	if t.program.Type == ucode.ShaderTypeVertex {
		t.tempPosition = t.alloc.Push(0b1111)
		// x holds the point size; negative means "use the default from the
		// system constants". z is the vertex kill value, zeroed.
		t.tempPointSizeEdgeFlagKillVertex = t.alloc.Push(0b0100)
		a.OpMov(dxbc.DestR(t.tempPointSizeEdgeFlagKillVertex, 0b0001),
			dxbc.SrcLF(-1.0))
	} else {
		if an.WritesDepth {
			t.tempDepth = t.alloc.Push(0b0001)
		}
		for i := 0; i < 4; i++ {
			if an.WritesColor[i] {
				t.tempColor[i] = t.alloc.Push(0b1111)
			}
		}
	}

	if an.MemExportCount > 0 {
		t.tempMemExportWritten = t.alloc.Push(0b1111)
		for i := uint32(0); i < an.MemExportCount; i++ {
			t.tempMemExportAddress[i] = t.alloc.Push(0b1111)
			for j := 0; j < 5; j++ {
				if an.MemExportDataWritten[i]&(1<<j) != 0 {
					t.tempMemExportData[i][j] = t.alloc.Push(0)
				}
			}
		}
	}

	t.tempResult = t.alloc.Push(0)
	t.tempPsPcP0A0 = t.alloc.Push(0b1111)
	t.tempAL = t.alloc.Push(0b1111)
	t.tempLoopCount = t.alloc.Push(0b1111)
	t.tempGradHLOD = t.alloc.Push(0b1111)
	t.tempGradV = t.alloc.Push(0b0111)

	// Initialize the guest register file.
	switch t.program.Type {
	case ucode.ShaderTypeVertex:
		t.startVertexShader()
	case ucode.ShaderTypePixel:
		t.startPixelShader()
	}

	// Open the control-flow dispatch loop with the program counter at zero.
	pc := dxbc.SrcR(t.tempPsPcP0A0).Select(1)
	a.OpLoop()
	if t.useSwitch {
		a.OpSwitch(pc)
		a.OpCase(dxbc.SrcLU(0))
	} else {
		a.OpIf(false, pc)
	}
}

// startVertexShader zeroes the interpolator outputs and the register file,
// then loads the endian-swapped, offset vertex index into r0.x as a float.
func (t *Translator) startVertexShader() {
	a := t.asm
	for i := uint32(0); i < maxInterpolators; i++ {
		a.OpMov(dxbc.DestO(vsOutInterpolators+i, 0b1111), dxbc.SrcLF(0))
	}
	t.zeroRegisterFile(0)
	if t.program.RegisterCount < 1 {
		return
	}

	dynamic := t.program.DynamicRegisterAddressing
	reg := uint32(0)
	if dynamic {
		reg = t.alloc.Push(0)
	}
	indexDest := dxbc.DestR(reg, 0b0001)
	indexSrc := dxbc.SrcR(reg).Select(0)
	swapDest := dxbc.DestR(reg, 0b0010)
	swapSrc := dxbc.SrcR(reg).Select(1)
	endianSrc := t.sysConst(sysConstFlagsVec, 1)

	a.OpMov(indexDest, dxbc.SrcV(vsInVertexIndex).Select(0))

	// 8-in-16 swap, which is also one half of 8-in-32.
	a.OpSwitch(endianSrc)
	a.OpCase(dxbc.SrcLU(1))
	a.OpCase(dxbc.SrcLU(2))
	a.OpAnd(swapDest, indexSrc, dxbc.SrcLU(0x00FF00FF))
	a.OpUShr(indexDest, indexSrc, dxbc.SrcLU(8))
	a.OpAnd(indexDest, indexSrc, dxbc.SrcLU(0x00FF00FF))
	a.OpIMAd(indexDest, swapSrc, dxbc.SrcLU(256), indexSrc)
	a.OpBreak()
	a.OpEndSwitch()
	// 16-in-32 swap, which is also the other half of 8-in-32.
	a.OpSwitch(endianSrc)
	a.OpCase(dxbc.SrcLU(2))
	a.OpCase(dxbc.SrcLU(3))
	a.OpUShr(swapDest, indexSrc, dxbc.SrcLU(16))
	a.OpIShl(indexDest, indexSrc, dxbc.SrcLU(16))
	a.OpOr(indexDest, indexSrc, swapSrc)
	a.OpBreak()
	a.OpEndSwitch()
	if !dynamic {
		// Break the y dependency left by the swap scratch.
		a.OpMov(swapDest, dxbc.SrcLF(0))
	}

	// Base vertex index, and the 24-bit guest index mask.
	a.OpIAdd(indexDest, indexSrc, t.sysConst(sysConstFlagsVec, 2))
	a.OpAnd(indexDest, indexSrc, dxbc.SrcLU(0x00FFFFFF))
	a.OpUToF(indexDest, indexSrc)

	if dynamic {
		a.OpMov(dxbc.DestX(0, dxbc.Idx(0), 0b0001), indexSrc)
		t.pop(1)
	}
}

// startPixelShader copies the interpolants into the low guest registers and
// zeroes the rest of the file.
func (t *Translator) startPixelShader() {
	a := t.asm
	interpolators := t.program.RegisterCount
	if interpolators > maxInterpolators {
		interpolators = maxInterpolators
	}
	dynamic := t.program.DynamicRegisterAddressing
	for i := uint32(0); i < interpolators; i++ {
		if dynamic {
			temp := t.alloc.Push(0)
			a.OpMov(dxbc.DestR(temp, 0b1111), dxbc.SrcV(psInInterpolators+i))
			a.OpMov(dxbc.DestX(0, dxbc.Idx(i), 0b1111), dxbc.SrcR(temp))
			t.pop(1)
		} else {
			a.OpMov(dxbc.DestR(i, 0b1111), dxbc.SrcV(psInInterpolators+i))
		}
	}
	t.zeroRegisterFile(interpolators)
}

// zeroRegisterFile zeroes guest registers [from, RegisterCount). Guest code
// does read registers it never wrote.
func (t *Translator) zeroRegisterFile(from uint32) {
	a := t.asm
	if t.program.DynamicRegisterAddressing {
		temp := t.alloc.Push(0b1111)
		for i := from; i < t.program.RegisterCount; i++ {
			a.OpMov(dxbc.DestX(0, dxbc.Idx(i), 0b1111), dxbc.SrcR(temp))
		}
		t.pop(1)
		return
	}
	for i := from; i < t.program.RegisterCount; i++ {
		a.OpMov(dxbc.DestR(i, 0b1111), dxbc.SrcLU(0))
	}
}

// completeShaderCode closes the dispatch loop, runs the memory export and
// stage epilogues, and releases every system temp in reverse push order.
func (t *Translator) completeShaderCode() {
	a := t.asm
	an := t.shader.analysis

	t.closeExecConditionals()
	if t.useSwitch {
		a.OpBreak()
		a.OpEndSwitch()
	} else {
		a.OpEndIf()
	}
	a.OpBreak()
	a.OpEndLoop()

	// gradV, gradHLOD, loopCount, aL, psPcP0A0, result.
	t.pop(6)

	if an.MemExportCount > 0 {
		t.exportToMemory()
		for i := int(an.MemExportCount) - 1; i >= 0; i-- {
			for j := 4; j >= 0; j-- {
				if t.tempMemExportData[i][j] != bindingUnallocated {
					t.pop(1)
				}
			}
			t.pop(1) // address
		}
		t.pop(1) // written flags
	}

	if t.program.Type == ucode.ShaderTypeVertex {
		t.completeVertexShader()
		t.pop(2) // point size/edge flag/kill vertex, position
	} else {
		t.completePixelShader()
		for i := 3; i >= 0; i-- {
			if t.tempColor[i] != bindingUnallocated {
				t.pop(1)
			}
		}
		if t.tempDepth != bindingUnallocated {
			t.pop(1)
		}
	}

	a.OpRet()

	if t.alloc.Depth() != 0 {
		t.fail(fmt.Errorf("translate: %d system temps leaked", t.alloc.Depth()))
	}
}

// loadOperand returns a source for a guest operand with the canonical fill
// applied: lanes outside neededComponents repeat the first needed lane, the
// way the reference compiler skips unused components. The returned flag
// reports whether a scratch temp was pushed; the caller pops it after the
// consuming instruction.
func (t *Translator) loadOperand(op *ucode.Operand, neededComponents uint8) (dxbc.Src, bool) {
	neededComponents &= 0b1111
	if neededComponents == 0 {
		return dxbc.SrcLF(0), false
	}
	firstNeeded := uint32(bits.TrailingZeros8(neededComponents))

	index := dxbc.Idx(op.Index)
	switch op.Addressing {
	case ucode.AddressRelativeA0:
		index = dxbc.IdxRel(op.Index, t.tempPsPcP0A0, 3)
	case ucode.AddressRelativeAL:
		index = dxbc.IdxRel(op.Index, t.tempAL, 0)
	}

	var src dxbc.Src
	pushed := false
	switch op.Storage {
	case ucode.StorageRegister:
		if t.program.DynamicRegisterAddressing {
			// x#[#] can only be used with mov; copy to a temp first.
			temp := t.alloc.Push(0)
			pushed = true
			var usedSwizzle uint8
			for i := 0; i < 4; i++ {
				if neededComponents&(1<<i) == 0 {
					continue
				}
				usedSwizzle |= 1 << op.Component(i)
			}
			t.asm.OpMov(dxbc.DestR(temp, usedSwizzle), dxbc.SrcX(0, index))
			src = dxbc.SrcR(temp)
		} else {
			src = dxbc.SrcR(op.Index)
		}
	case ucode.StorageConstantFloat:
		if t.cbufferIndexFloat == bindingUnallocated {
			t.cbufferIndexFloat = t.cbufferCount
			t.cbufferCount++
		}
		if op.Addressing == ucode.AddressStatic {
			packed := t.program.ConstantMap.PackedFloatIndex(op.Index)
			if packed < 0 {
				// Stale constant reference; shipped guest content does this.
				return dxbc.SrcLF(0), false
			}
			index = dxbc.Idx(uint32(packed))
		}
		src = dxbc.SrcCB(cbufferRegisterFloatConstants, index)
	case ucode.StorageConstantInt:
		// Integer constants share the loop constant file.
		src = t.boolLoopConst(boolLoopConstLoopVec + op.Index>>2).
			Select(op.Index & 3)
	case ucode.StorageConstantBool:
		temp := t.alloc.Push(0)
		pushed = true
		t.asm.OpAnd(dxbc.DestR(temp, 0b0001),
			t.boolLoopConst(boolLoopConstBoolVec+op.Index>>7).Select((op.Index>>5)&3),
			dxbc.SrcLU(1<<(op.Index&31)))
		t.asm.OpMovC(dxbc.DestR(temp, 0b0001), dxbc.SrcR(temp).Select(0),
			dxbc.SrcLF(1), dxbc.SrcLF(0))
		src = dxbc.SrcR(temp)
	case ucode.StorageLoopCount:
		src = dxbc.SrcR(t.tempLoopCount)
	case ucode.StoragePreviousVector:
		src = dxbc.SrcR(t.tempResult)
	case ucode.StoragePreviousScalar, ucode.StoragePredicate:
		src = dxbc.SrcR(t.tempPsPcP0A0)
	default:
		return dxbc.SrcLF(0), false
	}

	var swizzle uint32
	for i := 0; i < 4; i++ {
		lane := i
		if neededComponents&(1<<i) == 0 {
			lane = int(firstNeeded)
		}
		swizzle |= uint32(op.Component(lane)) << (2 * i)
	}
	src = src.Swiz(swizzle)
	return src.WithModifiers(op.Absolute, op.Negate), pushed
}

// storeResult writes a computed value to a guest result target, splitting the
// write into a swizzled move and a literal 0/1 move where lanes select
// constants. canStoreExportAddress guards eA writes to ALU results only.
func (t *Translator) storeResult(r *ucode.Result, src dxbc.Src, canStoreExportAddress bool) {
	usedWriteMask := r.UsedWriteMask()
	if usedWriteMask == 0 {
		return
	}
	a := t.asm

	var dest dxbc.Dest
	clamp := r.Clamp
	switch r.Storage {
	case ucode.TargetNone:
		return
	case ucode.TargetRegister:
		if t.program.DynamicRegisterAddressing {
			index := dxbc.Idx(r.Index)
			switch r.Addressing {
			case ucode.AddressRelativeA0:
				index = dxbc.IdxRel(r.Index, t.tempPsPcP0A0, 3)
			case ucode.AddressRelativeAL:
				index = dxbc.IdxRel(r.Index, t.tempAL, 0)
			}
			dest = dxbc.DestX(0, index, usedWriteMask)
		} else {
			dest = dxbc.DestR(r.Index, usedWriteMask)
		}
	case ucode.TargetInterpolator:
		dest = dxbc.DestO(vsOutInterpolators+r.Index, usedWriteMask)
	case ucode.TargetPosition:
		dest = dxbc.DestR(t.tempPosition, usedWriteMask)
	case ucode.TargetPointSizeEdgeFlagKillVertex:
		dest = dxbc.DestR(t.tempPointSizeEdgeFlagKillVertex, usedWriteMask&0b0111)
	case ucode.TargetExportAddress:
		// Guest content contains invalid eA writes; drop them.
		if !canStoreExportAddress || t.memexportAllocCount == 0 ||
			t.memexportAllocCount > MaxMemExports ||
			t.tempMemExportAddress[t.memexportAllocCount-1] == bindingUnallocated {
			return
		}
		dest = dxbc.DestR(t.tempMemExportAddress[t.memexportAllocCount-1], usedWriteMask)
	case ucode.TargetExportData:
		if t.memexportAllocCount == 0 || t.memexportAllocCount > MaxMemExports ||
			r.Index >= 5 ||
			t.tempMemExportData[t.memexportAllocCount-1][r.Index] == bindingUnallocated {
			return
		}
		dest = dxbc.DestR(t.tempMemExportData[t.memexportAllocCount-1][r.Index], usedWriteMask)
		// Mark the eM# as written so the epilogue exports it.
		exportIndex := t.memexportAllocCount - 1
		a.OpOr(dxbc.DestR(t.tempMemExportWritten, 1<<(exportIndex>>2)),
			dxbc.SrcR(t.tempMemExportWritten).Select(exportIndex>>2),
			dxbc.SrcLU(1<<(r.Index+(exportIndex&3)<<3)))
	case ucode.TargetColor:
		if r.Index >= 4 || t.tempColor[r.Index] == bindingUnallocated {
			return
		}
		dest = dxbc.DestR(t.tempColor[r.Index], usedWriteMask)
	case ucode.TargetDepth:
		if t.tempDepth == bindingUnallocated {
			return
		}
		dest = dxbc.DestR(t.tempDepth, usedWriteMask&0b0001)
		// Unbounded depth interacts badly with reduced-precision depth
		// buffers downstream.
		clamp = true
	default:
		return
	}

	var srcSwizzle uint32
	var constantMask, constantOneMask uint8
	for i := 0; i < 4; i++ {
		if usedWriteMask&(1<<i) == 0 {
			continue
		}
		c := r.Components[i]
		if c <= ucode.SwizzleW {
			srcSwizzle |= uint32(c) << (2 * i)
		} else {
			constantMask |= 1 << i
			if c == ucode.Swizzle1 {
				constantOneMask |= 1 << i
			}
		}
	}
	if usedWriteMask != constantMask {
		moved := src.Swiz(srcSwizzle)
		if clamp {
			a.OpMovSat(maskDest(dest, dest.Mask()&^constantMask), moved)
		} else {
			a.OpMov(maskDest(dest, dest.Mask()&^constantMask), moved)
		}
	}
	if constantMask != 0 {
		a.OpMov(maskDest(dest, constantMask), dxbc.SrcLF4(
			float32(constantOneMask&1),
			float32((constantOneMask>>1)&1),
			float32((constantOneMask>>2)&1),
			float32((constantOneMask>>3)&1)))
	}
}

// completeTranslation emits the declaration stream for everything the code
// ended up using and serializes the container.
func (t *Translator) completeTranslation() []byte {
	an := t.shader.analysis
	isPixel := t.program.Type == ucode.ShaderTypePixel

	var decls []uint32
	d := dxbc.NewAssembler(&decls, &t.stats)

	flags := uint32(dxbc.GlobalFlagRefactoringAllowed)
	if t.srvIndexSharedMemory != bindingUnallocated ||
		t.uavIndexSharedMemory != bindingUnallocated {
		flags |= dxbc.GlobalFlagEnableRawStructured
	}
	if t.uavIndexSharedMemory != bindingUnallocated && !isPixel {
		flags |= dxbc.GlobalFlagAllStagesUAV
	}
	forceEarlyDepth := isPixel && t.modification&ModForceEarlyDepthStencil != 0 &&
		!an.WritesDepth && !an.KillsPixels
	if forceEarlyDepth {
		flags |= dxbc.GlobalFlagForceEarlyDepth
	}
	d.OpDclGlobalFlags(flags)

	d.OpDclConstantBuffer(dxbc.SrcCB(cbufferRegisterSystemConstants,
		dxbc.Idx(sysConstVectorCount)), false)
	if t.cbufferIndexFloat != bindingUnallocated {
		// The float constant file is indexed with a0/aL at runtime.
		d.OpDclConstantBuffer(dxbc.SrcCB(cbufferRegisterFloatConstants,
			dxbc.Idx(256)), true)
	}
	if t.cbufferIndexBoolLoop != bindingUnallocated {
		d.OpDclConstantBuffer(dxbc.SrcCB(cbufferRegisterBoolLoopConstants,
			dxbc.Idx(boolLoopConstVectorCount)), false)
	}
	if t.cbufferIndexFetch != bindingUnallocated {
		d.OpDclConstantBuffer(dxbc.SrcCB(cbufferRegisterFetchConstants,
			dxbc.Idx(fetchConstVectorCount)), false)
	}

	for _, sb := range t.samplerBindings {
		d.OpDclSampler(sb.SamplerIndex)
	}
	if t.srvIndexSharedMemory != bindingUnallocated {
		d.OpDclResourceRaw(0)
	}
	for _, tb := range t.textureBindings {
		d.OpDclResource(textureResourceDimension(tb.Dimension),
			dxbc.ResourceReturnTypeFloatAll, tb.SRVIndex)
	}
	if t.uavIndexSharedMemory != bindingUnallocated {
		d.OpDclUAVRaw(0)
	}

	interpolators := t.program.RegisterCount
	if interpolators > maxInterpolators {
		interpolators = maxInterpolators
	}
	if isPixel {
		for i := uint32(0); i < interpolators; i++ {
			d.OpDclInputPS(dxbc.InterpolationLinear, psInInterpolators+i, 0b1111)
		}
		for i := uint32(0); i < 4; i++ {
			if t.tempColor[i] != bindingUnallocated {
				d.OpDclOutput(i, 0b1111)
			}
		}
		if t.tempDepth != bindingUnallocated {
			d.OpDclOutputDepth()
		}
	} else {
		d.OpDclInputSGV(vsInVertexIndex, 0b0001, dxbc.NameVertexID)
		for i := uint32(0); i < maxInterpolators; i++ {
			d.OpDclOutput(vsOutInterpolators+i, 0b1111)
		}
		d.OpDclOutput(vsOutPointParameters, 0b0111)
		d.OpDclOutputSIV(vsOutClipDistance0123, 0b1111, dxbc.NameClipDistance)
		d.OpDclOutputSIV(vsOutClipDistance45, 0b0011, dxbc.NameClipDistance)
		d.OpDclOutputSIV(vsOutClipDistance45, 0b0100, dxbc.NameCullDistance)
		d.OpDclOutputSIV(vsOutPosition, 0b1111, dxbc.NamePosition)
	}
	if t.program.DynamicRegisterAddressing && t.program.RegisterCount > 0 {
		d.OpDclIndexableTemp(0, t.program.RegisterCount, 4)
	}
	d.OpDclTemps(t.alloc.TotalTempCount())

	builder := &dxbc.ContainerBuilder{
		Version:          t.containerVersion(),
		ConstantBuffers:  t.constantBufferLayouts(),
		Resources:        t.boundResources(),
		InputParameters:  t.inputSignature(),
		OutputParameters: t.outputSignature(),
		Code:             append(decls, t.code...),
		Stats:            t.stats,
	}
	if t.uavIndexSharedMemory != bindingUnallocated && !isPixel {
		builder.FeatureFlags |= dxbc.FeatureUAVsAtEveryStage
	}
	return builder.Build()
}

func (t *Translator) containerVersion() dxbc.ShaderVersion {
	if t.program.Type == ucode.ShaderTypePixel {
		return dxbc.Version5_1(dxbc.ProgramPixel)
	}
	return dxbc.Version5_1(dxbc.ProgramVertex)
}

// constantBufferLayouts lists the used constant buffers in logical allocation
// order, with their reflection layouts.
func (t *Translator) constantBufferLayouts() []dxbc.ConstantBuffer {
	type entry struct {
		logical uint32
		cb      dxbc.ConstantBuffer
	}
	entries := []entry{{t.cbufferIndexSystem, dxbc.ConstantBuffer{
		Name:      "system_constants",
		Size:      sysConstVectorCount * 16,
		BindPoint: cbufferRegisterSystemConstants,
		Variables: []dxbc.ConstantBufferVariable{
			{Name: "flags", Offset: 0, Size: 4},
			{Name: "vertex_index_endian", Offset: 4, Size: 4},
			{Name: "vertex_base_index", Offset: 8, Size: 4},
			{Name: "alpha_test_reference", Offset: 12, Size: 4},
			{Name: "ndc_scale", Offset: 16, Size: 12},
			{Name: "point_size", Offset: 28, Size: 4},
			{Name: "ndc_offset", Offset: 32, Size: 12},
			{Name: "color_exp_bias", Offset: 48, Size: 16},
			{Name: "user_clip_planes", Offset: 64, Size: 96},
		},
	}}}
	if t.cbufferIndexFloat != bindingUnallocated {
		entries = append(entries, entry{t.cbufferIndexFloat, dxbc.ConstantBuffer{
			Name:      "float_constants",
			Size:      256 * 16,
			BindPoint: cbufferRegisterFloatConstants,
			Variables: []dxbc.ConstantBufferVariable{
				{Name: "float_constants", Offset: 0, Size: 256 * 16},
			},
			DynamicIndexed: true,
		}})
	}
	if t.cbufferIndexBoolLoop != bindingUnallocated {
		entries = append(entries, entry{t.cbufferIndexBoolLoop, dxbc.ConstantBuffer{
			Name:      "bool_loop_constants",
			Size:      boolLoopConstVectorCount * 16,
			BindPoint: cbufferRegisterBoolLoopConstants,
			Variables: []dxbc.ConstantBufferVariable{
				{Name: "bool_constants", Offset: 0, Size: 32},
				{Name: "loop_constants", Offset: 32, Size: 128},
			},
		}})
	}
	if t.cbufferIndexFetch != bindingUnallocated {
		entries = append(entries, entry{t.cbufferIndexFetch, dxbc.ConstantBuffer{
			Name:      "fetch_constants",
			Size:      fetchConstVectorCount * 16,
			BindPoint: cbufferRegisterFetchConstants,
			Variables: []dxbc.ConstantBufferVariable{
				{Name: "fetch_constants", Offset: 0, Size: fetchConstVectorCount * 16},
			},
		}})
	}
	// Allocation order is already logical order except when a later buffer
	// was touched before an earlier one; restore logical order.
	for swapped := true; swapped; {
		swapped = false
		for i := 0; i+1 < len(entries); i++ {
			if entries[i].logical > entries[i+1].logical {
				entries[i], entries[i+1] = entries[i+1], entries[i]
				swapped = true
			}
		}
	}
	out := make([]dxbc.ConstantBuffer, len(entries))
	for i := range entries {
		out[i] = entries[i].cb
	}
	return out
}

// boundResources lists everything for the resource table: constant buffers,
// samplers, SRVs and the shared memory UAV.
func (t *Translator) boundResources() []dxbc.BoundResource {
	var res []dxbc.BoundResource
	for _, cb := range t.constantBufferLayouts() {
		res = append(res, dxbc.BoundResource{
			Name: cb.Name, Type: dxbc.InputCBuffer,
			BindPoint: cb.BindPoint, BindCount: 1,
		})
	}
	for _, sb := range t.samplerBindings {
		res = append(res, dxbc.BoundResource{
			Name: sb.Name, Type: dxbc.InputSampler,
			BindPoint: sb.SamplerIndex, BindCount: 1,
		})
	}
	if t.srvIndexSharedMemory != bindingUnallocated {
		res = append(res, dxbc.BoundResource{
			Name: "shared_memory", Type: dxbc.InputByteAddress,
			BindPoint: 0, BindCount: 1, Dimension: dxbc.DimensionRawBuffer,
		})
	}
	for _, tb := range t.textureBindings {
		res = append(res, dxbc.BoundResource{
			Name: tb.Name, Type: dxbc.InputTexture,
			BindPoint: tb.SRVIndex, BindCount: 1,
			Dimension: textureResourceDimension(tb.Dimension),
		})
	}
	if t.uavIndexSharedMemory != bindingUnallocated {
		res = append(res, dxbc.BoundResource{
			Name: "shared_memory_uav", Type: dxbc.InputUAVRWByteAddress,
			BindPoint: 0, BindCount: 1, Dimension: dxbc.DimensionRawBuffer,
		})
	}
	return res
}

func (t *Translator) inputSignature() []dxbc.SignatureParameter {
	if t.program.Type == ucode.ShaderTypeVertex {
		return []dxbc.SignatureParameter{{
			SemanticName: "SV_VertexID", SystemValue: dxbc.NameVertexID,
			ComponentType: dxbc.ComponentUint32, Register: vsInVertexIndex,
			Mask: 0b0001, UsedMask: 0b0001,
		}}
	}
	interpolators := t.program.RegisterCount
	if interpolators > maxInterpolators {
		interpolators = maxInterpolators
	}
	params := make([]dxbc.SignatureParameter, 0, interpolators)
	for i := uint32(0); i < interpolators; i++ {
		params = append(params, dxbc.SignatureParameter{
			SemanticName: "TEXCOORD", SemanticIndex: i,
			ComponentType: dxbc.ComponentFloat32,
			Register:      psInInterpolators + i,
			Mask:          0b1111, UsedMask: 0b1111,
		})
	}
	return params
}

func (t *Translator) outputSignature() []dxbc.SignatureParameter {
	if t.program.Type == ucode.ShaderTypeVertex {
		params := make([]dxbc.SignatureParameter, 0, maxInterpolators+5)
		for i := uint32(0); i < maxInterpolators; i++ {
			params = append(params, dxbc.SignatureParameter{
				SemanticName: "TEXCOORD", SemanticIndex: i,
				ComponentType: dxbc.ComponentFloat32,
				Register:      vsOutInterpolators + i, Mask: 0b1111,
			})
		}
		params = append(params,
			dxbc.SignatureParameter{
				SemanticName: "TEXCOORD", SemanticIndex: maxInterpolators,
				ComponentType: dxbc.ComponentFloat32,
				Register:      vsOutPointParameters, Mask: 0b0111,
			},
			dxbc.SignatureParameter{
				SemanticName: "SV_ClipDistance", SemanticIndex: 0,
				SystemValue:   dxbc.NameClipDistance,
				ComponentType: dxbc.ComponentFloat32,
				Register:      vsOutClipDistance0123, Mask: 0b1111,
			},
			dxbc.SignatureParameter{
				SemanticName: "SV_ClipDistance", SemanticIndex: 1,
				SystemValue:   dxbc.NameClipDistance,
				ComponentType: dxbc.ComponentFloat32,
				Register:      vsOutClipDistance45, Mask: 0b0011,
			},
			dxbc.SignatureParameter{
				SemanticName: "SV_CullDistance", SemanticIndex: 0,
				SystemValue:   dxbc.NameCullDistance,
				ComponentType: dxbc.ComponentFloat32,
				Register:      vsOutClipDistance45, Mask: 0b0100,
			},
			dxbc.SignatureParameter{
				SemanticName: "SV_Position", SystemValue: dxbc.NamePosition,
				ComponentType: dxbc.ComponentFloat32,
				Register:      vsOutPosition, Mask: 0b1111,
			},
		)
		return params
	}
	var params []dxbc.SignatureParameter
	for i := uint32(0); i < 4; i++ {
		if t.tempColor[i] == bindingUnallocated {
			continue
		}
		params = append(params, dxbc.SignatureParameter{
			SemanticName: "SV_Target", SemanticIndex: i,
			ComponentType: dxbc.ComponentFloat32,
			Register:      i, Mask: 0b1111,
		})
	}
	if t.tempDepth != bindingUnallocated {
		params = append(params, dxbc.SignatureParameter{
			SemanticName: "SV_Depth", ComponentType: dxbc.ComponentFloat32,
			Register: 0xFFFFFFFF, Mask: 0b0001,
		})
	}
	return params
}

// negated returns src with the negate modifier toggled.
func negated(src dxbc.Src) dxbc.Src {
	src.Negate = !src.Negate
	return src
}

var floatMax = math.Float32frombits(0x7F7FFFFF)
