package dxbc

// Opcode values follow the Shader Model 4/5 tokenized program format.
type Opcode uint32

const (
	OpcodeAdd              Opcode = 0
	OpcodeAnd              Opcode = 1
	OpcodeBreak            Opcode = 2
	OpcodeBreakC           Opcode = 3
	OpcodeCase             Opcode = 6
	OpcodeContinue         Opcode = 7
	OpcodeDefault          Opcode = 10
	OpcodeDiscard          Opcode = 13
	OpcodeDiv              Opcode = 14
	OpcodeDp2              Opcode = 15
	OpcodeDp3              Opcode = 16
	OpcodeDp4              Opcode = 17
	OpcodeElse             Opcode = 18
	OpcodeEndIf            Opcode = 21
	OpcodeEndLoop          Opcode = 22
	OpcodeEndSwitch        Opcode = 23
	OpcodeEq               Opcode = 24
	OpcodeExp              Opcode = 25
	OpcodeFrc              Opcode = 26
	OpcodeFToI             Opcode = 27
	OpcodeFToU             Opcode = 28
	OpcodeGE               Opcode = 29
	OpcodeIAdd             Opcode = 30
	OpcodeIf               Opcode = 31
	OpcodeIEq              Opcode = 32
	OpcodeIGE              Opcode = 33
	OpcodeILT              Opcode = 34
	OpcodeIMAd             Opcode = 35
	OpcodeIMax             Opcode = 36
	OpcodeIMin             Opcode = 37
	OpcodeINE              Opcode = 39
	OpcodeINeg             Opcode = 40
	OpcodeIShl             Opcode = 41
	OpcodeIToF             Opcode = 43
	OpcodeLog              Opcode = 47
	OpcodeLoop             Opcode = 48
	OpcodeLT               Opcode = 49
	OpcodeMAd              Opcode = 50
	OpcodeMax              Opcode = 51
	OpcodeMin              Opcode = 52
	OpcodeMov              Opcode = 53
	OpcodeMovC             Opcode = 54
	OpcodeMul              Opcode = 55
	OpcodeNE               Opcode = 56
	OpcodeNot              Opcode = 58
	OpcodeOr               Opcode = 59
	OpcodeRet              Opcode = 61
	OpcodeRetC             Opcode = 62
	OpcodeRoundNE          Opcode = 63
	OpcodeRoundNI          Opcode = 64
	OpcodeRoundPI          Opcode = 65
	OpcodeRoundZ           Opcode = 66
	OpcodeRSq              Opcode = 67
	OpcodeSample           Opcode = 68
	OpcodeSampleL          Opcode = 71
	OpcodeSampleB          Opcode = 73
	OpcodeSqrt             Opcode = 74
	OpcodeSwitch           Opcode = 75
	OpcodeSinCos           Opcode = 76
	OpcodeULT              Opcode = 78
	OpcodeUGE              Opcode = 79
	OpcodeUMax             Opcode = 82
	OpcodeUMin             Opcode = 83
	OpcodeUShr             Opcode = 84
	OpcodeUToF             Opcode = 85
	OpcodeXOr              Opcode = 86
	OpcodeDclResource      Opcode = 87
	OpcodeDclCBuffer       Opcode = 88
	OpcodeDclSampler       Opcode = 89
	OpcodeDclInput         Opcode = 94
	OpcodeDclInputSGV      Opcode = 95
	OpcodeDclInputSIV      Opcode = 96
	OpcodeDclInputPS       Opcode = 97
	OpcodeDclInputPSSGV    Opcode = 98
	OpcodeDclInputPSSIV    Opcode = 99
	OpcodeDclOutput        Opcode = 100
	OpcodeDclOutputSGV     Opcode = 101
	OpcodeDclOutputSIV     Opcode = 102
	OpcodeDclTemps         Opcode = 103
	OpcodeDclIndexableTemp Opcode = 104
	OpcodeDclGlobalFlags   Opcode = 105
	OpcodeRcp              Opcode = 126
	OpcodeUBFE             Opcode = 135
	OpcodeIBFE             Opcode = 136
	OpcodeDclUAVRaw        Opcode = 154
	OpcodeDclResourceRaw   Opcode = 158
	OpcodeLdRaw            Opcode = 162
	OpcodeStoreRaw         Opcode = 163
	OpcodeEvalSampleIndex  Opcode = 204
)

const (
	opcodeLengthShift = 24
	opcodeSaturateBit = 1 << 13
	opcodeTestBit     = 1 << 18

	// dcl_global_flags
	GlobalFlagRefactoringAllowed  = 1 << 11
	GlobalFlagForceEarlyDepth     = 1 << 13
	GlobalFlagEnableRawStructured = 1 << 15
	GlobalFlagAllStagesUAV        = 1 << 16
)

// Name is a system-interpreted value attached to signature elements and
// input/output declarations.
type Name uint32

const (
	NameUndefined    Name = 0
	NamePosition     Name = 1
	NameClipDistance Name = 2
	NameCullDistance Name = 3
	NameVertexID     Name = 6
	NamePrimitiveID  Name = 7
	NameInstanceID   Name = 8
	NameIsFrontFace  Name = 9
	NameSampleIndex  Name = 10
)

// InterpolationMode for pixel shader input declarations.
type InterpolationMode uint32

const (
	InterpolationConstant            InterpolationMode = 1
	InterpolationLinear              InterpolationMode = 2
	InterpolationLinearCentroid      InterpolationMode = 3
	InterpolationLinearNoPerspective InterpolationMode = 4
)

// ResourceDimension for typed resource declarations.
type ResourceDimension uint32

const (
	DimensionBuffer         ResourceDimension = 1
	DimensionTexture1D      ResourceDimension = 2
	DimensionTexture2D      ResourceDimension = 3
	DimensionTexture3D      ResourceDimension = 5
	DimensionTextureCube    ResourceDimension = 6
	DimensionTexture2DArray ResourceDimension = 8
	DimensionRawBuffer      ResourceDimension = 11
)

// ResourceReturnTypeFloatAll packs the float return type into all four
// component slots of a dcl_resource return type token.
const ResourceReturnTypeFloatAll uint32 = 5 | 5<<4 | 5<<8 | 5<<12

// Statistics accumulates the instruction counters serialized into the
// container's statistics section. Counter categories mirror the reference
// compiler so external validation tooling agrees on the totals.
type Statistics struct {
	InstructionCount           uint32
	TempRegisterCount          uint32
	DefCount                   uint32
	DclCount                   uint32
	FloatInstructionCount      uint32
	IntInstructionCount        uint32
	UintInstructionCount       uint32
	StaticFlowControlCount     uint32
	DynamicFlowControlCount    uint32
	TempArrayCount             uint32
	ArrayInstructionCount      uint32
	TextureNormalInstructions  uint32
	TextureLoadInstructions    uint32
	TextureBiasInstructions    uint32
	MovInstructionCount        uint32
	MovCInstructionCount       uint32
	ConversionInstructionCount uint32
	CTextureStoreInstructions  uint32
}

// Assembler appends encoded instructions to a shared code buffer, updating
// statistics exactly once per emitted instruction.
type Assembler struct {
	code  *[]uint32
	stats *Statistics
}

// NewAssembler returns an assembler writing to code with counters in stats.
// Both must outlive the assembler.
func NewAssembler(code *[]uint32, stats *Statistics) *Assembler {
	return &Assembler{code: code, stats: stats}
}

// Code returns the current encoded length in dwords.
func (a *Assembler) Code() []uint32 { return *a.code }

func (a *Assembler) begin(op Opcode, controls uint32) int {
	start := len(*a.code)
	*a.code = append(*a.code, uint32(op)|controls)
	return start
}

func (a *Assembler) end(start int) {
	(*a.code)[start] |= uint32(len(*a.code)-start) << opcodeLengthShift
}

func (a *Assembler) emitDS(op Opcode, controls uint32, dest Dest, srcs ...Src) {
	start := a.begin(op, controls)
	dest.encode(a.code)
	// Any operand touching x# makes the whole instruction an array
	// instruction in the statistics.
	array := dest.Type == OperandIndexableTemp
	for _, s := range srcs {
		s.encode(a.code)
		array = array || s.Type == OperandIndexableTemp
	}
	a.end(start)
	a.stats.InstructionCount++
	if array {
		a.stats.ArrayInstructionCount++
	}
}

func (a *Assembler) emitFloat(op Opcode, saturate bool, dest Dest, srcs ...Src) {
	var controls uint32
	if saturate {
		controls = opcodeSaturateBit
	}
	a.emitDS(op, controls, dest, srcs...)
	a.stats.FloatInstructionCount++
}

// Float arithmetic.

func (a *Assembler) OpAdd(dest Dest, a0, a1 Src)     { a.emitFloat(OpcodeAdd, false, dest, a0, a1) }
func (a *Assembler) OpAddSat(dest Dest, a0, a1 Src)  { a.emitFloat(OpcodeAdd, true, dest, a0, a1) }
func (a *Assembler) OpMul(dest Dest, a0, a1 Src)     { a.emitFloat(OpcodeMul, false, dest, a0, a1) }
func (a *Assembler) OpMulSat(dest Dest, a0, a1 Src)  { a.emitFloat(OpcodeMul, true, dest, a0, a1) }
func (a *Assembler) OpDiv(dest Dest, a0, a1 Src)     { a.emitFloat(OpcodeDiv, false, dest, a0, a1) }
func (a *Assembler) OpMAd(dest Dest, m0, m1, ad Src) { a.emitFloat(OpcodeMAd, false, dest, m0, m1, ad) }
func (a *Assembler) OpMAdSat(dest Dest, m0, m1, ad Src) {
	a.emitFloat(OpcodeMAd, true, dest, m0, m1, ad)
}
func (a *Assembler) OpMax(dest Dest, a0, a1 Src)  { a.emitFloat(OpcodeMax, false, dest, a0, a1) }
func (a *Assembler) OpMin(dest Dest, a0, a1 Src)  { a.emitFloat(OpcodeMin, false, dest, a0, a1) }
func (a *Assembler) OpDp2(dest Dest, a0, a1 Src)  { a.emitFloat(OpcodeDp2, false, dest, a0, a1) }
func (a *Assembler) OpDp3(dest Dest, a0, a1 Src)  { a.emitFloat(OpcodeDp3, false, dest, a0, a1) }
func (a *Assembler) OpDp4(dest Dest, a0, a1 Src)  { a.emitFloat(OpcodeDp4, false, dest, a0, a1) }
func (a *Assembler) OpFrc(dest Dest, src Src)     { a.emitFloat(OpcodeFrc, false, dest, src) }
func (a *Assembler) OpRoundNE(dest Dest, src Src) { a.emitFloat(OpcodeRoundNE, false, dest, src) }
func (a *Assembler) OpRoundNI(dest Dest, src Src) { a.emitFloat(OpcodeRoundNI, false, dest, src) }
func (a *Assembler) OpRoundPI(dest Dest, src Src) { a.emitFloat(OpcodeRoundPI, false, dest, src) }
func (a *Assembler) OpRoundZ(dest Dest, src Src)  { a.emitFloat(OpcodeRoundZ, false, dest, src) }
func (a *Assembler) OpExp(dest Dest, src Src)     { a.emitFloat(OpcodeExp, false, dest, src) }
func (a *Assembler) OpLog(dest Dest, src Src)     { a.emitFloat(OpcodeLog, false, dest, src) }
func (a *Assembler) OpRcp(dest Dest, src Src)     { a.emitFloat(OpcodeRcp, false, dest, src) }
func (a *Assembler) OpRSq(dest Dest, src Src)     { a.emitFloat(OpcodeRSq, false, dest, src) }
func (a *Assembler) OpSqrt(dest Dest, src Src)    { a.emitFloat(OpcodeSqrt, false, dest, src) }

// OpSinCos writes sine to destSin and cosine to destCos; either may be null.
func (a *Assembler) OpSinCos(destSin, destCos Dest, src Src) {
	start := a.begin(OpcodeSinCos, 0)
	destSin.encode(a.code)
	destCos.encode(a.code)
	src.encode(a.code)
	a.end(start)
	a.stats.InstructionCount++
	a.stats.FloatInstructionCount++
}

// Float comparisons (result is a 0/0xFFFFFFFF integer mask).

func (a *Assembler) OpEq(dest Dest, a0, a1 Src) { a.emitFloat(OpcodeEq, false, dest, a0, a1) }
func (a *Assembler) OpGE(dest Dest, a0, a1 Src) { a.emitFloat(OpcodeGE, false, dest, a0, a1) }
func (a *Assembler) OpLT(dest Dest, a0, a1 Src) { a.emitFloat(OpcodeLT, false, dest, a0, a1) }
func (a *Assembler) OpNE(dest Dest, a0, a1 Src) { a.emitFloat(OpcodeNE, false, dest, a0, a1) }

// Moves.

func (a *Assembler) OpMov(dest Dest, src Src) {
	a.emitDS(OpcodeMov, 0, dest, src)
	a.stats.MovInstructionCount++
}

func (a *Assembler) OpMovSat(dest Dest, src Src) {
	a.emitDS(OpcodeMov, opcodeSaturateBit, dest, src)
	a.stats.MovInstructionCount++
}

func (a *Assembler) OpMovC(dest Dest, test, a0, a1 Src) {
	a.emitDS(OpcodeMovC, 0, dest, test, a0, a1)
	a.stats.MovCInstructionCount++
}

// Integer and bitwise.

func (a *Assembler) emitInt(op Opcode, dest Dest, srcs ...Src) {
	a.emitDS(op, 0, dest, srcs...)
	a.stats.IntInstructionCount++
}

func (a *Assembler) emitUint(op Opcode, dest Dest, srcs ...Src) {
	a.emitDS(op, 0, dest, srcs...)
	a.stats.UintInstructionCount++
}

func (a *Assembler) OpAnd(dest Dest, a0, a1 Src)      { a.emitUint(OpcodeAnd, dest, a0, a1) }
func (a *Assembler) OpOr(dest Dest, a0, a1 Src)       { a.emitUint(OpcodeOr, dest, a0, a1) }
func (a *Assembler) OpXOr(dest Dest, a0, a1 Src)      { a.emitUint(OpcodeXOr, dest, a0, a1) }
func (a *Assembler) OpNot(dest Dest, src Src)         { a.emitUint(OpcodeNot, dest, src) }
func (a *Assembler) OpIShl(dest Dest, a0, a1 Src)     { a.emitInt(OpcodeIShl, dest, a0, a1) }
func (a *Assembler) OpUShr(dest Dest, a0, a1 Src)     { a.emitUint(OpcodeUShr, dest, a0, a1) }
func (a *Assembler) OpIAdd(dest Dest, a0, a1 Src)     { a.emitInt(OpcodeIAdd, dest, a0, a1) }
func (a *Assembler) OpINeg(dest Dest, src Src)        { a.emitInt(OpcodeINeg, dest, src) }
func (a *Assembler) OpIMAd(dest Dest, m0, m1, ad Src) { a.emitInt(OpcodeIMAd, dest, m0, m1, ad) }
func (a *Assembler) OpIMax(dest Dest, a0, a1 Src)     { a.emitInt(OpcodeIMax, dest, a0, a1) }
func (a *Assembler) OpIMin(dest Dest, a0, a1 Src)     { a.emitInt(OpcodeIMin, dest, a0, a1) }
func (a *Assembler) OpIEq(dest Dest, a0, a1 Src)      { a.emitInt(OpcodeIEq, dest, a0, a1) }
func (a *Assembler) OpIGE(dest Dest, a0, a1 Src)      { a.emitInt(OpcodeIGE, dest, a0, a1) }
func (a *Assembler) OpILT(dest Dest, a0, a1 Src)      { a.emitInt(OpcodeILT, dest, a0, a1) }
func (a *Assembler) OpINE(dest Dest, a0, a1 Src)      { a.emitInt(OpcodeINE, dest, a0, a1) }
func (a *Assembler) OpULT(dest Dest, a0, a1 Src)      { a.emitUint(OpcodeULT, dest, a0, a1) }
func (a *Assembler) OpUBFE(dest Dest, width, offset, src Src) {
	a.emitUint(OpcodeUBFE, dest, width, offset, src)
}
func (a *Assembler) OpIBFE(dest Dest, width, offset, src Src) {
	a.emitInt(OpcodeIBFE, dest, width, offset, src)
}
func (a *Assembler) OpUGE(dest Dest, a0, a1 Src)  { a.emitUint(OpcodeUGE, dest, a0, a1) }
func (a *Assembler) OpUMax(dest Dest, a0, a1 Src) { a.emitUint(OpcodeUMax, dest, a0, a1) }
func (a *Assembler) OpUMin(dest Dest, a0, a1 Src) { a.emitUint(OpcodeUMin, dest, a0, a1) }

// Conversions.

func (a *Assembler) emitConversion(op Opcode, dest Dest, src Src) {
	a.emitDS(op, 0, dest, src)
	a.stats.ConversionInstructionCount++
}

func (a *Assembler) OpFToI(dest Dest, src Src) { a.emitConversion(OpcodeFToI, dest, src) }
func (a *Assembler) OpFToU(dest Dest, src Src) { a.emitConversion(OpcodeFToU, dest, src) }
func (a *Assembler) OpIToF(dest Dest, src Src) { a.emitConversion(OpcodeIToF, dest, src) }
func (a *Assembler) OpUToF(dest Dest, src Src) { a.emitConversion(OpcodeUToF, dest, src) }

// Flow control. The test argument selects whether the condition fires on a
// nonzero (true) or zero (false) value.

func testControls(testNonZero bool) uint32 {
	if testNonZero {
		return opcodeTestBit
	}
	return 0
}

func (a *Assembler) emitFlow(op Opcode, controls uint32, srcs ...Src) {
	start := a.begin(op, controls)
	for _, s := range srcs {
		s.encode(a.code)
	}
	a.end(start)
	a.stats.InstructionCount++
}

func (a *Assembler) OpIf(testNonZero bool, src Src) {
	a.emitFlow(OpcodeIf, testControls(testNonZero), src)
	a.stats.DynamicFlowControlCount++
}

func (a *Assembler) OpElse() {
	a.emitFlow(OpcodeElse, 0)
	a.stats.StaticFlowControlCount++
}

func (a *Assembler) OpEndIf() {
	a.emitFlow(OpcodeEndIf, 0)
	a.stats.StaticFlowControlCount++
}

func (a *Assembler) OpLoop() {
	a.emitFlow(OpcodeLoop, 0)
	a.stats.DynamicFlowControlCount++
}

func (a *Assembler) OpEndLoop() {
	a.emitFlow(OpcodeEndLoop, 0)
	a.stats.StaticFlowControlCount++
}

func (a *Assembler) OpBreak() {
	a.emitFlow(OpcodeBreak, 0)
	a.stats.StaticFlowControlCount++
}

func (a *Assembler) OpBreakC(testNonZero bool, src Src) {
	a.emitFlow(OpcodeBreakC, testControls(testNonZero), src)
	a.stats.DynamicFlowControlCount++
}

func (a *Assembler) OpContinue() {
	a.emitFlow(OpcodeContinue, 0)
	a.stats.StaticFlowControlCount++
}

func (a *Assembler) OpSwitch(src Src) {
	a.emitFlow(OpcodeSwitch, 0, src)
	a.stats.DynamicFlowControlCount++
}

func (a *Assembler) OpCase(src Src) {
	a.emitFlow(OpcodeCase, 0, src)
	a.stats.StaticFlowControlCount++
}

func (a *Assembler) OpDefault() {
	a.emitFlow(OpcodeDefault, 0)
	a.stats.StaticFlowControlCount++
}

func (a *Assembler) OpEndSwitch() {
	a.emitFlow(OpcodeEndSwitch, 0)
	a.stats.StaticFlowControlCount++
}

func (a *Assembler) OpRet() {
	a.emitFlow(OpcodeRet, 0)
	a.stats.StaticFlowControlCount++
}

func (a *Assembler) OpRetC(testNonZero bool, src Src) {
	a.emitFlow(OpcodeRetC, testControls(testNonZero), src)
	a.stats.DynamicFlowControlCount++
}

func (a *Assembler) OpDiscard(testNonZero bool, src Src) {
	a.emitFlow(OpcodeDiscard, testControls(testNonZero), src)
}

// Memory and sampling.

func (a *Assembler) OpLdRaw(dest Dest, byteOffset, resource Src) {
	a.emitDS(OpcodeLdRaw, 0, dest, byteOffset, resource)
	a.stats.TextureLoadInstructions++
}

func (a *Assembler) OpStoreRaw(dest Dest, byteOffset, value Src) {
	a.emitDS(OpcodeStoreRaw, 0, dest, byteOffset, value)
	a.stats.CTextureStoreInstructions++
}

func (a *Assembler) OpSample(dest Dest, coord, resource, sampler Src) {
	a.emitDS(OpcodeSample, 0, dest, coord, resource, sampler)
	a.stats.TextureNormalInstructions++
}

func (a *Assembler) OpSampleL(dest Dest, coord, resource, sampler, lod Src) {
	a.emitDS(OpcodeSampleL, 0, dest, coord, resource, sampler, lod)
	a.stats.TextureNormalInstructions++
}

func (a *Assembler) OpSampleB(dest Dest, coord, resource, sampler, bias Src) {
	a.emitDS(OpcodeSampleB, 0, dest, coord, resource, sampler, bias)
	a.stats.TextureBiasInstructions++
}

// Declarations.

func (a *Assembler) OpDclGlobalFlags(flags uint32) {
	start := a.begin(OpcodeDclGlobalFlags, flags)
	a.end(start)
}

func (a *Assembler) OpDclConstantBuffer(src Src, dynamicIndexed bool) {
	var controls uint32
	if dynamicIndexed {
		controls = 1 << 11
	}
	start := a.begin(OpcodeDclCBuffer, controls)
	src.encode(a.code)
	a.end(start)
	a.stats.DclCount++
}

func (a *Assembler) OpDclResource(dim ResourceDimension, returnType uint32, t uint32) {
	start := a.begin(OpcodeDclResource, uint32(dim)<<11)
	SrcT(t).encode(a.code)
	*a.code = append(*a.code, returnType)
	a.end(start)
	a.stats.DclCount++
}

func (a *Assembler) OpDclResourceRaw(t uint32) {
	start := a.begin(OpcodeDclResourceRaw, 0)
	SrcT(t).encode(a.code)
	a.end(start)
	a.stats.DclCount++
}

func (a *Assembler) OpDclUAVRaw(u uint32) {
	start := a.begin(OpcodeDclUAVRaw, 0)
	SrcU(u).encode(a.code)
	a.end(start)
	a.stats.DclCount++
}

func (a *Assembler) OpDclSampler(s uint32) {
	start := a.begin(OpcodeDclSampler, 0)
	SrcS(s).encode(a.code)
	a.end(start)
	a.stats.DclCount++
}

func (a *Assembler) OpDclInput(v uint32, mask uint8) {
	start := a.begin(OpcodeDclInput, 0)
	DestR(0, mask).withType(OperandInput, v).encode(a.code)
	a.end(start)
	a.stats.DclCount++
}

func (a *Assembler) OpDclInputSGV(v uint32, mask uint8, name Name) {
	start := a.begin(OpcodeDclInputSGV, 0)
	DestR(0, mask).withType(OperandInput, v).encode(a.code)
	*a.code = append(*a.code, uint32(name))
	a.end(start)
	a.stats.DclCount++
}

func (a *Assembler) OpDclInputPS(interp InterpolationMode, v uint32, mask uint8) {
	start := a.begin(OpcodeDclInputPS, uint32(interp)<<11)
	DestR(0, mask).withType(OperandInput, v).encode(a.code)
	a.end(start)
	a.stats.DclCount++
}

func (a *Assembler) OpDclInputPSSGV(interp InterpolationMode, v uint32, mask uint8, name Name) {
	start := a.begin(OpcodeDclInputPSSGV, uint32(interp)<<11)
	DestR(0, mask).withType(OperandInput, v).encode(a.code)
	*a.code = append(*a.code, uint32(name))
	a.end(start)
	a.stats.DclCount++
}

func (a *Assembler) OpDclInputPSSIV(interp InterpolationMode, v uint32, mask uint8, name Name) {
	start := a.begin(OpcodeDclInputPSSIV, uint32(interp)<<11)
	DestR(0, mask).withType(OperandInput, v).encode(a.code)
	*a.code = append(*a.code, uint32(name))
	a.end(start)
	a.stats.DclCount++
}

func (a *Assembler) OpDclOutput(o uint32, mask uint8) {
	start := a.begin(OpcodeDclOutput, 0)
	DestO(o, mask).encode(a.code)
	a.end(start)
	a.stats.DclCount++
}

func (a *Assembler) OpDclOutputSIV(o uint32, mask uint8, name Name) {
	start := a.begin(OpcodeDclOutputSIV, 0)
	DestO(o, mask).encode(a.code)
	*a.code = append(*a.code, uint32(name))
	a.end(start)
	a.stats.DclCount++
}

func (a *Assembler) OpDclOutputDepth() {
	start := a.begin(OpcodeDclOutput, 0)
	DestODepth().encode(a.code)
	a.end(start)
	a.stats.DclCount++
}

func (a *Assembler) OpDclTemps(count uint32) {
	start := a.begin(OpcodeDclTemps, 0)
	*a.code = append(*a.code, count)
	a.end(start)
	a.stats.TempRegisterCount = count
}

func (a *Assembler) OpDclIndexableTemp(x, count, componentCount uint32) {
	start := a.begin(OpcodeDclIndexableTemp, 0)
	*a.code = append(*a.code, x, count, componentCount)
	a.end(start)
	a.stats.TempArrayCount += count
}

// withType rebinds a Dest to another operand file, reusing the mask. Used by
// input declarations, which encode like destinations.
func (d Dest) withType(t OperandType, index uint32) Dest {
	d.Type = t
	d.Index[0] = Idx(index)
	d.Dims = 1
	return d
}
