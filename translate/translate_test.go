package translate

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/gogpu/xgpu/dxbc"
	"github.com/gogpu/xgpu/ucode"
)

func vec4Operand(index uint32) ucode.Operand {
	return ucode.Operand{
		Storage:        ucode.StorageRegister,
		Index:          index,
		ComponentCount: 4,
		Components:     ucode.IdentityComponents,
	}
}

func vec4Result(storage ucode.ResultStorage, index uint32) ucode.Result {
	return ucode.Result{
		Storage:    storage,
		Index:      index,
		WriteMask:  0b1111,
		Components: ucode.IdentityComponents,
	}
}

func addInstruction(result ucode.Result) *ucode.AluInstruction {
	return &ucode.AluInstruction{
		VectorOpcode:   ucode.VectorOpAdd,
		VectorOperands: []ucode.Operand{vec4Operand(0), vec4Operand(0)},
		VectorResult:   result,
	}
}

func endExec(instructions ...ucode.Instruction) *ucode.ExecRecord {
	return &ucode.ExecRecord{IsEnd: true, Instructions: instructions}
}

func testVertexProgram() *ucode.Program {
	return &ucode.Program{
		Type:      ucode.ShaderTypeVertex,
		Microcode: []uint32{0x10293847, 0x56473829},
		Blocks: []ucode.Block{{Records: []ucode.ControlFlowRecord{
			endExec(addInstruction(vec4Result(ucode.TargetPosition, 0))),
		}}},
		RegisterCount: 2,
	}
}

func testPixelProgram() *ucode.Program {
	return &ucode.Program{
		Type:      ucode.ShaderTypePixel,
		Microcode: []uint32{0xdeadbeef},
		Blocks: []ucode.Block{{Records: []ucode.ControlFlowRecord{
			endExec(addInstruction(vec4Result(ucode.TargetColor, 0))),
		}}},
		RegisterCount: 1,
	}
}

func mustTranslate(t *testing.T, program *ucode.Program, opts Options, mod Modification) *Translation {
	t.Helper()
	tr, err := NewTranslator(opts).Translate(NewShader(program), mod)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	return tr
}

func TestRegisterAllocator(t *testing.T) {
	var code []uint32
	var stats dxbc.Statistics
	asm := dxbc.NewAssembler(&code, &stats)
	var alloc RegisterAllocator
	alloc.Reset(asm, 4)

	if got := alloc.Push(0); got != 4 {
		t.Errorf("first push got r%d, want r4", got)
	}
	if got := alloc.PushCount(0, 2); got != 5 {
		t.Errorf("second push got r%d, want r5", got)
	}
	if err := alloc.Pop(3); err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if got := alloc.Push(0); got != 4 {
		t.Errorf("push after pop got r%d, want r4", got)
	}
	if got := alloc.TotalTempCount(); got != 7 {
		t.Errorf("TotalTempCount = %d, want 7 (base 4 + high water 3)", got)
	}
	if err := alloc.Pop(2); err != ErrRegisterUnderflow {
		t.Errorf("underflow pop returned %v, want ErrRegisterUnderflow", err)
	}
	if alloc.Depth() != 0 {
		t.Errorf("Depth after underflow = %d, want 0", alloc.Depth())
	}
}

func TestAllocatorZeroInit(t *testing.T) {
	var code []uint32
	var stats dxbc.Statistics
	asm := dxbc.NewAssembler(&code, &stats)
	var alloc RegisterAllocator
	alloc.Reset(asm, 0)
	alloc.Push(0b0101)
	if stats.MovInstructionCount != 1 {
		t.Errorf("zeroing push emitted %d movs, want 1", stats.MovInstructionCount)
	}
	alloc.Push(0)
	if stats.MovInstructionCount != 1 {
		t.Errorf("non-zeroing push emitted a mov")
	}
}

func TestHashMicrocode(t *testing.T) {
	a := HashMicrocode([]uint32{1, 2, 3})
	if a != HashMicrocode([]uint32{1, 2, 3}) {
		t.Error("hash is not deterministic")
	}
	if a == HashMicrocode([]uint32{1, 2, 4}) {
		t.Error("different microcode hashed equal")
	}
}

func TestTranslateDeterministic(t *testing.T) {
	for _, tc := range []struct {
		name    string
		program func() *ucode.Program
	}{
		{"vertex", testVertexProgram},
		{"pixel", testPixelProgram},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := mustTranslate(t, tc.program(), DefaultOptions(), 0)
			b := mustTranslate(t, tc.program(), DefaultOptions(), 0)
			if !bytes.Equal(a.Binary, b.Binary) {
				t.Error("same program translated to different containers")
			}
			if len(a.Binary) < 20 {
				t.Fatalf("container too small: %d bytes", len(a.Binary))
			}
			lo, hi := dxbc.Fingerprint(a.Binary)
			if lo == 0 && hi == 0 {
				t.Error("container fingerprint not set")
			}
		})
	}
}

func TestTranslateStatistics(t *testing.T) {
	tr := mustTranslate(t, testVertexProgram(), DefaultOptions(), 0)
	if tr.Statistics.InstructionCount == 0 {
		t.Error("instruction count not tracked")
	}
	if tr.Statistics.TempRegisterCount == 0 {
		t.Error("temp register count not declared")
	}
	if tr.Statistics.DynamicFlowControlCount == 0 {
		t.Error("dispatch loop not counted as dynamic flow control")
	}
}

func TestControlFlowLoweringVariants(t *testing.T) {
	switched := mustTranslate(t, testVertexProgram(),
		Options{SwitchFlowControl: true}, 0)
	cascade := mustTranslate(t, testVertexProgram(),
		Options{SwitchFlowControl: false}, 0)
	if bytes.Equal(switched.Binary, cascade.Binary) {
		t.Error("switch and if-cascade lowering produced identical code")
	}
	// Some hosts get the cascade regardless of the requested lowering.
	intel := mustTranslate(t, testVertexProgram(),
		Options{SwitchFlowControl: true, VendorID: 0x8086}, 0)
	if !bytes.Equal(intel.Binary, cascade.Binary) {
		t.Error("vendor workaround did not force the if cascade")
	}
}

func TestModificationChangesContainer(t *testing.T) {
	plain := mustTranslate(t, testPixelProgram(), DefaultOptions(), 0)
	early := mustTranslate(t, testPixelProgram(), DefaultOptions(),
		ModForceEarlyDepthStencil)
	if bytes.Equal(plain.Binary, early.Binary) {
		t.Error("forced early depth/stencil did not change the container")
	}
}

func TestEnsureTranslationCaches(t *testing.T) {
	sh := NewShader(testVertexProgram())
	tr := NewTranslator(DefaultOptions())
	a, err := sh.EnsureTranslation(tr, 0)
	if err != nil {
		t.Fatalf("EnsureTranslation: %v", err)
	}
	b, err := sh.EnsureTranslation(tr, 0)
	if err != nil {
		t.Fatalf("EnsureTranslation: %v", err)
	}
	if a != b {
		t.Error("second request retranslated instead of using the cache")
	}
	if _, ok := sh.Translation(0); !ok {
		t.Error("translation not visible through Translation")
	}
}

func TestAnalyzeProgram(t *testing.T) {
	kill := &ucode.AluInstruction{
		VectorOpcode:   ucode.VectorOpKillEq,
		VectorOperands: []ucode.Operand{vec4Operand(0), vec4Operand(1)},
	}
	program := &ucode.Program{
		Type:      ucode.ShaderTypePixel,
		Microcode: []uint32{1},
		Blocks: []ucode.Block{{Records: []ucode.ControlFlowRecord{
			endExec(
				kill,
				addInstruction(vec4Result(ucode.TargetColor, 2)),
				addInstruction(vec4Result(ucode.TargetDepth, 0)),
			),
		}}},
		RegisterCount: 2,
	}
	an := NewShader(program).Analysis()
	if !an.KillsPixels {
		t.Error("kill not detected")
	}
	if !an.WritesColor[2] || an.WritesColor[0] {
		t.Errorf("color writes = %v, want only target 2", an.WritesColor)
	}
	if !an.WritesDepth {
		t.Error("depth write not detected")
	}
}

func TestAnalyzeMemExport(t *testing.T) {
	program := &ucode.Program{
		Type:      ucode.ShaderTypeVertex,
		Microcode: []uint32{1},
		Blocks: []ucode.Block{{Records: []ucode.ControlFlowRecord{
			&ucode.AllocRecord{Type: ucode.AllocMemExport},
			&ucode.ExecRecord{Instructions: []ucode.Instruction{
				addInstruction(vec4Result(ucode.TargetExportAddress, 0)),
				addInstruction(vec4Result(ucode.TargetExportData, 0)),
				addInstruction(vec4Result(ucode.TargetExportData, 3)),
			}},
			&ucode.AllocRecord{Type: ucode.AllocMemExport},
			endExec(
				addInstruction(vec4Result(ucode.TargetExportAddress, 0)),
				addInstruction(vec4Result(ucode.TargetExportData, 1)),
			),
		}}},
		RegisterCount: 1,
	}
	an := NewShader(program).Analysis()
	if an.MemExportCount != 2 {
		t.Fatalf("MemExportCount = %d, want 2", an.MemExportCount)
	}
	if an.MemExportDataWritten[0] != 0b01001 {
		t.Errorf("alloc 0 data mask = %05b, want 01001", an.MemExportDataWritten[0])
	}
	if an.MemExportDataWritten[1] != 0b00010 {
		t.Errorf("alloc 1 data mask = %05b, want 00010", an.MemExportDataWritten[1])
	}
	// The full pipeline through the export epilogue must still balance.
	mustTranslate(t, program, DefaultOptions(), 0)
}

func boolExec(boolIndex uint32, result ucode.Result) *ucode.ExecRecord {
	return &ucode.ExecRecord{
		Condition:         ucode.ExecBoolConstant,
		BoolConstantIndex: boolIndex,
		ConditionValue:    true,
		Instructions:      []ucode.Instruction{addInstruction(result)},
	}
}

func TestExecConditionalMerging(t *testing.T) {
	build := func(secondBool uint32) *ucode.Program {
		return &ucode.Program{
			Type:      ucode.ShaderTypeVertex,
			Microcode: []uint32{1},
			Blocks: []ucode.Block{{Records: []ucode.ControlFlowRecord{
				boolExec(3, vec4Result(ucode.TargetRegister, 1)),
				boolExec(secondBool, vec4Result(ucode.TargetPosition, 0)),
				endExec(),
			}}},
			RegisterCount: 2,
		}
	}
	merged := mustTranslate(t, build(3), DefaultOptions(), 0)
	split := mustTranslate(t, build(4), DefaultOptions(), 0)
	mergedIfs := merged.Statistics.DynamicFlowControlCount
	splitIfs := split.Statistics.DynamicFlowControlCount
	if splitIfs != mergedIfs+1 {
		t.Errorf("adjacent execs with the same guard: %d ifs merged vs %d split, want exactly one more",
			mergedIfs, splitIfs)
	}
}

func textureFetch(fetchConstant uint32, magFilter ucode.TextureFilter) *ucode.TextureFetchInstruction {
	return &ucode.TextureFetchInstruction{
		Opcode:             ucode.TextureOpFetch,
		FetchConstantIndex: fetchConstant,
		Dimension:          ucode.TextureDimension2D,
		UseComputedLOD:     true,
		MagFilter:          magFilter,
		MinFilter:          ucode.FilterUseFetchConst,
		MipFilter:          ucode.FilterUseFetchConst,
		Operands:           []ucode.Operand{vec4Operand(0)},
		Result:             vec4Result(ucode.TargetRegister, 1),
	}
}

func TestTextureBindingDedup(t *testing.T) {
	program := &ucode.Program{
		Type:      ucode.ShaderTypePixel,
		Microcode: []uint32{1},
		Blocks: []ucode.Block{{Records: []ucode.ControlFlowRecord{
			endExec(
				textureFetch(5, ucode.FilterUseFetchConst),
				textureFetch(5, ucode.FilterUseFetchConst),
				textureFetch(5, ucode.FilterLinear),
				addInstruction(vec4Result(ucode.TargetColor, 0)),
			),
		}}},
		RegisterCount: 2,
	}
	sh := NewShader(program)
	tr, err := NewTranslator(DefaultOptions()).Translate(sh, 0)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(tr.TextureBindings) != 1 {
		t.Fatalf("got %d texture bindings, want 1 (same constant and shape)", len(tr.TextureBindings))
	}
	if tr.TextureBindings[0].SRVIndex != 1 {
		t.Errorf("texture SRV index = %d, want 1 (t0 is shared memory)", tr.TextureBindings[0].SRVIndex)
	}
	if len(tr.SamplerBindings) != 2 {
		t.Fatalf("got %d sampler bindings, want 2 (filter override differs)", len(tr.SamplerBindings))
	}
	if got := sh.TextureBindings(); len(got) != 1 {
		t.Errorf("bindings not committed to the shader: %v", got)
	}
}

func TestVertexFetchTranslates(t *testing.T) {
	fetch := &ucode.VertexFetchInstruction{
		FetchConstantIndex: 2,
		Format:             ucode.VertexFormatFloat32x4,
		Stride:             4,
		Operands:           []ucode.Operand{vec4Operand(0)},
		Result:             vec4Result(ucode.TargetRegister, 1),
	}
	program := &ucode.Program{
		Type:      ucode.ShaderTypeVertex,
		Microcode: []uint32{1},
		Blocks: []ucode.Block{{Records: []ucode.ControlFlowRecord{
			endExec(fetch, addInstruction(vec4Result(ucode.TargetPosition, 0))),
		}}},
		RegisterCount: 2,
	}
	sh := NewShader(program)
	if !sh.Analysis().UsesVertexFetch {
		t.Error("vertex fetch not detected by analysis")
	}
	tr := mustTranslate(t, program, DefaultOptions(), 0)
	if tr.Statistics.TextureLoadInstructions == 0 {
		t.Error("vertex fetch emitted no raw load")
	}
}

func TestLoopTranslates(t *testing.T) {
	program := &ucode.Program{
		Type:      ucode.ShaderTypeVertex,
		Microcode: []uint32{1},
		Blocks: []ucode.Block{
			{Address: 0, Records: []ucode.ControlFlowRecord{
				&ucode.LoopStartRecord{LoopConstantIndex: 7, SkipAddress: 2},
			}},
			{Address: 1, Records: []ucode.ControlFlowRecord{
				&ucode.ExecRecord{Instructions: []ucode.Instruction{
					addInstruction(vec4Result(ucode.TargetRegister, 1)),
				}},
				&ucode.LoopEndRecord{LoopConstantIndex: 7, BodyAddress: 1},
			}},
			{Address: 2, Records: []ucode.ControlFlowRecord{
				endExec(addInstruction(vec4Result(ucode.TargetPosition, 0))),
			}},
		},
		RegisterCount: 2,
	}
	a := mustTranslate(t, program, DefaultOptions(), 0)
	b := mustTranslate(t, program, Options{SwitchFlowControl: false}, 0)
	if bytes.Equal(a.Binary, b.Binary) {
		t.Error("loop program identical under both lowerings")
	}
}

func TestLoadOperandCanonicalFill(t *testing.T) {
	sh := NewShader(testVertexProgram())
	tr := NewTranslator(DefaultOptions())
	tr.reset(sh, 0)
	src, pushed := tr.loadOperand(&ucode.Operand{
		Storage:        ucode.StoragePreviousVector,
		ComponentCount: 4,
		Components:     ucode.IdentityComponents,
	}, 0b0100)
	if pushed {
		t.Error("previous-vector operand pushed a scratch temp")
	}
	// Unneeded lanes repeat the first needed one, so every lane reads z.
	if src.Swizzle != 0b10101010 {
		t.Errorf("swizzle = %08b, want all lanes z", src.Swizzle)
	}
}

// TestGammaCurveConstants checks that the piecewise linear gamma epilogue of
// a color-writing pixel shader carries the curve's piece constants as
// immediates in the emitted stream.
func TestGammaCurveConstants(t *testing.T) {
	tr := mustTranslate(t, testPixelProgram(), DefaultOptions(), 0)
	// Spot checks on the to-gamma curve: 1/0.0625 (piece 1 slope), 1/0.375
	// (piece 3 slope) and -0.125/0.375 (piece 3 bias).
	for _, want := range []float32{16.0, 1.0 / 0.375, -0.125 / 0.375} {
		var bits [4]byte
		binary.LittleEndian.PutUint32(bits[:], math.Float32bits(want))
		if !bytes.Contains(tr.Binary, bits[:]) {
			t.Errorf("gamma constant %v missing from the emitted stream", want)
		}
	}
}

func memExportBurst(allocs int) *ucode.Program {
	records := make([]ucode.ControlFlowRecord, 0, 2*allocs+1)
	for i := 0; i < allocs; i++ {
		records = append(records,
			&ucode.AllocRecord{Type: ucode.AllocMemExport},
			&ucode.ExecRecord{Instructions: []ucode.Instruction{
				addInstruction(vec4Result(ucode.TargetExportAddress, 0)),
				addInstruction(vec4Result(ucode.TargetExportData, 0)),
			}})
	}
	records = append(records,
		endExec(addInstruction(vec4Result(ucode.TargetPosition, 0))))
	return &ucode.Program{
		Type:          ucode.ShaderTypeVertex,
		Microcode:     []uint32{0x5eed, uint32(allocs)},
		Blocks:        []ucode.Block{{Records: records}},
		RegisterCount: 1,
	}
}

// TestMemExportOverflowDropped checks that allocs beyond the export limit
// are dropped instead of growing the analysis or unbalancing translation.
func TestMemExportOverflowDropped(t *testing.T) {
	an := NewShader(memExportBurst(MaxMemExports + 2)).Analysis()
	if an.MemExportCount != MaxMemExports {
		t.Fatalf("MemExportCount = %d, want cap %d", an.MemExportCount, MaxMemExports)
	}
	if an.MemExportDataWritten[MaxMemExports-1] != 0b00001 {
		t.Errorf("last honored alloc mask = %05b, want 00001",
			an.MemExportDataWritten[MaxMemExports-1])
	}
	mustTranslate(t, memExportBurst(MaxMemExports+2), DefaultOptions(), 0)
}

func TestStoreResultConstantSplit(t *testing.T) {
	sh := NewShader(testVertexProgram())
	tr := NewTranslator(DefaultOptions())
	tr.reset(sh, 0)
	before := tr.stats.MovInstructionCount
	tr.storeResult(&ucode.Result{
		Storage:   ucode.TargetRegister,
		Index:     1,
		WriteMask: 0b1111,
		Components: [4]ucode.SwizzleSource{
			ucode.SwizzleX, ucode.Swizzle0, ucode.Swizzle1, ucode.SwizzleW,
		},
	}, dxbc.SrcR(5), false)
	if got := tr.stats.MovInstructionCount - before; got != 2 {
		t.Errorf("constant lanes emitted %d movs, want 2 (swizzled + literal)", got)
	}
}

func TestDynamicAddressingCountsArrayInstructions(t *testing.T) {
	program := testVertexProgram()
	program.DynamicRegisterAddressing = true
	tr := mustTranslate(t, program, DefaultOptions(), 0)
	if tr.Statistics.TempArrayCount == 0 {
		t.Error("TempArrayCount = 0 for a dynamically addressed shader")
	}
	if tr.Statistics.ArrayInstructionCount == 0 {
		t.Error("ArrayInstructionCount = 0 despite x# register file accesses")
	}

	static := mustTranslate(t, testVertexProgram(), DefaultOptions(), 0)
	if static.Statistics.ArrayInstructionCount != 0 {
		t.Errorf("ArrayInstructionCount = %d for a statically addressed shader",
			static.Statistics.ArrayInstructionCount)
	}
}

func TestDepthOnlyPixelShader(t *testing.T) {
	blob := DepthOnlyPixelShader()
	if len(blob) < 4 || binary.LittleEndian.Uint32(blob) != dxbc.ContainerFourCC {
		t.Fatal("depth-only pixel shader is not a container")
	}
	if !bytes.Equal(blob, DepthOnlyPixelShader()) {
		t.Error("depth-only pixel shader is not deterministic")
	}
	// Fourth section is the code; its version token must name the pixel
	// stage.
	codeOff := binary.LittleEndian.Uint32(blob[32+4*3:])
	version := binary.LittleEndian.Uint32(blob[codeOff+8:])
	if stage := version >> 16; stage != uint32(dxbc.ProgramPixel) {
		t.Errorf("program type = %d, want pixel", stage)
	}
}
