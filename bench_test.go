package xgpu

import (
	"runtime"
	"testing"

	"github.com/gogpu/xgpu/ucode"
)

// ---------------------------------------------------------------------------
// Benchmark programs — decoded guest shaders at different complexity levels
// ---------------------------------------------------------------------------

func benchOperand(index uint32) ucode.Operand {
	return ucode.Operand{
		Storage:        ucode.StorageRegister,
		Index:          index,
		ComponentCount: 4,
		Components:     ucode.IdentityComponents,
	}
}

func benchResult(storage ucode.ResultStorage, index uint32) ucode.Result {
	return ucode.Result{
		Storage:    storage,
		Index:      index,
		WriteMask:  0b1111,
		Components: ucode.IdentityComponents,
	}
}

func benchAdd(dst ucode.Result, a, b uint32) ucode.Instruction {
	return &ucode.AluInstruction{
		VectorOpcode:   ucode.VectorOpAdd,
		VectorOperands: []ucode.Operand{benchOperand(a), benchOperand(b)},
		VectorResult:   dst,
	}
}

// smallVertexProgram is a position-only passthrough, the shape of a depth
// prepass shader.
func smallVertexProgram() *ucode.Program {
	return &ucode.Program{
		Type:      ucode.ShaderTypeVertex,
		Microcode: []uint32{0xb0000001, 0xb0000002},
		Blocks: []ucode.Block{{Records: []ucode.ControlFlowRecord{
			&ucode.ExecRecord{IsEnd: true, Instructions: []ucode.Instruction{
				benchAdd(benchResult(ucode.TargetPosition, 0), 0, 0),
			}},
		}}},
		RegisterCount: 1,
	}
}

// texturedPixelProgram samples one texture and modulates it, the most common
// real pixel shader shape.
func texturedPixelShaderProgram() *ucode.Program {
	return &ucode.Program{
		Type:      ucode.ShaderTypePixel,
		Microcode: []uint32{0xb0000003, 0xb0000004},
		Blocks: []ucode.Block{{Records: []ucode.ControlFlowRecord{
			&ucode.ExecRecord{IsEnd: true, Instructions: []ucode.Instruction{
				&ucode.TextureFetchInstruction{
					Opcode:             ucode.TextureOpFetch,
					FetchConstantIndex: 0,
					Dimension:          ucode.TextureDimension2D,
					UseComputedLOD:     true,
					MagFilter:          ucode.FilterUseFetchConst,
					MinFilter:          ucode.FilterUseFetchConst,
					MipFilter:          ucode.FilterUseFetchConst,
					Operands:           []ucode.Operand{benchOperand(0)},
					Result:             benchResult(ucode.TargetRegister, 1),
				},
				&ucode.AluInstruction{
					VectorOpcode:   ucode.VectorOpMul,
					VectorOperands: []ucode.Operand{benchOperand(1), benchOperand(0)},
					VectorResult:   benchResult(ucode.TargetColor, 0),
				},
			}},
		}}},
		RegisterCount: 2,
	}
}

// loopedVertexProgram runs an ALU body under a guest loop, exercising the
// aL/loop-count stacks and the jump table.
func loopedVertexProgram() *ucode.Program {
	return &ucode.Program{
		Type:      ucode.ShaderTypeVertex,
		Microcode: []uint32{0xb0000005, 0xb0000006, 0xb0000007},
		Blocks: []ucode.Block{
			{Address: 0, Records: []ucode.ControlFlowRecord{
				&ucode.LoopStartRecord{LoopConstantIndex: 0, SkipAddress: 2},
			}},
			{Address: 1, Records: []ucode.ControlFlowRecord{
				&ucode.ExecRecord{Instructions: []ucode.Instruction{
					benchAdd(benchResult(ucode.TargetRegister, 1), 1, 0),
				}},
				&ucode.LoopEndRecord{LoopConstantIndex: 0, BodyAddress: 1},
			}},
			{Address: 2, Records: []ucode.ControlFlowRecord{
				&ucode.ExecRecord{IsEnd: true, Instructions: []ucode.Instruction{
					benchAdd(benchResult(ucode.TargetPosition, 0), 1, 1),
				}},
			}},
		},
		RegisterCount: 2,
	}
}

// wideAluPixelProgram strings many co-issued ALU ops through the previous
// vector register, the shape of uber-shader math blocks.
func wideAluPixelProgram() *ucode.Program {
	instructions := make([]ucode.Instruction, 0, 33)
	for i := 0; i < 32; i++ {
		instructions = append(instructions,
			benchAdd(benchResult(ucode.TargetRegister, uint32(i%4)), uint32(i%4), uint32((i+1)%4)))
	}
	instructions = append(instructions, benchAdd(benchResult(ucode.TargetColor, 0), 0, 1))
	return &ucode.Program{
		Type:      ucode.ShaderTypePixel,
		Microcode: []uint32{0xb0000008, 0xb0000009, 0xb000000a, 0xb000000b},
		Blocks: []ucode.Block{{Records: []ucode.ControlFlowRecord{
			&ucode.ExecRecord{IsEnd: true, Instructions: instructions},
		}}},
		RegisterCount: 4,
	}
}

type programCase struct {
	name    string
	program func() *ucode.Program
}

var programsByComplexity = []programCase{
	{"small_vertex", smallVertexProgram},
	{"textured_pixel", texturedPixelShaderProgram},
	{"looped_vertex", loopedVertexProgram},
	{"wide_alu_pixel", wideAluPixelProgram},
}

// ---------------------------------------------------------------------------
// End-to-end translation benchmarks by complexity
// ---------------------------------------------------------------------------

// BenchmarkTranslate benchmarks full microcode-to-container translation
// grouped by shader complexity. Reports allocations.
func BenchmarkTranslate(b *testing.B) {
	for _, pc := range programsByComplexity {
		b.Run(pc.name, func(b *testing.B) {
			program := pc.program()
			b.ReportAllocs()
			b.ResetTimer()

			var result []byte
			for i := 0; i < b.N; i++ {
				var err error
				result, err = Translate(program)
				if err != nil {
					b.Fatalf("translate failed: %v", err)
				}
			}
			runtime.KeepAlive(result)
		})
	}
}

// BenchmarkTranslateIfCascade benchmarks the if-cascade control-flow lowering
// against the default switch jump table.
func BenchmarkTranslateIfCascade(b *testing.B) {
	opts := DefaultOptions()
	opts.SwitchFlowControl = false
	for _, pc := range programsByComplexity {
		b.Run(pc.name, func(b *testing.B) {
			program := pc.program()
			b.ReportAllocs()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				if _, err := TranslateWithOptions(program, opts); err != nil {
					b.Fatalf("translate failed: %v", err)
				}
			}
		})
	}
}

// BenchmarkHash benchmarks the microcode content hash on a register-file
// sized shader.
func BenchmarkHash(b *testing.B) {
	microcode := make([]uint32, 1024)
	for i := range microcode {
		microcode[i] = uint32(i) * 0x9e3779b9
	}
	b.ReportAllocs()
	b.SetBytes(int64(len(microcode) * 4))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Hash(microcode)
	}
}
