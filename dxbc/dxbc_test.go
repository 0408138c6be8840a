package dxbc

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/bytedance/gopkg/util/xxhash3"
)

func TestSwizzleComposition(t *testing.T) {
	src := SrcR(0).Swiz(SwizzleWZYX)
	if src.Swizzle != SwizzleWZYX {
		t.Fatalf("Swiz on identity = %08b, want %08b", src.Swizzle, SwizzleWZYX)
	}
	// Reversing twice restores the identity.
	src = src.Swiz(SwizzleWZYX)
	if src.Swizzle != SwizzleXYZW {
		t.Errorf("double reverse = %08b, want identity", src.Swizzle)
	}
	// Select after a swizzle picks the post-swizzle component.
	sel := SrcR(0).Swiz(SwizzleWZYX).Select(0)
	if sel.Swizzle != SwizzleWWWW {
		t.Errorf("Select(0) after wzyx = %08b, want wwww", sel.Swizzle)
	}
}

func TestOperandModifierEncoding(t *testing.T) {
	var code []uint32
	SrcR(3).Abs().Neg().encode(&code)
	if len(code) != 3 {
		t.Fatalf("encoded length = %d, want 3 (token, extended, index)", len(code))
	}
	if code[0]&operandExtendedBit == 0 {
		t.Error("extended bit not set on modified operand")
	}
	if mod := (code[1] >> 6) & 0xFF; mod != extendedModifierAbsNeg {
		t.Errorf("extended modifier = %d, want %d", mod, extendedModifierAbsNeg)
	}
	if code[2] != 3 {
		t.Errorf("register index = %d, want 3", code[2])
	}
}

func TestRelativeIndexEncoding(t *testing.T) {
	var code []uint32
	SrcCB(1, IdxRel(4, 7, 2)).encode(&code)
	// token, cb index, literal part, relative operand token, relative reg.
	if len(code) != 5 {
		t.Fatalf("encoded length = %d, want 5", len(code))
	}
	rep := (code[0] >> (operandIndexRepShift + 3)) & 7
	if rep != indexRepImmediateRelative {
		t.Errorf("second dimension representation = %d, want %d", rep, indexRepImmediateRelative)
	}
	if code[2] != 4 || code[4] != 7 {
		t.Errorf("literal/relative = %d/%d, want 4/7", code[2], code[4])
	}
}

func TestInstructionLengthToken(t *testing.T) {
	var code []uint32
	var stats Statistics
	a := NewAssembler(&code, &stats)
	a.OpMov(DestR(0, 0b1111), SrcLF(1.0))
	length := code[0] >> opcodeLengthShift
	if int(length) != len(code) {
		t.Errorf("length token = %d, want %d", length, len(code))
	}
	if Opcode(code[0]&0x7FF) != OpcodeMov {
		t.Errorf("opcode = %d, want mov", code[0]&0x7FF)
	}
	if math.Float32frombits(code[len(code)-4]) != 1.0 {
		t.Error("immediate payload lost")
	}
}

func TestAssemblerStatistics(t *testing.T) {
	var code []uint32
	var stats Statistics
	a := NewAssembler(&code, &stats)
	a.OpIf(true, SrcR(0).Select(0))
	a.OpAdd(DestR(1, 0b1111), SrcR(0), SrcLF(2.0))
	a.OpMov(DestR(2, 0b0001), SrcR(1))
	a.OpEndIf()
	a.OpRet()
	if stats.InstructionCount != 5 {
		t.Errorf("InstructionCount = %d, want 5", stats.InstructionCount)
	}
	if stats.DynamicFlowControlCount != 1 {
		t.Errorf("DynamicFlowControlCount = %d, want 1", stats.DynamicFlowControlCount)
	}
	if stats.StaticFlowControlCount != 2 {
		t.Errorf("StaticFlowControlCount = %d, want 2", stats.StaticFlowControlCount)
	}
	if stats.FloatInstructionCount != 1 || stats.MovInstructionCount != 1 {
		t.Errorf("float/mov = %d/%d, want 1/1",
			stats.FloatInstructionCount, stats.MovInstructionCount)
	}
}

func TestArrayInstructionStatistics(t *testing.T) {
	var code []uint32
	var stats Statistics
	a := NewAssembler(&code, &stats)
	a.OpMov(DestX(0, Idx(2), 0b1111), SrcR(1))
	a.OpMov(DestR(1, 0b1111), SrcX(0, IdxRel(0, 3, 0)))
	a.OpAdd(DestR(2, 0b1111), SrcR(0), SrcR(1))
	if stats.ArrayInstructionCount != 2 {
		t.Errorf("ArrayInstructionCount = %d, want 2 (x# write and x# read)",
			stats.ArrayInstructionCount)
	}
	if stats.InstructionCount != 3 {
		t.Errorf("InstructionCount = %d, want 3", stats.InstructionCount)
	}
}

func TestSaturateBit(t *testing.T) {
	var code []uint32
	var stats Statistics
	a := NewAssembler(&code, &stats)
	a.OpMulSat(DestR(0, 0b1111), SrcR(1), SrcLF(0.5))
	if code[0]&opcodeSaturateBit == 0 {
		t.Error("saturate bit not set")
	}
}

func testContainer() *ContainerBuilder {
	var code []uint32
	var stats Statistics
	a := NewAssembler(&code, &stats)
	a.OpDclGlobalFlags(GlobalFlagRefactoringAllowed)
	a.OpDclTemps(2)
	a.OpMov(DestR(0, 0b1111), SrcLF(0))
	a.OpRet()
	return &ContainerBuilder{
		Version: Version5_1(ProgramVertex),
		ConstantBuffers: []ConstantBuffer{
			{Name: "system_constants", Size: 256, BindPoint: 0,
				Variables: []ConstantBufferVariable{{Name: "flags", Offset: 0, Size: 4}}},
		},
		Resources: []BoundResource{
			{Name: "system_constants", Type: InputCBuffer, BindPoint: 0, BindCount: 1},
			{Name: "shared_memory", Type: InputByteAddress, BindPoint: 0, BindCount: 1},
		},
		InputParameters: []SignatureParameter{
			{SemanticName: "SV_VertexID", SystemValue: NameVertexID,
				ComponentType: ComponentUint32, Mask: 0b0001, UsedMask: 0b0001},
		},
		OutputParameters: []SignatureParameter{
			{SemanticName: "SV_Position", SystemValue: NamePosition,
				ComponentType: ComponentFloat32, Mask: 0b1111},
		},
		Code:  code,
		Stats: stats,
	}
}

func TestContainerDeterministic(t *testing.T) {
	a := testContainer().Build()
	b := testContainer().Build()
	if !bytes.Equal(a, b) {
		t.Error("identical builder state produced different containers")
	}
}

func TestContainerFingerprint(t *testing.T) {
	blob := testContainer().Build()
	lo, hi := Fingerprint(blob)
	want := xxhash3.Hash128(blob[20:])
	if lo != want[0] || hi != want[1] {
		t.Error("stored fingerprint does not cover the container body")
	}
}

func TestContainerSections(t *testing.T) {
	blob := testContainer().Build()
	if binary.LittleEndian.Uint32(blob) != ContainerFourCC {
		t.Fatal("container fourcc missing")
	}
	total := binary.LittleEndian.Uint32(blob[24:])
	if int(total) != len(blob) {
		t.Fatalf("recorded size %d, actual %d", total, len(blob))
	}
	count := binary.LittleEndian.Uint32(blob[28:])
	if count != 6 {
		t.Fatalf("section count = %d, want 6 (no patch signature)", count)
	}
	wantOrder := []uint32{fourCCRDEF, fourCCISGN, fourCCOSGN, fourCCSHEX, fourCCSFI0, fourCCSTAT}
	for i, want := range wantOrder {
		off := binary.LittleEndian.Uint32(blob[32+4*i:])
		got := binary.LittleEndian.Uint32(blob[off:])
		if got != want {
			t.Errorf("section %d fourcc = %08x, want %08x", i, got, want)
		}
	}
}

func TestContainerPatchSignaturePresence(t *testing.T) {
	c := testContainer()
	c.Version = Version5_1(ProgramDomain)
	c.PatchParameters = []SignatureParameter{
		{SemanticName: "SV_TessFactor", ComponentType: ComponentFloat32, Mask: 0b0001},
	}
	blob := c.Build()
	count := binary.LittleEndian.Uint32(blob[28:])
	if count != 7 {
		t.Fatalf("section count = %d, want 7 with patch signature", count)
	}
}

func TestShexLengthBackpatch(t *testing.T) {
	c := testContainer()
	blob := c.Build()
	// Locate SHEX.
	count := int(binary.LittleEndian.Uint32(blob[28:]))
	for i := 0; i < count; i++ {
		off := binary.LittleEndian.Uint32(blob[32+4*i:])
		if binary.LittleEndian.Uint32(blob[off:]) != fourCCSHEX {
			continue
		}
		size := binary.LittleEndian.Uint32(blob[off+4:])
		lengthInDwords := binary.LittleEndian.Uint32(blob[off+12:])
		if lengthInDwords*4 != size {
			t.Errorf("SHEX length token %d dwords, section size %d bytes",
				lengthInDwords, size)
		}
		return
	}
	t.Fatal("SHEX section not found")
}
