package dxbc

import (
	"encoding/binary"

	"github.com/bytedance/gopkg/util/xxhash3"
)

// FourCC tags identifying the container and its sections.
const (
	ContainerFourCC uint32 = 'D' | 'X'<<8 | 'B'<<16 | 'C'<<24

	fourCCRDEF uint32 = 'R' | 'D'<<8 | 'E'<<16 | 'F'<<24
	fourCCISGN uint32 = 'I' | 'S'<<8 | 'G'<<16 | 'N'<<24
	fourCCPCSG uint32 = 'P' | 'C'<<8 | 'S'<<16 | 'G'<<24
	fourCCOSGN uint32 = 'O' | 'S'<<8 | 'G'<<16 | 'N'<<24
	fourCCSHEX uint32 = 'S' | 'H'<<8 | 'E'<<16 | 'X'<<24
	fourCCSFI0 uint32 = 'S' | 'F'<<8 | 'I'<<16 | '0'<<24
	fourCCSTAT uint32 = 'S' | 'T'<<8 | 'A'<<16 | 'T'<<24
)

// ProgramType identifies the pipeline stage of the code section.
type ProgramType uint32

const (
	ProgramPixel  ProgramType = 0
	ProgramVertex ProgramType = 1
	ProgramDomain ProgramType = 4
)

// ShaderVersion is the shader model the code section targets.
type ShaderVersion struct {
	Major uint8
	Minor uint8
	Type  ProgramType
}

// Version5_1 returns the shader model 5.1 version for stage t, the only
// model this emitter produces.
func Version5_1(t ProgramType) ShaderVersion {
	return ShaderVersion{Major: 5, Minor: 1, Type: t}
}

// SignatureComponentType is the register component data type of a signature
// parameter.
type SignatureComponentType uint32

const (
	ComponentUint32  SignatureComponentType = 1
	ComponentSint32  SignatureComponentType = 2
	ComponentFloat32 SignatureComponentType = 3
)

// SignatureParameter describes one element of an input or output signature.
type SignatureParameter struct {
	SemanticName  string
	SemanticIndex uint32
	SystemValue   Name
	ComponentType SignatureComponentType
	Register      uint32
	// Mask is the components present; UsedMask is the subset the program
	// actually reads (inputs) or does not write (outputs, inverted).
	Mask     uint8
	UsedMask uint8
}

// ResourceInputType classifies a bound resource in the resource definition
// section.
type ResourceInputType uint32

const (
	InputCBuffer          ResourceInputType = 0
	InputTexture          ResourceInputType = 2
	InputSampler          ResourceInputType = 3
	InputByteAddress      ResourceInputType = 7
	InputUAVRWByteAddress ResourceInputType = 8
)

// ConstantBufferVariable is one named range within a constant buffer layout.
type ConstantBufferVariable struct {
	Name   string
	Offset uint32
	Size   uint32
}

// ConstantBuffer describes a constant buffer and its variable layout.
type ConstantBuffer struct {
	Name      string
	Size      uint32
	BindPoint uint32
	Variables []ConstantBufferVariable
	// DynamicIndexed marks buffers addressed with a runtime index, which
	// the resource definition records as a usage flag.
	DynamicIndexed bool
}

// BoundResource is one entry of the bound-resource table: a constant buffer,
// texture, sampler or raw buffer binding.
type BoundResource struct {
	Name       string
	Type       ResourceInputType
	BindPoint  uint32
	BindCount  uint32
	Dimension  ResourceDimension
	SampleBits uint32
}

// ContainerBuilder accumulates everything the translator produced and
// serializes it into one container blob. All buffers are append-only during
// Build; only section offset/length fields already emitted are back-patched.
type ContainerBuilder struct {
	Version ShaderVersion

	ConstantBuffers []ConstantBuffer
	Resources       []BoundResource

	InputParameters  []SignatureParameter
	OutputParameters []SignatureParameter
	// PatchParameters, when non-nil, adds the patch constant signature
	// section emitted for domain shaders.
	PatchParameters []SignatureParameter

	Code  []uint32
	Stats Statistics

	// FeatureFlags is the SFI0 bitfield (64-bit).
	FeatureFlags uint64
}

// Feature flag bits.
const (
	FeatureDoubles          uint64 = 1 << 0
	FeatureROVs             uint64 = 1 << 12
	Feature64UAVs           uint64 = 1 << 15
	FeatureUAVsAtEveryStage uint64 = 1 << 16
	FeatureStencilRef       uint64 = 1 << 11
)

type blobWriter struct {
	data []byte
}

func (w *blobWriter) u32(v uint32) {
	w.data = binary.LittleEndian.AppendUint32(w.data, v)
}

func (w *blobWriter) u64(v uint64) {
	w.data = binary.LittleEndian.AppendUint64(w.data, v)
}

// patch overwrites a previously written dword at byte offset off.
func (w *blobWriter) patch(off int, v uint32) {
	binary.LittleEndian.PutUint32(w.data[off:], v)
}

// str appends a NUL-terminated string and returns its start offset.
func (w *blobWriter) str(s string) uint32 {
	off := uint32(len(w.data))
	w.data = append(w.data, s...)
	w.data = append(w.data, 0)
	return off
}

// align pads with zero bytes to a 4-byte boundary.
func (w *blobWriter) align() {
	for len(w.data)&3 != 0 {
		w.data = append(w.data, 0)
	}
}

// Build serializes the container. Identical builder contents always produce
// byte-identical output; the fingerprint in the header is computed last, over
// everything that follows it.
func (b *ContainerBuilder) Build() []byte {
	type section struct {
		fourCC uint32
		data   []byte
	}
	sections := []section{
		{fourCCRDEF, b.buildRDEF()},
		{fourCCISGN, buildSignature(b.InputParameters)},
	}
	if b.PatchParameters != nil {
		sections = append(sections, section{fourCCPCSG, buildSignature(b.PatchParameters)})
	}
	sections = append(sections,
		section{fourCCOSGN, buildSignature(b.OutputParameters)},
		section{fourCCSHEX, b.buildSHEX()},
		section{fourCCSFI0, b.buildSFI0()},
		section{fourCCSTAT, b.buildSTAT()},
	)

	headerSize := 4 + 16 + 4 + 4 + 4 + 4*len(sections)
	total := headerSize
	for _, s := range sections {
		total += 8 + len(s.data)
	}

	var w blobWriter
	w.data = make([]byte, 0, total)
	w.u32(ContainerFourCC)
	fingerprintOff := len(w.data)
	w.u64(0)
	w.u64(0)
	w.u32(1) // container version
	w.u32(uint32(total))
	w.u32(uint32(len(sections)))
	offset := uint32(headerSize)
	for _, s := range sections {
		w.u32(offset)
		offset += uint32(8 + len(s.data))
	}
	for _, s := range sections {
		w.u32(s.fourCC)
		w.u32(uint32(len(s.data)))
		w.data = append(w.data, s.data...)
	}

	fp := xxhash3.Hash128(w.data[fingerprintOff+16:])
	binary.LittleEndian.PutUint64(w.data[fingerprintOff:], fp[0])
	binary.LittleEndian.PutUint64(w.data[fingerprintOff+8:], fp[1])
	return w.data
}

// Fingerprint extracts the 128-bit content fingerprint of a built container.
func Fingerprint(container []byte) (lo, hi uint64) {
	if len(container) < 20 {
		return 0, 0
	}
	return binary.LittleEndian.Uint64(container[4:]),
		binary.LittleEndian.Uint64(container[12:])
}

const (
	rdefVariableFlagUsed = 1 << 1

	cbufferFlagUserPacked = 1 << 0
)

// buildRDEF writes the resource definition section: constant buffer layouts,
// the bound resource table, and the creator tag. String offsets are
// back-patched once the string table region is placed.
func (b *ContainerBuilder) buildRDEF() []byte {
	var w blobWriter
	// Header: counts and offsets of the two tables, target info.
	w.u32(uint32(len(b.ConstantBuffers)))
	cbuffersOffPatch := len(w.data)
	w.u32(0)
	w.u32(uint32(len(b.Resources)))
	resourcesOffPatch := len(w.data)
	w.u32(0)
	target := uint32(b.Version.Minor) | uint32(b.Version.Major)<<4 |
		uint32(rdefProgramType(b.Version.Type))<<16
	w.u32(target)
	w.u32(0) // compile flags
	creatorOffPatch := len(w.data)
	w.u32(0)

	// Bound resources.
	w.patch(resourcesOffPatch, uint32(len(w.data)))
	type patchPair struct {
		off  int
		name string
	}
	var namePatches []patchPair
	for _, r := range b.Resources {
		namePatches = append(namePatches, patchPair{len(w.data), r.Name})
		w.u32(0) // name offset
		w.u32(uint32(r.Type))
		w.u32(r.SampleBits)
		w.u32(uint32(r.Dimension))
		w.u32(0) // multisample count
		w.u32(r.BindPoint)
		w.u32(r.BindCount)
		w.u32(0) // flags
	}

	// Constant buffers and their variable layouts.
	w.patch(cbuffersOffPatch, uint32(len(w.data)))
	type cbPatch struct {
		nameOff int
		varsOff int
	}
	cbPatches := make([]cbPatch, len(b.ConstantBuffers))
	for i, cb := range b.ConstantBuffers {
		cbPatches[i].nameOff = len(w.data)
		w.u32(0) // name offset
		w.u32(uint32(len(cb.Variables)))
		cbPatches[i].varsOff = len(w.data)
		w.u32(0) // variables offset
		w.u32(cb.Size)
		flags := uint32(0)
		if cb.DynamicIndexed {
			flags |= cbufferFlagUserPacked
		}
		w.u32(flags)
		w.u32(0) // buffer type: cbuffer
	}
	for i, cb := range b.ConstantBuffers {
		w.patch(cbPatches[i].varsOff, uint32(len(w.data)))
		for _, v := range cb.Variables {
			namePatches = append(namePatches, patchPair{len(w.data), v.Name})
			w.u32(0) // name offset
			w.u32(v.Offset)
			w.u32(v.Size)
			w.u32(rdefVariableFlagUsed)
			w.u32(0) // type offset, unused by consumers of this container
			w.u32(0) // default value offset
		}
	}

	// String table.
	for _, p := range namePatches {
		w.patch(p.off, w.str(p.name))
	}
	for i, cb := range b.ConstantBuffers {
		w.patch(cbPatches[i].nameOff, w.str(cb.Name))
	}
	w.patch(creatorOffPatch, w.str("xgpu shader translator"))
	w.align()
	return w.data
}

func rdefProgramType(t ProgramType) uint32 {
	switch t {
	case ProgramVertex:
		return 0xFFFE
	case ProgramPixel:
		return 0xFFFF
	}
	return 0x4453 // 'DS'
}

// buildSignature writes an input/output signature section.
func buildSignature(params []SignatureParameter) []byte {
	var w blobWriter
	w.u32(uint32(len(params)))
	w.u32(8) // parameter records start right after this header
	type patchPair struct {
		off  int
		name string
	}
	var namePatches []patchPair
	for _, p := range params {
		namePatches = append(namePatches, patchPair{len(w.data), p.SemanticName})
		w.u32(0) // semantic name offset
		w.u32(p.SemanticIndex)
		w.u32(uint32(p.SystemValue))
		w.u32(uint32(p.ComponentType))
		w.u32(p.Register)
		w.u32(uint32(p.Mask) | uint32(p.UsedMask)<<8)
	}
	for _, p := range namePatches {
		w.patch(p.off, w.str(p.name))
	}
	w.align()
	return w.data
}

// buildSHEX writes the code section: version token, back-patched length in
// dwords, then the instruction stream.
func (b *ContainerBuilder) buildSHEX() []byte {
	var w blobWriter
	version := uint32(b.Version.Minor) | uint32(b.Version.Major)<<4 |
		uint32(b.Version.Type)<<16
	w.u32(version)
	lengthPatch := len(w.data)
	w.u32(0)
	for _, dw := range b.Code {
		w.u32(dw)
	}
	w.patch(lengthPatch, uint32(len(w.data)/4))
	return w.data
}

func (b *ContainerBuilder) buildSFI0() []byte {
	var w blobWriter
	w.u64(b.FeatureFlags)
	return w.data
}

// buildSTAT writes the statistics counters in their fixed slot order, padded
// to the full section size so unset counters read as zero.
func (b *ContainerBuilder) buildSTAT() []byte {
	var w blobWriter
	s := &b.Stats
	slots := [37]uint32{
		0:  s.InstructionCount,
		1:  s.TempRegisterCount,
		2:  s.DefCount,
		3:  s.DclCount,
		4:  s.FloatInstructionCount,
		5:  s.IntInstructionCount,
		6:  s.UintInstructionCount,
		7:  s.StaticFlowControlCount,
		8:  s.DynamicFlowControlCount,
		10: s.TempArrayCount,
		11: s.ArrayInstructionCount,
		14: s.TextureNormalInstructions,
		15: s.TextureLoadInstructions,
		17: s.TextureBiasInstructions,
		19: s.MovInstructionCount,
		20: s.MovCInstructionCount,
		21: s.ConversionInstructionCount,
		36: s.CTextureStoreInstructions,
	}
	for _, v := range slots {
		w.u32(v)
	}
	return w.data
}
