package translate

import (
	"fmt"

	"github.com/gogpu/xgpu/dxbc"
	"github.com/gogpu/xgpu/ucode"
)

// Fetch instruction translation. Vertex fetches become raw loads from the
// shared memory SRV with the address computed from the fetch constant; texture
// fetches become samples from deduplicated texture/sampler bindings.

// vertexFormatDwordCount returns how many dwords one element occupies.
func vertexFormatDwordCount(f ucode.VertexFormat) uint32 {
	switch f {
	case ucode.VertexFormat8888, ucode.VertexFormat16x2,
		ucode.VertexFormat32, ucode.VertexFormatFloat32:
		return 1
	case ucode.VertexFormat16x4, ucode.VertexFormat32x2,
		ucode.VertexFormatFloat32x2:
		return 2
	case ucode.VertexFormat32x3, ucode.VertexFormatFloat32x3:
		return 3
	}
	return 4
}

func (t *Translator) processVertexFetch(instr *ucode.VertexFetchInstruction) {
	mask := instr.Result.UsedResultComponents()
	if mask == 0 {
		return
	}
	t.updateInstructionPredication(instr.Predicated, instr.PredicateCondition)
	a := t.asm

	// The decoder expands mini-fetches to carry the index operand and layout
	// of the preceding full fetch, so the address is recomputed uniformly.
	addr := t.alloc.Push(0)
	addrX := dxbc.DestR(addr, 0b0001)
	addrXSrc := dxbc.SrcR(addr).Select(0)
	addrY := dxbc.DestR(addr, 0b0010)
	addrYSrc := dxbc.SrcR(addr).Select(1)

	var operandTemps uint32
	if len(instr.Operands) > 0 {
		index, pushed := t.loadOperand(&instr.Operands[0], 0b0001)
		if pushed {
			operandTemps++
		}
		if instr.IsIndexRounded {
			a.OpAdd(addrX, index, dxbc.SrcLF(0.5))
			a.OpRoundNI(addrX, addrXSrc)
		} else {
			a.OpRoundNI(addrX, index)
		}
		a.OpFToI(addrX, addrXSrc)
	} else {
		a.OpMov(addrX, dxbc.SrcLU(0))
	}
	t.pop(operandTemps)

	fc := t.fetchConstPair(instr.FetchConstantIndex)
	// Bits 0-1 of the first dword are the endianness, the rest is the base
	// address in bytes.
	a.OpAnd(addrY, fc.Select(0), dxbc.SrcLU(0xFFFFFFFC))
	if instr.Stride != 0 {
		a.OpIMAd(addrX, addrXSrc, dxbc.SrcLU(instr.Stride*4), addrYSrc)
	} else {
		a.OpMov(addrX, addrYSrc)
	}
	if instr.Offset != 0 {
		a.OpIAdd(addrX, addrXSrc, dxbc.SrcLU(instr.Offset*4))
	}

	dwords := vertexFormatDwordCount(instr.Format)
	loadMask := uint8(1<<dwords) - 1
	data := t.alloc.Push(0)
	dataSrc := dxbc.SrcR(data)
	a.OpLdRaw(dxbc.DestR(data, loadMask), addrXSrc, t.sharedMemorySRV())

	t.emitLoadedWordsEndianSwap(data, loadMask, fc.Select(0))
	t.emitVertexFormatUnpack(instr.Format, dataSrc)
	t.pop(2) // data, addr

	t.storeResult(&instr.Result, dxbc.SrcR(t.tempResult), false)
}

// emitLoadedWordsEndianSwap swaps the bytes of the loaded dwords in place
// according to the endianness field of the fetch constant.
func (t *Translator) emitLoadedWordsEndianSwap(data uint32, mask uint8, fetchConstDword0 dxbc.Src) {
	a := t.asm
	scratch := t.alloc.Push(0)
	endianDest := dxbc.DestR(scratch, 0b1000)
	endian := dxbc.SrcR(scratch).Select(3)
	swapDest := dxbc.DestR(scratch, mask)
	swapSrc := dxbc.SrcR(scratch)
	dataDest := dxbc.DestR(data, mask)
	dataSrc := dxbc.SrcR(data)

	a.OpAnd(endianDest, fetchConstDword0, dxbc.SrcLU(3))

	// 8-in-16 swap, which is also one half of 8-in-32.
	a.OpSwitch(endian)
	a.OpCase(dxbc.SrcLU(1))
	a.OpCase(dxbc.SrcLU(2))
	a.OpAnd(swapDest, dataSrc, dxbc.SrcLU(0x00FF00FF))
	a.OpUShr(dataDest, dataSrc, dxbc.SrcLU(8))
	a.OpAnd(dataDest, dataSrc, dxbc.SrcLU(0x00FF00FF))
	a.OpIMAd(dataDest, swapSrc, dxbc.SrcLU(256), dataSrc)
	a.OpBreak()
	a.OpEndSwitch()
	// 16-in-32 swap, which is also the other half of 8-in-32.
	a.OpSwitch(endian)
	a.OpCase(dxbc.SrcLU(2))
	a.OpCase(dxbc.SrcLU(3))
	a.OpUShr(swapDest, dataSrc, dxbc.SrcLU(16))
	a.OpIShl(dataDest, dataSrc, dxbc.SrcLU(16))
	a.OpOr(dataDest, dataSrc, swapSrc)
	a.OpBreak()
	a.OpEndSwitch()

	t.pop(1)
}

// emitVertexFormatUnpack expands the raw dwords into float components in the
// shared result temp.
func (t *Translator) emitVertexFormatUnpack(format ucode.VertexFormat, data dxbc.Src) {
	a := t.asm
	result := dxbc.DestR(t.tempResult, 0b1111)
	resultSrc := dxbc.SrcR(t.tempResult)
	switch format {
	case ucode.VertexFormat8888:
		a.OpUBFE(result, dxbc.SrcLU(8), dxbc.SrcLU4(0, 8, 16, 24),
			data.Select(0))
		a.OpUToF(result, resultSrc)
		a.OpMul(result, resultSrc, dxbc.SrcLF(1.0/255.0))
	case ucode.VertexFormat16x2:
		a.OpUBFE(maskDest(result, 0b0011), dxbc.SrcLU(16),
			dxbc.SrcLU4(0, 16, 0, 0), data.Select(0))
		a.OpUToF(maskDest(result, 0b0011), resultSrc)
		a.OpMul(maskDest(result, 0b0011), resultSrc, dxbc.SrcLF(1.0/65535.0))
	case ucode.VertexFormat16x4:
		a.OpUBFE(maskDest(result, 0b0011), dxbc.SrcLU(16),
			dxbc.SrcLU4(0, 16, 0, 0), data.Select(0))
		a.OpUBFE(maskDest(result, 0b1100), dxbc.SrcLU(16),
			dxbc.SrcLU4(0, 0, 0, 16), data.Select(1))
		a.OpUToF(result, resultSrc)
		a.OpMul(result, resultSrc, dxbc.SrcLF(1.0/65535.0))
	case ucode.VertexFormat32, ucode.VertexFormat32x2,
		ucode.VertexFormat32x3, ucode.VertexFormat32x4:
		a.OpUToF(result, data)
	default:
		// IEEE floats load directly.
		a.OpMov(result, data)
	}
}

func filterLetter(f ucode.TextureFilter) byte {
	switch f {
	case ucode.FilterPoint:
		return 'p'
	case ucode.FilterLinear:
		return 'l'
	}
	return 'f'
}

// textureSRV returns the t# register for a {fetch constant, dimension} pair,
// appending a new binding on first use. Shared memory holds t0, textures
// follow.
func (t *Translator) textureSRV(fetchConstant uint32, dim ucode.TextureDimension) uint32 {
	for i := range t.textureBindings {
		b := &t.textureBindings[i]
		if b.FetchConstant == fetchConstant && b.Dimension == dim {
			return b.SRVIndex
		}
	}
	srv := uint32(len(t.textureBindings)) + 1
	t.textureBindings = append(t.textureBindings, TextureBinding{
		FetchConstant: fetchConstant,
		Dimension:     dim,
		SRVIndex:      srv,
		Name:          fmt.Sprintf("texture%d_%s", fetchConstant, dim),
	})
	return srv
}

// textureSampler returns the s# register for the instruction's sampler
// parameters, appending a new binding on first use.
func (t *Translator) textureSampler(instr *ucode.TextureFetchInstruction) uint32 {
	for i := range t.samplerBindings {
		b := &t.samplerBindings[i]
		if b.FetchConstant == instr.FetchConstantIndex &&
			b.MagFilter == instr.MagFilter && b.MinFilter == instr.MinFilter &&
			b.MipFilter == instr.MipFilter && b.AnisoValid == instr.AnisoValid {
			return b.SamplerIndex
		}
	}
	index := uint32(len(t.samplerBindings))
	name := fmt.Sprintf("sampler%d_%c%c%c", instr.FetchConstantIndex,
		filterLetter(instr.MagFilter), filterLetter(instr.MinFilter),
		filterLetter(instr.MipFilter))
	if instr.AnisoValid {
		name += "_a"
	}
	t.samplerBindings = append(t.samplerBindings, SamplerBinding{
		FetchConstant: instr.FetchConstantIndex,
		MagFilter:     instr.MagFilter,
		MinFilter:     instr.MinFilter,
		MipFilter:     instr.MipFilter,
		AnisoValid:    instr.AnisoValid,
		SamplerIndex:  index,
		Name:          name,
	})
	return index
}

// textureResourceDimension maps the guest shape to the host declaration.
// Cube textures are sampled as two-dimensional arrays with the face as the
// layer, matching how the coordinates arrive from the cube ALU operation.
func textureResourceDimension(dim ucode.TextureDimension) dxbc.ResourceDimension {
	switch dim {
	case ucode.TextureDimension1D:
		return dxbc.DimensionTexture1D
	case ucode.TextureDimension2D:
		return dxbc.DimensionTexture2D
	case ucode.TextureDimension3D:
		return dxbc.DimensionTexture3D
	}
	return dxbc.DimensionTexture2DArray
}

func (t *Translator) processTextureFetch(instr *ucode.TextureFetchInstruction) {
	t.updateInstructionPredication(instr.Predicated, instr.PredicateCondition)
	a := t.asm

	coordCount := instr.Dimension.CoordinateCount()
	coordMask := uint8(1<<coordCount) - 1

	switch instr.Opcode {
	case ucode.TextureOpSetLOD:
		if len(instr.Operands) == 0 {
			return
		}
		lod, pushed := t.loadOperand(&instr.Operands[0], 0b0001)
		a.OpMov(dxbc.DestR(t.tempGradHLOD, 0b1000), lod)
		if pushed {
			t.pop(1)
		}
		return
	case ucode.TextureOpGetComputedLOD:
		t.storeResult(&instr.Result,
			dxbc.SrcR(t.tempGradHLOD).Select(3), false)
		return
	case ucode.TextureOpGetWeights:
		if instr.Result.UsedResultComponents() == 0 || len(instr.Operands) == 0 {
			return
		}
		// The lerp factors of a linear fetch are the coordinate fractions.
		coords, pushed := t.loadOperand(&instr.Operands[0], coordMask)
		a.OpFrc(dxbc.DestR(t.tempResult, 0b1111), coords)
		if pushed {
			t.pop(1)
		}
		t.storeResult(&instr.Result, dxbc.SrcR(t.tempResult), false)
		return
	}

	if instr.Result.UsedResultComponents() == 0 || len(instr.Operands) == 0 {
		return
	}
	srv := t.textureSRV(instr.FetchConstantIndex, instr.Dimension)
	sampler := t.textureSampler(instr)
	coords, pushed := t.loadOperand(&instr.Operands[0], coordMask)
	dest := dxbc.DestR(t.tempResult, 0b1111)
	resource := dxbc.SrcT(srv)
	samplerSrc := dxbc.SrcS(sampler)
	if instr.UseComputedLOD {
		if instr.LODBias != 0 {
			a.OpSampleB(dest, coords, resource, samplerSrc,
				dxbc.SrcLF(instr.LODBias))
		} else {
			a.OpSample(dest, coords, resource, samplerSrc)
		}
	} else {
		// Explicit LOD from the register set by the LOD set operation.
		a.OpSampleL(dest, coords, resource, samplerSrc,
			dxbc.SrcR(t.tempGradHLOD).Select(3))
	}
	if pushed {
		t.pop(1)
	}
	t.storeResult(&instr.Result, dxbc.SrcR(t.tempResult), false)
}
