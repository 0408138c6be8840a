package translate

import (
	"math"

	"github.com/gogpu/xgpu/dxbc"
)

// Stage epilogues: undo the guest position encoding and write the host
// outputs for vertex shaders, run the alpha test and color conversions for
// pixel shaders.

// alphaTestMaskShift is the bit position of the pass-if-less flag; the three
// comparison flags are consecutive.
const alphaTestMaskShift = 5

// completeVertexShader converts the guest position to host clip space and
// writes the position, clip distance and point outputs.
func (t *Translator) completeVertexShader() {
	a := t.asm
	temp := t.alloc.Push(0)
	tempX := dxbc.DestR(temp, 0b0001)
	tempXSrc := dxbc.SrcR(temp).Select(0)
	flags := t.sysConst(sysConstFlagsVec, 0)
	position := dxbc.SrcR(t.tempPosition)
	positionW := position.Select(3)

	// The guest may return W instead of 1/W; if it does not, invert it. div
	// rather than the relaxed-precision rcp for safety.
	a.OpAnd(tempX, flags, dxbc.SrcLU(FlagWNotReciprocal))
	a.OpIf(false, tempXSrc)
	a.OpDiv(dxbc.DestR(t.tempPosition, 0b1000), dxbc.SrcLF(1), positionW)
	a.OpEndIf()

	// Revert XY and Z being pre-divided by W where the guest does that.
	a.OpAnd(tempX, flags, dxbc.SrcLU(FlagXYDividedByW))
	a.OpIf(true, tempXSrc)
	a.OpMul(dxbc.DestR(t.tempPosition, 0b0011), position, positionW)
	a.OpEndIf()
	a.OpAnd(tempX, flags, dxbc.SrcLU(FlagZDividedByW))
	a.OpIf(true, tempXSrc)
	a.OpMul(dxbc.DestR(t.tempPosition, 0b0100), position.Select(2), positionW)
	a.OpEndIf()

	// Zero the clip and cull distances in case no plane is enabled.
	a.OpMov(dxbc.DestO(vsOutClipDistance0123, 0b1111), dxbc.SrcLF(0))
	a.OpMov(dxbc.DestO(vsOutClipDistance45, 0b0111), dxbc.SrcLF(0))
	// The enable check matters: disabled planes must not propagate Inf or NaN
	// from the constants into the distances.
	for i := uint32(0); i < 6; i++ {
		a.OpAnd(tempX, flags, dxbc.SrcLU(FlagUserClipPlane0<<i))
		a.OpIf(true, tempXSrc)
		a.OpDp4(dxbc.DestO(vsOutClipDistance0123+(i>>2), 1<<(i&3)),
			position,
			dxbc.SrcCB(cbufferRegisterSystemConstants,
				dxbc.Idx(sysConstUserClipPlanesVec+i)))
		a.OpEndIf()
	}

	// Guest to host viewport and clip space conversion. The NDC scale can
	// also be NaN to kill every primitive of a multipass shader.
	a.OpMul(dxbc.DestR(t.tempPosition, 0b0111), position,
		dxbc.SrcCB(cbufferRegisterSystemConstants,
			dxbc.Idx(sysConstNDCScaleVec)))
	a.OpMAd(dxbc.DestR(t.tempPosition, 0b0111),
		dxbc.SrcCB(cbufferRegisterSystemConstants,
			dxbc.Idx(sysConstNDCOffsetVec)),
		positionW, position)

	// Vertex kill: any nonzero kill value either NaNs the position (when any
	// killed vertex kills the primitive) or drives the cull distance negative
	// (when all of them must be killed).
	kill := dxbc.SrcR(t.tempPointSizeEdgeFlagKillVertex).Select(2)
	a.OpNE(tempX, kill, dxbc.SrcLF(0))
	a.OpIf(true, tempXSrc)
	{
		a.OpAnd(tempX, flags, dxbc.SrcLU(FlagKillIfAnyVertexKilled))
		a.OpIf(true, tempXSrc)
		a.OpMov(dxbc.DestR(t.tempPosition, 0b1000),
			dxbc.SrcLF(float32(math.NaN())))
		a.OpElse()
		a.OpMov(dxbc.DestO(vsOutClipDistance45, 0b0100), dxbc.SrcLF(-1))
		a.OpEndIf()
	}
	a.OpEndIf()

	a.OpMov(dxbc.DestO(vsOutPosition, 0b1111), position)

	// Point parameters: zero the coordinate, then the size, falling back to
	// the default from the system constants when the shader never wrote one.
	a.OpMov(dxbc.DestO(vsOutPointParameters, 0b0011), dxbc.SrcLF(0))
	pointSize := dxbc.SrcR(t.tempPointSizeEdgeFlagKillVertex).Select(0)
	a.OpLT(tempX, pointSize, dxbc.SrcLF(0))
	a.OpMovC(dxbc.DestO(vsOutPointParameters, 0b0100), tempXSrc,
		t.sysConst(sysConstNDCScaleVec, 3), pointSize)

	t.pop(1)
}

// completePixelShader runs the alpha test against color 0, applies the
// per-target exponent bias and gamma conversion, and writes the color and
// depth outputs.
func (t *Translator) completePixelShader() {
	a := t.asm
	an := t.shader.analysis

	if an.WritesColor[0] {
		t.emitAlphaTest()
	}

	temp := t.alloc.Push(0)
	tempX := dxbc.DestR(temp, 0b0001)
	tempXSrc := dxbc.SrcR(temp).Select(0)
	flags := t.sysConst(sysConstFlagsVec, 0)
	for i := uint32(0); i < 4; i++ {
		color := t.tempColor[i]
		if color == bindingUnallocated {
			continue
		}
		// Exponent bias, stored in the constants as a 2^bias multiplier.
		a.OpMul(dxbc.DestR(color, 0b1111), dxbc.SrcR(color),
			t.sysConst(sysConstColorExpBiasVec, i))
		// Piecewise linear gamma. On the guest this happens after blending;
		// doing it here is one of the known blending accuracy limits.
		a.OpAnd(tempX, flags, dxbc.SrcLU(FlagColor0Gamma<<i))
		a.OpIf(true, tempXSrc)
		for j := uint32(0); j < 3; j++ {
			t.convertPWLGamma(true, color, j, color, j, temp, 1, temp, 2)
		}
		a.OpEndIf()
		a.OpMov(dxbc.DestO(i, 0b1111), dxbc.SrcR(color))
	}
	t.pop(1)

	if t.tempDepth != bindingUnallocated {
		a.OpMov(dxbc.DestODepth(), dxbc.SrcR(t.tempDepth).Select(0))
	}
}

// emitAlphaTest discards the pixel when color 0's alpha fails the comparison
// selected by the three pass flags. All three flags set means "always pass",
// including for NaN, so the test is skipped entirely in that mode.
func (t *Translator) emitAlphaTest() {
	a := t.asm
	temp := t.alloc.Push(0)
	maskDst := dxbc.DestR(temp, 0b0001)
	maskSrc := dxbc.SrcR(temp).Select(0)
	opDst := dxbc.DestR(temp, 0b0010)
	opSrc := dxbc.SrcR(temp).Select(1)

	a.OpUBFE(maskDst, dxbc.SrcLU(3), dxbc.SrcLU(alphaTestMaskShift),
		t.sysConst(sysConstFlagsVec, 0))
	a.OpINE(opDst, maskSrc, dxbc.SrcLU(0b111))
	a.OpIf(true, opSrc)
	{
		// Explicit compares rather than subtraction and sign, because of
		// float specials.
		alpha := dxbc.SrcR(t.tempColor[0]).Select(3)
		ref := t.sysConst(sysConstFlagsVec, 3)
		a.OpLT(opDst, alpha, ref)
		a.OpOr(opDst, opSrc, dxbc.SrcLU(^uint32(1<<0)))
		a.OpAnd(maskDst, maskSrc, opSrc)
		a.OpEq(opDst, alpha, ref)
		a.OpOr(opDst, opSrc, dxbc.SrcLU(^uint32(1<<1)))
		a.OpAnd(maskDst, maskSrc, opSrc)
		a.OpLT(opDst, ref, alpha)
		a.OpOr(opDst, opSrc, dxbc.SrcLU(^uint32(1<<2)))
		a.OpAnd(maskDst, maskSrc, opSrc)
		a.OpDiscard(false, maskSrc)
	}
	a.OpEndIf()
	t.pop(1)
}

// convertPWLGamma converts one component between linear and the guest's
// piecewise linear gamma curve. For each of the four pieces, the saturated
// position on the piece is scaled by the piece's slope*width and accumulated.
// The piece and accumulator components must be distinct from the source and
// from each other; the target may alias the source.
func (t *Translator) convertPWLGamma(toGamma bool,
	sourceTemp, sourceComponent, targetTemp, targetComponent,
	pieceTemp, pieceComponent, accumTemp, accumComponent uint32) {
	a := t.asm
	source := dxbc.SrcR(sourceTemp).Select(sourceComponent)
	pieceDest := dxbc.DestR(pieceTemp, 1<<pieceComponent)
	piece := dxbc.SrcR(pieceTemp).Select(pieceComponent)
	accumDest := dxbc.DestR(accumTemp, 1<<accumComponent)
	accum := dxbc.SrcR(accumTemp).Select(accumComponent)

	pick := func(g, l float32) dxbc.Src {
		if toGamma {
			return dxbc.SrcLF(g)
		}
		return dxbc.SrcLF(l)
	}

	// Piece 1.
	a.OpMulSat(pieceDest, source, pick(1.0/0.0625, 1.0/0.25))
	a.OpMul(accumDest, piece, pick(4.0*0.0625, 0.25*0.25))
	// Piece 2.
	a.OpMAdSat(pieceDest, source, pick(1.0/0.0625, 1.0/0.125),
		pick(-0.0625/0.0625, -0.25/0.125))
	a.OpMAd(accumDest, piece, pick(2.0*0.0625, 0.5*0.125), accum)
	// Piece 3.
	a.OpMAdSat(pieceDest, source, pick(1.0/0.375, 1.0/0.375),
		pick(-0.125/0.375, -0.375/0.375))
	a.OpMAd(accumDest, piece, pick(1.0*0.375, 1.0*0.375), accum)
	// Piece 4.
	a.OpMAdSat(pieceDest, source, pick(1.0/0.5, 1.0/0.25),
		pick(-0.5/0.5, -0.75/0.25))
	a.OpMAd(dxbc.DestR(targetTemp, 1<<targetComponent), piece,
		pick(0.5*0.5, 2.0*0.25), accum)
}
