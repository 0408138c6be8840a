package translate

import (
	"math"

	"github.com/gogpu/xgpu/dxbc"
	"github.com/gogpu/xgpu/ucode"
)

// ALU translation. The vector half computes into the shared result temp and
// goes through the split store; the scalar half computes into ps
// (psPcP0A0.x), which also backs the previous-scalar operand of later
// instructions.

var (
	negInf = float32(math.Inf(-1))
	posInf = float32(math.Inf(1))
)

func (t *Translator) processAlu(instr *ucode.AluInstruction) {
	vectorNop := instr.IsVectorNop()
	scalarNop := instr.IsScalarNop()
	if vectorNop && scalarNop {
		return
	}
	t.updateInstructionPredication(instr.Predicated, instr.PredicateCondition)
	if !vectorNop {
		t.emitVectorOp(instr)
	}
	if !scalarNop {
		t.emitScalarOp(instr)
	}
	if instr.WritesPredicate() {
		t.execPredicateWritten = true
		t.closeInstructionPredication()
	}
}

// vectorOperandComponents returns which lanes of operand i the operation
// reads, given the lanes of the result that are consumed.
func vectorOperandComponents(op ucode.AluVectorOpcode, i int, resultMask uint8) uint8 {
	switch op {
	case ucode.VectorOpDot4, ucode.VectorOpMax4, ucode.VectorOpCube,
		ucode.VectorOpMaxA,
		ucode.VectorOpPredSetEqPush, ucode.VectorOpPredSetNePush,
		ucode.VectorOpPredSetGtPush, ucode.VectorOpPredSetGePush,
		ucode.VectorOpKillEq, ucode.VectorOpKillGt,
		ucode.VectorOpKillGe, ucode.VectorOpKillNe:
		return 0b1111
	case ucode.VectorOpDot3:
		return 0b0111
	case ucode.VectorOpDot2Add:
		if i == 2 {
			return 0b0001
		}
		return 0b0011
	case ucode.VectorOpDst:
		if i == 0 {
			return 0b0110
		}
		return 0b1010
	}
	if resultMask == 0 {
		return 0b0001
	}
	return resultMask
}

func (t *Translator) loadAluOperand(ops []ucode.Operand, i int, needed uint8) (dxbc.Src, bool) {
	if i >= len(ops) {
		return dxbc.SrcLF(0), false
	}
	return t.loadOperand(&ops[i], needed)
}

func (t *Translator) emitVectorOp(instr *ucode.AluInstruction) {
	a := t.asm
	op := instr.VectorOpcode
	mask := instr.VectorResult.UsedResultComponents()
	if mask == 0 {
		// Side effects only (kill, predicate push, a0 write).
		mask = 0b0001
	}
	dest := dxbc.DestR(t.tempResult, mask)
	res := dxbc.SrcR(t.tempResult)

	var srcs [3]dxbc.Src
	var operandTemps uint32
	for i := 0; i < op.OperandCount(); i++ {
		src, pushed := t.loadAluOperand(instr.VectorOperands, i,
			vectorOperandComponents(op, i, mask))
		srcs[i] = src
		if pushed {
			operandTemps++
		}
	}
	s0, s1, s2 := srcs[0], srcs[1], srcs[2]

	switch op {
	case ucode.VectorOpAdd:
		a.OpAdd(dest, s0, s1)
	case ucode.VectorOpMul:
		a.OpMul(dest, s0, s1)
	case ucode.VectorOpMax:
		a.OpMax(dest, s0, s1)
	case ucode.VectorOpMin:
		a.OpMin(dest, s0, s1)
	case ucode.VectorOpSetEq:
		a.OpEq(dest, s0, s1)
		a.OpAnd(dest, res, dxbc.SrcLF(1))
	case ucode.VectorOpSetGt:
		a.OpLT(dest, s1, s0)
		a.OpAnd(dest, res, dxbc.SrcLF(1))
	case ucode.VectorOpSetGe:
		a.OpGE(dest, s0, s1)
		a.OpAnd(dest, res, dxbc.SrcLF(1))
	case ucode.VectorOpSetNe:
		a.OpNE(dest, s0, s1)
		a.OpAnd(dest, res, dxbc.SrcLF(1))
	case ucode.VectorOpFrac:
		a.OpFrc(dest, s0)
	case ucode.VectorOpTrunc:
		a.OpRoundZ(dest, s0)
	case ucode.VectorOpFloor:
		a.OpRoundNI(dest, s0)
	case ucode.VectorOpMulAdd:
		a.OpMAd(dest, s0, s1, s2)
	case ucode.VectorOpCndEq, ucode.VectorOpCndGe, ucode.VectorOpCndGt:
		temp := t.alloc.Push(0)
		cmpDest := dxbc.DestR(temp, mask)
		switch op {
		case ucode.VectorOpCndEq:
			a.OpEq(cmpDest, s0, dxbc.SrcLF(0))
		case ucode.VectorOpCndGe:
			a.OpGE(cmpDest, s0, dxbc.SrcLF(0))
		default:
			a.OpLT(cmpDest, dxbc.SrcLF(0), s0)
		}
		a.OpMovC(dest, dxbc.SrcR(temp), s1, s2)
		t.pop(1)
	case ucode.VectorOpDot4:
		a.OpDp4(dest, s0, s1)
	case ucode.VectorOpDot3:
		a.OpDp3(dest, s0, s1)
	case ucode.VectorOpDot2Add:
		a.OpDp2(dest, s0, s1)
		a.OpAdd(dest, res, s2)
	case ucode.VectorOpCube:
		t.emitCube(dest, mask, s0)
	case ucode.VectorOpMax4:
		temp := t.alloc.Push(0)
		a.OpMax(dxbc.DestR(temp, 0b0011), s0, s0.Swiz(0b11101110))
		a.OpMax(dest, dxbc.SrcR(temp).Select(0), dxbc.SrcR(temp).Select(1))
		t.pop(1)
	case ucode.VectorOpPredSetEqPush, ucode.VectorOpPredSetNePush,
		ucode.VectorOpPredSetGtPush, ucode.VectorOpPredSetGePush:
		t.emitPredSetPush(op, dest, s0, s1)
	case ucode.VectorOpKillEq, ucode.VectorOpKillGt,
		ucode.VectorOpKillGe, ucode.VectorOpKillNe:
		t.emitVectorKill(op, dest, s0, s1)
	case ucode.VectorOpDst:
		if mask&0b0001 != 0 {
			a.OpMov(maskDest(dest, 0b0001), dxbc.SrcLF(1))
		}
		if mask&0b0010 != 0 {
			a.OpMul(maskDest(dest, 0b0010), s0, s1)
		}
		if mask&0b0100 != 0 {
			a.OpMov(maskDest(dest, 0b0100), s0)
		}
		if mask&0b1000 != 0 {
			a.OpMov(maskDest(dest, 0b1000), s1)
		}
	case ucode.VectorOpMaxA:
		t.emitAddressRegisterWrite(s0.Select(3), true)
		a.OpMax(dest, s0, s1)
	default:
		a.OpMov(dest, s0)
	}

	t.pop(operandTemps)
	t.storeResult(&instr.VectorResult, res, true)
}

// emitPredSetPush implements the predicate push family: the predicate is set
// from the w lanes, the counter result from the x lanes.
func (t *Translator) emitPredSetPush(op ucode.AluVectorOpcode, dest dxbc.Dest, s0, s1 dxbc.Src) {
	a := t.asm
	temp := t.alloc.Push(0)
	tx := dxbc.DestR(temp, 0b0001)
	ty := dxbc.DestR(temp, 0b0010)
	cmp := func(d dxbc.Dest, s dxbc.Src) {
		switch op {
		case ucode.VectorOpPredSetEqPush:
			a.OpEq(d, s, dxbc.SrcLF(0))
		case ucode.VectorOpPredSetNePush:
			a.OpNE(d, s, dxbc.SrcLF(0))
		case ucode.VectorOpPredSetGtPush:
			a.OpLT(d, dxbc.SrcLF(0), s)
		default:
			a.OpGE(d, s, dxbc.SrcLF(0))
		}
	}
	// p0 = (src0.w == 0) && (src1.w cmp 0).
	a.OpEq(tx, s0.Select(3), dxbc.SrcLF(0))
	cmp(ty, s1.Select(3))
	a.OpAnd(dxbc.DestR(t.tempPsPcP0A0, 0b0100),
		dxbc.SrcR(temp).Select(0), dxbc.SrcR(temp).Select(1))
	// result = (src0.x == 0 && src1.x cmp 0) ? 0 : src0.x + 1.
	a.OpEq(tx, s0.Select(0), dxbc.SrcLF(0))
	cmp(ty, s1.Select(0))
	a.OpAnd(tx, dxbc.SrcR(temp).Select(0), dxbc.SrcR(temp).Select(1))
	a.OpAdd(ty, s0.Select(0), dxbc.SrcLF(1))
	a.OpMovC(dest, dxbc.SrcR(temp).Select(0), dxbc.SrcLF(0),
		dxbc.SrcR(temp).Select(1))
	t.pop(1)
}

// emitVectorKill discards the pixel when the comparison holds in any lane and
// produces the condition as a 0/1 float.
func (t *Translator) emitVectorKill(op ucode.AluVectorOpcode, dest dxbc.Dest, s0, s1 dxbc.Src) {
	a := t.asm
	temp := t.alloc.Push(0)
	full := dxbc.DestR(temp, 0b1111)
	switch op {
	case ucode.VectorOpKillEq:
		a.OpEq(full, s0, s1)
	case ucode.VectorOpKillGt:
		a.OpLT(full, s1, s0)
	case ucode.VectorOpKillGe:
		a.OpGE(full, s0, s1)
	default:
		a.OpNE(full, s0, s1)
	}
	a.OpOr(dxbc.DestR(temp, 0b0011), dxbc.SrcR(temp),
		dxbc.SrcR(temp).Swiz(0b11101110))
	a.OpOr(dxbc.DestR(temp, 0b0001), dxbc.SrcR(temp).Select(0),
		dxbc.SrcR(temp).Select(1))
	if t.program.Type == ucode.ShaderTypePixel {
		a.OpDiscard(true, dxbc.SrcR(temp).Select(0))
	}
	a.OpAnd(dest, dxbc.SrcR(temp).Select(0), dxbc.SrcLF(1))
	t.pop(1)
}

// emitAddressRegisterWrite writes a0 (psPcP0A0.w) as
// clamp(floor(value [+ 0.5]), -256, 255).
func (t *Translator) emitAddressRegisterWrite(value dxbc.Src, round bool) {
	a := t.asm
	temp := t.alloc.Push(0)
	tx := dxbc.DestR(temp, 0b0001)
	txs := dxbc.SrcR(temp).Select(0)
	if round {
		a.OpAdd(tx, value, dxbc.SrcLF(0.5))
		a.OpRoundNI(tx, txs)
	} else {
		a.OpRoundNI(tx, value)
	}
	a.OpMax(tx, txs, dxbc.SrcLF(-256))
	a.OpMin(tx, txs, dxbc.SrcLF(255))
	a.OpFToI(dxbc.DestR(t.tempPsPcP0A0, 0b1000), txs)
	t.pop(1)
}

// emitCube implements the cube face selection operation. The guest issues it
// with the canonical source swizzle, so the direction arrives as
// (z, z, x, y); the result is (t, s, 2*major axis, face id).
func (t *Translator) emitCube(dest dxbc.Dest, mask uint8, s0 dxbc.Src) {
	a := t.asm
	c := t.alloc.Push(0) // x, y, z, y-major mask
	m := t.alloc.Push(0) // |x|, |y|, |z|, z-major mask
	f := t.alloc.Push(0) // sign mask, major value, candidates

	cx := dxbc.SrcR(c).Select(0)
	cy := dxbc.SrcR(c).Select(1)
	cz := dxbc.SrcR(c).Select(2)
	yMajor := dxbc.SrcR(c).Select(3)
	zMajor := dxbc.SrcR(m).Select(3)
	sign := dxbc.SrcR(f).Select(0)

	a.OpMov(dxbc.DestR(c, 0b0001), s0.Select(2))
	a.OpMov(dxbc.DestR(c, 0b0010), s0.Select(3))
	a.OpMov(dxbc.DestR(c, 0b0100), s0.Select(0))
	a.OpMov(dxbc.DestR(m, 0b0111), dxbc.SrcR(c).Abs())
	a.OpGE(dxbc.DestR(m, 0b1000), dxbc.SrcR(m).Select(2), dxbc.SrcR(m).Select(0))
	a.OpGE(dxbc.DestR(f, 0b0001), dxbc.SrcR(m).Select(2), dxbc.SrcR(m).Select(1))
	a.OpAnd(dxbc.DestR(m, 0b1000), zMajor, sign)
	a.OpGE(dxbc.DestR(c, 0b1000), dxbc.SrcR(m).Select(1), dxbc.SrcR(m).Select(0))

	// Major axis value and its sign.
	a.OpMovC(dxbc.DestR(f, 0b0010), yMajor, cy, cx)
	a.OpMovC(dxbc.DestR(f, 0b0010), zMajor, cz, dxbc.SrcR(f).Select(1))
	a.OpGE(dxbc.DestR(f, 0b0001), dxbc.SrcR(f).Select(1), dxbc.SrcLF(0))

	if mask&0b0100 != 0 {
		a.OpMul(maskDest(dest, 0b0100), dxbc.SrcR(f).Select(1), dxbc.SrcLF(2))
	}
	if mask&0b1000 != 0 {
		// Face: +x 0, -x 1, +y 2, -y 3, +z 4, -z 5.
		a.OpMovC(dxbc.DestR(f, 0b0100), yMajor, dxbc.SrcLF(2), dxbc.SrcLF(0))
		a.OpMovC(dxbc.DestR(f, 0b0100), zMajor, dxbc.SrcLF(4), dxbc.SrcR(f).Select(2))
		a.OpMovC(dxbc.DestR(f, 0b1000), sign, dxbc.SrcLF(0), dxbc.SrcLF(1))
		a.OpAdd(maskDest(dest, 0b1000), dxbc.SrcR(f).Select(2), dxbc.SrcR(f).Select(3))
	}
	if mask&0b0010 != 0 {
		// s: x-major picks ±z, y-major picks x, z-major picks ±x.
		a.OpMovC(dxbc.DestR(f, 0b0100), sign, negated(cz), cz)
		a.OpMovC(dxbc.DestR(f, 0b0100), yMajor, cx, dxbc.SrcR(f).Select(2))
		a.OpMovC(dxbc.DestR(f, 0b1000), sign, cx, negated(cx))
		a.OpMovC(dxbc.DestR(f, 0b0100), zMajor, dxbc.SrcR(f).Select(3), dxbc.SrcR(f).Select(2))
		a.OpMov(maskDest(dest, 0b0010), dxbc.SrcR(f).Select(2))
	}
	if mask&0b0001 != 0 {
		// t: -y except for the y-major faces, which use ±z.
		a.OpMovC(dxbc.DestR(f, 0b0100), sign, cz, negated(cz))
		a.OpMovC(dxbc.DestR(f, 0b0100), yMajor, dxbc.SrcR(f).Select(2), negated(cy))
		a.OpMov(maskDest(dest, 0b0001), dxbc.SrcR(f).Select(2))
	}
	t.pop(3)
}

// scalarOperands resolves the one or two scalar sources. A two-source
// operation encoded with a single register operand reads its first and second
// components.
func (t *Translator) scalarOperands(instr *ucode.AluInstruction) (sa, sb dxbc.Src, pushed uint32) {
	op := instr.ScalarOpcode
	ops := instr.ScalarOperands
	count := op.OperandCount()
	sa, sb = dxbc.SrcLF(0), dxbc.SrcLF(0)
	if count == 0 || len(ops) == 0 {
		return sa, sb, 0
	}
	if count == 1 {
		src, p := t.loadOperand(&ops[0], 0b0001)
		if p {
			pushed++
		}
		return src.Select(0), sb, pushed
	}
	if len(ops) >= 2 {
		src0, p0 := t.loadOperand(&ops[0], 0b0001)
		if p0 {
			pushed++
		}
		src1, p1 := t.loadOperand(&ops[1], 0b0001)
		if p1 {
			pushed++
		}
		return src0.Select(0), src1.Select(0), pushed
	}
	src, p := t.loadOperand(&ops[0], 0b0011)
	if p {
		pushed++
	}
	return src.Select(0), src.Select(1), pushed
}

func (t *Translator) emitScalarOp(instr *ucode.AluInstruction) {
	a := t.asm
	op := instr.ScalarOpcode
	psDest := dxbc.DestR(t.tempPsPcP0A0, 0b0001)
	ps := dxbc.SrcR(t.tempPsPcP0A0).Select(0)
	p0Dest := dxbc.DestR(t.tempPsPcP0A0, 0b0100)
	p0 := dxbc.SrcR(t.tempPsPcP0A0).Select(2)

	sa, sb, operandTemps := t.scalarOperands(instr)

	setCompare := func(emit func()) {
		emit()
		a.OpAnd(psDest, ps, dxbc.SrcLF(1))
	}

	switch op {
	case ucode.ScalarOpAdd:
		a.OpAdd(psDest, sa, sb)
	case ucode.ScalarOpAddPrev:
		a.OpAdd(psDest, sa, ps)
	case ucode.ScalarOpMul:
		a.OpMul(psDest, sa, sb)
	case ucode.ScalarOpMulPrev:
		a.OpMul(psDest, sa, ps)
	case ucode.ScalarOpMax:
		a.OpMax(psDest, sa, sb)
	case ucode.ScalarOpMin:
		a.OpMin(psDest, sa, sb)
	case ucode.ScalarOpSetEq:
		setCompare(func() { a.OpEq(psDest, sa, sb) })
	case ucode.ScalarOpSetGt:
		setCompare(func() { a.OpLT(psDest, sb, sa) })
	case ucode.ScalarOpSetGe:
		setCompare(func() { a.OpGE(psDest, sa, sb) })
	case ucode.ScalarOpSetNe:
		setCompare(func() { a.OpNE(psDest, sa, sb) })
	case ucode.ScalarOpFrac:
		a.OpFrc(psDest, sa)
	case ucode.ScalarOpTrunc:
		a.OpRoundZ(psDest, sa)
	case ucode.ScalarOpFloor:
		a.OpRoundNI(psDest, sa)
	case ucode.ScalarOpExp:
		a.OpExp(psDest, sa)
	case ucode.ScalarOpLog:
		a.OpLog(psDest, sa)
	case ucode.ScalarOpLogClamp:
		a.OpLog(psDest, sa)
		temp := t.alloc.Push(0)
		a.OpEq(dxbc.DestR(temp, 0b0001), ps, dxbc.SrcLF(negInf))
		a.OpMovC(psDest, dxbc.SrcR(temp).Select(0), dxbc.SrcLF(-floatMax), ps)
		t.pop(1)
	case ucode.ScalarOpRcp:
		a.OpRcp(psDest, sa)
	case ucode.ScalarOpRcpClamp:
		a.OpRcp(psDest, sa)
		temp := t.alloc.Push(0)
		a.OpEq(dxbc.DestR(temp, 0b0001), ps.Abs(), dxbc.SrcLF(posInf))
		// Clamp to the largest finite value with the sign preserved.
		a.OpAnd(dxbc.DestR(temp, 0b0010), ps, dxbc.SrcLU(0x80000000))
		a.OpOr(dxbc.DestR(temp, 0b0010), dxbc.SrcR(temp).Select(1),
			dxbc.SrcLU(0x7F7FFFFF))
		a.OpMovC(psDest, dxbc.SrcR(temp).Select(0), dxbc.SrcR(temp).Select(1), ps)
		t.pop(1)
	case ucode.ScalarOpRsq:
		a.OpRSq(psDest, sa)
	case ucode.ScalarOpRsqClamp:
		a.OpRSq(psDest, sa)
		temp := t.alloc.Push(0)
		a.OpEq(dxbc.DestR(temp, 0b0001), ps, dxbc.SrcLF(posInf))
		a.OpMovC(psDest, dxbc.SrcR(temp).Select(0), dxbc.SrcLF(floatMax), ps)
		t.pop(1)
	case ucode.ScalarOpSqrt:
		a.OpSqrt(psDest, sa)
	case ucode.ScalarOpMovA:
		t.emitAddressRegisterWrite(sa, true)
		a.OpMov(psDest, sa)
	case ucode.ScalarOpMovAFloor:
		t.emitAddressRegisterWrite(sa, false)
		a.OpMov(psDest, sa)
	case ucode.ScalarOpSub:
		a.OpAdd(psDest, sa, negated(sb))
	case ucode.ScalarOpSubPrev:
		a.OpAdd(psDest, sa, negated(ps))
	case ucode.ScalarOpPredSetEq:
		a.OpEq(p0Dest, sa, dxbc.SrcLF(0))
		a.OpMovC(psDest, p0, dxbc.SrcLF(0), dxbc.SrcLF(1))
	case ucode.ScalarOpPredSetNe:
		a.OpNE(p0Dest, sa, dxbc.SrcLF(0))
		a.OpMovC(psDest, p0, dxbc.SrcLF(0), dxbc.SrcLF(1))
	case ucode.ScalarOpPredSetGt:
		a.OpLT(p0Dest, dxbc.SrcLF(0), sa)
		a.OpMovC(psDest, p0, dxbc.SrcLF(0), dxbc.SrcLF(1))
	case ucode.ScalarOpPredSetGe:
		a.OpGE(p0Dest, sa, dxbc.SrcLF(0))
		a.OpMovC(psDest, p0, dxbc.SrcLF(0), dxbc.SrcLF(1))
	case ucode.ScalarOpPredSetInv:
		a.OpEq(p0Dest, sa, dxbc.SrcLF(1))
		temp := t.alloc.Push(0)
		a.OpEq(dxbc.DestR(temp, 0b0001), sa, dxbc.SrcLF(0))
		a.OpMovC(dxbc.DestR(temp, 0b0010), dxbc.SrcR(temp).Select(0),
			dxbc.SrcLF(1), sa)
		a.OpMovC(psDest, p0, dxbc.SrcLF(0), dxbc.SrcR(temp).Select(1))
		t.pop(1)
	case ucode.ScalarOpPredSetPop:
		a.OpAdd(psDest, sa, dxbc.SrcLF(-1))
		a.OpGE(p0Dest, dxbc.SrcLF(0), ps)
		a.OpMovC(psDest, p0, dxbc.SrcLF(0), ps)
	case ucode.ScalarOpPredSetClr:
		a.OpMov(p0Dest, dxbc.SrcLU(0))
		a.OpMov(psDest, dxbc.SrcLF(floatMax))
	case ucode.ScalarOpPredSetRestore:
		a.OpEq(p0Dest, sa, dxbc.SrcLF(0))
		a.OpMov(psDest, sa)
	case ucode.ScalarOpKillEq, ucode.ScalarOpKillGt, ucode.ScalarOpKillGe,
		ucode.ScalarOpKillNe, ucode.ScalarOpKillOne:
		temp := t.alloc.Push(0)
		tx := dxbc.DestR(temp, 0b0001)
		switch op {
		case ucode.ScalarOpKillEq:
			a.OpEq(tx, sa, dxbc.SrcLF(0))
		case ucode.ScalarOpKillGt:
			a.OpLT(tx, dxbc.SrcLF(0), sa)
		case ucode.ScalarOpKillGe:
			a.OpGE(tx, sa, dxbc.SrcLF(0))
		case ucode.ScalarOpKillNe:
			a.OpNE(tx, sa, dxbc.SrcLF(0))
		default:
			a.OpEq(tx, sa, dxbc.SrcLF(1))
		}
		if t.program.Type == ucode.ShaderTypePixel {
			a.OpDiscard(true, dxbc.SrcR(temp).Select(0))
		}
		a.OpAnd(psDest, dxbc.SrcR(temp).Select(0), dxbc.SrcLF(1))
		t.pop(1)
	case ucode.ScalarOpSin:
		a.OpSinCos(psDest, dxbc.DestNull(), sa)
	case ucode.ScalarOpCos:
		a.OpSinCos(dxbc.DestNull(), psDest, sa)
	case ucode.ScalarOpRetainPrev:
		// ps keeps its value; only the store below matters.
	default:
		a.OpMov(psDest, sa)
	}

	t.pop(operandTemps)
	t.storeResult(&instr.ScalarResult, ps, false)
}
