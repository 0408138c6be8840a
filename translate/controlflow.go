package translate

import (
	"github.com/gogpu/xgpu/dxbc"
	"github.com/gogpu/xgpu/ucode"
)

// Control-flow lowering. The whole guest program runs inside one host loop
// over the guest program counter (psPcP0A0.y). With the switch lowering each
// guest label is a case; with the if cascade each label's body is guarded by
// pc <= label. Exec conditions become host `if` blocks that consecutive
// records with the same condition share.

func (t *Translator) processRecord(rec ucode.ControlFlowRecord) {
	switch rec := rec.(type) {
	case *ucode.ExecRecord:
		t.processExec(rec)
	case *ucode.LoopStartRecord:
		t.processLoopStart(rec)
	case *ucode.LoopEndRecord:
		t.processLoopEnd(rec)
	case *ucode.JumpRecord:
		t.processJump(rec)
	case *ucode.AllocRecord:
		if rec.Type == ucode.AllocMemExport {
			t.memexportAllocCount++
		}
	}
}

// updateExecConditionals opens the host conditional for the given guard,
// merging with an already open one when the guard is identical. A predicated
// guard cannot be merged across a predicate write.
func (t *Translator) updateExecConditionals(cond ucode.ExecCondition, boolIndex uint32, value bool) {
	switch cond {
	case ucode.ExecBoolConstant:
		if t.execBoolConstant == int64(boolIndex) && t.execBoolCondition == value {
			return
		}
	case ucode.ExecPredicated:
		if t.execPredicated && t.execPredCondition == value && !t.execPredicateWritten {
			return
		}
	case ucode.ExecUnconditional:
		if t.execBoolConstant < 0 && !t.execPredicated {
			return
		}
	}
	t.closeExecConditionals()

	a := t.asm
	switch cond {
	case ucode.ExecBoolConstant:
		temp := t.alloc.Push(0)
		a.OpAnd(dxbc.DestR(temp, 0b0001),
			t.boolLoopConst(boolLoopConstBoolVec+boolIndex>>7).Select((boolIndex>>5)&3),
			dxbc.SrcLU(1<<(boolIndex&31)))
		a.OpIf(value, dxbc.SrcR(temp).Select(0))
		t.pop(1)
		t.execBoolConstant = int64(boolIndex)
		t.execBoolCondition = value
	case ucode.ExecPredicated:
		a.OpIf(value, dxbc.SrcR(t.tempPsPcP0A0).Select(2))
		t.execPredicated = true
		t.execPredCondition = value
	}
}

// closeExecConditionals ends the open exec guard, and any instruction-level
// predication nested in it.
func (t *Translator) closeExecConditionals() {
	t.closeInstructionPredication()
	if t.execBoolConstant >= 0 || t.execPredicated {
		t.asm.OpEndIf()
		t.execBoolConstant = -1
		t.execPredicated = false
	}
	t.execPredicateWritten = false
}

// updateInstructionPredication opens (or reuses) the per-instruction
// predicate check. The check is skipped entirely when the surrounding exec is
// predicated on the same condition and the predicate has not been rewritten
// since it was opened.
func (t *Translator) updateInstructionPredication(predicated, condition bool) {
	if !predicated {
		t.closeInstructionPredication()
		return
	}
	if t.instrPredicated {
		if t.instrPredCondition == condition {
			return
		}
		t.closeInstructionPredication()
	}
	if t.execPredicated && t.execPredCondition == condition && !t.execPredicateWritten {
		return
	}
	t.asm.OpIf(condition, dxbc.SrcR(t.tempPsPcP0A0).Select(2))
	t.instrPredicated = true
	t.instrPredCondition = condition
}

func (t *Translator) closeInstructionPredication() {
	if t.instrPredicated {
		t.asm.OpEndIf()
		t.instrPredicated = false
	}
}

// jumpToLabel sets the guest program counter and restarts dispatch.
// `continue` applies to the dispatch loop even from inside the switch.
func (t *Translator) jumpToLabel(address uint32) {
	a := t.asm
	a.OpMov(dxbc.DestR(t.tempPsPcP0A0, 0b0010), dxbc.SrcLU(address))
	a.OpContinue()
}

// processLabel ends the previous label's body and opens the next one.
func (t *Translator) processLabel(index uint32) {
	t.closeExecConditionals()
	a := t.asm
	pc := dxbc.SrcR(t.tempPsPcP0A0).Select(1)
	if t.useSwitch {
		// Fall through into this label on the next dispatch iteration. A
		// non-empty case must still end with a break.
		t.jumpToLabel(index)
		a.OpBreak()
		a.OpCase(dxbc.SrcLU(index))
		return
	}
	a.OpEndIf()
	temp := t.alloc.Push(0)
	// Execute the label when the program counter has not moved past it.
	a.OpUGE(dxbc.DestR(temp, 0b0001), dxbc.SrcLU(index), pc)
	a.OpIf(true, dxbc.SrcR(temp).Select(0))
	t.pop(1)
}

func (t *Translator) processExec(exec *ucode.ExecRecord) {
	t.updateExecConditionals(exec.Condition, exec.BoolConstantIndex, exec.ConditionValue)
	for _, inst := range exec.Instructions {
		switch inst := inst.(type) {
		case *ucode.AluInstruction:
			t.processAlu(inst)
		case *ucode.VertexFetchInstruction:
			t.processVertexFetch(inst)
		case *ucode.TextureFetchInstruction:
			t.processTextureFetch(inst)
		}
	}
	if exec.IsEnd {
		t.closeInstructionPredication()
		if t.useSwitch {
			// Move the program counter past every label so no case matches
			// and dispatch falls out of the loop.
			t.asm.OpMov(dxbc.DestR(t.tempPsPcP0A0, 0b0010),
				dxbc.SrcLU(0xFFFFFFFF))
			t.asm.OpContinue()
		} else {
			t.asm.OpBreak()
		}
	}
}

func (t *Translator) processLoopStart(rec *ucode.LoopStartRecord) {
	t.closeExecConditionals()
	a := t.asm
	idx := rec.LoopConstantIndex
	loopConst := t.boolLoopConst(boolLoopConstLoopVec + idx>>2).Select(idx & 3)
	loopCount := dxbc.SrcR(t.tempLoopCount)
	aL := dxbc.SrcR(t.tempAL)

	// Push the 4-deep stacks: y/z/w shift up, the new top goes to x.
	a.OpMov(dxbc.DestR(t.tempLoopCount, 0b1110), loopCount.Swiz(0b10010000))
	a.OpAnd(dxbc.DestR(t.tempLoopCount, 0b0001), loopConst, dxbc.SrcLU(0xFF))
	if rec.IsRepeat {
		// A repeat loop keeps the outer aL as its own.
		a.OpMov(dxbc.DestR(t.tempAL, 0b1111), aL.Swiz(0b10010000))
	} else {
		a.OpMov(dxbc.DestR(t.tempAL, 0b1110), aL.Swiz(0b10010000))
		a.OpUBFE(dxbc.DestR(t.tempAL, 0b0001), dxbc.SrcLU(8), dxbc.SrcLU(8),
			loopConst)
	}

	// A zero trip count skips the body entirely.
	a.OpIf(false, loopCount.Select(0))
	t.jumpToLabel(rec.SkipAddress)
	a.OpEndIf()
}

func (t *Translator) processLoopEnd(rec *ucode.LoopEndRecord) {
	t.closeExecConditionals()
	a := t.asm
	idx := rec.LoopConstantIndex
	loopConst := t.boolLoopConst(boolLoopConstLoopVec + idx>>2).Select(idx & 3)
	loopCount := dxbc.SrcR(t.tempLoopCount)
	aL := dxbc.SrcR(t.tempAL)
	p0 := dxbc.SrcR(t.tempPsPcP0A0).Select(2)

	a.OpIAdd(dxbc.DestR(t.tempLoopCount, 0b0001), loopCount.Select(0),
		dxbc.SrcLI(-1))

	temp := t.alloc.Push(0)
	breakTest := loopCount.Select(0)
	if rec.Predicated {
		// Break when the counter hit zero or the predicate matched.
		if rec.PredicateCondition {
			a.OpMovC(dxbc.DestR(temp, 0b0001), p0, dxbc.SrcLU(0),
				loopCount.Select(0))
		} else {
			a.OpMovC(dxbc.DestR(temp, 0b0001), p0, loopCount.Select(0),
				dxbc.SrcLU(0))
		}
		breakTest = dxbc.SrcR(temp).Select(0)
	}
	a.OpIf(false, breakTest)
	{
		// Pop both stacks.
		a.OpMov(dxbc.DestR(t.tempLoopCount, 0b0111), loopCount.Swiz(0b111001))
		a.OpMov(dxbc.DestR(t.tempLoopCount, 0b1000), dxbc.SrcLU(0))
		a.OpMov(dxbc.DestR(t.tempAL, 0b0111), aL.Swiz(0b111001))
		a.OpMov(dxbc.DestR(t.tempAL, 0b1000), dxbc.SrcLU(0))
	}
	a.OpElse()
	{
		// Advance aL by the signed step and run the body again.
		a.OpIBFE(dxbc.DestR(temp, 0b0001), dxbc.SrcLU(8), dxbc.SrcLU(16),
			loopConst)
		a.OpIAdd(dxbc.DestR(t.tempAL, 0b0001), aL.Select(0),
			dxbc.SrcR(temp).Select(0))
		t.jumpToLabel(rec.BodyAddress)
	}
	a.OpEndIf()
	t.pop(1)
}

func (t *Translator) processJump(rec *ucode.JumpRecord) {
	t.updateExecConditionals(rec.Condition, rec.BoolConstantIndex, rec.ConditionValue)
	t.closeInstructionPredication()
	t.jumpToLabel(rec.TargetAddress)
}
