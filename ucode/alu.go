package ucode

// AluVectorOpcode is a Xenos vector ALU operation, executed over up to four
// components at once.
type AluVectorOpcode uint8

const (
	VectorOpAdd           AluVectorOpcode = iota // ADDv
	VectorOpMul                                  // MULv
	VectorOpMax                                  // MAXv
	VectorOpMin                                  // MINv
	VectorOpSetEq                                // SETEv
	VectorOpSetGt                                // SETGTv
	VectorOpSetGe                                // SETGEv
	VectorOpSetNe                                // SETNEv
	VectorOpFrac                                 // FRACv
	VectorOpTrunc                                // TRUNCv
	VectorOpFloor                                // FLOORv
	VectorOpMulAdd                               // MULADDv
	VectorOpCndEq                                // CNDEv
	VectorOpCndGe                                // CNDGEv
	VectorOpCndGt                                // CNDGTv
	VectorOpDot4                                 // DOT4v
	VectorOpDot3                                 // DOT3v
	VectorOpDot2Add                              // DOT2ADDv
	VectorOpCube                                 // CUBEv
	VectorOpMax4                                 // MAX4v
	VectorOpPredSetEqPush                        // PRED_SETE_PUSHv
	VectorOpPredSetNePush                        // PRED_SETNE_PUSHv
	VectorOpPredSetGtPush                        // PRED_SETGT_PUSHv
	VectorOpPredSetGePush                        // PRED_SETGTE_PUSHv
	VectorOpKillEq                               // KILLEv
	VectorOpKillGt                               // KILLGTv
	VectorOpKillGe                               // KILLGTEv
	VectorOpKillNe                               // KILLNEv
	VectorOpDst                                  // DSTv
	VectorOpMaxA                                 // MAXAv

	vectorOpCount
)

// OperandCount returns how many source operands the vector operation reads.
func (op AluVectorOpcode) OperandCount() int {
	switch op {
	case VectorOpMulAdd, VectorOpCndEq, VectorOpCndGe, VectorOpCndGt,
		VectorOpDot2Add:
		return 3
	}
	return 2
}

// IsKill reports whether the operation conditionally discards the pixel.
func (op AluVectorOpcode) IsKill() bool {
	return op >= VectorOpKillEq && op <= VectorOpKillNe
}

// WritesPredicate reports whether the operation replaces the predicate
// register. Exec merging must not carry a predicated block across it.
func (op AluVectorOpcode) WritesPredicate() bool {
	return op >= VectorOpPredSetEqPush && op <= VectorOpPredSetGePush
}

// AluScalarOpcode is a Xenos scalar ALU operation, co-issued with the vector
// operation and executed over one component.
type AluScalarOpcode uint8

const (
	ScalarOpAdd            AluScalarOpcode = iota // ADDs
	ScalarOpAddPrev                               // ADD_PREVs
	ScalarOpMul                                   // MULs
	ScalarOpMulPrev                               // MUL_PREVs
	ScalarOpMax                                   // MAXs
	ScalarOpMin                                   // MINs
	ScalarOpSetEq                                 // SETEs
	ScalarOpSetGt                                 // SETGTs
	ScalarOpSetGe                                 // SETGTEs
	ScalarOpSetNe                                 // SETNEs
	ScalarOpFrac                                  // FRACs
	ScalarOpTrunc                                 // TRUNCs
	ScalarOpFloor                                 // FLOORs
	ScalarOpExp                                   // EXP_IEEE
	ScalarOpLogClamp                              // LOG_CLAMP
	ScalarOpLog                                   // LOG_IEEE
	ScalarOpRcpClamp                              // RECIP_CLAMP
	ScalarOpRcp                                   // RECIP_IEEE
	ScalarOpRsqClamp                              // RECIPSQ_CLAMP
	ScalarOpRsq                                   // RECIPSQ_IEEE
	ScalarOpMovA                                  // MOVAs
	ScalarOpMovAFloor                             // MOVA_FLOORs
	ScalarOpSub                                   // SUBs
	ScalarOpSubPrev                               // SUB_PREVs
	ScalarOpPredSetEq                             // PRED_SETEs
	ScalarOpPredSetNe                             // PRED_SETNEs
	ScalarOpPredSetGt                             // PRED_SETGTs
	ScalarOpPredSetGe                             // PRED_SETGTEs
	ScalarOpPredSetInv                            // PRED_SET_INVs
	ScalarOpPredSetPop                            // PRED_SET_POPs
	ScalarOpPredSetClr                            // PRED_SET_CLRs
	ScalarOpPredSetRestore                        // PRED_SET_RESTOREs
	ScalarOpKillEq                                // KILLEs
	ScalarOpKillGt                                // KILLGTs
	ScalarOpKillGe                                // KILLGTEs
	ScalarOpKillNe                                // KILLNEs
	ScalarOpKillOne                               // KILLONEs
	ScalarOpSqrt                                  // SQRT_IEEE
	ScalarOpSin                                   // SIN
	ScalarOpCos                                   // COS
	ScalarOpRetainPrev                            // RETAIN_PREV

	scalarOpCount
)

// OperandCount returns how many source operands the scalar operation reads.
func (op AluScalarOpcode) OperandCount() int {
	switch op {
	case ScalarOpAdd, ScalarOpMul, ScalarOpMax, ScalarOpMin,
		ScalarOpSetEq, ScalarOpSetGt, ScalarOpSetGe, ScalarOpSetNe,
		ScalarOpSub:
		return 2
	case ScalarOpPredSetInv, ScalarOpPredSetPop, ScalarOpPredSetClr,
		ScalarOpPredSetRestore, ScalarOpKillOne, ScalarOpRetainPrev:
		return 0
	}
	return 1
}

// IsKill reports whether the operation conditionally discards the pixel.
func (op AluScalarOpcode) IsKill() bool {
	return (op >= ScalarOpKillEq && op <= ScalarOpKillNe) || op == ScalarOpKillOne
}

// WritesPredicate reports whether the operation replaces the predicate
// register.
func (op AluScalarOpcode) WritesPredicate() bool {
	return op >= ScalarOpPredSetEq && op <= ScalarOpPredSetRestore
}

// AluInstruction is one co-issued vector+scalar ALU instruction. Either half
// may be a default nop (a move of the previous result with an empty write
// mask), detected with the IsVectorNop/IsScalarNop helpers.
type AluInstruction struct {
	Predicated bool
	// PredicateCondition is the predicate value the instruction requires
	// when Predicated is set.
	PredicateCondition bool

	VectorOpcode   AluVectorOpcode
	VectorResult   Result
	VectorOperands []Operand

	ScalarOpcode   AluScalarOpcode
	ScalarResult   Result
	ScalarOperands []Operand
}

func (a *AluInstruction) isInstruction() {}

// IsVectorNop reports whether the vector half neither writes anything nor has
// side effects (kill, predicate push, a0 write).
func (a *AluInstruction) IsVectorNop() bool {
	return a.VectorResult.UsedWriteMask() == 0 &&
		!a.VectorOpcode.IsKill() && !a.VectorOpcode.WritesPredicate() &&
		a.VectorOpcode != VectorOpMaxA
}

// IsScalarNop reports whether the scalar half is the canonical "retain
// previous" nop with no write.
func (a *AluInstruction) IsScalarNop() bool {
	return a.ScalarOpcode == ScalarOpRetainPrev &&
		a.ScalarResult.UsedWriteMask() == 0
}

// WritesPredicate reports whether either half replaces the predicate
// register.
func (a *AluInstruction) WritesPredicate() bool {
	return a.VectorOpcode.WritesPredicate() || a.ScalarOpcode.WritesPredicate()
}
