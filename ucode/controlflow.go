package ucode

// Instruction is one sequenced instruction inside an exec block: an ALU
// co-issue, a vertex fetch or a texture fetch.
type Instruction interface {
	isInstruction()
}

// ControlFlowRecord is one decoded control-flow instruction. A Program is an
// ordered list of these, walked exactly once by the translator.
type ControlFlowRecord interface {
	isControlFlow()
}

// ExecCondition is how an exec block or conditional jump is guarded.
type ExecCondition uint8

const (
	ExecUnconditional ExecCondition = iota
	// ExecBoolConstant guards on one of the 256 boolean constants.
	ExecBoolConstant
	// ExecPredicated guards on the predicate register.
	ExecPredicated
)

// ExecRecord wraps a run of instructions under one shared condition. IsEnd
// marks the final exec of the shader; control returns to the host after it.
type ExecRecord struct {
	Condition ExecCondition
	// BoolConstantIndex selects the boolean constant for ExecBoolConstant.
	BoolConstantIndex uint32
	// ConditionValue is the guard value required for the block to run.
	ConditionValue bool

	IsEnd bool

	Instructions []Instruction
}

func (*ExecRecord) isControlFlow() {}

// LoopStartRecord begins a loop over one of the 32 loop constants.
type LoopStartRecord struct {
	LoopConstantIndex uint32
	// IsRepeat suppresses the aL push; a repeat loop only counts.
	IsRepeat bool
	// SkipAddress is the label jumped to when the trip count is zero.
	SkipAddress uint32
}

func (*LoopStartRecord) isControlFlow() {}

// LoopEndRecord closes the innermost loop.
type LoopEndRecord struct {
	LoopConstantIndex uint32
	// Predicated breaks out of the loop early when the predicate matches
	// PredicateCondition.
	Predicated         bool
	PredicateCondition bool
	// BodyAddress is the label of the loop body, jumped back to while the
	// counter is nonzero.
	BodyAddress uint32
}

func (*LoopEndRecord) isControlFlow() {}

// JumpRecord transfers control to another label, optionally guarded the same
// way an exec block is.
type JumpRecord struct {
	Condition         ExecCondition
	BoolConstantIndex uint32
	ConditionValue    bool
	TargetAddress     uint32
}

func (*JumpRecord) isControlFlow() {}

// AllocType is what an alloc record reserves export space for.
type AllocType uint8

const (
	AllocPosition AllocType = iota
	AllocInterpolators
	AllocMemExport
)

// AllocRecord reserves an export destination. Memory-export allocs advance
// the current export stream index; the translator bounds how many it honors.
type AllocRecord struct {
	Type AllocType
	Size uint32
}

func (*AllocRecord) isControlFlow() {}

// Block is all control-flow records belonging to one guest label address.
// Labels are the jump-target granularity of the program.
type Block struct {
	Address uint32
	Records []ControlFlowRecord
}

// Program is one fully decoded guest shader.
type Program struct {
	Type ShaderType

	// Microcode is the raw guest dwords, kept for hashing and persistence.
	Microcode []uint32

	Blocks []Block

	// RegisterCount is the number of general-purpose registers the program
	// uses, from the guest program control state.
	RegisterCount uint32

	// DynamicRegisterAddressing is set when any GPR access goes through
	// a0/aL, forcing registers into dynamically indexable storage.
	DynamicRegisterAddressing bool

	ConstantMap ConstantRegisterMap
}

// VisitInstructions calls fn for every sequenced instruction in program
// order. Used by pre-translation analysis passes.
func (p *Program) VisitInstructions(fn func(Instruction)) {
	for i := range p.Blocks {
		for _, rec := range p.Blocks[i].Records {
			if exec, ok := rec.(*ExecRecord); ok {
				for _, inst := range exec.Instructions {
					fn(inst)
				}
			}
		}
	}
}
