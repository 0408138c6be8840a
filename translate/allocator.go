package translate

import "github.com/gogpu/xgpu/dxbc"

// RegisterAllocator hands out system temp registers above the guest register
// file as a stack. The guest GPRs occupy the low r# indices when they are not
// dynamically addressed (in which case they live in x0 and the base is zero),
// so pushed temps start at Base. The high-water mark becomes the dcl_temps
// count at the end of translation.
type RegisterAllocator struct {
	asm *dxbc.Assembler

	// Base is the first temp index available for pushes.
	Base uint32

	current uint32
	max     uint32
}

// Reset rebinds the allocator to a new assembler and register-file base,
// clearing the stack and the high-water mark.
func (r *RegisterAllocator) Reset(asm *dxbc.Assembler, base uint32) {
	r.asm = asm
	r.Base = base
	r.current = 0
	r.max = 0
}

// Push allocates one register and zeroes the components in zeroMask.
func (r *RegisterAllocator) Push(zeroMask uint8) uint32 {
	return r.PushCount(zeroMask, 1)
}

// PushCount allocates count consecutive registers, zeroing the components in
// zeroMask of each one.
func (r *RegisterAllocator) PushCount(zeroMask uint8, count uint32) uint32 {
	index := r.Base + r.current
	r.current += count
	if r.current > r.max {
		r.max = r.current
	}
	zeroMask &= 0b1111
	if zeroMask != 0 {
		for i := uint32(0); i < count; i++ {
			r.asm.OpMov(dxbc.DestR(index+i, zeroMask), dxbc.SrcLU(0))
		}
	}
	return index
}

// Pop releases the top count registers. Popping more than was pushed returns
// ErrRegisterUnderflow and clamps the stack to empty.
func (r *RegisterAllocator) Pop(count uint32) error {
	if count > r.current {
		r.current = 0
		return ErrRegisterUnderflow
	}
	r.current -= count
	return nil
}

// Depth returns the number of currently pushed registers.
func (r *RegisterAllocator) Depth() uint32 { return r.current }

// TotalTempCount returns the dcl_temps value: the register file plus the
// deepest simultaneous system temp usage.
func (r *RegisterAllocator) TotalTempCount() uint32 { return r.Base + r.max }
