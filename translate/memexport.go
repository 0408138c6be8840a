package translate

import "github.com/gogpu/xgpu/dxbc"

// exportToMemory flushes the memory export temps to the shared memory UAV at
// the end of the shader. Each alloc's eM# registers are stored at the address
// the shader put in eA, 16 bytes apart, but only those the written-flag
// register says were actually assigned on the taken path.
func (t *Translator) exportToMemory() {
	an := t.shader.analysis
	if an.MemExportCount == 0 {
		return
	}
	a := t.asm
	uav := t.sharedMemoryUAV()
	written := dxbc.SrcR(t.tempMemExportWritten)

	temp := t.alloc.Push(0)
	tempX := dxbc.DestR(temp, 0b0001)
	tempXSrc := dxbc.SrcR(temp).Select(0)
	tempY := dxbc.DestR(temp, 0b0010)
	tempYSrc := dxbc.SrcR(temp).Select(1)
	tempZ := dxbc.DestR(temp, 0b0100)
	tempZSrc := dxbc.SrcR(temp).Select(2)

	for i := uint32(0); i < an.MemExportCount; i++ {
		if t.tempMemExportAddress[i] == bindingUnallocated {
			continue
		}
		// Skip the whole alloc if no eM# was written.
		a.OpAnd(tempX, written.Select(i>>2), dxbc.SrcLU(0x1F<<((i&3)*8)))
		a.OpIf(true, tempXSrc)
		// A zero eA means the shader never exported on the taken path.
		eA := dxbc.SrcR(t.tempMemExportAddress[i])
		a.OpIf(true, eA.Select(0))
		// eA.x is the base address in dwords.
		a.OpIShl(tempY, eA.Select(0), dxbc.SrcLU(2))
		for j := uint32(0); j < 5; j++ {
			if t.tempMemExportData[i][j] == bindingUnallocated {
				continue
			}
			a.OpAnd(tempX, written.Select(i>>2), dxbc.SrcLU(1<<(j+(i&3)*8)))
			a.OpIf(true, tempXSrc)
			if j != 0 {
				a.OpIAdd(tempZ, tempYSrc, dxbc.SrcLU(j*16))
			} else {
				a.OpMov(tempZ, tempYSrc)
			}
			a.OpStoreRaw(dxbc.DestU(uav, 0b1111), tempZSrc,
				dxbc.SrcR(t.tempMemExportData[i][j]))
			a.OpEndIf()
		}
		a.OpEndIf()
		a.OpEndIf()
	}
	t.pop(1)
}
