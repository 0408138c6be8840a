// Command xshc inspects the xgpu on-disk shader and pipeline logs.
//
// Usage:
//
//	xshc [options] <input>
//
// Examples:
//
//	xshc 415607e6.shaders.bin            # List shader log records
//	xshc 415607e6.pipelines.bin          # List pipeline log records
//	xshc -hash shader.ucode              # Hash a raw microcode dword file
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"

	"github.com/bytedance/gopkg/util/xxhash3"

	"github.com/gogpu/xgpu"
	"github.com/gogpu/xgpu/pipeline"
	"github.com/gogpu/xgpu/ucode"
)

var (
	hashOnly = flag.Bool("hash", false, "treat input as raw microcode dwords and print its hash")
	version  = flag.Bool("version", false, "print version")
)

const xshcVersion = "0.1.0-dev"

const (
	shaderLogMagic   uint32 = 0x48534558 // 'XESH'
	pipelineLogMagic uint32 = 0x53504558 // 'XEPS'
	logHeaderSize           = 12
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if *version {
		fmt.Printf("xshc version %s\n", xshcVersion)
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: no input file specified")
		usage()
		os.Exit(1)
	}
	inputPath := args[0]

	data, err := os.ReadFile(inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(1)
	}

	if *hashOnly {
		if err := hashMicrocode(data); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if len(data) < logHeaderSize {
		fmt.Fprintf(os.Stderr, "Error: %s is too short to be a log file\n", inputPath)
		os.Exit(1)
	}
	switch binary.LittleEndian.Uint32(data) {
	case shaderLogMagic:
		err = listShaderLog(data)
	case pipelineLogMagic:
		err = listPipelineLog(data)
	default:
		err = fmt.Errorf("unknown log magic %#08x", binary.LittleEndian.Uint32(data))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func hashMicrocode(data []byte) error {
	if len(data) == 0 || len(data)%4 != 0 {
		return fmt.Errorf("microcode length %d is not a whole number of dwords", len(data))
	}
	microcode := make([]uint32, len(data)/4)
	for i := range microcode {
		microcode[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	fmt.Printf("%016x  %d dwords\n", xgpu.Hash(microcode), len(microcode))
	return nil
}

// listShaderLog prints one line per intact shader record and reports where
// the first corrupt record starts, the same boundary replay truncates at.
func listShaderLog(data []byte) error {
	const recordHeaderSize = 24
	offset := logHeaderSize
	records := 0
	for {
		if len(data)-offset < recordHeaderSize {
			break
		}
		rec := data[offset:]
		hash := binary.LittleEndian.Uint64(rec)
		dwordCount := binary.LittleEndian.Uint32(rec[8:])
		shaderType := binary.LittleEndian.Uint32(rec[12:])
		sqProgramCntl := binary.LittleEndian.Uint32(rec[20:])
		size := recordHeaderSize + int(dwordCount)*4
		if dwordCount == 0 || shaderType > 1 || len(rec) < size {
			break
		}
		microcode := make([]uint32, dwordCount)
		for i := range microcode {
			microcode[i] = binary.LittleEndian.Uint32(rec[recordHeaderSize+i*4:])
		}
		if xgpu.Hash(microcode) != hash {
			break
		}
		fmt.Printf("%016x  %-6s  %5d dwords  sq_program_cntl=%08x\n",
			hash, ucode.ShaderType(shaderType), dwordCount, sqProgramCntl)
		offset += size
		records++
	}
	fmt.Printf("%d shader records", records)
	if offset != len(data) {
		fmt.Printf(", %d trailing bytes unreadable (valid through offset %d)", len(data)-offset, offset)
	}
	fmt.Println()
	return nil
}

func listPipelineLog(data []byte) error {
	const recordSize = 8 + pipeline.DescriptionSize
	offset := logHeaderSize
	records := 0
	for len(data)-offset >= recordSize {
		rec := data[offset : offset+recordSize]
		hash := binary.LittleEndian.Uint64(rec)
		if xxhash3.Hash(rec[8:]) != hash {
			break
		}
		desc, err := pipeline.DecodeDescription(rec[8:])
		if err != nil {
			break
		}
		fmt.Printf("%016x  vs=%016x ps=%016x rts=%d\n",
			hash, desc.VertexShaderHash, desc.PixelShaderHash, usedTargets(&desc))
		offset += recordSize
		records++
	}
	fmt.Printf("%d pipeline records", records)
	if offset != len(data) {
		fmt.Printf(", %d trailing bytes unreadable (valid through offset %d)", len(data)-offset, offset)
	}
	fmt.Println()
	return nil
}

func usedTargets(d *pipeline.Description) int {
	n := 0
	for i := range d.RenderTargets {
		if d.RenderTargets[i].Used == 0 {
			break
		}
		n++
	}
	return n
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: xshc [options] <input>\n\n")
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  xshc 415607e6.shaders.bin    List shader log records\n")
	fmt.Fprintf(os.Stderr, "  xshc 415607e6.pipelines.bin  List pipeline log records\n")
	fmt.Fprintf(os.Stderr, "  xshc -hash shader.ucode      Hash raw microcode dwords\n")
}
