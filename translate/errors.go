package translate

import (
	"errors"
	"fmt"

	"github.com/gogpu/xgpu/ucode"
)

// ErrRegisterUnderflow is returned when more system temp registers are popped
// than were pushed. It always indicates a translator bug, not bad guest input.
var ErrRegisterUnderflow = errors.New("translate: system temp pop without matching push")

// TranslationError wraps a failure with the guest label address being
// translated when it occurred.
type TranslationError struct {
	ShaderType ucode.ShaderType
	Address    uint32
	Err        error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("translate: %s shader at label %#x: %v",
		e.ShaderType, e.Address, e.Err)
}

func (e *TranslationError) Unwrap() error { return e.Err }
