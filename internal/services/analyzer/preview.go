package analyzer

import (
	"errors"
	"fmt"

	"eeprom-spoofer/internal/domain/model"
)

// Preview 是纯函数：给出改写前后的身份与 4 个字节变更。
// UI 预览与写入流程的 dry run 共用它。
func Preview(analysis *model.AnalysisResult, target model.Identity) (model.Preview, error) {
	if analysis == nil {
		return model.Preview{}, errors.New("preview: analysis is nil")
	}
	window, ok := analysis.Image.Window(analysis.Location.Offsets)
	if !ok {
		return model.Preview{}, fmt.Errorf("preview: identity offsets outside %d-byte image", len(analysis.Image.Bytes))
	}
	next := target.LittleEndian()
	p := model.Preview{
		Before: model.IdentityFromBytes(window).String(),
		After:  target.String(),
	}
	for i, off := range analysis.Location.Offsets.Slice() {
		p.Changes[i] = model.ByteChange{Offset: off, Old: window[i], New: next[i]}
	}
	return p, nil
}
