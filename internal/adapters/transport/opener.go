package transport

import (
	"context"
	"sync"

	"eeprom-spoofer/internal/domain/model"
)

// Opener 打开一个设备会话。
type Opener func(ctx context.Context) (Transport, error)

// SimulatedOpener 始终返回同一个模拟设备，使多次打开之间的写入可见。
func SimulatedOpener(identity model.Identity) Opener {
	var (
		once sync.Once
		sim  *Simulated
	)
	return func(context.Context) (Transport, error) {
		once.Do(func() { sim = NewSimulatedAX88772B(identity) })
		sim.SetOpen(true)
		return sim, nil
	}
}

// ASIXOpener 通过 USB 打开指定身份的 ASIX 适配器。
func ASIXOpener(identity model.Identity, size int) Opener {
	return func(context.Context) (Transport, error) {
		a, err := OpenASIX(identity, size)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
}
