package ffmpeg

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// Throttle holds the host headroom required before a conversion starts.
// Zero values disable the corresponding check.
type Throttle struct {
	IdleCPU  float64
	FreeMem  int64
	FreeDisk int64
}

// check verifies that the host has enough free resources to start a new job.
func (t Throttle) check(dir string, logger *zap.Logger) error {
	if t.IdleCPU > 0 {
		p, err := cpu.Percent(time.Second, false)
		if err != nil {
			logger.Warn("could not get CPU usage", zap.Error(err))
		} else if len(p) > 0 && p[0] > (100.0-t.IdleCPU) {
			return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], t.IdleCPU)
		}
	}

	if t.FreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			logger.Warn("could not get memory usage", zap.Error(err))
		} else if vm.Available < uint64(t.FreeMem) {
			return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, t.FreeMem)
		}
	}

	if t.FreeDisk > 0 {
		d, err := disk.Usage(dir)
		if err != nil {
			logger.Warn("could not get disk usage", zap.String("dir", dir), zap.Error(err))
		} else if d.Free < uint64(t.FreeDisk) {
			return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, t.FreeDisk)
		}
	}
	return nil
}
