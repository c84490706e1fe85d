package governor

import (
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// Probe is the host sampler. Stubbed in tests.
type Probe interface {
	AvailableMemMB() (int, error)
	CPUPercent() (float64, error)
	PIDAlive(pid int) (bool, error)
}

// SystemProbe reads the real host via gopsutil.
type SystemProbe struct{}

func (SystemProbe) AvailableMemMB() (int, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return int(vm.Available / (1024 * 1024)), nil
}

func (SystemProbe) CPUPercent() (float64, error) {
	// A short window keeps the recommender responsive without a busy sample.
	pcts, err := cpu.Percent(200*time.Millisecond, false)
	if err != nil {
		return 0, err
	}
	if len(pcts) == 0 {
		return 0, nil
	}
	return pcts[0], nil
}

func (SystemProbe) PIDAlive(pid int) (bool, error) {
	return process.PidExists(int32(pid))
}
