package pool

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// NVMLProber queries GPU memory through the NVIDIA management library.
// Every call initializes and shuts down NVML so the prober holds no state
// between the startup sizing pass and the periodic metrics reads.
type NVMLProber struct {
	DeviceIndex int
}

// NewNVMLProber creates a prober for the first GPU.
func NewNVMLProber() *NVMLProber {
	return &NVMLProber{DeviceIndex: 0}
}

// FreeBytes returns the free memory on the probed GPU.
func (p *NVMLProber) FreeBytes() (uint64, error) {
	mem, err := p.memoryInfo()
	if err != nil {
		return 0, err
	}
	return mem.Free, nil
}

// UsedBytes returns the memory in use on the probed GPU.
func (p *NVMLProber) UsedBytes() (uint64, error) {
	mem, err := p.memoryInfo()
	if err != nil {
		return 0, err
	}
	return mem.Used, nil
}

func (p *NVMLProber) memoryInfo() (nvml.Memory, error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nvml.Memory{}, fmt.Errorf("failed to initialize NVML: %s", nvml.ErrorString(ret))
	}
	defer nvml.Shutdown()

	device, ret := nvml.DeviceGetHandleByIndex(p.DeviceIndex)
	if ret != nvml.SUCCESS {
		return nvml.Memory{}, fmt.Errorf("failed to get device %d: %s", p.DeviceIndex, nvml.ErrorString(ret))
	}

	mem, ret := device.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		return nvml.Memory{}, fmt.Errorf("failed to get memory info: %s", nvml.ErrorString(ret))
	}

	return mem, nil
}
