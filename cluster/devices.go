package cluster

import (
	"runtime"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/klauspost/cpuid/v2"

	"github.com/cloudtree-ml/cloudtree/job"
	"github.com/cloudtree-ml/cloudtree/pkg/errors"
	"github.com/cloudtree-ml/cloudtree/pkg/log"
)

// gpuCount queries NVML for the number of devices on the host. The nvml
// package reports status codes rather than errors; official docs do not use
// errors.Is or errors.As here.
func gpuCount() (int, error) {
	ret := nvml.Init()
	if ret != nvml.SUCCESS {
		return -1, errors.Newf("unable to initialize NVML: %v", nvml.ErrorString(ret))
	}
	defer func() { _ = nvml.Shutdown() }()

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return -1, errors.Newf("unable to get device count: %v", nvml.ErrorString(ret))
	}
	return count, nil
}

// cpuCount reports host logical cores from CPUID, falling back to the
// runtime when CPUID is unavailable (some virtualized hosts mask it).
func cpuCount() int {
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// DeviceCount returns the number of compute devices the mode schedules on:
// NVML devices for GPU modes, logical cores otherwise. When a GPU mode runs
// on a host with no visible devices the job degrades to core count instead
// of failing, so a mis-provisioned trial still reports a score to the sweep.
func DeviceCount(compute job.ComputeType) int {
	logger := log.GetLoggerWithName("cluster")

	if compute.IsGPU() {
		n, err := gpuCount()
		if err == nil && n > 0 {
			logger.Info("GPU devices detected", log.DevicesKey, n)
			return n
		}
		reason := "no GPU devices visible"
		if err != nil {
			reason = err.Error()
		}
		errors.Warn(errors.NewDegradedComputeWarning(compute.String(), "CPU cores", reason))
	}

	n := cpuCount()
	logger.Info("CPU cores detected", log.DevicesKey, n)
	return n
}
