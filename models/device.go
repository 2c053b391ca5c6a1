package models

import (
	"math"
	"runtime"

	"github.com/shirou/gopsutil/mem"

	"github.com/zarigata/MP3paraMIDI/logging"
)

const (
	bytesPerGB = 1 << 30

	// Host memory utilization above which model loading logs a warning
	advisoryUsedPercent = 80.0

	defaultStageMemoryGB = 2.0
)

// Recommended free host memory per pipeline stage, in GB
var stageMemoryGB = map[string]float64{
	"separation":    4.0,
	"transcription": 2.0,
}

var deviceLogger = logging.WithFields(logging.Fields{"component": "device"})

// StageMemoryRequirementGB returns the recommended free memory for a
// pipeline stage. Unknown stages get the transcription baseline.
func StageMemoryRequirementGB(stage string) float64 {
	if gb, ok := stageMemoryGB[stage]; ok {
		return gb
	}
	return defaultStageMemoryGB
}

// DeviceInfo describes the compute backend available to the AI models.
// Model subprocesses run on the host CPU, so host memory is the relevant
// accelerator memory.
type DeviceInfo struct {
	DeviceType        string  `json:"device_type"`
	DeviceName        string  `json:"device_name"`
	CPUCount          int     `json:"cpu_count"`
	TotalMemoryGB     float64 `json:"total_memory_gb"`
	AvailableMemoryGB float64 `json:"available_memory_gb"`
	UsedPercent       float64 `json:"used_percent"`
}

// GetDeviceInfo returns diagnostic information about the host
func GetDeviceInfo() DeviceInfo {
	info := DeviceInfo{
		DeviceType: "cpu",
		DeviceName: runtime.GOARCH,
		CPUCount:   runtime.NumCPU(),
	}

	memStats, err := mem.VirtualMemory()
	if err != nil {
		deviceLogger.Warn("failed to read host memory statistics", logging.Fields{"error": err.Error()})
		return info
	}

	info.TotalMemoryGB = roundGB(float64(memStats.Total) / bytesPerGB)
	info.AvailableMemoryGB = roundGB(float64(memStats.Available) / bytesPerGB)
	info.UsedPercent = memStats.UsedPercent
	return info
}

// CheckMemoryAvailable reports whether the host has enough free memory for
// a workload. A false return is advisory; callers may proceed and risk an
// out-of-memory failure in the model subprocess.
func CheckMemoryAvailable(requiredGB float64) bool {
	memStats, err := mem.VirtualMemory()
	if err != nil {
		deviceLogger.Warn("failed to read host memory statistics, assuming enough", logging.Fields{
			"error": err.Error(),
		})
		return true
	}

	availableGB := float64(memStats.Available) / bytesPerGB
	if availableGB < requiredGB {
		deviceLogger.Warn("available memory below recommendation", logging.Fields{
			"available_gb": roundGB(availableGB),
			"required_gb":  requiredGB,
		})
		return false
	}

	if memStats.UsedPercent > advisoryUsedPercent {
		deviceLogger.Warn("host memory utilization is high", logging.Fields{
			"used_percent": memStats.UsedPercent,
		})
	}

	deviceLogger.Debug("memory check passed", logging.Fields{
		"available_gb": roundGB(availableGB),
		"required_gb":  requiredGB,
	})
	return true
}

func roundGB(gb float64) float64 {
	return math.Round(gb*100) / 100
}
