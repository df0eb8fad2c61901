package models

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// DetectDevice probes the running host and returns a best-effort
// capability snapshot. Probing never fails: values that cannot be
// determined stay zero. Accelerators are not probed; callers that know
// about a GPU or NPU should set them on the returned value or load a
// profile instead.
func DetectDevice(storageRoot string) DeviceCapabilities {
	caps := DeviceCapabilities{
		Platform: runtime.GOOS,
		RAMBytes: probeRAM(),
	}
	if storageRoot != "" {
		if _, avail, err := diskSpace(storageRoot); err == nil {
			caps.StorageBytes = avail
		}
	}
	return caps
}

// LoadDeviceProfile reads a YAML capability profile describing a device
// other than the current host, for example:
//
//	platform: linux
//	ram_bytes: 8589934592
//	storage_bytes: 34359738368
//	accelerators: [gpu]
//
// Omitted fields keep their zero value.
func LoadDeviceProfile(path string) (DeviceCapabilities, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DeviceCapabilities{}, fmt.Errorf("reading device profile: %w", err)
	}
	var caps DeviceCapabilities
	if err := yaml.Unmarshal(data, &caps); err != nil {
		return DeviceCapabilities{}, fmt.Errorf("parsing device profile %s: %w", path, err)
	}
	return caps, nil
}
