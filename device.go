package llm_adapter

import (
	"fmt"
	"strings"

	"github.com/gpustack/llm-adapter-go/util/osx"
)

// DevicesEnv is the environment variable listing the visible devices,
// e.g. "cuda:0=24GiB,cuda:1=24GiB".
const DevicesEnv = "LLM_ADAPTER_DEVICES"

// Device is a compute device with its memory capacity.
type Device struct {
	// ID is the identifier of the device, e.g. "cuda:0".
	ID string `json:"id" yaml:"id"`
	// Memory is the capacity of the device.
	Memory BytesScalar `json:"memory" yaml:"memory"`
}

func (d Device) String() string {
	return d.ID + "=" + d.Memory.String()
}

// ParseDevices parses the comma-separated devices of the form "<id>=<memory>".
func ParseDevices(s string) ([]Device, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var ds []Device
	seen := make(map[string]struct{})
	for _, item := range strings.Split(s, ",") {
		id, mem, ok := strings.Cut(strings.TrimSpace(item), "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid device %q, expected <id>=<memory>", item)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate device %q", id)
		}
		seen[id] = struct{}{}
		m, err := ParseBytesScalar(mem)
		if err != nil {
			return nil, fmt.Errorf("parse memory of device %q: %w", id, err)
		}
		ds = append(ds, Device{ID: id, Memory: m})
	}
	return ds, nil
}

// DevicesFromEnv returns the devices listed by DevicesEnv.
func DevicesFromEnv() ([]Device, error) {
	ds, err := ParseDevices(osx.Getenv(DevicesEnv))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", DevicesEnv, err)
	}
	return ds, nil
}

// DeviceIDs returns the identifiers of the given devices.
func DeviceIDs(ds []Device) []string {
	ids := make([]string, len(ds))
	for i := range ds {
		ids[i] = ds[i].ID
	}
	return ids
}
