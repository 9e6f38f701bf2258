package llm_adapter

import (
	"github.com/go-logr/logr"
)

type (
	_AdapterModelOptions struct {
		UseAdapter bool
		Spec       AdaptationSpec
		Logger     logr.Logger
		Devices    []Device
		Seed       *uint64
	}
	AdapterModelOption func(*_AdapterModelOptions)
)

// WithAdapter attaches the adaptation of the given spec.
func WithAdapter(spec AdaptationSpec) AdapterModelOption {
	return func(o *_AdapterModelOptions) {
		o.UseAdapter = true
		o.Spec = spec
	}
}

// WithAdapterConfig attaches the adaptation of the given configuration
// if the configuration enables it.
func WithAdapterConfig(c AdapterConfig) AdapterModelOption {
	return func(o *_AdapterModelOptions) {
		o.UseAdapter = c.Use
		o.Spec = c.Spec()
	}
}

// WithLogger logs with the given logger, default is discarding.
func WithLogger(l logr.Logger) AdapterModelOption {
	return func(o *_AdapterModelOptions) {
		o.Logger = l
	}
}

// WithDevices shards over the given devices,
// otherwise the devices are read from env LLM_ADAPTER_DEVICES.
//
// WithDevices without devices skips the env lookup, Shard then fails with ErrNoDevices.
func WithDevices(ds ...Device) AdapterModelOption {
	return func(o *_AdapterModelOptions) {
		o.Devices = append(make([]Device, 0, len(ds)), ds...)
	}
}

// WithSeed initializes the adapter weights deterministically.
func WithSeed(seed uint64) AdapterModelOption {
	return func(o *_AdapterModelOptions) {
		o.Seed = &seed
	}
}
