package llm_adapter

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedBackend    = errors.New("unsupported adapter backend")
	ErrUnsupportedMethod     = errors.New("unsupported adapter method")
	ErrInvalidAdapterOptions = errors.New("invalid adapter options")
	ErrAdapterAttached       = errors.New("adapter already attached")
	ErrNoAdaptableModules    = errors.New("no adaptable modules")

	ErrInsufficientCapacity = errors.New("insufficient device capacity")
	ErrNoDevices            = errors.New("no devices")

	ErrNotAdapterModel = errors.New("not an adapter model")
	ErrStateMismatch   = errors.New("state mismatch")
)

// ConfigurationError is returned when an adaptation can not be attached,
// it carries the offending backend and method for diagnostics.
type ConfigurationError struct {
	Backend Backend
	Method  Method
	Err     error
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Method == "":
		return fmt.Sprintf("configure adapter backend %q: %v", e.Backend, e.Err)
	case e.Backend == "":
		return fmt.Sprintf("configure adapter method %q: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("configure adapter method %q of backend %q: %v", e.Method, e.Backend, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// CapacityError is returned when a model does not fit on the given devices.
type CapacityError struct {
	// Required is the bytes of the model.
	Required BytesScalar
	// Available is the sum of the device capacities.
	Available BytesScalar
	// Shortfall is the bytes which could not be placed on any device,
	// it is at least Required minus Available.
	Shortfall BytesScalar
	// Module is the path of the first unit which could not be placed,
	// empty if the model was rejected before placement.
	Module string
}

func (e *CapacityError) Error() string {
	if e.Module != "" {
		return fmt.Sprintf("%v: %q can not be placed, required %s, available %s, shortfall %s",
			ErrInsufficientCapacity, e.Module, e.Required, e.Available, e.Shortfall)
	}
	return fmt.Sprintf("%v: required %s, available %s, shortfall %s",
		ErrInsufficientCapacity, e.Required, e.Available, e.Shortfall)
}

func (e *CapacityError) Unwrap() error {
	return ErrInsufficientCapacity
}
