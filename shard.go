package llm_adapter

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// PlacementState is the device placement state of an AdapterModel.
type PlacementState uint8

// PlacementState constants.
const (
	PlacementStateUnsharded PlacementState = iota
	PlacementStateSharded
)

// DeviceAssignment places a module, or a parameter, and everything below it on a device.
type DeviceAssignment struct {
	// Module is the dotted path of the module or the full name of the parameter.
	Module string `json:"module"`
	// Device is the identifier of the device.
	Device string `json:"device"`
}

// DeviceMap is the list of DeviceAssignment in traversal order.
type DeviceMap []DeviceAssignment

// Lookup returns the device of the given module path or parameter name,
// resolved by the nearest assigned ancestor.
func (dm DeviceMap) Lookup(name string) (string, bool) {
	var (
		dev string
		n   = -1
	)
	for _, a := range dm {
		if len(a.Module) <= n {
			continue
		}
		if a.Module == "" || a.Module == name || strings.HasPrefix(name, a.Module+".") {
			dev, n = a.Device, len(a.Module)
		}
	}
	return dev, n >= 0
}

// Devices returns the distinct devices in order of first assignment.
func (dm DeviceMap) Devices() []string {
	var ds []string
	for _, a := range dm {
		if !slices.Contains(ds, a.Device) {
			ds = append(ds, a.Device)
		}
	}
	return ds
}

// Equal returns true if both DeviceMaps hold the same assignments in the same order.
func (dm DeviceMap) Equal(o DeviceMap) bool {
	return slices.Equal(dm, o)
}

// BalancedMemory returns the per-device memory budget to place the given module tree,
// every device but the last is budgeted min(capacity, ceil(size/n)),
// the last device keeps its capacity to absorb the remainder.
//
// No headroom for the largest atomic unit is added to the budget,
// so equal units split evenly, e.g. 10 blocks over 2 devices go 5/5.
// InferDeviceMap lets an atomic unit overshoot the budget instead,
// see the overshoot rule there.
func BalancedMemory(root *Module, devices []Device) ([]BytesScalar, error) {
	n := len(devices)
	if n == 0 {
		return nil, ErrNoDevices
	}

	total := root.Size()
	per := (total + BytesScalar(n) - 1) / BytesScalar(n)
	bs := make([]BytesScalar, n)
	for i := range devices {
		bs[i] = devices[i].Memory
		if i < n-1 {
			bs[i] = min(bs[i], per)
		}
	}
	return bs, nil
}

// _PlacementItem is a module, or a parameter, pending placement.
type _PlacementItem struct {
	Name   string
	Module *Module
	Size   BytesScalar
}

func placementItemsOf(path string, m *Module) []_PlacementItem {
	items := make([]_PlacementItem, 0, len(m.Parameters)+len(m.Children))
	for _, p := range m.Parameters {
		items = append(items, _PlacementItem{Name: JoinPath(path, p.Name), Size: BytesScalar(p.Value.Bytes())})
	}
	for _, c := range m.Children {
		items = append(items, _PlacementItem{Name: JoinPath(path, c.Name), Module: c, Size: c.Size()})
	}
	return items
}

// splittable returns true if the item can be placed at a finer granularity.
func (it _PlacementItem) splittable(units AtomicUnits) bool {
	return it.Module != nil &&
		!units.Contains(it.Module.Type) &&
		len(it.Module.Parameters)+len(it.Module.Children) > 0
}

// InferDeviceMap assigns the substructures of the given module tree to the devices in traversal order,
// filling each device up to its budget.
//
// A module whose type is listed by the units is never split,
// other modules are split into their parameters and children when they do not fit the budget.
// An indivisible item exceeding the budget is still placed within the device capacity,
// if the device is empty or the overshoot is smaller than the remaining budget.
//
// InferDeviceMap fails with a *CapacityError if the tree can not be placed.
func InferDeviceMap(root *Module, units AtomicUnits, devices []Device, budget []BytesScalar) (DeviceMap, error) {
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}
	if len(budget) != len(devices) {
		return nil, fmt.Errorf("budget of %d devices, got %d devices", len(budget), len(devices))
	}

	var (
		total = root.Size()
		avail BytesScalar
	)
	for i := range devices {
		avail += devices[i].Memory
	}
	if total > avail {
		return nil, &CapacityError{Required: total, Available: avail, Shortfall: total - avail}
	}

	var (
		dm    DeviceMap
		queue = placementItemsOf("", root)
		di    int
		used  int64
	)
	for len(queue) != 0 {
		it := queue[0]
		if di >= len(devices) {
			var rest BytesScalar
			for i := range queue {
				rest += queue[i].Size
			}
			return nil, &CapacityError{Required: total, Available: avail, Shortfall: rest, Module: it.Name}
		}

		var (
			b    = int64(budget[di])
			c    = int64(devices[di].Memory)
			next = used + int64(it.Size)
		)
		switch {
		case next <= b:
		case it.splittable(units):
			queue = append(placementItemsOf(it.Name, it.Module), queue[1:]...)
			continue
		case next <= c && (used == 0 || next-b < b-used):
		default:
			di, used = di+1, 0
			continue
		}
		dm = append(dm, DeviceAssignment{Module: it.Name, Device: devices[di].ID})
		used = next
		queue = queue[1:]
	}
	return dm, nil
}

// DispatchModel places every parameter of the module tree on the device assigned by the DeviceMap.
//
// The tree is unchanged if any parameter is left unassigned.
func DispatchModel(root *Module, dm DeviceMap) error {
	nps := root.NamedParameters()
	devs := make([]string, len(nps))
	for i := range nps {
		d, ok := dm.Lookup(nps[i].Name)
		if !ok {
			return fmt.Errorf("dispatch: parameter %s is not assigned", nps[i].Name)
		}
		devs[i] = d
	}
	for i := range nps {
		nps[i].Device = devs[i]
	}
	return nil
}

// FprintModelMap renders the parameters of the module tree with their devices.
func FprintModelMap(w io.Writer, root *Module) error {
	if w == nil {
		return errors.New("nil writer")
	}

	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Parameter", "Device", "Trainable", "Shape", "Size"})
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAutoWrapText(false)
	tw.SetBorder(false)
	for _, np := range root.NamedParameters() {
		d := np.Device
		if d == "" {
			d = "-"
		}
		tw.Append([]string{
			np.Name,
			d,
			fmt.Sprint(np.Trainable),
			np.Value.String(),
			BytesScalar(np.Value.Bytes()).String(),
		})
	}
	tw.Render()
	return nil
}
