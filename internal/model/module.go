package model

import (
	"fmt"
)

// SlotState is the outcome of probing one chassis slot.
type SlotState string

const (
	SlotPresent      SlotState = "present"
	SlotEmpty        SlotState = "empty"
	SlotUnresponsive SlotState = "unresponsive"

	// EmptySlotName is the product name carried by empty slot sentinel records.
	EmptySlotName = "Empty slot"
	// UnresponsiveSlotName is the product name carried by slots that failed to answer or decode.
	UnresponsiveSlotName = "Unresponsive"
)

// Module is a discovered device or chassis slot.
//
// Sentinel records (empty or unresponsive slots) carry no serial.
//
// nolint:govet // prefer readability over field alignment optimization for this case.
type Module struct {
	// Serial is the 8 hex digit device serial, empty for sentinel records.
	Serial string `json:"serial,omitempty" yaml:"serial,omitempty"`

	VendorID        uint16 `json:"vendor_id" yaml:"vendor_id"`
	Vendor          string `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	ProductTypeID   uint16 `json:"product_type_id" yaml:"product_type_id"`
	ProductTypeName string `json:"product_type,omitempty" yaml:"product_type,omitempty"`
	ProductCode     uint16 `json:"product_code" yaml:"product_code"`
	MajorRev        uint8  `json:"major_rev" yaml:"major_rev"`
	MinorRev        uint8  `json:"minor_rev" yaml:"minor_rev"`
	StatusBits      uint16 `json:"status_bits" yaml:"status_bits"`
	ProductName     string `json:"product_name" yaml:"product_name"`

	// ProgramName is set for programmable controllers.
	ProgramName string `json:"program_name,omitempty" yaml:"program_name,omitempty"`

	// Path is the address the module answered on, rooted at the entry address.
	Path string `json:"path" yaml:"path"`

	// SystemPath is Path re-rooted under the logical system name.
	SystemPath string `json:"system_path,omitempty" yaml:"system_path,omitempty"`

	// BackplaneSerial identifies the chassis this module sits in.
	BackplaneSerial string `json:"backplane,omitempty" yaml:"backplane,omitempty"`

	Slot *int `json:"slot,omitempty" yaml:"slot,omitempty"`

	// BusNodeAddress is set for bus uplink modules only.
	BusNodeAddress *int `json:"bus_node_address,omitempty" yaml:"bus_node_address,omitempty"`

	// Size is set on backplane-as-module records, it holds the slot count.
	Size *int `json:"size,omitempty" yaml:"size,omitempty"`

	// FlexModules lists the I/O modules decoded from a Flex adapter module map.
	FlexModules []string `json:"flex_modules,omitempty" yaml:"flex_modules,omitempty"`

	State  SlotState `json:"state" yaml:"state"`
	Reason string    `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Rev returns the module revision as major.minor
func (m *Module) Rev() string {
	return fmt.Sprintf("%d.%d", m.MajorRev, m.MinorRev)
}

// IsSentinel returns true for empty or unresponsive slot records.
func (m *Module) IsSentinel() bool {
	return m.Serial == ""
}

// EmptySlot returns an empty slot sentinel record.
func EmptySlot(path, backplane string, slot int) Module {
	return Module{
		ProductName:     EmptySlotName,
		Path:            path,
		BackplaneSerial: backplane,
		Slot:            IntPtr(slot),
		State:           SlotEmpty,
	}
}

// UnresponsiveSlot returns a sentinel record for a slot that failed to answer or decode.
func UnresponsiveSlot(path, backplane string, slot int, reason string) Module {
	return Module{
		ProductName:     UnresponsiveSlotName,
		Path:            path,
		BackplaneSerial: backplane,
		Slot:            IntPtr(slot),
		State:           SlotUnresponsive,
		Reason:          reason,
	}
}

// SlotRef references the module occupying a chassis slot.
type SlotRef struct {
	Slot   int       `json:"slot" yaml:"slot"`
	Serial string    `json:"serial,omitempty" yaml:"serial,omitempty"`
	Name   string    `json:"name" yaml:"name"`
	State  SlotState `json:"state" yaml:"state"`
}

// BackplaneRecord is one chassis.
//
// nolint:govet // prefer readability over field alignment optimization for this case.
type BackplaneRecord struct {
	Serial string `json:"serial" yaml:"serial"`

	// SlotCount is nil when the chassis did not report its size.
	SlotCount *int `json:"slot_count,omitempty" yaml:"slot_count,omitempty"`

	Rev string `json:"rev" yaml:"rev"`

	// Virtual is set when the serial was synthesized from the entry module serial.
	Virtual bool `json:"virtual" yaml:"virtual"`

	// Path is the address the chassis was scanned from.
	Path string `json:"path" yaml:"path"`

	// EntrySlot is the slot holding the module the chassis was reached through.
	EntrySlot *int `json:"entry_slot,omitempty" yaml:"entry_slot,omitempty"`

	Slots []SlotRef `json:"slots" yaml:"slots"`
}

// SlotCountString returns the slot count or "unknown".
func (b *BackplaneRecord) SlotCountString() string {
	if b.SlotCount == nil {
		return "unknown"
	}

	return fmt.Sprintf("%d", *b.SlotCount)
}

// AsModule returns the backplane-as-module record.
func (b *BackplaneRecord) AsModule() Module {
	return Module{
		Serial:      b.Serial,
		ProductName: "Backplane",
		Path:        b.Path,
		Size:        b.SlotCount,
		State:       SlotPresent,
	}
}

// BusSegment is one ControlNet segment reachable from an uplink module.
type BusSegment struct {
	BasePath     string `json:"base_path" yaml:"base_path"`
	UplinkSerial string `json:"uplink_serial" yaml:"uplink_serial"`

	// DiscoveredNodeAddresses lists the live addresses in ascending order.
	DiscoveredNodeAddresses []int `json:"node_addresses" yaml:"node_addresses"`

	// NodeSerials maps node address to the serial of the module that answered the identity query.
	NodeSerials map[int]string `json:"node_serials" yaml:"node_serials"`
}

// Failure records a branch that was abandoned or a record that could not be decoded.
type Failure struct {
	Path   string `json:"path" yaml:"path"`
	Reason string `json:"reason" yaml:"reason"`
}
