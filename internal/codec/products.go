package codec

import (
	"fmt"
	"strings"
)

const unknown = "UNKNOWN"

// Family groups products by how discovery treats them.
type Family int

const (
	FamilyOther Family = iota
	// FamilyBusInterface bridges a chassis to a ControlNet segment.
	FamilyBusInterface
	// FamilyFlexAdapter is a Flex I/O adapter, its rail has no addressable slots.
	FamilyFlexAdapter
	// FamilyController is a programmable controller.
	FamilyController
)

func (f Family) String() string {
	switch f {
	case FamilyBusInterface:
		return "bus-interface"
	case FamilyFlexAdapter:
		return "flex-adapter"
	case FamilyController:
		return "controller"
	default:
		return "other"
	}
}

const (
	productTypePLC = 0x0E

	productCodeControlNetBridge = 22
	productCodeController       = 93
)

var (
	busInterfacePrefixes = []string{"1756-CN", "1788-CN"}
	flexAdapterPrefixes  = []string{"1794-ACN"}
)

// Classify returns the product family of an identity.
func Classify(id Identity) Family {
	for _, prefix := range flexAdapterPrefixes {
		if strings.HasPrefix(id.ProductName, prefix) {
			return FamilyFlexAdapter
		}
	}

	if id.ProductCode == productCodeControlNetBridge {
		return FamilyBusInterface
	}

	for _, prefix := range busInterfacePrefixes {
		if strings.HasPrefix(id.ProductName, prefix) {
			return FamilyBusInterface
		}
	}

	if id.ProductTypeID == productTypePLC || id.ProductCode == productCodeController {
		return FamilyController
	}

	return FamilyOther
}

// ProductTypeName returns the name of a CIP device profile.
func ProductTypeName(id uint16) string {
	if name, ok := productTypes[id]; ok {
		return name
	}

	return unknown
}

// VendorName returns the vendor name for a CIP vendor ID.
func VendorName(id uint16) string {
	if name, ok := vendors[id]; ok {
		return name
	}

	return unknown
}

// FlexModuleName returns the catalog number for a Flex module code.
func FlexModuleName(code uint16) string {
	if name, ok := flexModules[code]; ok {
		return name
	}

	return fmt.Sprintf("%s code=0x%04x", unknown, code)
}

var productTypes = map[uint16]string{
	0x00: "Generic Device (deprecated)",
	0x02: "AC Drive",
	0x03: "Motor Overload",
	0x04: "Limit Switch",
	0x05: "Inductive Proximity Switch",
	0x06: "Photoelectric Sensor",
	0x07: "General Purpose Discrete I/O",
	0x09: "Resolver",
	0x0A: "General Purpose Analog I/O",
	0x0C: "Communications Adapter",
	0x0E: "Programmable Logic Controller",
	0x10: "Position Controller",
	0x13: "DC Drive",
	0x15: "Contactor",
	0x16: "Motor Starter",
	0x17: "Soft Start",
	0x18: "Human-Machine Interface",
	0x1A: "Mass Flow Controller",
	0x1B: "Pneumatic Valve",
	0x1C: "Vacuum Pressure Gauge",
	0x1D: "Process Control Value",
	0x1E: "Residual Gas Analyzer",
	0x1F: "DC Power Generator",
	0x20: "RF Power Generator",
	0x21: "Turbomolecular Vacuum Pump",
	0x22: "Encoder",
	0x23: "Safety Discrete I/O Device",
	0x24: "Fluid Flow Controller",
	0x25: "CIP Motion Drive",
	0x26: "CompoNet Repeater",
	0x27: "Mass Flow Controller, Enhanced",
	0x28: "CIP Modbus Device",
	0x29: "CIP Modbus Translator",
	0x2A: "Safety Analog I/O Device",
	0x2B: "Generic Device (keyable)",
	0x2C: "Managed Switch",
	0x2D: "CIP Motion Safety Drive Device",
	0x2E: "Safety Drive Device",
	0x2F: "CIP Motion Encoder",
	0x31: "CIP Motion I/O",
	0x32: "ControlNet Physical Layer Component",
	0xC8: "Embedded Component",
}

var vendors = map[uint16]string{
	0: "Reserved",
	1: "Rockwell Automation/Allen-Bradley",
	2: "Namco Controls Corp.",
	3: "Honeywell Inc.",
	4: "Parker Hannifin Corp. (Veriflo Division)",
	5: "Rockwell Automation/Reliance Elec.",
}

// flexModules maps the module codes reported by Flex adapters to catalog numbers.
//
// The list covers the modules seen in the field so far, anything else decodes as UNKNOWN.
var flexModules = map[uint16]string{
	0x0014: "1794-IB8",
	0x0015: "1794-OB8",
	0x0022: "1794-IB16",
	0x0023: "1794-OB16",
	0x0026: "1794-IB32",
	0x0027: "1794-OB32",
	0x0031: "1794-OW8",
	0x0042: "1794-IE8",
	0x0043: "1794-OE4",
	0x0044: "1794-IE4XOE2",
	0x0048: "1794-IT8",
	0x004A: "1794-IR8",
	0x0060: "1794-VHSC",
	0x0062: "1794-IJ2",
}
