// Package catalog holds the CIP request templates used during topology discovery.
package catalog

import "fmt"

// CIP service codes
const (
	ServiceGetAttributesAll   uint8 = 0x01
	ServiceGetAttributeSingle uint8 = 0x0E
	ServiceUnconnectedSend    uint8 = 0x52
	ServiceForwardOpen        uint8 = 0x54
	ServiceForwardClose       uint8 = 0x4E
)

// CIP class codes
const (
	ClassIdentity          uint16 = 0x01
	ClassConnectionManager uint16 = 0x06
	ClassProgramName       uint16 = 0x64
	ClassBackplane         uint16 = 0x66
	ClassFlexModules       uint16 = 0x78
	ClassControlNet        uint16 = 0xF0
)

// Mode is the connection mode a request is sent with.
type Mode int

const (
	Unconnected Mode = iota
	Connected
)

func (m Mode) String() string {
	if m == Connected {
		return "connected"
	}

	return "unconnected"
}

// Template is a named, immutable request definition.
type Template struct {
	Name     string
	Service  uint8
	Class    uint16
	Instance uint16
	// Attribute is only encoded in the request path when HasAttribute is set.
	Attribute    uint16
	HasAttribute bool
	Mode         Mode
	// Routed requests carry the route path from the session path.
	Routed bool
}

func (t Template) String() string {
	return t.Name
}

// Connected returns true when the template is sent over a CIP connection.
func (t Template) Connected() bool {
	return t.Mode == Connected
}

// Describe returns the template parameters for logging.
func (t Template) Describe() string {
	attr := "-"
	if t.HasAttribute {
		attr = fmt.Sprintf("0x%02x", t.Attribute)
	}

	return fmt.Sprintf(
		"%s service=0x%02x class=0x%02x instance=%d attribute=%s mode=%s routed=%t",
		t.Name, t.Service, t.Class, t.Instance, attr, t.Mode, t.Routed,
	)
}

var (
	// Who queries the identity object of the module at the path.
	Who = Template{
		Name:     "who",
		Service:  ServiceGetAttributesAll,
		Class:    ClassIdentity,
		Instance: 1,
		Mode:     Unconnected,
		Routed:   true,
	}

	// WhoConnected queries the identity object over a CIP connection.
	WhoConnected = Template{
		Name:     "who_connected",
		Service:  ServiceGetAttributesAll,
		Class:    ClassIdentity,
		Instance: 1,
		Mode:     Connected,
		Routed:   true,
	}

	// BackplaneStatus queries the chassis object, the response carries the chassis serial and size.
	BackplaneStatus = Template{
		Name:         "backplane_status",
		Service:      ServiceGetAttributesAll,
		Class:        ClassBackplane,
		Instance:     1,
		Attribute:    0,
		HasAttribute: true,
		Mode:         Unconnected,
		Routed:       true,
	}

	BackplaneStatusConnected = Template{
		Name:         "backplane_status_connected",
		Service:      ServiceGetAttributesAll,
		Class:        ClassBackplane,
		Instance:     1,
		Attribute:    0,
		HasAttribute: true,
		Mode:         Connected,
		Routed:       true,
	}

	// BusNodeAddress reads the node address block of a ControlNet bridge.
	BusNodeAddress = Template{
		Name:         "bus_node_address",
		Service:      ServiceGetAttributeSingle,
		Class:        ClassControlNet,
		Instance:     1,
		Attribute:    0x09,
		HasAttribute: true,
		Mode:         Unconnected,
		Routed:       true,
	}

	// FlexModuleMap reads the module map of a Flex I/O adapter, the adapter only answers it over a connection.
	FlexModuleMap = Template{
		Name:     "flex_module_map",
		Service:  ServiceGetAttributesAll,
		Class:    ClassFlexModules,
		Instance: 1,
		Mode:     Connected,
		Routed:   true,
	}

	ProgramName = Template{
		Name:     "program_name",
		Service:  ServiceGetAttributesAll,
		Class:    ClassProgramName,
		Instance: 1,
		Mode:     Unconnected,
		Routed:   true,
	}
)

// All returns every template in the catalog.
func All() []Template {
	return []Template{
		Who,
		WhoConnected,
		BackplaneStatus,
		BackplaneStatusConnected,
		BusNodeAddress,
		FlexModuleMap,
		ProgramName,
	}
}
