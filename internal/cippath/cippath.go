// Package cippath builds and parses hierarchical CIP addressing strings such as
//
//	10.0.0.1/bp/2/cnet/5/bp/0
//
// The first token is the network address, "bp" is followed by a backplane slot
// and "cnet" by a ControlNet node address.
package cippath

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	Separator = "/"

	TokenBackplane  = "bp"
	TokenControlNet = "cnet"
	TokenEthernet   = "enet"

	// PortBackplane and PortNetwork are the CIP port numbers route hops are encoded with.
	PortBackplane uint8 = 1
	PortNetwork   uint8 = 2
)

var (
	ErrPath = errors.New("invalid CIP path")
)

// AppendBackplane returns path/bp/slot
func AppendBackplane(path string, slot int) string {
	return join(path, TokenBackplane, strconv.Itoa(slot))
}

// AppendBusSegment returns path/bp/slot/cnet, the base path of the segment behind the uplink in slot.
func AppendBusSegment(path string, slot int) string {
	return join(AppendBackplane(path, slot), TokenControlNet)
}

// AppendBusNode returns basePath/node
func AppendBusNode(basePath string, node int) string {
	return join(basePath, strconv.Itoa(node))
}

// StripLeadingSegment removes the first token of path, it returns "/" when nothing remains.
func StripLeadingSegment(path string) string {
	trimmed := strings.TrimPrefix(path, Separator)

	idx := strings.Index(trimmed, Separator)
	if idx < 0 || idx == len(trimmed)-1 {
		return Separator
	}

	return trimmed[idx+1:]
}

// Reroot replaces the leading network address of path with the system name.
func Reroot(path, system string) string {
	rest := StripLeadingSegment(path)
	if rest == Separator {
		return system
	}

	return join(system, rest)
}

func join(parts ...string) string {
	return strings.Join(parts, Separator)
}

// Hop is one route path port segment.
type Hop struct {
	Port uint8
	Link uint16
}

// Route is a parsed path.
type Route struct {
	Host string
	Hops []Hop
}

// Parse splits a path into the network address and the route hops behind it.
//
// A trailing "cnet" without a node address is rejected, it names a segment not a device.
func Parse(path string) (Route, error) {
	tokens := strings.Split(strings.Trim(path, Separator), Separator)
	if len(tokens) == 0 || tokens[0] == "" {
		return Route{}, errors.Wrap(ErrPath, "empty path")
	}

	route := Route{Host: tokens[0], Hops: []Hop{}}

	for i := 1; i < len(tokens); i += 2 {
		var port uint8

		switch strings.ToLower(tokens[i]) {
		case TokenBackplane:
			port = PortBackplane
		case TokenControlNet, TokenEthernet:
			port = PortNetwork
		default:
			return Route{}, errors.Wrapf(ErrPath, "%s: unexpected token %q", path, tokens[i])
		}

		if i+1 >= len(tokens) {
			return Route{}, errors.Wrapf(ErrPath, "%s: %q is missing its address", path, tokens[i])
		}

		link, err := strconv.ParseUint(tokens[i+1], 10, 16)
		if err != nil {
			return Route{}, errors.Wrapf(ErrPath, "%s: address %q: %s", path, tokens[i+1], err.Error())
		}

		route.Hops = append(route.Hops, Hop{Port: port, Link: uint16(link)})
	}

	return route, nil
}
