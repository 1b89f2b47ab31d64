// Package graph renders discovered topologies and the chassis state machine as DOT or mermaid graphs.
package graph

import (
	"fmt"

	"github.com/emicklei/dot"
	sw "github.com/filanov/stateswitch"
	"github.com/metal-toolbox/logixinvent/internal/model"
	"github.com/pkg/errors"
)

type Format string

const (
	FormatDOT     Format = "dot"
	FormatMermaid Format = "mermaid"
)

var (
	ErrFormat = errors.New("unsupported graph format")
)

// Render returns the graph in the given format.
func Render(g *dot.Graph, format Format) (string, error) {
	switch format {
	case FormatDOT:
		return g.String(), nil
	case FormatMermaid, "":
		return dot.MermaidGraph(g, dot.MermaidTopDown), nil
	default:
		return "", errors.Wrap(ErrFormat, string(format))
	}
}

// StateMachine returns a graph with a node per state and an edge per transition rule source state.
func StateMachine(s *sw.StateMachineJSON) *dot.Graph {
	g := dot.NewGraph(dot.Directed)
	nodes := map[string]dot.Node{}

	for _, transition := range s.TransitionRules {
		_, exists := nodes[transition.DestinationState]
		if !exists {
			nodes[transition.DestinationState] = g.Node(transition.DestinationState)
		}

		for _, sourceState := range transition.SourceStates {
			_, exists := nodes[sourceState]
			if !exists {
				nodes[sourceState] = g.Node(sourceState)
			}

			g.Edge(nodes[sourceState], nodes[transition.DestinationState], transition.Name)
		}
	}

	return g
}

func moduleLabel(m *model.Module) string {
	label := fmt.Sprintf("%s %s", m.ProductName, m.Serial)
	if m.Slot != nil {
		label = fmt.Sprintf("slot %d: %s", *m.Slot, label)
	}

	return label
}

// Topology returns a graph of the discovered system, each chassis is a cluster holding its modules
// and each bus segment is a node linking its uplink module to the modules answering on it.
func Topology(t *model.Topology) *dot.Graph {
	g := dot.NewGraph(dot.Directed)
	g.Attr("label", t.System)

	nodes := map[string]dot.Node{}

	for _, bpSerial := range t.BackplaneSerials() {
		bp := t.Backplanes[bpSerial]

		title := fmt.Sprintf("chassis %s (%s slots)", bp.Serial, bp.SlotCountString())
		if bp.Virtual {
			title = fmt.Sprintf("virtual chassis %s", bp.Serial)
		}

		cluster := g.Subgraph(title, dot.ClusterOption{})

		for _, m := range t.ModulesIn(bpSerial) {
			m := m
			nodes[m.Serial] = cluster.Node(m.Serial).Label(moduleLabel(&m)).Attr("shape", "box")
		}
	}

	// bus nodes outside of any scanned chassis
	for _, serial := range t.ModuleSerials() {
		m := t.Modules[serial]
		if _, exists := nodes[serial]; exists || m.ProductName == "Backplane" {
			continue
		}

		nodes[serial] = g.Node(serial).Label(moduleLabel(&m)).Attr("shape", "box")
	}

	for _, segment := range t.Segments {
		bus := g.Node(segment.BasePath).Label("ControlNet " + segment.BasePath).Attr("shape", "ellipse")

		if uplink, exists := nodes[segment.UplinkSerial]; exists {
			g.Edge(uplink, bus).Attr("style", "bold")
		}

		for _, address := range segment.DiscoveredNodeAddresses {
			serial := segment.NodeSerials[address]
			if serial == segment.UplinkSerial {
				continue
			}

			node, exists := nodes[serial]
			if !exists {
				continue
			}

			g.Edge(bus, node, fmt.Sprintf("node %d", address))
		}
	}

	return g
}
