// Package statemachine defines the state machine each chassis frame of a discovery runs through.
package statemachine

import (
	"fmt"

	sw "github.com/filanov/stateswitch"
	"github.com/pkg/errors"
)

const (
	// chassis frame states
	StatePending         sw.State = "pending"
	StateScanned         sw.State = "scanned"
	StateUplinksExpanded sw.State = "uplinksExpanded"
	StateDone            sw.State = "done"
	StateFailed          sw.State = "failed"

	ScanChassis   sw.TransitionType = "scanChassis"
	ExpandUplinks sw.TransitionType = "expandUplinks"
	ExpandNodes   sw.TransitionType = "expandNodes"
	FrameFailed   sw.TransitionType = "frameFailed"
)

var (
	ErrFrameTransition = errors.New("error in chassis frame transition")
)

// Frame is the unit of work a chassis state machine runs on.
type Frame interface {
	sw.StateSwitch

	// SetErr records the error that failed the frame.
	SetErr(err error)
}

// FrameTransitioner defines the stateswitch handlers for each chassis frame transition.
type FrameTransitioner interface {
	// ScanChassis walks the chassis slots.
	ScanChassis(sw sw.StateSwitch, args sw.TransitionArgs) error
	// ExpandUplinks sweeps the segments behind the unseen uplinks of the chassis.
	ExpandUplinks(sw sw.StateSwitch, args sw.TransitionArgs) error
	// ExpandNodes recurses into the unseen chassis found on the swept segments.
	ExpandNodes(sw sw.StateSwitch, args sw.TransitionArgs) error
	// FrameFailed reports the failed branch.
	FrameFailed(sw sw.StateSwitch, args sw.TransitionArgs) error
	// Progress runs after every successful transition.
	Progress(sw sw.StateSwitch, args sw.TransitionArgs) error
}

// ChassisStateMachine drives a chassis frame
type ChassisStateMachine struct {
	sm          sw.StateMachine
	transitions []sw.TransitionType
}

// NewChassisStateMachine returns a chassis state machine calling into handler.
func NewChassisStateMachine(handler FrameTransitioner) *ChassisStateMachine {
	// transitions are executed in this order
	transitionOrder := []sw.TransitionType{
		ScanChassis,
		ExpandUplinks,
		ExpandNodes,
	}

	m := &ChassisStateMachine{sm: sw.NewStateMachine(), transitions: transitionOrder}

	m.sm.AddTransition(sw.TransitionRule{
		TransitionType:   ScanChassis,
		SourceStates:     sw.States{StatePending},
		DestinationState: StateScanned,
		Condition:        nil,
		Transition:       handler.ScanChassis,
		PostTransition:   handler.Progress,
		Documentation: sw.TransitionRuleDoc{
			Name:        "Scan chassis",
			Description: "Identify the entry module, resolve the backplane and walk its slots.",
		},
	})

	m.sm.AddTransition(sw.TransitionRule{
		TransitionType:   ExpandUplinks,
		SourceStates:     sw.States{StateScanned},
		DestinationState: StateUplinksExpanded,
		Transition:       handler.ExpandUplinks,
		PostTransition:   handler.Progress,
		Documentation: sw.TransitionRuleDoc{
			Name:        "Expand uplinks",
			Description: "Sweep the segment behind every uplink module not seen before, deep scans only.",
		},
	})

	m.sm.AddTransition(sw.TransitionRule{
		TransitionType:   ExpandNodes,
		SourceStates:     sw.States{StateUplinksExpanded},
		DestinationState: StateDone,
		Transition:       handler.ExpandNodes,
		PostTransition:   handler.Progress,
		Documentation: sw.TransitionRuleDoc{
			Name:        "Expand nodes",
			Description: "Recurse into every unseen backplane found on a segment with more than one live node.",
		},
	})

	m.sm.AddTransition(sw.TransitionRule{
		TransitionType:   FrameFailed,
		SourceStates:     sw.States{StatePending, StateScanned, StateUplinksExpanded},
		DestinationState: StateFailed,
		Transition:       handler.FrameFailed,
		Documentation: sw.TransitionRuleDoc{
			Name:        "Frame failed",
			Description: "The chassis or one of its segments could not be reached, the branch is abandoned.",
		},
	})

	m.describe()

	return m
}

func (m *ChassisStateMachine) describe() {
	states := []sw.StateDoc{
		{Name: string(StatePending), Description: "The chassis path is known, nothing was queried yet."},
		{Name: string(StateScanned), Description: "The chassis slots were walked and its records emitted."},
		{Name: string(StateUplinksExpanded), Description: "The segments behind the chassis uplinks were swept."},
		{Name: string(StateDone), Description: "Every chassis reachable from this one was visited."},
		{Name: string(StateFailed), Description: "The branch was abandoned on a connection failure."},
	}

	for _, doc := range states {
		m.sm.DescribeState(sw.State(doc.Name), doc)
	}

	m.sm.DescribeTransitionType(ScanChassis, sw.TransitionTypeDoc{Name: string(ScanChassis), Description: "Walk one chassis."})
	m.sm.DescribeTransitionType(ExpandUplinks, sw.TransitionTypeDoc{Name: string(ExpandUplinks), Description: "Sweep uplink segments."})
	m.sm.DescribeTransitionType(ExpandNodes, sw.TransitionTypeDoc{Name: string(ExpandNodes), Description: "Recurse into segment nodes."})
	m.sm.DescribeTransitionType(FrameFailed, sw.TransitionTypeDoc{Name: string(FrameFailed), Description: "Abandon the branch."})
}

// SetTransitionOrder sets the order transitions are run in.
func (m *ChassisStateMachine) SetTransitionOrder(transitions []sw.TransitionType) {
	m.transitions = transitions
}

// DescribeAsJSON returns a JSON output describing the chassis statemachine.
func (m *ChassisStateMachine) DescribeAsJSON() ([]byte, error) {
	return m.sm.AsJSON()
}

// Run executes the transitions on frame, on the first error the frame is moved to the failed state
// through the FrameFailed transition and the error is returned.
func (m *ChassisStateMachine) Run(frame Frame, args sw.TransitionArgs) error {
	for _, transitionType := range m.transitions {
		err := m.sm.Run(transitionType, frame, args)
		if err == nil {
			continue
		}

		// update error to include some useful context
		if errors.Is(err, sw.NoConditionPassedToRunTransaction) {
			err = errors.Wrap(
				ErrFrameTransition,
				fmt.Sprintf("no transition rule found for transition type '%s' and state '%s'", transitionType, frame.State()),
			)
		}

		frame.SetErr(err)

		// the frame failed handler error is ignored to not overwrite the original error
		if frame.State() != StateFailed && frame.State() != StateDone {
			_ = m.sm.Run(FrameFailed, frame, args)
		}

		return err
	}

	return nil
}

// nopTransitioner is used to describe the state machine without a discovery.
type nopTransitioner struct{}

func (nopTransitioner) ScanChassis(sw.StateSwitch, sw.TransitionArgs) error   { return nil }
func (nopTransitioner) ExpandUplinks(sw.StateSwitch, sw.TransitionArgs) error { return nil }
func (nopTransitioner) ExpandNodes(sw.StateSwitch, sw.TransitionArgs) error   { return nil }
func (nopTransitioner) FrameFailed(sw.StateSwitch, sw.TransitionArgs) error   { return nil }
func (nopTransitioner) Progress(sw.StateSwitch, sw.TransitionArgs) error      { return nil }

// DescribeAsJSON returns the JSON description of the chassis state machine.
func DescribeAsJSON() ([]byte, error) {
	return NewChassisStateMachine(nopTransitioner{}).DescribeAsJSON()
}
