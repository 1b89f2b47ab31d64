package discovery

import (
	"context"
	"fmt"

	sw "github.com/filanov/stateswitch"
	"github.com/hashicorp/go-multierror"
	"github.com/metal-toolbox/logixinvent/internal/cippath"
	"github.com/metal-toolbox/logixinvent/internal/scanner"
	sm "github.com/metal-toolbox/logixinvent/internal/statemachine"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidFrame = errors.New("expected a *frame{} type")
	ErrBranch       = errors.New("branch abandoned")
)

// BranchError is returned for a chassis, segment or node abandoned during a discovery.
type BranchError struct {
	Path string
	Err  error
}

func (e *BranchError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrBranch.Error(), e.Path, e.Err.Error())
}

func (e *BranchError) Unwrap() error {
	return e.Err
}

func (e *BranchError) Is(target error) bool {
	return target == ErrBranch
}

// frame is one chassis visited by a discovery.
type frame struct {
	ctx   context.Context
	state sw.State
	path  string
	depth int
	err   error

	chassis  *scanner.ChassisResult
	segments []*scanner.SegmentResult
}

func (f *frame) State() sw.State {
	return f.state
}

func (f *frame) SetState(state sw.State) error {
	f.state = state
	return nil
}

func (f *frame) SetErr(err error) {
	f.err = err
}

func asFrame(s sw.StateSwitch) (*frame, error) {
	f, ok := s.(*frame)
	if !ok {
		return nil, ErrInvalidFrame
	}

	return f, nil
}

func (r *run) frameLogger(f *frame) *logrus.Entry {
	return r.logger.WithFields(logrus.Fields{"chassis": f.path, "depth": f.depth})
}

// recovered reports a failure on a branch the discovery continues past.
func (r *run) recovered(path string, err error) {
	r.sink.OnCommunicationError(path, err.Error())
	r.errs = multierror.Append(r.errs, &BranchError{Path: path, Err: err})
}

// ScanChassis implements the statemachine.FrameTransitioner interface
func (r *run) ScanChassis(s sw.StateSwitch, _ sw.TransitionArgs) error {
	f, err := asFrame(s)
	if err != nil {
		return err
	}

	result, err := r.scanner.ScanBackplane(f.ctx, f.path, r.sink)
	if err != nil {
		return err
	}

	f.chassis = result
	r.state.SeenBackplaneSerials[result.Backplane.Serial] = true
	r.backplanes++

	if result.Errs != nil {
		r.errs = multierror.Append(r.errs, result.Errs)
	}

	return nil
}

// ExpandUplinks implements the statemachine.FrameTransitioner interface
func (r *run) ExpandUplinks(s sw.StateSwitch, _ sw.TransitionArgs) error {
	f, err := asFrame(s)
	if err != nil {
		return err
	}

	if !r.options.DeepScan {
		return nil
	}

	log := r.frameLogger(f)

	for _, uplink := range f.chassis.Uplinks {
		if err := f.ctx.Err(); err != nil {
			return err
		}

		if r.state.SeenBusModuleSerials[uplink.Serial] {
			log.WithFields(logrus.Fields{"uplink": uplink.Serial, "entry": uplink.Entry}).Debug("segment already scanned")
			continue
		}

		r.state.SeenBusModuleSerials[uplink.Serial] = true

		segment, err := r.scanner.ScanUplink(f.ctx, uplink, r.options.MaxNodeAddress, r.sink)
		if err != nil {
			if f.ctx.Err() != nil {
				return f.ctx.Err()
			}

			log.WithFields(logrus.Fields{"segment": uplink.SegmentPath, "err": err}).Warn("segment abandoned")
			r.recovered(uplink.SegmentPath, err)

			continue
		}

		r.segments++

		if segment.Errs != nil {
			r.errs = multierror.Append(r.errs, segment.Errs)
		}

		// the bridges answering on this segment lead back to it
		for serial := range segment.NodePaths {
			r.state.SeenBusModuleSerials[serial] = true
		}

		f.segments = append(f.segments, segment)
	}

	return nil
}

// ExpandNodes implements the statemachine.FrameTransitioner interface
func (r *run) ExpandNodes(s sw.StateSwitch, _ sw.TransitionArgs) error {
	f, err := asFrame(s)
	if err != nil {
		return err
	}

	log := r.frameLogger(f)

	for _, segment := range f.segments {
		nodes := segment.Segment.DiscoveredNodeAddresses

		// a lone node is the uplink answering for itself
		if len(nodes) <= 1 {
			log.WithField("segment", segment.Segment.BasePath).Debug("single node segment not expanded")
			continue
		}

		for _, address := range nodes {
			if err := f.ctx.Err(); err != nil {
				return err
			}

			if err := r.expandNode(f, segment, address); err != nil {
				return err
			}
		}
	}

	return nil
}

// expandNode recurses into the chassis behind a segment node unless it was visited already,
// only a cancelled context is returned.
func (r *run) expandNode(f *frame, segment *scanner.SegmentResult, address int) error {
	nodePath := cippath.AppendBusNode(segment.Segment.BasePath, address)
	log := r.frameLogger(f).WithField("node", nodePath)

	backplane, err := r.scanner.ResolveBackplane(f.ctx, nodePath)
	if err != nil {
		if f.ctx.Err() != nil {
			return f.ctx.Err()
		}

		log.WithError(err).Warn("node backplane unresolved")
		r.recovered(nodePath, err)

		return nil
	}

	if r.state.SeenBackplaneSerials[backplane] {
		log.WithField("backplane", backplane).Trace("backplane already scanned")
		return nil
	}

	r.state.SeenBackplaneSerials[backplane] = true
	r.sink.OnProgress(fmt.Sprintf("expanding backplane %s behind %s", backplane, nodePath))

	child := &frame{state: sm.StatePending, path: nodePath, depth: f.depth + 1}
	if err := r.visit(f.ctx, child); err != nil && f.ctx.Err() != nil {
		return f.ctx.Err()
	}

	return nil
}

// FrameFailed implements the statemachine.FrameTransitioner interface
func (r *run) FrameFailed(s sw.StateSwitch, _ sw.TransitionArgs) error {
	f, err := asFrame(s)
	if err != nil {
		return err
	}

	if f.err == nil || f.ctx.Err() != nil {
		return nil
	}

	r.frameLogger(f).WithError(f.err).Warn("chassis abandoned")
	r.recovered(f.path, f.err)

	return nil
}

// Progress implements the statemachine.FrameTransitioner interface
func (r *run) Progress(s sw.StateSwitch, _ sw.TransitionArgs) error {
	f, err := asFrame(s)
	if err != nil {
		return err
	}

	r.frameLogger(f).WithField("state", f.state).Trace("chassis frame transition")

	return nil
}
