package scanner

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/metal-toolbox/logixinvent/internal/cippath"
	"github.com/metal-toolbox/logixinvent/internal/model"
	"github.com/metal-toolbox/logixinvent/internal/sink"
	"github.com/metal-toolbox/logixinvent/internal/transport"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var errSegmentUnreachable = errors.New("no node address could be reached")

// SegmentResult is the outcome of one segment sweep.
type SegmentResult struct {
	Segment model.BusSegment
	// NodePaths maps the serial of each answering node to its path.
	NodePaths map[string]string
	// Errs aggregates the per address failures the sweep recovered from.
	Errs error
}

// ScanBusSegment probes every node address of the segment at basePath in ascending order,
// a negative maxNodeAddress sweeps up to the configured ceiling.
func (s *Scanner) ScanBusSegment(ctx context.Context, basePath string, maxNodeAddress int, sk sink.Sink) (*SegmentResult, error) {
	return s.sweep(ctx, basePath, "", maxNodeAddress, sk)
}

// ScanUplink sweeps the segment behind an uplink module.
func (s *Scanner) ScanUplink(ctx context.Context, uplink Uplink, maxNodeAddress int, sk sink.Sink) (*SegmentResult, error) {
	return s.sweep(ctx, uplink.SegmentPath, uplink.Serial, maxNodeAddress, sk)
}

func (s *Scanner) sweep(ctx context.Context, basePath, uplinkSerial string, maxNodeAddress int, sk sink.Sink) (*SegmentResult, error) {
	if maxNodeAddress < 0 {
		maxNodeAddress = s.config.MaxNodeAddress
	}

	log := s.logger.WithField("segment", basePath)
	sk.OnProgress(fmt.Sprintf("scanning segment %s nodes 0-%d", basePath, maxNodeAddress))

	result := &SegmentResult{
		Segment: model.BusSegment{
			BasePath:                basePath,
			UplinkSerial:            uplinkSerial,
			DiscoveredNodeAddresses: []int{},
			NodeSerials:             map[int]string{},
		},
		NodePaths: map[string]string{},
	}

	var errs *multierror.Error
	var unreachable int

	for address := 0; address <= maxNodeAddress; address++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sk.OnCurrentBusNode(address)
		nodePath := cippath.AppendBusNode(basePath, address)

		id, err := s.identify(ctx, nodePath)
		if err == nil {
			result.Segment.DiscoveredNodeAddresses = append(result.Segment.DiscoveredNodeAddresses, address)
			result.Segment.NodeSerials[address] = id.Serial

			if _, exists := result.NodePaths[id.Serial]; !exists {
				result.NodePaths[id.Serial] = nodePath
			}

			module := moduleFromIdentity(id, nodePath)
			module.BusNodeAddress = model.IntPtr(address)
			s.emit(sk, &module)

			continue
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if _, ok := transport.AsResponseError(err); ok {
			log.WithField("node", address).Trace("address unused")
			continue
		}

		if transport.IsConnectError(err) {
			unreachable++
		}

		log.WithFields(logrus.Fields{"node": address, "err": err}).Warn("node failed")
		sk.OnCommunicationError(nodePath, err.Error())
		errs = multierror.Append(errs, err)
	}

	if unreachable == maxNodeAddress+1 {
		return nil, &transport.ConnectError{Path: basePath, Err: errSegmentUnreachable}
	}

	result.Errs = errs.ErrorOrNil()
	sk.OnBusSegment(result.Segment)

	log.WithField("nodes", result.Segment.DiscoveredNodeAddresses).Debug("segment scanned")

	return result, nil
}
