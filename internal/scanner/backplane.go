package scanner

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/metal-toolbox/logixinvent/internal/catalog"
	"github.com/metal-toolbox/logixinvent/internal/cippath"
	"github.com/metal-toolbox/logixinvent/internal/codec"
	"github.com/metal-toolbox/logixinvent/internal/model"
	"github.com/metal-toolbox/logixinvent/internal/sink"
	"github.com/metal-toolbox/logixinvent/internal/transport"
	"github.com/sirupsen/logrus"
)

// endOfChassis is an answer a bridge returns when routed to a slot past the end of its chassis.
type endOfChassis struct {
	Name   string
	Status uint8
	// Ext is matched only when HasExt is set.
	Ext    uint16
	HasExt bool
}

// The list was collected from 1756 bridges, other bridge families may answer differently.
var endOfChassisSentinels = []endOfChassis{
	{Name: "port not available", Status: 0x01, Ext: 0x0311, HasExt: true},
	{Name: "link address not valid", Status: 0x01, Ext: 0x0312, HasExt: true},
	{Name: "invalid segment in connection path", Status: 0x01, Ext: 0x0315, HasExt: true},
	{Name: "path destination unknown", Status: 0x05},
}

// matchEndOfChassis returns the name of the sentinel the response error matches.
func matchEndOfChassis(respErr *transport.ResponseError) (string, bool) {
	ext, hasExt := respErr.Extended()

	for _, sentinel := range endOfChassisSentinels {
		if sentinel.Status != respErr.Status {
			continue
		}

		if sentinel.HasExt && (!hasExt || sentinel.Ext != ext) {
			continue
		}

		return sentinel.Name, true
	}

	return "", false
}

// Uplink is a bus interface module found in a chassis.
type Uplink struct {
	Serial string
	Slot   int
	// ModulePath is the path of the module itself.
	ModulePath string
	// SegmentPath is the base path of the segment behind the module.
	SegmentPath string
	// Entry is set for the module the chassis was entered through. Other uplinks are expanded
	// at every depth, not only in the entry chassis; the entry uplink of a deeper chassis is
	// skipped because the segment that reached it already marked its serial as seen.
	Entry bool
}

// ChassisResult is the outcome of one chassis walk.
type ChassisResult struct {
	Backplane model.BackplaneRecord
	// Entry is the module reachable at the path the chassis was scanned from.
	Entry model.Module
	// Modules holds the slot records in slot order, sentinels included.
	Modules []model.Module
	// Uplinks holds the bus interface modules in slot order.
	Uplinks []Uplink
	// Errs aggregates the per slot failures the walk recovered from.
	Errs error
}

// UplinkPaths returns the segment base path of each uplink keyed by module serial.
func (r *ChassisResult) UplinkPaths() map[string]string {
	paths := make(map[string]string, len(r.Uplinks))
	for _, u := range r.Uplinks {
		paths[u.Serial] = u.SegmentPath
	}

	return paths
}

// chassisWalk carries the state of one ScanBackplane call.
type chassisWalk struct {
	*Scanner

	sink   sink.Sink
	path   string
	log    *logrus.Entry
	result *ChassisResult
	errs   *multierror.Error
}

// ScanBackplane walks the chassis holding the module reachable at path.
//
// A chassis whose entry module cannot be reached or identified is not scanned and the error is returned,
// failures on individual slots are recovered from and aggregated in ChassisResult.Errs.
func (s *Scanner) ScanBackplane(ctx context.Context, path string, sk sink.Sink) (*ChassisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w := &chassisWalk{
		Scanner: s,
		sink:    sk,
		path:    path,
		log:     s.logger.WithField("chassis", path),
		result:  &ChassisResult{},
	}

	sk.OnProgress(fmt.Sprintf("scanning chassis at %s", path))

	entry, err := s.identify(ctx, path)
	if err != nil {
		return nil, err
	}

	if err := w.resolveBackplane(ctx, entry); err != nil {
		return nil, err
	}

	switch {
	case codec.Classify(entry) == codec.FamilyFlexAdapter:
		w.flexRail(ctx, entry)
	case w.result.Backplane.Virtual:
		w.entryOnly(ctx, entry)
	default:
		if err := w.walkSlots(ctx, entry); err != nil {
			return nil, err
		}
	}

	w.result.Errs = w.errs.ErrorOrNil()

	chassis := w.result.Backplane.AsModule()
	s.emit(sk, &chassis)
	sk.OnBackplane(w.result.Backplane)

	w.log.WithFields(logrus.Fields{
		"serial":  w.result.Backplane.Serial,
		"slots":   w.result.Backplane.SlotCountString(),
		"virtual": w.result.Backplane.Virtual,
		"uplinks": len(w.result.Uplinks),
	}).Debug("chassis scanned")

	return w.result, nil
}

// resolveBackplane fills the backplane record from the chassis object, or synthesizes a virtual one
// when the entry module declines the query.
func (w *chassisWalk) resolveBackplane(ctx context.Context, entry codec.Identity) error {
	record := &w.result.Backplane
	record.Path = w.path

	status, err := w.backplaneStatus(ctx, w.path)
	if err == nil {
		record.Serial = status.Serial
		record.Rev = status.Rev()
		record.EntrySlot = model.IntPtr(int(status.ModuleAddress))

		// a zero slot count is treated as not reported
		if status.SlotCount > 0 {
			record.SlotCount = model.IntPtr(int(status.SlotCount))
		}

		return nil
	}

	if _, ok := transport.AsResponseError(err); !ok {
		return err
	}

	w.log.WithError(err).Debug("backplane status declined, using a virtual backplane")

	record.Serial = codec.InvertSerial(entry.SerialRaw)
	record.Rev = entry.Rev()
	record.Virtual = true
	record.EntrySlot = model.IntPtr(0)

	return nil
}

// entryOnly records the entry module as the only slot of a virtual backplane.
func (w *chassisWalk) entryOnly(ctx context.Context, entry codec.Identity) {
	w.present(ctx, entry, w.path, 0, true)
}

// flexRail records a Flex adapter and the I/O modules of its rail, the rail has no addressable slots.
func (w *chassisWalk) flexRail(ctx context.Context, entry codec.Identity) {
	module := moduleFromIdentity(entry, w.path)
	module.BackplaneSerial = w.result.Backplane.Serial
	module.Slot = model.IntPtr(*w.result.Backplane.EntrySlot)

	payload, err := w.probe(ctx, w.path, catalog.FlexModuleMap)
	if err == nil {
		var rail []codec.FlexModule

		rail, err = codec.DecodeFlexModuleMap(payload)
		if err != nil {
			malformed(catalog.FlexModuleMap)
		}

		for _, m := range rail {
			module.FlexModules = append(module.FlexModules, m.Name)
		}
	}

	if err != nil {
		w.recovered(w.path, err)
	}

	w.record(&module, true)
}

func (w *chassisWalk) walkSlots(ctx context.Context, entry codec.Identity) error {
	record := &w.result.Backplane
	known := record.SlotCount != nil

	limit := w.config.MaxSlots
	if known {
		limit = *record.SlotCount
	}

	for slot := 0; slot < limit; slot++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		slotPath := cippath.AppendBackplane(w.path, slot)

		// the entry module answered already
		if record.EntrySlot != nil && *record.EntrySlot == slot {
			w.present(ctx, entry, slotPath, slot, true)
			continue
		}

		id, err := w.identify(ctx, slotPath)
		if err == nil {
			w.present(ctx, id, slotPath, slot, false)
			continue
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if respErr, ok := transport.AsResponseError(err); ok {
			if name, end := matchEndOfChassis(respErr); end && !known {
				w.log.WithFields(logrus.Fields{"slot": slot, "sentinel": name}).Debug("end of chassis")
				break
			}

			w.empty(slotPath, slot)

			continue
		}

		if transport.IsConnectError(err) && !known {
			w.log.WithFields(logrus.Fields{"slot": slot, "err": err}).Debug("end of chassis on connect error")
			break
		}

		w.recovered(slotPath, err)
		w.unresponsive(slotPath, slot, err)
	}

	return nil
}

// present records a responding module, filling the family specific attributes.
func (w *chassisWalk) present(ctx context.Context, id codec.Identity, path string, slot int, entry bool) {
	module := moduleFromIdentity(id, path)
	module.BackplaneSerial = w.result.Backplane.Serial
	module.Slot = model.IntPtr(slot)

	switch codec.Classify(id) {
	case codec.FamilyBusInterface:
		module.BusNodeAddress = w.busNodeAddress(ctx, path)

		w.result.Uplinks = append(w.result.Uplinks, Uplink{
			Serial:      module.Serial,
			Slot:        slot,
			ModulePath:  path,
			SegmentPath: cippath.AppendBusSegment(w.path, slot),
			Entry:       entry,
		})
	case codec.FamilyController:
		module.ProgramName = w.programName(ctx, path)
	}

	w.record(&module, entry)
}

func (w *chassisWalk) busNodeAddress(ctx context.Context, path string) *int {
	payload, err := w.probe(ctx, path, catalog.BusNodeAddress)
	if err == nil {
		var node codec.BusNode

		if node, err = codec.DecodeBusNodeAddress(payload); err == nil {
			return model.IntPtr(int(node.Primary))
		}

		malformed(catalog.BusNodeAddress)
	}

	w.attributeFailed(path, catalog.BusNodeAddress, err)

	return nil
}

func (w *chassisWalk) programName(ctx context.Context, path string) string {
	payload, err := w.probe(ctx, path, catalog.ProgramName)
	if err == nil {
		var name string

		if name, err = codec.DecodeProgramName(payload); err == nil {
			return name
		}

		malformed(catalog.ProgramName)
	}

	w.attributeFailed(path, catalog.ProgramName, err)

	return ""
}

// attributeFailed leaves the attribute unset, only a declined request is not a communication error.
func (w *chassisWalk) attributeFailed(path string, tmpl catalog.Template, err error) {
	if _, ok := transport.AsResponseError(err); ok {
		w.log.WithFields(logrus.Fields{"path": path, "template": tmpl.Name}).Debug("attribute not supported")
		return
	}

	w.recovered(path, err)
}

func (w *chassisWalk) empty(path string, slot int) {
	module := model.EmptySlot(path, w.result.Backplane.Serial, slot)
	w.record(&module, false)
}

func (w *chassisWalk) unresponsive(path string, slot int, err error) {
	module := model.UnresponsiveSlot(path, w.result.Backplane.Serial, slot, err.Error())
	w.record(&module, false)
}

// record emits the slot record and adds it to the backplane slot list.
func (w *chassisWalk) record(module *model.Module, entry bool) {
	w.emit(w.sink, module)

	if entry {
		w.result.Entry = *module
	}

	w.result.Modules = append(w.result.Modules, *module)

	if module.Slot != nil {
		w.result.Backplane.Slots = append(w.result.Backplane.Slots, model.SlotRef{
			Slot:   *module.Slot,
			Serial: module.Serial,
			Name:   module.ProductName,
			State:  module.State,
		})
	}
}

// recovered reports a failure the walk continues past.
func (w *chassisWalk) recovered(path string, err error) {
	w.log.WithFields(logrus.Fields{"path": path, "err": err}).Warn("slot failed")
	w.sink.OnCommunicationError(path, err.Error())
	w.errs = multierror.Append(w.errs, err)
}
