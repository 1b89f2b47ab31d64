// Package sink receives the records and notifications produced during discovery.
package sink

import (
	"github.com/metal-toolbox/logixinvent/internal/model"
)

// Sink is notified of every discovered record and of scan progress.
//
// Calls for one discovery are made sequentially from the goroutine running it.
type Sink interface {
	OnModule(module model.Module)
	OnBackplane(backplane model.BackplaneRecord)
	OnBusSegment(segment model.BusSegment)
	OnProgress(text string)
	OnCurrentBusNode(address int)
	OnCommunicationError(path, reason string)
	OnScanComplete()
}

// ScanIdentifier is implemented by sinks labelling their output with the identifier of the running scan.
type ScanIdentifier interface {
	SetScanID(id string)
}

// SetScanID passes the scan identifier to sk when it accepts one.
func SetScanID(sk Sink, id string) {
	if s, ok := sk.(ScanIdentifier); ok {
		s.SetScanID(id)
	}
}

// Nop discards every notification, embed it to implement a subset of Sink.
type Nop struct{}

func (Nop) OnModule(model.Module) {}
func (Nop) OnBackplane(model.BackplaneRecord) {}
func (Nop) OnBusSegment(model.BusSegment) {}
func (Nop) OnProgress(string) {}
func (Nop) OnCurrentBusNode(int) {}
func (Nop) OnCommunicationError(string, string) {}
func (Nop) OnScanComplete() {}

// Multi fans notifications out to every sink in order.
type Multi []Sink

func (m Multi) SetScanID(id string) {
	for _, s := range m {
		SetScanID(s, id)
	}
}

func (m Multi) OnModule(module model.Module) {
	for _, s := range m {
		s.OnModule(module)
	}
}

func (m Multi) OnBackplane(backplane model.BackplaneRecord) {
	for _, s := range m {
		s.OnBackplane(backplane)
	}
}

func (m Multi) OnBusSegment(segment model.BusSegment) {
	for _, s := range m {
		s.OnBusSegment(segment)
	}
}

func (m Multi) OnProgress(text string) {
	for _, s := range m {
		s.OnProgress(text)
	}
}

func (m Multi) OnCurrentBusNode(address int) {
	for _, s := range m {
		s.OnCurrentBusNode(address)
	}
}

func (m Multi) OnCommunicationError(path, reason string) {
	for _, s := range m {
		s.OnCommunicationError(path, reason)
	}
}

func (m Multi) OnScanComplete() {
	for _, s := range m {
		s.OnScanComplete()
	}
}
