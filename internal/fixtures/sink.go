package fixtures

import (
	"sync"

	"github.com/metal-toolbox/logixinvent/internal/model"
)

// Failure is a communication error recorded by Recorder.
type Failure struct {
	Path   string
	Reason string
}

// Recorder is a sink keeping every notification in order.
type Recorder struct {
	mu sync.Mutex

	Modules    []model.Module
	Backplanes []model.BackplaneRecord
	Segments   []model.BusSegment
	Progress   []string
	BusNodes   []int
	Failures   []Failure
	Completed  int
}

func (r *Recorder) OnModule(m model.Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Modules = append(r.Modules, m)
}

func (r *Recorder) OnBackplane(b model.BackplaneRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Backplanes = append(r.Backplanes, b)
}

func (r *Recorder) OnBusSegment(s model.BusSegment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Segments = append(r.Segments, s)
}

func (r *Recorder) OnProgress(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Progress = append(r.Progress, text)
}

func (r *Recorder) OnCurrentBusNode(address int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.BusNodes = append(r.BusNodes, address)
}

func (r *Recorder) OnCommunicationError(path, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failures = append(r.Failures, Failure{Path: path, Reason: reason})
}

func (r *Recorder) OnScanComplete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Completed++
}

// BackplaneSerials returns the serial of every backplane reported, in order.
func (r *Recorder) BackplaneSerials() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	serials := make([]string, 0, len(r.Backplanes))
	for _, b := range r.Backplanes {
		serials = append(serials, b.Serial)
	}

	return serials
}

// FailedPaths returns the path of every communication error reported, in order.
func (r *Recorder) FailedPaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	paths := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		paths = append(paths, f.Path)
	}

	return paths
}
