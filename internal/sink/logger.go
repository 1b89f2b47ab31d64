package sink

import (
	"strconv"

	"github.com/metal-toolbox/logixinvent/internal/metrics"
	"github.com/metal-toolbox/logixinvent/internal/model"
	"github.com/sirupsen/logrus"
)

// Logger writes discovery notifications to a logrus logger.
type Logger struct {
	logger *logrus.Entry
}

// NewLogger returns a logging sink, every entry carries the system name.
func NewLogger(logger *logrus.Logger, system string) *Logger {
	return &Logger{logger: logger.WithField("system", system)}
}

func (l *Logger) OnModule(module model.Module) {
	fields := logrus.Fields{
		"path":    module.Path,
		"product": module.ProductName,
		"state":   module.State,
	}

	if module.Serial != "" {
		fields["serial"] = module.Serial
		fields["rev"] = module.Rev()
	}

	if module.Slot != nil {
		fields["slot"] = *module.Slot
	}

	if module.BusNodeAddress != nil {
		fields["busNode"] = *module.BusNodeAddress
	}

	if module.ProgramName != "" {
		fields["program"] = module.ProgramName
	}

	l.logger.WithFields(fields).Info("module")
}

func (l *Logger) OnBackplane(backplane model.BackplaneRecord) {
	l.logger.WithFields(logrus.Fields{
		"serial":  backplane.Serial,
		"slots":   backplane.SlotCountString(),
		"rev":     backplane.Rev,
		"virtual": backplane.Virtual,
		"path":    backplane.Path,
	}).Info("backplane")
}

func (l *Logger) OnBusSegment(segment model.BusSegment) {
	l.logger.WithFields(logrus.Fields{
		"path":   segment.BasePath,
		"uplink": segment.UplinkSerial,
		"nodes":  len(segment.DiscoveredNodeAddresses),
	}).Info("bus segment")
}

func (l *Logger) OnProgress(text string) {
	l.logger.Info(text)
}

func (l *Logger) OnCurrentBusNode(address int) {
	l.logger.WithField("node", address).Trace("probing bus node")
}

func (l *Logger) OnCommunicationError(path, reason string) {
	l.logger.WithFields(logrus.Fields{
		"path": path,
		"err":  reason,
	}).Warn("communication error")
}

func (l *Logger) OnScanComplete() {
	l.logger.Info("scan complete")
}

// Metrics counts discovered records in prometheus.
type Metrics struct {
	Nop

	system string
}

// NewMetrics returns a metrics sink labelled with the system name.
func NewMetrics(system string) *Metrics {
	return &Metrics{system: system}
}

func (m *Metrics) OnModule(module model.Module) {
	metrics.ModulesDiscovered.WithLabelValues(m.system, string(module.State)).Inc()
}

func (m *Metrics) OnBackplane(backplane model.BackplaneRecord) {
	metrics.BackplanesDiscovered.WithLabelValues(m.system, strconv.FormatBool(backplane.Virtual)).Inc()
}

func (m *Metrics) OnBusSegment(model.BusSegment) {
	metrics.SegmentsScanned.WithLabelValues(m.system).Inc()
}

func (m *Metrics) OnCommunicationError(string, string) {
	metrics.CommunicationErrors.WithLabelValues(m.system).Inc()
}
