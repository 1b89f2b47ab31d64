package store

import (
	"context"
	"encoding/json"
	"os"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/metal-toolbox/logixinvent/internal/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

const (
	historyDir = "history"

	// UTC timestamp suffix of history copies, sortable by name.
	historyTimeFormat = "20060102T150405.000000000Z"
)

var (
	ErrFileStore = errors.New("error in file store")
)

// FileStore writes one snapshot file per system under a directory,
// every save also leaves a timestamped copy under the history subdirectory.
type FileStore struct {
	mu     sync.Mutex
	dir    string
	kind   model.StoreKind
	logger *logrus.Logger
	now    func() time.Time
}

// NewFileStore returns a store writing json or yaml snapshots under dir.
func NewFileStore(dir string, kind model.StoreKind, logger *logrus.Logger) (*FileStore, error) {
	if kind != model.StoreKindJSON && kind != model.StoreKindYAML {
		return nil, errors.Wrap(ErrStoreKind, string(kind))
	}

	if dir == "" {
		return nil, errors.Wrap(ErrFileStore, "store path required")
	}

	if err := os.MkdirAll(filepath.Join(dir, historyDir), 0o750); err != nil {
		return nil, errors.Wrap(ErrFileStore, err.Error())
	}

	return &FileStore{
		dir:    dir,
		kind:   kind,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (f *FileStore) ext() string {
	return "." + string(f.kind)
}

// fileName escapes the system name into a single path segment, distinct systems never share a file.
// Dots are escaped too so no name is hidden or resolves to a parent directory.
func fileName(system string) string {
	return strings.ReplaceAll(url.PathEscape(system), ".", "%2E")
}

func (f *FileStore) snapshotPath(system string) string {
	return filepath.Join(f.dir, fileName(system)+f.ext())
}

func (f *FileStore) marshal(topology *model.Topology) ([]byte, error) {
	if f.kind == model.StoreKindYAML {
		return yaml.Marshal(topology)
	}

	return json.MarshalIndent(topology, "", "  ")
}

func (f *FileStore) unmarshal(b []byte) (*model.Topology, error) {
	topology := &model.Topology{}

	var err error
	if f.kind == model.StoreKindYAML {
		err = yaml.Unmarshal(b, topology)
	} else {
		err = json.Unmarshal(b, topology)
	}

	if err != nil {
		return nil, err
	}

	return topology, nil
}

// writeFile replaces name with the contents written to a temporary file in the same directory.
func writeFile(name string, b []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(name), ".tmp-"+filepath.Base(name))
	if err != nil {
		return err
	}

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), name)
}

func (f *FileStore) SaveTopology(_ context.Context, topology *model.Topology) error {
	if err := validate(topology); err != nil {
		return err
	}

	b, err := f.marshal(topology)
	if err != nil {
		countError(f.kind)
		return errors.Wrap(ErrFileStore, err.Error())
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot := f.snapshotPath(topology.System)
	if err := writeFile(snapshot, b); err != nil {
		countError(f.kind)
		return errors.Wrap(ErrFileStore, err.Error())
	}

	history := filepath.Join(
		f.dir,
		historyDir,
		fileName(topology.System)+"-"+f.now().UTC().Format(historyTimeFormat)+f.ext(),
	)

	if err := writeFile(history, b); err != nil {
		countError(f.kind)
		return errors.Wrap(ErrFileStore, err.Error())
	}

	f.logger.WithFields(logrus.Fields{
		"system":  topology.System,
		"path":    snapshot,
		"modules": len(topology.Modules),
	}).Debug("topology saved")

	return nil
}

func (f *FileStore) load(name string) (*model.Topology, error) {
	b, err := os.ReadFile(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrNotFound, filepath.Base(name))
		}

		countError(f.kind)

		return nil, errors.Wrap(ErrFileStore, err.Error())
	}

	topology, err := f.unmarshal(b)
	if err != nil {
		countError(f.kind)
		return nil, errors.Wrap(ErrFileStore, name+": "+err.Error())
	}

	return topology, nil
}

func (f *FileStore) TopologyBySystem(_ context.Context, system string) (*model.Topology, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	topology, err := f.load(f.snapshotPath(system))
	if err != nil {
		return nil, err
	}

	if topology.System != system {
		return nil, errors.Wrap(ErrNotFound, "system "+system)
	}

	return topology, nil
}

// snapshots returns the snapshot files in the store directory.
func (f *FileStore) snapshots() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		countError(f.kind)
		return nil, errors.Wrap(ErrFileStore, err.Error())
	}

	files := []string{}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != f.ext() {
			continue
		}

		files = append(files, filepath.Join(f.dir, name))
	}

	return files, nil
}

func (f *FileStore) ModuleBySerial(_ context.Context, serial string) (*ModuleRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	files, err := f.snapshots()
	if err != nil {
		return nil, err
	}

	var found *ModuleRecord

	for _, name := range files {
		topology, err := f.load(name)
		if err != nil {
			f.logger.WithError(err).WithField("path", name).Warn("skipped unreadable snapshot")
			continue
		}

		if record, exists := moduleRecord(topology, serial); exists {
			found = latest(found, record)
		}
	}

	if found == nil {
		return nil, errors.Wrap(ErrNotFound, "module "+serial)
	}

	return found, nil
}

func (f *FileStore) Systems(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	files, err := f.snapshots()
	if err != nil {
		return nil, err
	}

	systems := []string{}

	for _, name := range files {
		topology, err := f.load(name)
		if err != nil {
			f.logger.WithError(err).WithField("path", name).Warn("skipped unreadable snapshot")
			continue
		}

		systems = append(systems, topology.System)
	}

	slices.Sort(systems)

	return systems, nil
}

// History returns the history copies of the system snapshot, oldest first.
func (f *FileStore) History(system string) ([]string, error) {
	prefix := fileName(system) + "-"

	matches, err := filepath.Glob(filepath.Join(f.dir, historyDir, prefix+"*"+f.ext()))
	if err != nil {
		return nil, errors.Wrap(ErrFileStore, err.Error())
	}

	// a system named like another system plus a suffix shares the glob prefix
	history := []string{}

	for _, match := range matches {
		stamp := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(match), prefix), f.ext())
		if _, err := time.Parse(historyTimeFormat, stamp); err == nil {
			history = append(history, match)
		}
	}

	slices.Sort(history)

	return history, nil
}

func (f *FileStore) Close() error {
	return nil
}
