package analysis

import (
	"sort"
	"sync"

	"github.com/mattsolo1/grove-analysis/pkg/resource"
)

// RecordingFactory is the driver factory the binary ships with: drivers
// record their file sets and deltas instead of analyzing. It lets the whole
// engine run end to end without an analyzer attached, and doubles as the
// test double.
type RecordingFactory struct {
	mu      sync.Mutex
	drivers map[string]*RecordingDriver

	// Changes holds every ChangeSet delivered per folder, in order.
	Changes map[string][]*ChangeSet
	// Removed holds the flushed files of every removed context per folder.
	Removed map[string][][]string
	// Events counts broadcast watch events.
	Events int
}

// NewRecordingFactory returns an empty recording factory.
func NewRecordingFactory() *RecordingFactory {
	return &RecordingFactory{
		drivers: make(map[string]*RecordingDriver),
		Changes: make(map[string][]*ChangeSet),
		Removed: make(map[string][][]string),
	}
}

// EventCount returns how many watch events were broadcast.
func (f *RecordingFactory) EventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Events
}

// DriverAt returns the recording driver created for folder, or nil.
func (f *RecordingFactory) DriverAt(folder string) *RecordingDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drivers[folder]
}

func (f *RecordingFactory) AddAnalysisDriver(folder string, descriptorPath string, disposition FolderDisposition, options *AnalysisOptions) Driver {
	f.mu.Lock()
	defer f.mu.Unlock()
	driver := &RecordingDriver{
		folder:  folder,
		options: options,
		files:   make(map[string]bool),
	}
	f.drivers[folder] = driver
	return driver
}

func (f *RecordingFactory) CreateContextBuilder(folder string, options *AnalysisOptions) ContextBuilder {
	return &recordingBuilder{options: options}
}

func (f *RecordingFactory) ApplyChangesToContext(folder string, changes *ChangeSet) {
	f.mu.Lock()
	driver := f.drivers[folder]
	f.Changes[folder] = append(f.Changes[folder], changes)
	f.mu.Unlock()

	if driver == nil {
		return
	}
	for _, path := range changes.Added {
		driver.AddFile(path)
	}
	for _, path := range changes.Removed {
		driver.removeFile(path)
	}
}

func (f *RecordingFactory) ApplyFileRemoved(driver Driver, path string) {
	if d, ok := driver.(*RecordingDriver); ok {
		d.removeFile(path)
	}
}

func (f *RecordingFactory) RemoveContext(folder string, flushedFiles []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Removed[folder] = append(f.Removed[folder], flushedFiles)
	delete(f.drivers, folder)
}

func (f *RecordingFactory) BroadcastWatchEvent(event resource.WatchEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events++
}

func (f *RecordingFactory) AfterWatchEvent(event resource.WatchEvent) {}

func (f *RecordingFactory) AnalysisOptionsUpdated(driver Driver) {}

// RecordingDriver tracks the file set the engine hands it.
type RecordingDriver struct {
	mu      sync.Mutex
	folder  string
	options *AnalysisOptions
	files   map[string]bool
	changed []string
}

type recordedSource struct {
	path string
}

func (s *recordedSource) Path() string { return s.path }

func (d *RecordingDriver) AddFile(path string) Source {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[path] = true
	return &recordedSource{path: path}
}

func (d *RecordingDriver) ChangeFile(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.files[path] {
		d.changed = append(d.changed, path)
	}
}

func (d *RecordingDriver) AddedFiles() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	files := make([]string, 0, len(d.files))
	for path := range d.files {
		files = append(files, path)
	}
	sort.Strings(files)
	return files
}

func (d *RecordingDriver) Configure(options *AnalysisOptions, factory SourceFactory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.options = options
}

// ChangedFiles returns the paths ChangeFile was called with, in order.
func (d *RecordingDriver) ChangedFiles() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.changed...)
}

func (d *RecordingDriver) removeFile(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.files, path)
}

// recordingBuilder hands back the options it was created with and a source
// factory over the disposition's package map.
type recordingBuilder struct {
	options *AnalysisOptions
}

func (b *recordingBuilder) GetAnalysisOptions(folder string) (*AnalysisOptions, error) {
	return b.options, nil
}

func (b *recordingBuilder) CreateSourceFactory(folder string, disposition FolderDisposition) SourceFactory {
	if packages, ok := disposition.(*PackagesFileDisposition); ok {
		return &mapSourceFactory{packages: packages.Packages}
	}
	return &mapSourceFactory{}
}

type mapSourceFactory struct {
	packages map[string]string
}

func (f *mapSourceFactory) ResolvePackage(name string) (string, bool) {
	root, ok := f.packages[name]
	return root, ok
}
