package analysis

import (
	"github.com/mattsolo1/grove-analysis/pkg/resource"
)

// Source is the opaque handle a driver issues for a file it analyzes.
type Source interface {
	Path() string
}

// AnalysisOptions is the subset of an analysis-options file the engine and
// drivers care about.
type AnalysisOptions struct {
	// Exclude are root-relative globs of paths the context must not analyze.
	Exclude []string
}

// SourceFactory resolves package URIs for a context. Built by the context
// builder from the context's disposition; the engine passes it through to
// the driver untouched.
type SourceFactory interface {
	ResolvePackage(name string) (string, bool)
}

// Driver is the external analysis driver bound to a single context. The
// engine is the only mutator of a driver's file set.
type Driver interface {
	// AddFile hands a new file to the driver and returns its source handle.
	AddFile(path string) Source

	// ChangeFile tells the driver the file's content changed.
	ChangeFile(path string)

	// AddedFiles returns the paths currently known to the driver.
	AddedFiles() []string

	// Configure replaces the driver's options and source factory.
	Configure(options *AnalysisOptions, factory SourceFactory)
}

// ContextBuilder produces options and source factories for one folder.
type ContextBuilder interface {
	GetAnalysisOptions(folder string) (*AnalysisOptions, error)
	CreateSourceFactory(folder string, disposition FolderDisposition) SourceFactory
}

// DriverFactory is the set of callbacks through which the engine drives the
// external analysis machinery.
type DriverFactory interface {
	// AddAnalysisDriver creates the driver for a newly created context.
	AddAnalysisDriver(folder string, descriptorPath string, disposition FolderDisposition, options *AnalysisOptions) Driver

	// CreateContextBuilder returns a builder scoped to folder.
	CreateContextBuilder(folder string, options *AnalysisOptions) ContextBuilder

	// ApplyChangesToContext delivers a source delta to the context at folder.
	ApplyChangesToContext(folder string, changes *ChangeSet)

	// ApplyFileRemoved tells a driver one of its files disappeared.
	ApplyFileRemoved(driver Driver, path string)

	// RemoveContext tears down the context at folder. flushedFiles are the
	// files of the removed context not claimed by any surviving context.
	RemoveContext(folder string, flushedFiles []string)

	// BroadcastWatchEvent forwards a raw watch event to interested parties
	// before the engine processes it.
	BroadcastWatchEvent(event resource.WatchEvent)

	// AfterWatchEvent runs once the engine has fully processed an event.
	AfterWatchEvent(event resource.WatchEvent)

	// AnalysisOptionsUpdated signals that a driver was reconfigured.
	AnalysisOptionsUpdated(driver Driver)
}

// NotificationManager forwards diagnostics to the client. Implementations
// must treat repeated calls for the same path as an idempotent replace.
type NotificationManager interface {
	RecordAnalysisErrors(path string, errors []AnalysisError)
}
