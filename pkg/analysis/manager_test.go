package analysis

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/mattsolo1/grove-analysis/pkg/resource"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// staticProvider is the OS provider with watching disabled, so tests drive
// the state machine with synthetic events only.
type staticProvider struct {
	resource.Provider
}

func (p *staticProvider) Watch(folder string, onEvent func(resource.WatchEvent), onError func(error)) (io.Closer, error) {
	return nopCloser{}, nil
}

func newTestManager(t *testing.T) (*Manager, *RecordingFactory) {
	t.Helper()
	factory := NewRecordingFactory()
	provider := &staticProvider{Provider: resource.NewOSProvider(true)}
	mgr, err := NewManager(provider, factory, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return mgr, factory
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for relPath, content := range files {
		fullPath := filepath.Join(root, relPath)
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}
		if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write file %s: %v", relPath, err)
		}
	}
}

func contextFolders(mgr *Manager) []string {
	var folders []string
	for _, info := range mgr.Contexts() {
		folders = append(folders, info.Folder())
	}
	return folders
}

// treeSnapshot captures the structural state the refresh fixed-point test
// compares: folder -> owned sources.
func treeSnapshot(mgr *Manager) map[string][]string {
	snapshot := make(map[string][]string)
	for _, info := range mgr.Contexts() {
		snapshot[info.Folder()] = info.SourcePaths()
	}
	return snapshot
}

func TestManager_NestedDiscovery(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"pubspec.yaml":     "name: outer",
		"lib/x.dart":       "main() {}",
		"sub/pubspec.yaml": "name: inner",
		"sub/lib/y.dart":   "main() {}",
	})

	mgr, factory := newTestManager(t)
	if err := mgr.SetRoots([]string{root}, nil); err != nil {
		t.Fatalf("SetRoots failed: %v", err)
	}

	expected := []string{root, filepath.Join(root, "sub")}
	if got := contextFolders(mgr); !reflect.DeepEqual(got, expected) {
		t.Fatalf("Expected contexts %v, got %v", expected, got)
	}

	xPath := filepath.Join(root, "lib", "x.dart")
	yPath := filepath.Join(root, "sub", "lib", "y.dart")

	outer := factory.DriverAt(root)
	if !reflect.DeepEqual(outer.AddedFiles(), []string{xPath}) {
		t.Errorf("Expected outer driver to own only x.dart, got %v", outer.AddedFiles())
	}
	inner := factory.DriverAt(filepath.Join(root, "sub"))
	if !reflect.DeepEqual(inner.AddedFiles(), []string{yPath}) {
		t.Errorf("Expected inner driver to own only y.dart, got %v", inner.AddedFiles())
	}

	if mgr.DriverFor(yPath) != inner {
		t.Errorf("DriverFor(y.dart) should be the inner context's driver")
	}
	if mgr.DriverFor(xPath) != outer {
		t.Errorf("DriverFor(x.dart) should be the outer context's driver")
	}
}

func TestManager_SplitOnDescriptorAdd(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"pubspec.yaml":   "name: outer",
		"lib/x.dart":     "main() {}",
		"sub/lib/y.dart": "main() {}",
	})

	mgr, factory := newTestManager(t)
	if err := mgr.SetRoots([]string{root}, nil); err != nil {
		t.Fatalf("SetRoots failed: %v", err)
	}

	yPath := filepath.Join(root, "sub", "lib", "y.dart")
	outer := factory.DriverAt(root)
	if !contains(outer.AddedFiles(), yPath) {
		t.Fatalf("Expected y.dart in outer context before split, got %v", outer.AddedFiles())
	}

	descriptorPath := filepath.Join(root, "sub", "pubspec.yaml")
	writeFiles(t, root, map[string]string{"sub/pubspec.yaml": "name: inner"})
	mgr.OnWatchEvent(resource.WatchEvent{Type: resource.Add, Path: descriptorPath})

	expected := []string{root, filepath.Join(root, "sub")}
	if got := contextFolders(mgr); !reflect.DeepEqual(got, expected) {
		t.Fatalf("Expected contexts %v after split, got %v", expected, got)
	}

	if contains(outer.AddedFiles(), yPath) {
		t.Errorf("y.dart should have been removed from the outer driver")
	}
	inner := factory.DriverAt(filepath.Join(root, "sub"))
	if !contains(inner.AddedFiles(), yPath) {
		t.Errorf("y.dart should have been added to the inner driver, got %v", inner.AddedFiles())
	}
}

func TestManager_MergeOnDescriptorRemove(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"pubspec.yaml":     "name: outer",
		"lib/x.dart":       "main() {}",
		"sub/pubspec.yaml": "name: inner",
		"sub/lib/y.dart":   "main() {}",
	})

	mgr, factory := newTestManager(t)
	if err := mgr.SetRoots([]string{root}, nil); err != nil {
		t.Fatalf("SetRoots failed: %v", err)
	}

	descriptorPath := filepath.Join(root, "sub", "pubspec.yaml")
	if err := os.Remove(descriptorPath); err != nil {
		t.Fatalf("Failed to remove descriptor: %v", err)
	}
	mgr.OnWatchEvent(resource.WatchEvent{Type: resource.Remove, Path: descriptorPath})

	if got := contextFolders(mgr); !reflect.DeepEqual(got, []string{root}) {
		t.Fatalf("Expected only the root context after merge, got %v", got)
	}

	yPath := filepath.Join(root, "sub", "lib", "y.dart")
	outer := factory.DriverAt(root)
	if !contains(outer.AddedFiles(), yPath) {
		t.Errorf("y.dart should have migrated to the root driver, got %v", outer.AddedFiles())
	}

	if len(factory.Removed[filepath.Join(root, "sub")]) != 1 {
		t.Errorf("The merged context's driver should have been removed exactly once")
	}
}

func TestManager_ExclusionRescan(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"pubspec.yaml": "name: outer",
		"lib/x.dart":   "main() {}",
	})
	xPath := filepath.Join(root, "lib", "x.dart")

	mgr, factory := newTestManager(t)
	if err := mgr.SetRoots([]string{root}, nil); err != nil {
		t.Fatalf("SetRoots failed: %v", err)
	}
	driver := factory.DriverAt(root)
	if !contains(driver.AddedFiles(), xPath) {
		t.Fatalf("Expected x.dart before exclusion, got %v", driver.AddedFiles())
	}

	if err := mgr.SetRoots([]string{root}, []string{filepath.Join(root, "lib")}); err != nil {
		t.Fatalf("SetRoots with exclusion failed: %v", err)
	}
	if contains(driver.AddedFiles(), xPath) {
		t.Errorf("x.dart should have been removed by the exclusion")
	}

	if err := mgr.SetRoots([]string{root}, nil); err != nil {
		t.Fatalf("SetRoots removing exclusion failed: %v", err)
	}
	if !contains(driver.AddedFiles(), xPath) {
		t.Errorf("x.dart should have been re-added after the exclusion was lifted")
	}
}

func TestManager_DotFolderIgnored(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"pubspec.yaml": "name: outer",
		".tool/z.dart": "main() {}",
	})
	zPath := filepath.Join(root, ".tool", "z.dart")

	mgr, factory := newTestManager(t)
	if err := mgr.SetRoots([]string{root}, nil); err != nil {
		t.Fatalf("SetRoots failed: %v", err)
	}

	driver := factory.DriverAt(root)
	if contains(driver.AddedFiles(), zPath) {
		t.Errorf("Files in dot folders must never be added")
	}

	for _, eventType := range []resource.WatchEventType{resource.Add, resource.Modify} {
		mgr.OnWatchEvent(resource.WatchEvent{Type: eventType, Path: zPath})
	}
	if contains(driver.AddedFiles(), zPath) {
		t.Errorf("Watch events must not add files in dot folders")
	}
}

func TestManager_DocFolderIgnored(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"pubspec.yaml":    "name: outer",
		"doc/sample.dart": "main() {}",
		"lib/doc/d.dart":  "main() {}",
	})

	mgr, factory := newTestManager(t)
	if err := mgr.SetRoots([]string{root}, nil); err != nil {
		t.Fatalf("SetRoots failed: %v", err)
	}

	driver := factory.DriverAt(root)
	if contains(driver.AddedFiles(), filepath.Join(root, "doc", "sample.dart")) {
		t.Errorf("Top-level doc files must not be analyzed")
	}
	// The doc rule only applies at the top level of a context.
	if !contains(driver.AddedFiles(), filepath.Join(root, "lib", "doc", "d.dart")) {
		t.Errorf("Nested doc folders are ordinary folders, got %v", driver.AddedFiles())
	}
}

func TestManager_WatcherFailureRefreshConverges(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"pubspec.yaml":     "name: outer",
		"lib/x.dart":       "main() {}",
		"sub/pubspec.yaml": "name: inner",
		"sub/lib/y.dart":   "main() {}",
	})

	mgr, _ := newTestManager(t)
	if err := mgr.SetRoots([]string{root}, nil); err != nil {
		t.Fatalf("SetRoots failed: %v", err)
	}

	before := treeSnapshot(mgr)
	mgr.onWatcherError(root, errors.New("overflow"))
	after := treeSnapshot(mgr)

	if !reflect.DeepEqual(before, after) {
		t.Errorf("Refresh after watcher failure must converge to the same tree\nbefore: %v\nafter: %v", before, after)
	}
}

func TestManager_SetRootsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"pubspec.yaml": "name: outer",
		"lib/x.dart":   "main() {}",
	})

	mgr, factory := newTestManager(t)
	if err := mgr.SetRoots([]string{root}, nil); err != nil {
		t.Fatalf("SetRoots failed: %v", err)
	}

	changesBefore := len(factory.Changes[root])
	if err := mgr.SetRoots([]string{root}, nil); err != nil {
		t.Fatalf("Second SetRoots failed: %v", err)
	}
	if len(factory.Changes[root]) != changesBefore {
		t.Errorf("A second SetRoots with the same inputs must not emit ChangeSets")
	}
}

func TestManager_AddRemoveRoundTrip(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"pubspec.yaml": "name: outer",
		"lib/x.dart":   "main() {}",
	})

	mgr, factory := newTestManager(t)
	if err := mgr.SetRoots([]string{root}, nil); err != nil {
		t.Fatalf("SetRoots failed: %v", err)
	}
	driver := factory.DriverAt(root)
	before := driver.AddedFiles()

	newPath := filepath.Join(root, "lib", "new.dart")
	writeFiles(t, root, map[string]string{"lib/new.dart": "main() {}"})
	mgr.OnWatchEvent(resource.WatchEvent{Type: resource.Add, Path: newPath})
	if !contains(driver.AddedFiles(), newPath) {
		t.Fatalf("new.dart should have been added, got %v", driver.AddedFiles())
	}

	if err := os.Remove(newPath); err != nil {
		t.Fatalf("Failed to remove file: %v", err)
	}
	mgr.OnWatchEvent(resource.WatchEvent{Type: resource.Remove, Path: newPath})
	if !reflect.DeepEqual(driver.AddedFiles(), before) {
		t.Errorf("Add then remove must be a no-op, expected %v got %v", before, driver.AddedFiles())
	}
}

func TestManager_ModifyReachesAllDrivers(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"pubspec.yaml": "name: outer",
		"lib/x.dart":   "main() {}",
	})
	xPath := filepath.Join(root, "lib", "x.dart")

	mgr, factory := newTestManager(t)
	if err := mgr.SetRoots([]string{root}, nil); err != nil {
		t.Fatalf("SetRoots failed: %v", err)
	}

	mgr.OnWatchEvent(resource.WatchEvent{Type: resource.Modify, Path: xPath})
	if got := factory.DriverAt(root).ChangedFiles(); !reflect.DeepEqual(got, []string{xPath}) {
		t.Errorf("Expected the driver to see one change for x.dart, got %v", got)
	}
}

func TestManager_SplitReparentsDescendants(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"pubspec.yaml":        "name: outer",
		"x/lib/a.dart":        "main() {}",
		"x/sub/pubspec.yaml":  "name: deep",
		"x/sub/lib/deep.dart": "main() {}",
	})

	mgr, _ := newTestManager(t)
	if err := mgr.SetRoots([]string{root}, nil); err != nil {
		t.Fatalf("SetRoots failed: %v", err)
	}

	middle := filepath.Join(root, "x")
	descriptorPath := filepath.Join(middle, "pubspec.yaml")
	writeFiles(t, root, map[string]string{"x/pubspec.yaml": "name: middle"})
	mgr.OnWatchEvent(resource.WatchEvent{Type: resource.Add, Path: descriptorPath})

	var middleInfo *ContextInfo
	for _, info := range mgr.Contexts() {
		if info.Folder() == middle {
			middleInfo = info
		}
	}
	if middleInfo == nil {
		t.Fatalf("Expected a context at %s, got %v", middle, contextFolders(mgr))
	}

	children := middleInfo.Children()
	if len(children) != 1 || children[0].Folder() != filepath.Join(middle, "sub") {
		t.Errorf("The pre-existing deep context should have been re-parented under the new context, got %v", children)
	}
}

func TestManager_BothDescriptorKindsSingleContext(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"pubspec.yaml":     "name: outer",
		"sub/pubspec.yaml": "name: inner",
		"sub/.packages":    "inner:lib/",
		"sub/lib/y.dart":   "main() {}",
	})

	mgr, _ := newTestManager(t)
	if err := mgr.SetRoots([]string{root}, nil); err != nil {
		t.Fatalf("SetRoots failed: %v", err)
	}

	expected := []string{root, filepath.Join(root, "sub")}
	if got := contextFolders(mgr); !reflect.DeepEqual(got, expected) {
		t.Fatalf("A folder with both descriptor kinds is one context, got %v", got)
	}

	// The second kind arriving later must not extract again.
	mgr.OnWatchEvent(resource.WatchEvent{Type: resource.Add, Path: filepath.Join(root, "sub", "pubspec.yaml")})
	if got := contextFolders(mgr); !reflect.DeepEqual(got, expected) {
		t.Errorf("Re-delivered descriptor extracted a duplicate context: %v", got)
	}

	// Removing one kind while the other remains must not merge.
	if err := os.Remove(filepath.Join(root, "sub", "pubspec.yaml")); err != nil {
		t.Fatalf("Failed to remove pubspec: %v", err)
	}
	mgr.OnWatchEvent(resource.WatchEvent{Type: resource.Remove, Path: filepath.Join(root, "sub", "pubspec.yaml")})
	if got := contextFolders(mgr); !reflect.DeepEqual(got, expected) {
		t.Errorf("Context merged although a .packages descriptor remains: %v", got)
	}
}

func TestManager_BadRoot(t *testing.T) {
	root := t.TempDir()
	filePath := filepath.Join(root, "plain.txt")
	writeFiles(t, root, map[string]string{"plain.txt": "not a directory"})

	mgr, _ := newTestManager(t)
	err := mgr.SetRoots([]string{filePath}, nil)
	if !errors.Is(err, ErrBadRoot) {
		t.Errorf("Expected ErrBadRoot for a file root, got %v", err)
	}
}

func TestManager_MissingRootDropped(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"pubspec.yaml": "name: outer"})

	mgr, _ := newTestManager(t)
	missing := filepath.Join(root, "does-not-exist")
	if err := mgr.SetRoots([]string{root, missing}, nil); err != nil {
		t.Fatalf("A missing root must be dropped silently, got %v", err)
	}
	if got := contextFolders(mgr); !reflect.DeepEqual(got, []string{root}) {
		t.Errorf("Expected only the existing root, got %v", got)
	}
}

func TestManager_PackagesDispositionRecompute(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		".packages":  "alpha:lib/\n",
		"lib/x.dart": "main() {}",
	})
	descriptorPath := filepath.Join(root, ".packages")

	mgr, _ := newTestManager(t)
	if err := mgr.SetRoots([]string{root}, nil); err != nil {
		t.Fatalf("SetRoots failed: %v", err)
	}

	info := mgr.Contexts()[0]
	disposition, ok := info.Disposition().(*PackagesFileDisposition)
	if !ok {
		t.Fatalf("Expected a PackagesFileDisposition, got %T", info.Disposition())
	}
	if !reflect.DeepEqual(disposition.PackageNames(), []string{"alpha"}) {
		t.Fatalf("Expected package alpha, got %v", disposition.PackageNames())
	}

	writeFiles(t, root, map[string]string{".packages": "alpha:lib/\nbeta:vendor/beta/lib/\n"})
	mgr.OnWatchEvent(resource.WatchEvent{Type: resource.Modify, Path: descriptorPath})

	disposition, ok = info.Disposition().(*PackagesFileDisposition)
	if !ok {
		t.Fatalf("Expected a PackagesFileDisposition after recompute, got %T", info.Disposition())
	}
	if !reflect.DeepEqual(disposition.PackageNames(), []string{"alpha", "beta"}) {
		t.Errorf("Expected packages alpha and beta after recompute, got %v", disposition.PackageNames())
	}
}

func TestManager_OptionsExcludeIgnoresFiles(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"pubspec.yaml":          "name: outer",
		"analysis_options.yaml": "analyzer:\n  exclude:\n    - \"generated/**\"\n",
		"lib/x.dart":            "main() {}",
		"generated/g.dart":      "main() {}",
	})

	mgr, factory := newTestManager(t)
	if err := mgr.SetRoots([]string{root}, nil); err != nil {
		t.Fatalf("SetRoots failed: %v", err)
	}

	gPath := filepath.Join(root, "generated", "g.dart")
	driver := factory.DriverAt(root)
	if contains(driver.AddedFiles(), gPath) {
		t.Errorf("Excluded glob files must not be analyzed, got %v", driver.AddedFiles())
	}
	if !mgr.IsIgnored(gPath) {
		t.Errorf("IsIgnored should be true for a file matched by the context's exclude globs")
	}
	if mgr.IsIgnored(filepath.Join(root, "lib", "x.dart")) {
		t.Errorf("IsIgnored should be false for an ordinary source file")
	}
}

func TestManager_PublicLookups(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"pubspec.yaml":     "name: outer",
		"sub/pubspec.yaml": "name: inner",
	})

	mgr, factory := newTestManager(t)
	excluded := filepath.Join(root, "skip")
	if err := mgr.SetRoots([]string{root}, []string{excluded}); err != nil {
		t.Fatalf("SetRoots failed: %v", err)
	}

	drivers := mgr.DriversInRoot(root)
	if len(drivers) != 2 {
		t.Errorf("Expected two drivers under the root, got %d", len(drivers))
	}
	subDrivers := mgr.DriversInRoot(filepath.Join(root, "sub"))
	if len(subDrivers) != 1 || subDrivers[0] != factory.DriverAt(filepath.Join(root, "sub")) {
		t.Errorf("Expected exactly the inner driver for the sub folder")
	}

	if !mgr.IsInAnalysisRoot(filepath.Join(root, "lib", "a.dart")) {
		t.Errorf("A path under an included folder is in the analysis root")
	}
	if mgr.IsInAnalysisRoot(filepath.Join(excluded, "a.dart")) {
		t.Errorf("A path under an excluded folder is not in the analysis root")
	}
	if mgr.IsInAnalysisRoot(filepath.Join(t.TempDir(), "elsewhere.dart")) {
		t.Errorf("A path outside every included folder is not in the analysis root")
	}

	if mgr.DriverFor(filepath.Join(t.TempDir(), "elsewhere.dart")) != nil {
		t.Errorf("DriverFor outside the tree must be nil")
	}
}

func TestManager_RemovedRootFlushesFiles(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"pubspec.yaml": "name: outer",
		"lib/x.dart":   "main() {}",
	})

	mgr, factory := newTestManager(t)
	if err := mgr.SetRoots([]string{root}, nil); err != nil {
		t.Fatalf("SetRoots failed: %v", err)
	}
	if err := mgr.SetRoots(nil, nil); err != nil {
		t.Fatalf("SetRoots with no roots failed: %v", err)
	}

	if len(mgr.Contexts()) != 0 {
		t.Fatalf("Expected an empty tree, got %v", contextFolders(mgr))
	}
	removals := factory.Removed[root]
	if len(removals) != 1 {
		t.Fatalf("Expected one RemoveContext for the root, got %d", len(removals))
	}
	xPath := filepath.Join(root, "lib", "x.dart")
	if !reflect.DeepEqual(removals[0], []string{xPath}) {
		t.Errorf("Expected x.dart to be flushed, got %v", removals[0])
	}
}

func TestManager_ChangeSetsDisjoint(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"pubspec.yaml": "name: outer",
		"lib/x.dart":   "main() {}",
		"lib/y.dart":   "main() {}",
	})

	mgr, factory := newTestManager(t)
	if err := mgr.SetRoots([]string{root}, nil); err != nil {
		t.Fatalf("SetRoots failed: %v", err)
	}
	if err := mgr.SetRoots([]string{root}, []string{filepath.Join(root, "lib")}); err != nil {
		t.Fatalf("SetRoots failed: %v", err)
	}

	for folder, changeSets := range factory.Changes {
		for _, cs := range changeSets {
			seen := make(map[string]int)
			for _, path := range cs.Added {
				seen[path]++
			}
			for _, path := range cs.Changed {
				seen[path]++
			}
			for _, path := range cs.Removed {
				seen[path]++
			}
			for path, count := range seen {
				if count > 1 {
					t.Errorf("Path %s appears %d times in a ChangeSet for %s", path, count, folder)
				}
			}
		}
	}
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
