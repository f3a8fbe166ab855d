package analysis

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"
)

// Severity of a diagnostic.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

// AnalysisError is a single diagnostic produced by a descriptor validator.
type AnalysisError struct {
	Path     string
	Message  string
	Line     int
	Severity Severity
}

// Basenames the engine recognizes. Everything else is either a source file
// or noise.
const (
	PubspecName  = "pubspec.yaml"
	PackagesName = ".packages"
	FixDataName  = "fix_data.yaml"
	ManifestName = "AndroidManifest.xml"
)

// pubspecModel is the subset of pubspec.yaml the validator checks.
type pubspecModel struct {
	Name            string         `yaml:"name"`
	Dependencies    map[string]any `yaml:"dependencies"`
	DevDependencies map[string]any `yaml:"dev_dependencies"`
}

// validatePubspec checks a pubspec.yaml for structural problems. The
// returned list replaces any prior diagnostics for the file.
func validatePubspec(path string, content []byte) []AnalysisError {
	errors := []AnalysisError{}

	var pubspec pubspecModel
	if err := yaml.Unmarshal(content, &pubspec); err != nil {
		return append(errors, AnalysisError{
			Path:     path,
			Message:  fmt.Sprintf("pubspec is not valid YAML: %v", err),
			Severity: SeverityError,
		})
	}

	if pubspec.Name == "" {
		errors = append(errors, AnalysisError{
			Path:     path,
			Message:  "pubspec is missing a package name",
			Severity: SeverityWarning,
		})
	}

	for section, deps := range map[string]map[string]any{
		"dependencies":     pubspec.Dependencies,
		"dev_dependencies": pubspec.DevDependencies,
	} {
		for name, value := range deps {
			switch value.(type) {
			case nil, string, map[string]any:
			default:
				errors = append(errors, AnalysisError{
					Path:     path,
					Message:  fmt.Sprintf("dependency %q in %s has an unexpected shape", name, section),
					Severity: SeverityWarning,
				})
			}
		}
	}

	return errors
}

// validatePackagesFile checks a .packages file: blank or duplicate package
// names and entries without a URI are reported.
func validatePackagesFile(path string, content []byte) []AnalysisError {
	errors := []AnalysisError{}
	seen := make(map[string]int)

	scanner := bufio.NewScanner(bytes.NewReader(content))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name, uri, ok := strings.Cut(line, ":")
		if !ok {
			errors = append(errors, AnalysisError{
				Path:     path,
				Message:  "entry has no ':' separator",
				Line:     lineNum,
				Severity: SeverityError,
			})
			continue
		}
		if name == "" {
			errors = append(errors, AnalysisError{
				Path:     path,
				Message:  "entry has an empty package name",
				Line:     lineNum,
				Severity: SeverityError,
			})
			continue
		}
		if strings.TrimSpace(uri) == "" {
			errors = append(errors, AnalysisError{
				Path:     path,
				Message:  fmt.Sprintf("package %q has an empty URI", name),
				Line:     lineNum,
				Severity: SeverityError,
			})
		}
		if prev, dup := seen[name]; dup {
			errors = append(errors, AnalysisError{
				Path:     path,
				Message:  fmt.Sprintf("package %q already declared on line %d", name, prev),
				Line:     lineNum,
				Severity: SeverityWarning,
			})
		} else {
			seen[name] = lineNum
		}
	}

	return errors
}

// optionsModel is the subset of an analysis-options file the engine reads.
type optionsModel struct {
	Analyzer struct {
		Exclude []string `yaml:"exclude"`
	} `yaml:"analyzer"`
}

// parseAnalysisOptions parses an options file into AnalysisOptions plus
// diagnostics. A parse failure yields default options so the context keeps
// working.
func parseAnalysisOptions(path string, content []byte) (*AnalysisOptions, []AnalysisError) {
	errors := []AnalysisError{}

	var model optionsModel
	if err := yaml.Unmarshal(content, &model); err != nil {
		errors = append(errors, AnalysisError{
			Path:     path,
			Message:  fmt.Sprintf("analysis options are not valid YAML: %v", err),
			Severity: SeverityError,
		})
		return &AnalysisOptions{}, errors
	}

	return &AnalysisOptions{Exclude: model.Analyzer.Exclude}, errors
}

// fixDataModel is the expected top-level shape of lib/fix_data.yaml.
type fixDataModel struct {
	Version    any   `yaml:"version"`
	Transforms []any `yaml:"transforms"`
}

// validateFixData checks a fix_data.yaml under lib/.
func validateFixData(path string, content []byte) []AnalysisError {
	errors := []AnalysisError{}

	var model fixDataModel
	if err := yaml.Unmarshal(content, &model); err != nil {
		return append(errors, AnalysisError{
			Path:     path,
			Message:  fmt.Sprintf("fix data is not valid YAML: %v", err),
			Severity: SeverityError,
		})
	}

	if model.Version == nil {
		errors = append(errors, AnalysisError{
			Path:     path,
			Message:  "fix data is missing a version",
			Severity: SeverityWarning,
		})
	}
	if len(model.Transforms) == 0 {
		errors = append(errors, AnalysisError{
			Path:     path,
			Message:  "fix data declares no transforms",
			Severity: SeverityWarning,
		})
	}

	return errors
}

// manifestModel is the subset of AndroidManifest.xml the validator reads.
type manifestModel struct {
	XMLName        xml.Name `xml:"manifest"`
	Package        string   `xml:"package,attr"`
	UsesPermission []struct {
		Name string `xml:"name,attr"`
	} `xml:"uses-permission"`
	UsesFeature []struct {
		Name     string `xml:"name,attr"`
		Required string `xml:"required,attr"`
	} `xml:"uses-feature"`
}

// validateManifest checks an AndroidManifest.xml.
func validateManifest(path string, content []byte) []AnalysisError {
	errors := []AnalysisError{}

	var model manifestModel
	if err := xml.Unmarshal(content, &model); err != nil {
		return append(errors, AnalysisError{
			Path:     path,
			Message:  fmt.Sprintf("manifest is not valid XML: %v", err),
			Severity: SeverityError,
		})
	}

	if model.Package == "" {
		errors = append(errors, AnalysisError{
			Path:     path,
			Message:  "manifest is missing the package attribute",
			Severity: SeverityWarning,
		})
	}
	for _, permission := range model.UsesPermission {
		if permission.Name == "" {
			errors = append(errors, AnalysisError{
				Path:     path,
				Message:  "uses-permission is missing android:name",
				Severity: SeverityWarning,
			})
		}
	}

	return errors
}
