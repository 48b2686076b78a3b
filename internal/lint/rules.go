package lint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/h2non/filetype"
	"github.com/tidwall/gjson"

	"github.com/Molefas/trikhub/internal/manifest"
)

// maxReasonableExecutionTimeMs flags triks that ask for unusually long
// execution windows.
const maxReasonableExecutionTimeMs = 120000

// completenessDiagnostics reports missing optional metadata and suspicious
// limits. Probes use the raw document so absent fields are distinguishable
// from empty ones.
func completenessDiagnostics(raw []byte, m *manifest.Manifest, file string) []Diagnostic {
	var diags []Diagnostic

	for _, field := range []string{"author", "repository", "license"} {
		if !gjson.GetBytes(raw, field).Exists() {
			diags = append(diags, Diagnostic{
				Rule:     RuleManifestCompleteness,
				Severity: SeverityInfo,
				Message:  fmt.Sprintf("optional field %q is not set", field),
				File:     file,
			})
		}
	}

	if execMs := gjson.GetBytes(raw, "limits.maxExecutionTimeMs"); execMs.Exists() && execMs.Int() > maxReasonableExecutionTimeMs {
		diags = append(diags, Diagnostic{
			Rule:     RuleManifestCompleteness,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("maxExecutionTimeMs is unusually high (%d ms > %d ms)", execMs.Int(), maxReasonableExecutionTimeMs),
			File:     file,
		})
	}

	if v, err := semver.NewVersion(m.Version); err == nil && v.Prerelease() != "" {
		diags = append(diags, Diagnostic{
			Rule:     RuleManifestCompleteness,
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("version %q is a prerelease", m.Version),
			File:     file,
		})
	}

	return diags
}

// defaultTemplateDiagnostics recommends a deterministic fallback template.
// Template selection falls back to the entry named "success" when the action
// does not return a template field; an action with several templates and no
// such entry can fail at runtime.
func defaultTemplateDiagnostics(m *manifest.Manifest, file string) []Diagnostic {
	var diags []Diagnostic

	names := make([]string, 0, len(m.Actions))
	for name := range m.Actions {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		action := m.Actions[name]
		if action.ResponseMode != "template" || len(action.ResponseTemplates) <= 1 {
			continue
		}
		if _, ok := action.ResponseTemplates["success"]; ok {
			continue
		}
		diags = append(diags, Diagnostic{
			Rule:     RuleDefaultTemplateRecommended,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("action %q has multiple templates but none named \"success\"; add one as the default", name),
			File:     file,
		})
	}
	return diags
}

// entryPointDiagnostics asserts the compiled entry artifact is present.
// In-process (host runtime) entries resolve from the registration table, not
// the filesystem, so only an informational note is produced for them.
func entryPointDiagnostics(m *manifest.Manifest, layout *packageLayout) []Diagnostic {
	if m.Entry.EffectiveRuntime() == manifest.HostRuntime {
		return []Diagnostic{{
			Rule:     RuleEntryPointExists,
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("entry %q resolves from the in-process registry; no artifact check performed", m.Entry.Module),
			File:     "manifest.json",
		}}
	}

	entryPath := filepath.Join(layout.manifestDir, filepath.Clean(m.Entry.Module))
	info, err := os.Stat(entryPath)
	if err != nil || info.IsDir() {
		return []Diagnostic{{
			Rule:     RuleEntryPointExists,
			Severity: SeverityError,
			Message:  fmt.Sprintf("entry point not found: %s", m.Entry.Module),
			File:     m.Entry.Module,
		}}
	}

	if filepath.Ext(entryPath) == "" {
		return sniffBinaryDiagnostics(entryPath, m.Entry.Module)
	}
	return nil
}

// executable binary types recognised by the artifact sniffer
var binaryTypes = map[string]bool{
	"elf":   true, // Linux
	"macho": true, // macOS
	"exe":   true, // Windows
}

// sniffBinaryDiagnostics checks that an extension-less entry artifact is an
// actual executable binary.
func sniffBinaryDiagnostics(path, module string) []Diagnostic {
	f, err := os.Open(path)
	if err != nil {
		return []Diagnostic{{
			Rule:     RuleEntryPointExists,
			Severity: SeverityError,
			Message:  fmt.Sprintf("cannot open entry point %s: %v", module, err),
			File:     module,
		}}
	}
	defer f.Close()

	header := make([]byte, 261)
	n, err := f.Read(header)
	if err != nil && n == 0 {
		return []Diagnostic{{
			Rule:     RuleEntryPointExists,
			Severity: SeverityError,
			Message:  fmt.Sprintf("cannot read entry point %s: %v", module, err),
			File:     module,
		}}
	}

	kind, err := filetype.Match(header[:n])
	if err != nil || kind == filetype.Unknown || !binaryTypes[kind.Extension] {
		return []Diagnostic{{
			Rule:     RuleEntryPointExists,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("entry point %s does not look like an executable binary", module),
			File:     module,
		}}
	}
	return nil
}
