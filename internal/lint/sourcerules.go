package lint

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Molefas/trikhub/internal/manifest"
)

// Module specifiers a trik source file must not import: filesystem, child
// process, and raw network access all bypass the gateway boundary.
var forbiddenModules = map[string]bool{
	"fs":                 true,
	"node:fs":            true,
	"fs/promises":        true,
	"node:fs/promises":   true,
	"child_process":      true,
	"node:child_process": true,
	"net":                true,
	"node:net":           true,
	"dgram":              true,
	"node:dgram":         true,
	"http":               true,
	"node:http":          true,
	"https":              true,
	"node:https":         true,
}

var (
	importRe      = regexp.MustCompile(`(?:import\s+(?:[\w{}*,\s]+\s+from\s+)?|require\s*\(\s*)['"]([^'"]+)['"]`)
	evalRe        = regexp.MustCompile(`\beval\s*\(`)
	newFunctionRe = regexp.MustCompile(`\bnew\s+Function\s*\(`)
	envAccessRe   = regexp.MustCompile(`\bprocess\.env\b`)
	toolCallRe    = regexp.MustCompile(`(?:invokeTool|tools\.(?:call|invoke))\s*\(\s*['"]([^'"]+)['"]`)
)

var sourceExtensions = map[string]bool{
	".js":  true,
	".mjs": true,
	".cjs": true,
	".ts":  true,
}

var skippedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
}

// sourceDiagnostics scans the source files of a same-runtime package for
// forbidden imports, dynamic code execution, undeclared tool usage, and
// direct environment access.
func sourceDiagnostics(dir string, m *manifest.Manifest) ([]Diagnostic, error) {
	declaredTools := make(map[string]bool, len(m.Capabilities.Tools))
	for _, tool := range m.Capabilities.Tools {
		declaredTools[tool] = true
	}

	var diags []Diagnostic
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !sourceExtensions[filepath.Ext(path)] {
			return nil
		}
		rel, _ := filepath.Rel(dir, path)
		fileDiags, err := scanSourceFile(path, rel, declaredTools)
		if err != nil {
			return err
		}
		diags = append(diags, fileDiags...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return diags, nil
}

func scanSourceFile(path, rel string, declaredTools map[string]bool) ([]Diagnostic, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var diags []Diagnostic
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "//") {
			continue
		}

		for _, match := range importRe.FindAllStringSubmatchIndex(line, -1) {
			module := line[match[2]:match[3]]
			if forbiddenModules[module] {
				diags = append(diags, Diagnostic{
					Rule:     RuleNoForbiddenImports,
					Severity: SeverityError,
					Message:  fmt.Sprintf("import of %q is not permitted in trik code", module),
					File:     rel,
					Line:     lineNo,
					Column:   match[2] + 1,
				})
			}
		}

		if loc := evalRe.FindStringIndex(line); loc != nil {
			diags = append(diags, Diagnostic{
				Rule:     RuleNoDynamicCode,
				Severity: SeverityError,
				Message:  "dynamic code execution via eval is not permitted",
				File:     rel,
				Line:     lineNo,
				Column:   loc[0] + 1,
			})
		}
		if loc := newFunctionRe.FindStringIndex(line); loc != nil {
			diags = append(diags, Diagnostic{
				Rule:     RuleNoDynamicCode,
				Severity: SeverityError,
				Message:  "dynamic code execution via the Function constructor is not permitted",
				File:     rel,
				Line:     lineNo,
				Column:   loc[0] + 1,
			})
		}

		for _, match := range toolCallRe.FindAllStringSubmatchIndex(line, -1) {
			tool := line[match[2]:match[3]]
			if !declaredTools[tool] {
				diags = append(diags, Diagnostic{
					Rule:     RuleUndeclaredToolUsage,
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("tool %q is used but not declared in capabilities.tools", tool),
					File:     rel,
					Line:     lineNo,
					Column:   match[2] + 1,
				})
			}
		}

		if loc := envAccessRe.FindStringIndex(line); loc != nil {
			diags = append(diags, Diagnostic{
				Rule:     RuleNoDirectEnvAccess,
				Severity: SeverityWarning,
				Message:  "direct environment access; declare configuration in the manifest instead",
				File:     rel,
				Line:     lineNo,
				Column:   loc[0] + 1,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return diags, nil
}
