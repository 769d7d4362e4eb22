// Package loader reads an entry file and inlines its imports into a single
// Program.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oarkflow/errors"

	"github.com/oarkflow/svcl"
)

var ErrImportCycle = errors.New("import cycle")

// Bundle is the merged result of loading an entry file.
type Bundle struct {
	Program *svcl.Program
	// Files lists every loaded file in inlining order; the entry file is last.
	Files []string
	// Source is the concatenated text of all files.
	Source string
}

type loader struct {
	visiting map[string]bool
	done     map[string]bool
	stack    []string
	files    []string
	sources  strings.Builder
	merged   *svcl.Program
	origin   map[string]string
}

// Load parses path and every file it imports, directly or transitively.
// Import paths are relative to the importing file and each file is inlined
// once. Imported declarations precede the importer's.
func Load(path string) (*Bundle, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	l := &loader{
		visiting: map[string]bool{},
		done:     map[string]bool{},
		origin:   map[string]string{},
		merged: &svcl.Program{
			Functions: map[string]*svcl.FunctionDef{},
			Classes:   map[string]*svcl.ClassDef{},
			Models:    map[string]*svcl.ModelDef{},
		},
	}
	if err := l.load(abs, true); err != nil {
		return nil, err
	}
	return &Bundle{Program: l.merged, Files: l.files, Source: l.sources.String()}, nil
}

func (l *loader) load(path string, entry bool) error {
	if l.visiting[path] {
		chain := append(append([]string{}, l.stack...), path)
		for i := range chain {
			chain[i] = filepath.Base(chain[i])
		}
		return fmt.Errorf("%w: %s", ErrImportCycle, strings.Join(chain, " -> "))
	}
	if l.done[path] {
		return nil
	}
	l.visiting[path] = true
	l.stack = append(l.stack, path)
	defer func() {
		l.visiting[path] = false
		l.stack = l.stack[:len(l.stack)-1]
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	prog, err := svcl.Parse(string(data))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, imp := range prog.Imports {
		target := imp.Path
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(path), target)
		}
		if err := l.load(filepath.Clean(target), false); err != nil {
			return err
		}
	}
	if err := l.merge(path, prog, entry); err != nil {
		return err
	}
	l.done[path] = true
	l.files = append(l.files, path)
	if l.sources.Len() > 0 {
		l.sources.WriteString("\n")
	}
	fmt.Fprintf(&l.sources, "# file: %s\n", filepath.Base(path))
	l.sources.Write(data)
	return nil
}

func (l *loader) merge(path string, prog *svcl.Program, entry bool) error {
	name := filepath.Base(path)
	if prog.Server != nil {
		if !entry {
			return fmt.Errorf("%s: the 'server' declaration is only allowed in the entry file", name)
		}
		l.merged.Server = prog.Server
	}
	if entry {
		l.merged.Imports = prog.Imports
	}
	for _, d := range prog.Decls {
		switch decl := d.(type) {
		case *svcl.ImportDecl:
			continue
		case *svcl.FunctionDef:
			if err := l.claim("function", decl.Name, name); err != nil {
				return err
			}
			l.merged.Functions[decl.Name] = decl
		case *svcl.ClassDef:
			if err := l.claim("class", decl.Name, name); err != nil {
				return err
			}
			l.merged.Classes[decl.Name] = decl
		case *svcl.ModelDef:
			if err := l.claim("model", decl.Name, name); err != nil {
				return err
			}
			l.merged.Models[decl.Name] = decl
		case *svcl.EndpointDecl:
			l.merged.Endpoints = append(l.merged.Endpoints, decl)
		}
		l.merged.Decls = append(l.merged.Decls, d)
	}
	return nil
}

// claim records which file defined a named declaration.
func (l *loader) claim(kind, declName, file string) error {
	key := kind + ":" + declName
	if prev, exists := l.origin[key]; exists {
		return fmt.Errorf("%s: %s '%s' already defined in %s", file, kind, declName, prev)
	}
	l.origin[key] = file
	return nil
}
