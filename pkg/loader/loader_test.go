package loader

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oarkflow/svcl"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoadInlinesImports(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"main.svcl":       "server 8080\nimport \"lib/math.svcl\"\nimport \"lib/text.svcl\"\nendpoint GET \"/sum\": add(1, 2)\n",
		"lib/math.svcl":   "import \"text.svcl\"\nfunc add(a, b): a + b\n",
		"lib/text.svcl":   "func shout(s): upper(s)\nendpoint GET \"/shout/:s\": shout(s)\n",
		"lib/unused.svcl": "func never(): 0\n",
	})
	bundle, err := Load(filepath.Join(dir, "main.svcl"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	prog := bundle.Program
	if prog.Server == nil || prog.Server.Port != 8080 {
		t.Fatalf("expected entry server declaration, got %#v", prog.Server)
	}
	if _, ok := prog.Functions["add"]; !ok {
		t.Fatal("expected add from lib/math.svcl")
	}
	if _, ok := prog.Functions["shout"]; !ok {
		t.Fatal("expected shout from lib/text.svcl")
	}
	if _, ok := prog.Functions["never"]; ok {
		t.Fatal("unimported file must not be loaded")
	}
	if len(prog.Endpoints) != 2 || prog.Endpoints[0].Path != "/shout/:s" || prog.Endpoints[1].Path != "/sum" {
		t.Fatalf("unexpected endpoint order %v", prog.Endpoints)
	}
	var names []string
	for _, f := range bundle.Files {
		names = append(names, filepath.Base(f))
	}
	if strings.Join(names, ",") != "text.svcl,math.svcl,main.svcl" {
		t.Fatalf("unexpected load order %v", names)
	}
	if len(prog.Imports) != 2 {
		t.Fatalf("expected entry imports to be kept, got %d", len(prog.Imports))
	}
	for _, d := range prog.Decls {
		if _, isImport := d.(*svcl.ImportDecl); isImport {
			t.Fatal("import declarations must not be merged")
		}
	}
	if !strings.Contains(bundle.Source, "# file: math.svcl") || !strings.Contains(bundle.Source, "func add(a, b)") {
		t.Fatalf("unexpected merged source:\n%s", bundle.Source)
	}

	out, err := svcl.Evaluate(t.Context(), prog, svcl.EndpointTarget(prog.Endpoints[1]), nil, nil)
	if err != nil || !out.Equal(svcl.Number(3)) {
		t.Fatalf("unexpected evaluation %v %v", out, err)
	}
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{
			name: "cycle",
			files: map[string]string{
				"main.svcl": "import \"a.svcl\"\n",
				"a.svcl":    "import \"b.svcl\"\n",
				"b.svcl":    "import \"a.svcl\"\n",
			},
			want: "main.svcl -> a.svcl -> b.svcl -> a.svcl",
		},
		{
			name: "duplicate function",
			files: map[string]string{
				"main.svcl": "import \"a.svcl\"\nfunc f(): 1\n",
				"a.svcl":    "func f(): 2\n",
			},
			want: "function 'f' already defined in a.svcl",
		},
		{
			name: "server in import",
			files: map[string]string{
				"main.svcl": "import \"a.svcl\"\n",
				"a.svcl":    "server 9000\n",
			},
			want: "only allowed in the entry file",
		},
		{
			name: "missing import",
			files: map[string]string{
				"main.svcl": "import \"nope.svcl\"\n",
			},
			want: "nope.svcl",
		},
		{
			name: "parse error",
			files: map[string]string{
				"main.svcl": "import \"a.svcl\"\n",
				"a.svcl":    "func (: 1\n",
			},
			want: "a.svcl",
		},
	}
	for _, tc := range cases {
		dir := writeFiles(t, tc.files)
		_, err := Load(filepath.Join(dir, "main.svcl"))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error containing %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestLoadCycleIsTyped(t *testing.T) {
	dir := writeFiles(t, map[string]string{"main.svcl": "import \"main.svcl\"\n"})
	_, err := Load(filepath.Join(dir, "main.svcl"))
	if !errors.Is(err, ErrImportCycle) {
		t.Fatalf("expected ErrImportCycle, got %v", err)
	}
}

func TestLoadParseErrorKeepsType(t *testing.T) {
	dir := writeFiles(t, map[string]string{"main.svcl": "endpoint GET \"/x\" 1\n"})
	_, err := Load(filepath.Join(dir, "main.svcl"))
	var perr *svcl.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *svcl.ParseError, got %T %v", err, err)
	}
	if !strings.Contains(err.Error(), "main.svcl") {
		t.Fatalf("expected file path in error, got %v", err)
	}
}
