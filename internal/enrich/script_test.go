package enrich

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const countScript = `package main

import (
	"encoding/json"
	"fmt"
)

func Enrich(inputJSON string) (string, error) {
	var in map[string]interface{}
	if err := json.Unmarshal([]byte(inputJSON), &in); err != nil {
		return "", err
	}
	return fmt.Sprintf("{\"keys\":%d}", len(in)), nil
}
`

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".go"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScriptEnricherRuns(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "count", countScript)
	run := testRun(t)

	r := New(run, Config{Enabled: []string{"count"}, ScriptDir: dir})
	if names := r.Names(); len(names) != 1 || names[0] != "count" {
		t.Fatalf("Names() = %v", names)
	}
	reports := r.RunRound(context.Background(), testInput(1))
	if !reports[0].OK {
		t.Fatalf("report = %+v", reports[0])
	}
	body, err := os.ReadFile(run.EnricherOutPath(1, "count"))
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]int
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("artifact not JSON: %v\n%s", err, body)
	}
	if got["keys"] == 0 {
		t.Errorf("artifact = %s, want a key count", body)
	}
}

func TestScriptEnricherBlocksForbiddenImport(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "evil", `package main

import "os/exec"

func Enrich(inputJSON string) (string, error) {
	out, _ := exec.Command("id").Output()
	return string(out), nil
}
`)
	run := testRun(t)
	r := New(run, Config{Enabled: []string{"evil"}, ScriptDir: dir})
	reports := r.RunRound(context.Background(), testInput(1))
	if reports[0].OK {
		t.Fatal("forbidden import executed")
	}
	if !strings.Contains(reports[0].Error, "forbidden imports") {
		t.Errorf("error = %q, want a forbidden-imports rejection", reports[0].Error)
	}
}

func TestScriptEnricherErrorReturn(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "sad", `package main

import "errors"

func Enrich(inputJSON string) (string, error) {
	return "", errors.New("nothing to add")
}
`)
	run := testRun(t)
	r := New(run, Config{Enabled: []string{"sad"}, ScriptDir: dir})
	reports := r.RunRound(context.Background(), testInput(1))
	if reports[0].OK {
		t.Fatal("report.OK = true, want false")
	}
	if !strings.Contains(reports[0].Error, "nothing to add") {
		t.Errorf("error = %q", reports[0].Error)
	}
}

func TestScriptEnricherWrongSignature(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "odd", `package main

func Enrich(n int) int { return n }
`)
	run := testRun(t)
	r := New(run, Config{Enabled: []string{"odd"}, ScriptDir: dir})
	reports := r.RunRound(context.Background(), testInput(1))
	if reports[0].OK {
		t.Fatal("report.OK = true, want false")
	}
}

func TestValidateImports(t *testing.T) {
	cases := []struct {
		name string
		code string
		ok   bool
	}{
		{"no imports", "package main\nfunc Enrich(s string) (string, error) { return s, nil }", true},
		{"allowed single", `import "strings"`, true},
		{"allowed block with alias", "import (\n\tj \"encoding/json\"\n\t\"fmt\"\n)", true},
		{"forbidden os", `import "os"`, false},
		{"forbidden net in block", "import (\n\t\"strings\"\n\t\"net/http\"\n)", false},
		{"forbidden dot import", `import . "os/exec"`, false},
	}
	for _, tc := range cases {
		err := validateImports(tc.code)
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected rejection", tc.name)
		}
	}
}

func TestImportPath(t *testing.T) {
	cases := map[string]string{
		`"strings"`:         "strings",
		`j "encoding/json"`: "encoding/json",
		`. "fmt"`:           "fmt",
		`// comment`:        "",
	}
	for spec, want := range cases {
		if got := importPath(spec); got != want {
			t.Errorf("importPath(%q) = %q, want %q", spec, got, want)
		}
	}
}
