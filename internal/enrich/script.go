package enrich

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// scriptEnricher interprets a Go source file instead of compiling it.
// The script must define Enrich(inputJSON string) (string, error) and may
// import only whitelisted stdlib packages; os, exec, net, and syscall
// stay out of reach.
type scriptEnricher struct {
	name string
	path string
}

var allowedImports = map[string]bool{
	"bytes":           true,
	"encoding/base64": true,
	"encoding/json":   true,
	"errors":          true,
	"fmt":             true,
	"math":            true,
	"path":            true,
	"path/filepath":   true,
	"regexp":          true,
	"sort":            true,
	"strconv":         true,
	"strings":         true,
	"time":            true,
	"unicode":         true,
	"unicode/utf8":    true,
}

func newScriptEnricher(name, path string) *scriptEnricher {
	return &scriptEnricher{name: name, path: path}
}

func (s *scriptEnricher) Name() string { return s.name }

func (s *scriptEnricher) Run(ctx context.Context, inputJSON string) (string, error) {
	code, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("script %s: %w", s.name, err)
	}
	if err := validateImports(string(code)); err != nil {
		return "", fmt.Errorf("script %s: %w", s.name, err)
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return "", fmt.Errorf("script %s: stdlib load: %w", s.name, err)
	}
	if _, err := i.Eval(wrapScript(string(code))); err != nil {
		return "", fmt.Errorf("script %s: eval: %w", s.name, err)
	}
	fn, err := i.Eval("main.Enrich")
	if err != nil {
		return "", fmt.Errorf("script %s: Enrich not found: %w", s.name, err)
	}
	enrich, ok := fn.Interface().(func(string) (string, error))
	if !ok {
		return "", fmt.Errorf("script %s: Enrich must be func(string) (string, error)", s.name)
	}

	// The interpreter offers no preemption, so the call runs on its own
	// goroutine and a timeout abandons it.
	outCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		out, err := enrich(inputJSON)
		if err != nil {
			errCh <- err
			return
		}
		outCh <- out
	}()
	select {
	case out := <-outCh:
		return out, nil
	case err := <-errCh:
		return "", fmt.Errorf("script %s: %w", s.name, err)
	case <-ctx.Done():
		return "", fmt.Errorf("script %s: %w", s.name, ctx.Err())
	}
}

// validateImports rejects any import outside the whitelist before the
// interpreter ever sees the code.
func validateImports(code string) error {
	var forbidden []string
	inBlock := false
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
			continue
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
			continue
		}
		var spec string
		if inBlock {
			spec = trimmed
		} else if strings.HasPrefix(trimmed, "import ") {
			spec = strings.TrimPrefix(trimmed, "import ")
		} else {
			continue
		}
		pkg := importPath(spec)
		if pkg == "" {
			continue
		}
		if !allowedImports[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports %v (allowed: %s)", forbidden, strings.Join(allowedList(), " "))
	}
	return nil
}

// importPath extracts the quoted path from an import spec line, which
// may carry an alias or dot import.
func importPath(spec string) string {
	start := strings.IndexByte(spec, '"')
	if start < 0 {
		return ""
	}
	rest := spec[start+1:]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return ""
	}
	return rest[:end]
}

func wrapScript(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return "package main\n\n" + code
}

func allowedList() []string {
	pkgs := make([]string, 0, len(allowedImports))
	for pkg := range allowedImports {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)
	return pkgs
}
