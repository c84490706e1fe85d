package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func resetForTest() {
	loggersMu.Lock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
	loggersMu.Unlock()
	logsDir = ""
	setMu.Lock()
	settings = Settings{}
	setMu.Unlock()
}

func TestInitialize_ProductionModeIsSilent(t *testing.T) {
	defer resetForTest()
	root := t.TempDir()

	if err := Initialize(root, Settings{DebugMode: false}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	Round("should not be written")

	if _, err := os.Stat(filepath.Join(root, "logs")); !os.IsNotExist(err) {
		t.Error("logs directory should not exist in production mode")
	}
}

func TestInitialize_DebugModeWritesCategoryFile(t *testing.T) {
	defer resetForTest()
	root := t.TempDir()

	if err := Initialize(root, Settings{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	Seat("seat %d launched", 3)
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(root, "logs"))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}

	var seatLog string
	for _, e := range entries {
		if strings.Contains(e.Name(), "_seat.log") {
			seatLog = filepath.Join(root, "logs", e.Name())
		}
	}
	if seatLog == "" {
		t.Fatal("expected a seat category log file")
	}

	data, err := os.ReadFile(seatLog)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "seat 3 launched") {
		t.Errorf("log file missing message, got: %s", data)
	}
}

func TestCategoryFilter(t *testing.T) {
	defer resetForTest()
	root := t.TempDir()

	s := Settings{
		DebugMode:  true,
		Categories: map[string]bool{"router": false},
	}
	if err := Initialize(root, s); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	if IsCategoryEnabled(CategoryRouter) {
		t.Error("router category should be disabled")
	}
	if !IsCategoryEnabled(CategoryRound) {
		t.Error("unlisted categories should default to enabled")
	}
}

func TestLevelFilter(t *testing.T) {
	defer resetForTest()
	root := t.TempDir()

	if err := Initialize(root, Settings{DebugMode: true, Level: "warn"}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	l := Get(CategoryGovernor)
	l.Debug("hidden debug")
	l.Info("hidden info")
	l.Warn("visible warn")
	CloseAll()

	entries, _ := os.ReadDir(filepath.Join(root, "logs"))
	for _, e := range entries {
		if !strings.Contains(e.Name(), "_governor.log") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(root, "logs", e.Name()))
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		out := string(data)
		if strings.Contains(out, "hidden debug") || strings.Contains(out, "hidden info") {
			t.Errorf("below-level messages leaked: %s", out)
		}
		if !strings.Contains(out, "visible warn") {
			t.Errorf("warn message missing: %s", out)
		}
		return
	}
	t.Fatal("governor log file not found")
}

func TestJSONFormat(t *testing.T) {
	defer resetForTest()
	root := t.TempDir()

	if err := Initialize(root, Settings{DebugMode: true, JSONFormat: true}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	Ledger("appended entry %d", 7)
	CloseAll()

	entries, _ := os.ReadDir(filepath.Join(root, "logs"))
	for _, e := range entries {
		if !strings.Contains(e.Name(), "_ledger.log") {
			continue
		}
		data, _ := os.ReadFile(filepath.Join(root, "logs", e.Name()))
		if !strings.Contains(string(data), `"cat":"ledger"`) {
			t.Errorf("expected JSON entry, got: %s", data)
		}
		return
	}
	t.Fatal("ledger log file not found")
}
