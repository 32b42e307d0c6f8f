package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/TheusHen/cocstress/coc/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zap.DebugLevel,
		"WARNING": zap.WarnLevel,
		"error":   zap.ErrorLevel,
		"":        zap.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupLoggerWritesFiles(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "nested", "plain.log")
	rotated := filepath.Join(dir, "rotated.log")

	for _, c := range []config.LogConfig{
		{Level: "debug", Format: "json", Outputs: []string{plain}},
		{Level: "info", Format: "console", Outputs: []string{"ignored.log"}, Rotation: config.RotationConfig{Enable: true, Filename: rotated}},
	} {
		log, err := SetupLogger(c)
		if err != nil {
			t.Fatalf("SetupLogger: %v", err)
		}
		log.Info("Total received: 20")
		_ = log.Sync()
	}

	for _, path := range []string{plain, rotated} {
		b, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		if !strings.Contains(string(b), "Total received: 20") {
			t.Fatalf("%s = %q", path, b)
		}
	}
	if _, err := os.Stat("ignored.log"); err == nil {
		t.Fatalf("rotation filename not preferred")
	}
}
