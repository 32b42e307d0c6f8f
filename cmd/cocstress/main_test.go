package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/TheusHen/cocstress/coc/identity"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestIdentityFromSeed(t *testing.T) {
	out, err := execute(t, "identity", "--log-level", "error", "bench-a")
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	want := identity.KeyPairFromSeed("bench-a").Address().String()
	if strings.TrimSpace(out) != want {
		t.Fatalf("identity = %q, want %q", out, want)
	}
}

func TestSimRunsScenario(t *testing.T) {
	out, err := execute(t, "sim", "--log-level", "error",
		"--peers", "3", "--messages", "4", "--sdu-len", "300", "--segment-buffers", "2")
	if err != nil {
		t.Fatalf("sim: %v\n%s", err, out)
	}
	if strings.Count(out, "received=4") != 3 {
		t.Fatalf("not every peripheral received 4 SDUs:\n%s", out)
	}
	if !strings.Contains(out, "remaining=0") {
		t.Fatalf("central did not finish:\n%s", out)
	}
}

func TestSimReportsDroppedLink(t *testing.T) {
	out, err := execute(t, "sim", "--log-level", "error",
		"--peers", "2", "--messages", "50", "--sdu-len", "1000",
		"--airtime", "200us", "--drop-link", "0", "--drop-after", "5ms")
	if err == nil {
		t.Fatalf("sim with a dropped link succeeded:\n%s", out)
	}
	if !strings.Contains(err.Error(), "link failure") {
		t.Fatalf("sim err = %v", err)
	}
}
