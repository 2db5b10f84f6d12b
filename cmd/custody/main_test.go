package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunNoArgsPrintsUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := Run([]string{"custody"}, &out, &errOut); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
	if !strings.Contains(errOut.String(), "Usage:") {
		t.Error("usage not printed")
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := Run([]string{"custody", "teleport"}, &out, &errOut); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
	if !strings.Contains(errOut.String(), "Unknown command") {
		t.Error("unknown command not reported")
	}
}

func TestRunHelp(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := Run([]string{"custody", "help"}, &out, &errOut); code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	for _, cmd := range []string{"collect", "verify", "format-court", "inspect-package"} {
		if !strings.Contains(out.String(), cmd) {
			t.Errorf("help missing %s", cmd)
		}
	}
}

func TestVerifyRequiresEvidenceFlag(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := Run([]string{"custody", "verify"}, &out, &errOut); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
}
