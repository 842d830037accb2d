package output

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	p := NewWithWriter(&buf)
	if p == nil {
		t.Fatal("NewWithWriter returned nil")
	}
	if p.isTTY {
		t.Error("a bytes.Buffer is not a terminal")
	}
}

func TestPrinter_Levels(t *testing.T) {
	// charmbracelet/log abbreviates level tags to four characters.
	tests := []struct {
		name string
		log  func(p *Printer)
		tag  string
	}{
		{"info", func(p *Printer) { p.Info("broker listening", "port", 1503) }, "INFO"},
		{"warn", func(p *Printer) { p.Warn("mcp backend skipped") }, "WARN"},
		{"error", func(p *Printer) { p.Error("dispatch failed") }, "ERRO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			p := NewWithWriter(&buf)
			tt.log(p)

			if !strings.Contains(buf.String(), tt.tag) {
				t.Errorf("output missing %s tag: %q", tt.tag, buf.String())
			}
		})
	}
}

func TestPrinter_DebugGate(t *testing.T) {
	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	p.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug must be off by default, got %q", buf.String())
	}

	p.SetDebug(true)
	p.Debug("worker spawned")
	if !strings.Contains(buf.String(), "DEBU") {
		t.Errorf("enabled debug missing from output: %q", buf.String())
	}

	buf.Reset()
	p.SetDebug(false)
	p.Debug("hidden again")
	if buf.Len() != 0 {
		t.Errorf("SetDebug(false) must re-gate debug, got %q", buf.String())
	}
}

func TestPrinter_RawOutput(t *testing.T) {
	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	p.Print("agent %s ready", "gpt_4o")
	if got := buf.String(); got != "agent gpt_4o ready" {
		t.Errorf("Print = %q", got)
	}

	buf.Reset()
	p.Println("done")
	if got := buf.String(); got != "done\n" {
		t.Errorf("Println = %q", got)
	}
}

func TestPrinter_BannerNonTTY(t *testing.T) {
	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	p.Banner("0.3.0")

	got := buf.String()
	if !strings.Contains(got, "cubicler 0.3.0") {
		t.Errorf("non-TTY banner should be the plain name and version, got %q", got)
	}
	if strings.Contains(got, `\__`) {
		t.Errorf("non-TTY banner must skip the ASCII logo, got %q", got)
	}
}

func TestPrinter_SectionNonTTY(t *testing.T) {
	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	p.Section("AGENTS")

	if got := buf.String(); got != "AGENTS\n" {
		t.Errorf("non-TTY section should be plain text, got %q", got)
	}
}
