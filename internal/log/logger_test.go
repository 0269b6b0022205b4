package log

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{
		Component: ComponentRecurring,
		Handler:   slog.NewTextHandler(&buf, nil),
	})

	l.Info("processed", FieldEmitted, 3)

	out := buf.String()
	if !strings.Contains(out, "component=recurring") {
		t.Errorf("expected component in output, got %q", out)
	}
	if !strings.Contains(out, "emitted=3") {
		t.Errorf("expected emitted field in output, got %q", out)
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Component: ComponentApp, Handler: slog.NewTextHandler(&buf, nil)})

	child := l.WithComponent(ComponentSuggest)
	if child.Component() != ComponentSuggest {
		t.Errorf("Component() = %q, want %q", child.Component(), ComponentSuggest)
	}
	child.Warn("snapshot unreadable")
	if strings.Count(buf.String(), "component=") != 1 {
		t.Errorf("expected exactly one component attribute, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLogFields(t *testing.T) {
	f := NewFields().
		WithComponent(ComponentStorage).
		WithOperation(OpUpsert).
		WithError(errors.New("boom")).
		WithRecurring("id-1", "user-1", "Rent")

	if len(f.ToSlice()) != len(f)*2 {
		t.Errorf("ToSlice() length = %d, want %d", len(f.ToSlice()), len(f)*2)
	}
	if f[FieldError] != "boom" || f[FieldRecurringID] != "id-1" {
		t.Errorf("unexpected fields: %v", f)
	}
	if _, ok := NewFields().WithError(nil)[FieldError]; ok {
		t.Error("nil error should not add a field")
	}
}
