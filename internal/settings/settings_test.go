package settings

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/readerd/internal/style"
	"go.uber.org/goleak"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaults(t *testing.T) {
	d := Defaults()
	if err := d.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if d.Theme() != style.DefaultTheme() {
		t.Errorf("default theme mismatch: %+v", d.Theme())
	}
	if d.MarkReadAsReading || d.StringToHTML || d.ResumeFirstUnread || !d.ShowChapterDivider {
		t.Errorf("unexpected default flags: %+v", d)
	}
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{"#000000", 0xFF000000, false},
		{"#ffffff", 0xFFFFFFFF, false},
		{"80112233", 0x80112233, false},
		{"#12345", 0, true},
		{"#GGGGGG", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseColor(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseColor(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseColor(%q) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"zero text size", func(s *Settings) { s.TextSize = 0 }},
		{"negative indent", func(s *Settings) { s.IndentSize = -1 }},
		{"negative spacing", func(s *Settings) { s.ParagraphSpacing = -0.5 }},
		{"bad marking", func(s *Settings) { s.MarkingType = "never" }},
		{"bad color", func(s *Settings) { s.ContainerColor = "white" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestStore_UpdateNotifies(t *testing.T) {
	s := NewMemory(Defaults(), testLogger())
	ch, cancel := s.Subscribe()
	defer cancel()

	got, err := s.Update(func(v *Settings) { v.TextSize = 20 })
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.TextSize != 20 || s.Snapshot().TextSize != 20 {
		t.Fatalf("update not applied: %+v", got)
	}
	select {
	case v := <-ch:
		if v.TextSize != 20 {
			t.Errorf("subscriber saw %v", v.TextSize)
		}
	default:
		t.Fatal("expected notification")
	}

	// No-op updates stay silent.
	if _, err := s.Update(func(v *Settings) {}); err != nil {
		t.Fatal(err)
	}
	select {
	case v := <-ch:
		t.Errorf("unexpected notification %+v", v)
	default:
	}
}

func TestStore_UpdateRejectsInvalid(t *testing.T) {
	s := NewMemory(Defaults(), testLogger())
	if _, err := s.Update(func(v *Settings) { v.MarkingType = "sometimes" }); err == nil {
		t.Fatal("expected error")
	}
	if s.Snapshot().MarkingType != MarkOnView {
		t.Error("invalid update must not be applied")
	}
}

func TestStore_LoadAndPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reader.yaml")
	s, err := Load(path, testLogger())
	if err != nil {
		t.Fatalf("Load missing file: %v", err)
	}
	if s.Snapshot() != Defaults() {
		t.Error("expected defaults for a missing file")
	}
	if _, err := s.Update(func(v *Settings) {
		v.MarkingType = MarkOnScroll
		v.UserCSS = "p > a { color: red; }"
	}); err != nil {
		t.Fatal(err)
	}

	reloaded, err := Load(path, testLogger())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got := reloaded.Snapshot()
	if got.MarkingType != MarkOnScroll || got.UserCSS != "p > a { color: red; }" {
		t.Errorf("settings not persisted: %+v", got)
	}
}

func TestStore_LoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reader.yaml")
	if err := os.WriteFile(path, []byte("text_size: 18\n"), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	got := s.Snapshot()
	if got.TextSize != 18 || !got.ShowChapterDivider || got.ParagraphSpacing != 1 {
		t.Errorf("unexpected settings %+v", got)
	}
}

func TestStore_LoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reader.yaml")
	if err := os.WriteFile(path, []byte("marking_type: whenever\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, testLogger()); err == nil || !strings.Contains(err.Error(), "marking_type") {
		t.Errorf("expected marking_type error, got %v", err)
	}
}

func TestStore_WatchReloads(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "reader.yaml")
	s, err := Load(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	s.debounce = 10 * time.Millisecond
	ch, cancel := s.Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if err := s.Watch(ctx); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.WriteFile(path, []byte("text_size: 22\nindent_size: 3\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case v := <-ch:
		if v.TextSize != 22 || v.IndentSize != 3 {
			t.Errorf("unexpected reload %+v", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	stop()
}

func TestStore_WatchWithoutFile(t *testing.T) {
	s := NewMemory(Defaults(), testLogger())
	if err := s.Watch(context.Background()); err == nil {
		t.Error("expected error for memory store")
	}
}
