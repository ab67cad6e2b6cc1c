package runtime

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestURLResolver(t *testing.T) {
	tests := []struct {
		name      string
		specifier string
		referrer  string
		want      string
		wantErr   bool
	}{
		{"relative", "./b.js", "file:///app/a.js", "file:///app/b.js", false},
		{"parent", "../lib/c.js", "file:///app/src/a.js", "file:///app/lib/c.js", false},
		{"root relative", "/x.js", "file:///app/a.js", "file:///x.js", false},
		{"directory referrer", "./main.js", "file:///app/", "file:///app/main.js", false},
		{"absolute", "https://example.com/m.js", "file:///app/a.js", "https://example.com/m.js", false},
		{"bare", "lodash", "file:///app/a.js", "", true},
		{"empty", "", "file:///app/a.js", "", true},
		{"relative referrer", "./b.js", "a.js", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := URLResolver{}.Resolve(tt.specifier, tt.referrer)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDirURL(t *testing.T) {
	got, err := DirURL("https://example.com/app")
	if err != nil || got != "https://example.com/app/" {
		t.Fatalf("DirURL(url) = %q, %v", got, err)
	}

	dir := t.TempDir()
	got, err = DirURL(dir)
	if err != nil {
		t.Fatalf("DirURL(dir): %v", err)
	}
	if !strings.HasPrefix(got, "file:///") || !strings.HasSuffix(got, "/") {
		t.Fatalf("DirURL(dir) = %q", got)
	}
}

func TestFileLoader(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "mod.js"), []byte("exports.x = 1;"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	base, err := DirURL(dir)
	if err != nil {
		t.Fatalf("DirURL: %v", err)
	}
	ctx := context.Background()

	src, err := FileLoader{}.Load(ctx, base+"mod.js")
	if err != nil || src != "exports.x = 1;" {
		t.Fatalf("load = %q, %v", src, err)
	}
	if _, err := (FileLoader{}).Load(ctx, base+"missing.js"); err == nil {
		t.Fatal("missing file should fail")
	}
	if _, err := (FileLoader{}).Load(ctx, "https://example.com/mod.js"); err == nil {
		t.Fatal("non-file scheme should fail")
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := (FileLoader{}).Load(canceled, base+"mod.js"); err == nil {
		t.Fatal("canceled context should fail")
	}
}

func TestMapLoader(t *testing.T) {
	l := NewMapLoader(map[string]string{"file:///a.js": "a"})
	l.Set("file:///b.js", "b")
	ctx := context.Background()

	for url, want := range map[string]string{"file:///a.js": "a", "file:///b.js": "b"} {
		got, err := l.Load(ctx, url)
		if err != nil || got != want {
			t.Fatalf("load %s = %q, %v", url, got, err)
		}
	}
	if _, err := l.Load(ctx, "file:///c.js"); err == nil {
		t.Fatal("unknown url should fail")
	}
}
