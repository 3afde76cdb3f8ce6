package source

import (
	"path/filepath"
	"testing"
)

func TestDisplayPath(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		cwd      string
		want     string
	}{
		{"relative to cwd", "/home/dev/project/src/app/Screen.tsx", "/home/dev/project", "src/app/Screen.tsx"},
		{"nested src keeps last", "/home/dev/mono/packages/app/src/Home.tsx", "/home/dev/mono", "src/Home.tsx"},
		{"outside src", "/home/dev/project/App.tsx", "/home/dev/project", "App.tsx"},
		{"already relative", "lib/Widget.jsx", "/home/dev/project", "lib/Widget.jsx"},
		{"relative with src", "packages/ui/src/Button.tsx", "/x", "src/Button.tsx"},
		{"no cwd", "/abs/path/File.tsx", "", "/abs/path/File.tsx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DisplayPath(filepath.FromSlash(tt.filename), filepath.FromSlash(tt.cwd))
			if got != filepath.FromSlash(tt.want) {
				t.Errorf("DisplayPath(%q, %q) = %q, want %q", tt.filename, tt.cwd, got, tt.want)
			}
		})
	}
}

func TestLocationTarget(t *testing.T) {
	loc := Location{File: "src/Foo.tsx", Line: 10, Column: 2, Element: "View"}
	if got := loc.Target(); got != "src/Foo.tsx:10:2" {
		t.Errorf("Target() = %q", got)
	}
}

func TestFromValue(t *testing.T) {
	t.Run("json map", func(t *testing.T) {
		loc := FromValue(map[string]interface{}{
			"file":    "src/Foo.tsx",
			"line":    float64(10),
			"column":  float64(2),
			"element": "View",
		})
		if loc == nil {
			t.Fatal("expected location")
		}
		if loc.File != "src/Foo.tsx" || loc.Line != 10 || loc.Column != 2 || loc.Element != "View" {
			t.Errorf("unexpected location: %+v", loc)
		}
	})

	t.Run("stringified numbers", func(t *testing.T) {
		loc := FromValue(map[string]string{"file": "a.tsx", "line": "3", "column": "4"})
		if loc == nil || loc.Line != 3 || loc.Column != 4 {
			t.Errorf("unexpected location: %+v", loc)
		}
	})

	t.Run("typed", func(t *testing.T) {
		in := Location{File: "b.tsx", Line: 1}
		if loc := FromValue(in); loc == nil || *loc != in {
			t.Errorf("unexpected location: %+v", loc)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if loc := FromValue(map[string]interface{}{"line": 1}); loc != nil {
			t.Errorf("expected nil, got %+v", loc)
		}
	})

	t.Run("unrelated value", func(t *testing.T) {
		if loc := FromValue("src/Foo.tsx"); loc != nil {
			t.Errorf("expected nil, got %+v", loc)
		}
	})
}
