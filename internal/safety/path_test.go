package safety

import (
	"strings"
	"testing"
)

func TestCleanRelativePath(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"simple", "a/b/c.txt", "a/b/c.txt", false},
		{"cleans redundant segments", "a//b/./c.txt", "a/b/c.txt", false},
		{"empty", "", "", true},
		{"dot", ".", "", true},
		{"absolute", "/etc/passwd", "", true},
		{"parent", "..", "", true},
		{"parent prefix", "../escape.txt", "", true},
		{"interior parent resolving out", "a/../../escape", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CleanRelativePath(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("CleanRelativePath(%q) = %q, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("CleanRelativePath(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("CleanRelativePath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestJoinUnderRoot(t *testing.T) {
	root := t.TempDir()

	okPath, err := JoinUnderRoot(root, "a/b/c.txt")
	if err != nil {
		t.Fatalf("JoinUnderRoot returned error: %v", err)
	}
	if !strings.HasPrefix(okPath, root) {
		t.Fatalf("path %q is not under root %q", okPath, root)
	}

	if _, err := JoinUnderRoot(root, "../escape.txt"); err == nil {
		t.Fatal("expected traversal path to fail")
	}
	if _, err := JoinUnderRoot(root, "/abs/path.txt"); err == nil {
		t.Fatal("expected absolute path to fail")
	}
}
