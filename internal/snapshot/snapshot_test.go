package snapshot

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/masfimg/masfimg/internal/packager"
	"github.com/masfimg/masfimg/internal/policy"
)

// tarEntries reads an uncompressed tar image into a name->content map.
func tarEntries(t *testing.T, path string) map[string][]byte {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open image: %v", err)
	}
	defer f.Close()

	entries := make(map[string][]byte)
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("reading image: %v", err)
		}
		var content []byte
		if hdr.Typeflag == tar.TypeReg {
			content, err = io.ReadAll(tr)
			if err != nil {
				t.Fatalf("reading %s: %v", hdr.Name, err)
			}
		}
		entries[hdr.Name] = content
	}
	return entries
}

func TestManagerCreate(t *testing.T) {
	source := t.TempDir()
	writeFile(t, source, "notes/a.txt", []byte("kept"), 0o644)
	writeFile(t, source, "media/big.bin", bytes.Repeat([]byte("b"), 8192), 0o644)
	writeFile(t, source, "private/token", []byte("secret"), 0o600)

	stagingParent := t.TempDir()
	output := filepath.Join(t.TempDir(), "out.tar")

	mgr := NewManager(nil, discardLogger())
	report, err := mgr.Create(context.Background(), CreateOptions{
		Source:     source,
		Output:     output,
		Rules:      []policy.Rule{{Extensions: []string{".txt"}, MaxSize: 1024}},
		Excludes:   []string{"private/**"},
		StagingDir: stagingParent,
		Packager:   packager.Config{Type: "tar", Compression: "none"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if report.RunID == "" {
		t.Error("report missing run ID")
	}
	if report.ImageSHA256 == "" || len(report.ImageSHA256) != 64 {
		t.Errorf("image hash = %q, want 64 hex chars", report.ImageSHA256)
	}

	info, err := os.Stat(output)
	if err != nil {
		t.Fatalf("image not written: %v", err)
	}
	if info.Size() != report.ImageSize {
		t.Errorf("report size %d != image size %d", report.ImageSize, info.Size())
	}

	res := report.Result
	if res.Full != 1 {
		t.Errorf("Full = %d, want 1", res.Full)
	}
	if res.MetadataOnly != 3 { // notes/, media/, media/big.bin
		t.Errorf("MetadataOnly = %d, want 3", res.MetadataOnly)
	}
	if res.Excluded != 1 { // private/** matches the dir itself; subtree pruned
		t.Errorf("Excluded = %d, want 1", res.Excluded)
	}
	if res.Failed != 0 {
		t.Errorf("Failed = %d, want 0", res.Failed)
	}

	entries := tarEntries(t, output)
	if string(entries["notes/a.txt"]) != "kept" {
		t.Errorf("image content for notes/a.txt = %q", entries["notes/a.txt"])
	}
	if _, ok := entries["private/token"]; ok {
		t.Error("excluded file leaked into the image")
	}
	if _, ok := entries["private/"]; ok {
		t.Error("pruned directory leaked into the image")
	}

	// Staging tree is gone after a successful run.
	leftovers, err := os.ReadDir(stagingParent)
	if err != nil {
		t.Fatalf("read staging parent: %v", err)
	}
	if len(leftovers) != 0 {
		t.Errorf("staging not removed: %v", leftovers)
	}
}

func TestManagerCreatePackagingFailureRemovesStaging(t *testing.T) {
	source := t.TempDir()
	writeFile(t, source, "a.txt", []byte("x"), 0o644)

	stagingParent := t.TempDir()
	// Output inside a directory that does not exist: packaging fails.
	output := filepath.Join(t.TempDir(), "missing", "out.tar")

	mgr := NewManager(nil, discardLogger())
	_, err := mgr.Create(context.Background(), CreateOptions{
		Source:     source,
		Output:     output,
		StagingDir: stagingParent,
		Packager:   packager.Config{Type: "tar", Compression: "none"},
	})
	if err == nil {
		t.Fatal("expected packaging error")
	}

	if _, serr := os.Stat(output); !os.IsNotExist(serr) {
		t.Error("partial image left behind")
	}

	leftovers, err := os.ReadDir(stagingParent)
	if err != nil {
		t.Fatalf("read staging parent: %v", err)
	}
	if len(leftovers) != 0 {
		t.Errorf("staging not removed after failure: %v", leftovers)
	}
}

func TestManagerCreateRejectsBadInput(t *testing.T) {
	mgr := NewManager(nil, discardLogger())

	tests := []struct {
		name string
		opts CreateOptions
	}{
		{
			"missing source",
			CreateOptions{
				Source:   filepath.Join(t.TempDir(), "nope"),
				Output:   filepath.Join(t.TempDir(), "o.tar"),
				Packager: packager.Config{Type: "tar", Compression: "none"},
			},
		},
		{
			"source is a file",
			CreateOptions{
				Source:   writeFile(t, t.TempDir(), "f", []byte("x"), 0o644),
				Output:   filepath.Join(t.TempDir(), "o.tar"),
				Packager: packager.Config{Type: "tar", Compression: "none"},
			},
		},
		{
			"bad exclude pattern",
			CreateOptions{
				Source:   t.TempDir(),
				Output:   filepath.Join(t.TempDir(), "o.tar"),
				Excludes: []string{"[unclosed"},
				Packager: packager.Config{Type: "tar", Compression: "none"},
			},
		},
		{
			"unknown packager",
			CreateOptions{
				Source:   t.TempDir(),
				Output:   filepath.Join(t.TempDir(), "o.tar"),
				Packager: packager.Config{Type: "cpio"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := mgr.Create(context.Background(), tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPlanCreate(t *testing.T) {
	source := t.TempDir()
	writeFile(t, source, "a.txt", []byte("ten bytes."), 0o644)
	writeFile(t, source, "b.dat", bytes.Repeat([]byte("d"), 5000), 0o644)
	writeFile(t, source, "skip/c.txt", []byte("no"), 0o644)

	mgr := NewManager(nil, discardLogger())
	plan, err := mgr.PlanCreate(context.Background(), CreateOptions{
		Source:   source,
		Rules:    []policy.Rule{{Extensions: []string{".txt"}, MaxSize: 100}},
		Excludes: []string{"skip"},
	})
	if err != nil {
		t.Fatalf("PlanCreate: %v", err)
	}

	if plan.Entries != 2 {
		t.Errorf("Entries = %d, want 2", plan.Entries)
	}
	if plan.FullContent != 1 {
		t.Errorf("FullContent = %d, want 1", plan.FullContent)
	}
	if plan.MetadataOnly != 1 {
		t.Errorf("MetadataOnly = %d, want 1", plan.MetadataOnly)
	}
	if plan.Excluded != 1 {
		t.Errorf("Excluded = %d, want 1", plan.Excluded)
	}
	if plan.FullBytes != 10 {
		t.Errorf("FullBytes = %d, want 10", plan.FullBytes)
	}
	if plan.DeclaredBytes != 5010 {
		t.Errorf("DeclaredBytes = %d, want 5010", plan.DeclaredBytes)
	}
}
