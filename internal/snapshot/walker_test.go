package snapshot

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/masfimg/masfimg/internal/policy"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestWalker builds a walker over source and a fresh staging dir.
func newTestWalker(t *testing.T, source string, rules []policy.Rule, globalLimit int64, excludes []string) (*Walker, string) {
	t.Helper()

	pol, err := policy.New(rules, globalLimit)
	if err != nil {
		t.Fatalf("policy.New: %v", err)
	}
	excl, err := policy.CompileExclusions(excludes)
	if err != nil {
		t.Fatalf("CompileExclusions: %v", err)
	}

	staging := t.TempDir()
	logger := discardLogger()
	return &Walker{
		Source:     source,
		Staging:    staging,
		Exclusions: excl,
		Policy:     pol,
		Cloner:     NewCloner(logger),
		Material:   NewMaterializer(logger),
		Logger:     logger,
	}, staging
}

// writeFile creates a file with content under dir, making parents.
func writeFile(t *testing.T, dir, rel string, content []byte, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", rel, err)
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
	return path
}

// relPathSet walks a tree and returns its relative path set.
func relPathSet(t *testing.T, root string) map[string]bool {
	t.Helper()
	paths := make(map[string]bool)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		paths[filepath.ToSlash(rel)] = true
		return nil
	})
	if err != nil {
		t.Fatalf("walking %s: %v", root, err)
	}
	return paths
}

func TestWalkSmallFileKeepsContent(t *testing.T) {
	source := t.TempDir()
	content := bytes.Repeat([]byte("x"), 50)
	writeFile(t, source, "a.txt", content, 0o644)

	w, staging := newTestWalker(t, source,
		[]policy.Rule{{Extensions: []string{".txt"}, MaxSize: 10 * 1024}}, 0, nil)

	result, err := w.Walk(context.Background())
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if result.Full != 1 {
		t.Errorf("Full = %d, want 1", result.Full)
	}

	staged := filepath.Join(staging, "a.txt")
	got, err := os.ReadFile(staged)
	if err != nil {
		t.Fatalf("read staged: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("staged content differs from source")
	}

	info, err := os.Stat(staged)
	if err != nil {
		t.Fatalf("stat staged: %v", err)
	}
	if info.Size() != 50 {
		t.Errorf("staged size = %d, want 50", info.Size())
	}
}

func TestWalkLargeFileBecomesSparse(t *testing.T) {
	source := t.TempDir()
	content := bytes.Repeat([]byte("v"), 512*1024)
	writeFile(t, source, "video.mp4", content, 0o644)

	w, staging := newTestWalker(t, source, nil, 0, nil)

	result, err := w.Walk(context.Background())
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if result.MetadataOnly != 1 {
		t.Errorf("MetadataOnly = %d, want 1", result.MetadataOnly)
	}

	staged := filepath.Join(staging, "video.mp4")
	info, err := os.Stat(staged)
	if err != nil {
		t.Fatalf("stat staged: %v", err)
	}
	if info.Size() != int64(len(content)) {
		t.Errorf("staged logical size = %d, want %d", info.Size(), len(content))
	}

	got, err := os.ReadFile(staged)
	if err != nil {
		t.Fatalf("read staged: %v", err)
	}
	for i, b := range got {
		if b != 0 {
			t.Fatalf("staged byte %d = %#x, want 0", i, b)
		}
	}
}

func TestWalkSymlinkReproducedNotFollowed(t *testing.T) {
	source := t.TempDir()
	writeFile(t, source, "target.dat", bytes.Repeat([]byte("t"), 4096), 0o644)
	if err := os.Symlink("target.dat", filepath.Join(source, "link")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	w, staging := newTestWalker(t, source, nil, 0, nil)
	if _, err := w.Walk(context.Background()); err != nil {
		t.Fatalf("Walk: %v", err)
	}

	got, err := os.Readlink(filepath.Join(staging, "link"))
	if err != nil {
		t.Fatalf("readlink staged: %v", err)
	}
	if got != "target.dat" {
		t.Errorf("staged link target = %q, want %q", got, "target.dat")
	}
}

func TestWalkBrokenSymlinkStillStaged(t *testing.T) {
	source := t.TempDir()
	if err := os.Symlink("does/not/exist", filepath.Join(source, "dangling")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	w, staging := newTestWalker(t, source, nil, 0, nil)
	result, err := w.Walk(context.Background())
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if result.Failed != 0 {
		t.Errorf("Failed = %d, want 0 (dangling links are valid metadata)", result.Failed)
	}

	got, err := os.Readlink(filepath.Join(staging, "dangling"))
	if err != nil {
		t.Fatalf("readlink staged: %v", err)
	}
	if got != "does/not/exist" {
		t.Errorf("staged link target = %q, want %q", got, "does/not/exist")
	}
}

func TestWalkUnreadableFileIsIsolated(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("running as root, permission checks are bypassed")
	}

	source := t.TempDir()
	writeFile(t, source, "good.txt", []byte("readable"), 0o644)
	writeFile(t, source, "bad.txt", []byte("unreadable"), 0o644)
	if err := os.Chmod(filepath.Join(source, "bad.txt"), 0o000); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { os.Chmod(filepath.Join(source, "bad.txt"), 0o644) })

	w, staging := newTestWalker(t, source,
		[]policy.Rule{{MaxSize: 1024}}, 0, nil)

	result, err := w.Walk(context.Background())
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("Failed = %d, want 1", result.Failed)
	}
	failed := result.FailedEntries()
	if len(failed) != 1 || failed[0].RelPath != "bad.txt" {
		t.Errorf("failed entries = %+v, want bad.txt", failed)
	}

	// The readable neighbor must still be staged with content.
	got, err := os.ReadFile(filepath.Join(staging, "good.txt"))
	if err != nil {
		t.Fatalf("read staged good.txt: %v", err)
	}
	if string(got) != "readable" {
		t.Errorf("good.txt content = %q", got)
	}

	// The failed file keeps its declared size, zero-filled.
	info, err := os.Stat(filepath.Join(staging, "bad.txt"))
	if err != nil {
		t.Fatalf("stat staged bad.txt: %v", err)
	}
	if info.Size() != int64(len("unreadable")) {
		t.Errorf("bad.txt staged size = %d, want %d", info.Size(), len("unreadable"))
	}
}

func TestWalkExclusionOmitsEntries(t *testing.T) {
	source := t.TempDir()
	writeFile(t, source, "secrets/key.pem", []byte("private"), 0o600)
	writeFile(t, source, "secrets/cert.pem", []byte("cert"), 0o644)
	writeFile(t, source, "public/readme.md", []byte("hello"), 0o644)

	w, staging := newTestWalker(t, source, []policy.Rule{{MaxSize: 1024}}, 0,
		[]string{"secrets/*"})

	result, err := w.Walk(context.Background())
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if result.Excluded != 2 {
		t.Errorf("Excluded = %d, want 2", result.Excluded)
	}

	staged := relPathSet(t, staging)
	if staged["secrets/key.pem"] || staged["secrets/cert.pem"] {
		t.Error("excluded entries appear in the staging tree")
	}
	if !staged["secrets"] {
		t.Error("secrets/* should keep the (empty) directory itself")
	}
	if !staged["public/readme.md"] {
		t.Error("unrelated entry missing from staging tree")
	}
}

func TestWalkExcludedDirectoryPrunesSubtree(t *testing.T) {
	// A bare directory name and dir/** both match the directory itself,
	// so either form prunes the whole subtree including the directory.
	patterns := []string{"build", "build/**"}

	for _, pattern := range patterns {
		t.Run(pattern, func(t *testing.T) {
			source := t.TempDir()
			writeFile(t, source, "build/out/app", []byte("bin"), 0o755)
			writeFile(t, source, "src/main.c", []byte("int main(){}"), 0o644)

			w, staging := newTestWalker(t, source, []policy.Rule{{MaxSize: 1024}}, 0,
				[]string{pattern})

			result, err := w.Walk(context.Background())
			if err != nil {
				t.Fatalf("Walk: %v", err)
			}
			// One exclusion record for the directory; children never visited.
			if result.Excluded != 1 {
				t.Errorf("Excluded = %d, want 1", result.Excluded)
			}

			staged := relPathSet(t, staging)
			if staged["build"] || staged["build/out"] || staged["build/out/app"] {
				t.Error("pruned subtree appears in the staging tree")
			}
			if !staged["src/main.c"] {
				t.Error("src/main.c missing from staging tree")
			}
		})
	}
}

func TestWalkPathSetSymmetry(t *testing.T) {
	source := t.TempDir()
	writeFile(t, source, "a/b/c.txt", []byte("deep"), 0o644)
	writeFile(t, source, "a/d.log", bytes.Repeat([]byte("l"), 2048), 0o644)
	writeFile(t, source, "e.bin", bytes.Repeat([]byte("b"), 100), 0o644)
	writeFile(t, source, "skip/me.txt", []byte("gone"), 0o644)

	w, staging := newTestWalker(t, source, []policy.Rule{{Extensions: []string{".txt"}, MaxSize: 1024}}, 0,
		[]string{"skip"})

	if _, err := w.Walk(context.Background()); err != nil {
		t.Fatalf("Walk: %v", err)
	}

	want := relPathSet(t, source)
	delete(want, "skip")
	delete(want, "skip/me.txt")
	got := relPathSet(t, staging)

	if len(got) != len(want) {
		t.Errorf("staging has %d paths, want %d", len(got), len(want))
	}
	for p := range want {
		if !got[p] {
			t.Errorf("missing from staging: %s", p)
		}
	}
	for p := range got {
		if !want[p] {
			t.Errorf("unexpected in staging: %s", p)
		}
	}
}

func TestWalkPreservesPermissionsAndTimestamps(t *testing.T) {
	source := t.TempDir()
	path := writeFile(t, source, "dir/script.sh", []byte("#!/bin/sh\n"), 0o755)

	mtime := time.Date(2019, 8, 20, 10, 0, 0, 0, time.UTC)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := os.Chtimes(filepath.Join(source, "dir"), mtime, mtime); err != nil {
		t.Fatalf("chtimes dir: %v", err)
	}

	w, staging := newTestWalker(t, source, []policy.Rule{{MaxSize: 1024}}, 0, nil)
	if _, err := w.Walk(context.Background()); err != nil {
		t.Fatalf("Walk: %v", err)
	}

	info, err := os.Stat(filepath.Join(staging, "dir/script.sh"))
	if err != nil {
		t.Fatalf("stat staged: %v", err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("staged perm = %o, want 755", info.Mode().Perm())
	}
	if !info.ModTime().Equal(mtime) {
		t.Errorf("staged mtime = %v, want %v", info.ModTime(), mtime)
	}

	// Directory attributes are applied after children, so they must
	// survive child creation.
	dirInfo, err := os.Stat(filepath.Join(staging, "dir"))
	if err != nil {
		t.Fatalf("stat staged dir: %v", err)
	}
	if !dirInfo.ModTime().Equal(mtime) {
		t.Errorf("staged dir mtime = %v, want %v", dirInfo.ModTime(), mtime)
	}
}

func TestWalkIdempotentAcrossStagingRoots(t *testing.T) {
	source := t.TempDir()
	writeFile(t, source, "keep.txt", []byte("small"), 0o644)
	writeFile(t, source, "drop.bin", bytes.Repeat([]byte("z"), 64*1024), 0o600)
	writeFile(t, source, "nested/also.txt", []byte("here"), 0o640)

	rules := []policy.Rule{{Extensions: []string{".txt"}, MaxSize: 1024}}

	w1, staging1 := newTestWalker(t, source, rules, 0, nil)
	w2, staging2 := newTestWalker(t, source, rules, 0, nil)

	if _, err := w1.Walk(context.Background()); err != nil {
		t.Fatalf("first walk: %v", err)
	}
	if _, err := w2.Walk(context.Background()); err != nil {
		t.Fatalf("second walk: %v", err)
	}

	set1 := relPathSet(t, staging1)
	set2 := relPathSet(t, staging2)
	if len(set1) != len(set2) {
		t.Fatalf("path sets differ: %d vs %d", len(set1), len(set2))
	}

	for rel := range set1 {
		if !set2[rel] {
			t.Errorf("path %s only in first staging tree", rel)
			continue
		}
		i1, err := os.Lstat(filepath.Join(staging1, rel))
		if err != nil {
			t.Fatalf("lstat: %v", err)
		}
		i2, err := os.Lstat(filepath.Join(staging2, rel))
		if err != nil {
			t.Fatalf("lstat: %v", err)
		}
		if i1.Size() != i2.Size() && i1.Mode().IsRegular() {
			t.Errorf("%s: size %d vs %d", rel, i1.Size(), i2.Size())
		}
		if i1.Mode() != i2.Mode() {
			t.Errorf("%s: mode %v vs %v", rel, i1.Mode(), i2.Mode())
		}
	}
}

func TestWalkCancelledContext(t *testing.T) {
	source := t.TempDir()
	writeFile(t, source, "a.txt", []byte("a"), 0o644)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w, _ := newTestWalker(t, source, nil, 1024, nil)
	if _, err := w.Walk(ctx); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestWalkEmptyFileAlwaysFull(t *testing.T) {
	source := t.TempDir()
	writeFile(t, source, "empty.mp4", nil, 0o644)

	// No rule matches .mp4 and the global limit is 0, yet a zero-byte
	// file has nothing to truncate.
	w, staging := newTestWalker(t, source, nil, 0, nil)
	result, err := w.Walk(context.Background())
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if result.Full != 1 {
		t.Errorf("Full = %d, want 1 (zero-byte file)", result.Full)
	}

	info, err := os.Stat(filepath.Join(staging, "empty.mp4"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("size = %d, want 0", info.Size())
	}
}
