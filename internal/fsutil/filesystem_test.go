package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_Exists(t *testing.T) {
	fsys := OSFileSystem{}

	if !fsys.Exists("filesystem.go") {
		t.Error("expected filesystem.go to exist")
	}
	if fsys.Exists("nonexistent_file_xyz.go") {
		t.Error("expected nonexistent file to not exist")
	}
}

func TestOSFileSystem_WriteFileAtomic(t *testing.T) {
	fsys := OSFileSystem{}
	dir := filepath.Join(t.TempDir(), "output", "sensitivity")

	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	target := filepath.Join(dir, "table.csv")
	if err := WriteFileAtomic(fsys, target, []byte("a,b\n"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}
	if fsys.Exists(target + ".tmp") {
		t.Error("temporary file should have been renamed away")
	}
	data, err := fsys.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "a,b\n" {
		t.Errorf("unexpected content %q", data)
	}
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := mfs.WriteFile("/test.txt", []byte("hello, world"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	data, err := mfs.ReadFile("/test.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "hello, world" {
		t.Errorf("expected %q, got %q", "hello, world", data)
	}
}

func TestMemoryFileSystem_Open(t *testing.T) {
	mfs := NewMemoryFileSystem()
	_ = mfs.WriteFile("/dir/report.csv", []byte("Name,GRID_MWhyr\n"), 0o644)

	f, err := mfs.Open("/dir/report.csv")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(data) != "Name,GRID_MWhyr\n" {
		t.Errorf("unexpected content %q", data)
	}
	info, err := f.Stat()
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Name() != "report.csv" || info.Size() != int64(len(data)) {
		t.Errorf("unexpected stat: name=%s size=%d", info.Name(), info.Size())
	}

	if _, err := mfs.Open("/missing.csv"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestMemoryFileSystem_MkdirAllAndExists(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := mfs.MkdirAll("/project/output/sensitivity", 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	for _, p := range []string{"/project", "/project/output", "/project/output/sensitivity"} {
		if !mfs.Exists(p) {
			t.Errorf("expected %s to exist", p)
		}
	}
	if mfs.Exists("/other") {
		t.Error("unexpected directory /other")
	}
}

func TestMemoryFileSystem_RenameAndRemove(t *testing.T) {
	mfs := NewMemoryFileSystem()
	_ = mfs.WriteFile("/a.tmp", []byte("x"), 0o644)

	if err := mfs.Rename("/a.tmp", "/a.csv"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if mfs.Exists("/a.tmp") || !mfs.Exists("/a.csv") {
		t.Errorf("rename did not move file: %v", mfs.Files())
	}
	if err := mfs.Rename("/nope", "/x"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
	if err := mfs.Remove("/a.csv"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := mfs.Remove("/a.csv"); err == nil {
		t.Error("expected error removing missing file")
	}
}

func TestMemoryFileSystem_FailWrites(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.FailWrites = "/readonly"

	if err := mfs.WriteFile("/readonly/architecture.csv", []byte("x"), 0o644); !errors.Is(err, fs.ErrPermission) {
		t.Errorf("expected ErrPermission, got %v", err)
	}
	if err := mfs.WriteFile("/writable/x", []byte("x"), 0o644); err != nil {
		t.Errorf("unexpected error outside failing prefix: %v", err)
	}
}

func TestMemoryFileSystem_DataIsolation(t *testing.T) {
	mfs := NewMemoryFileSystem()
	original := []byte("original")
	_ = mfs.WriteFile("/iso.txt", original, 0o644)

	original[0] = 'X'
	data, _ := mfs.ReadFile("/iso.txt")
	if string(data) != "original" {
		t.Errorf("stored data changed with caller buffer: %q", data)
	}

	data[0] = 'Y'
	again, _ := mfs.ReadFile("/iso.txt")
	if string(again) != "original" {
		t.Errorf("stored data changed with returned buffer: %q", again)
	}
}

func TestWriteFileAtomic_MemoryFailure(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.FailWrites = "/out"

	err := WriteFileAtomic(mfs, "/out/table.csv", []byte("x"), 0o644)
	if err == nil {
		t.Fatal("expected error")
	}
	if mfs.Exists("/out/table.csv") {
		t.Error("target should not exist after failed write")
	}
}
