package inventory

import (
	"os"
	"path/filepath"
	"testing"
)

func TestClassifyExtension(t *testing.T) {
	cases := map[string]Kind{
		".jpg":  KindImage,
		".PNG":  KindOther, // caller must lowercase first
		".png":  KindImage,
		".mp4":  KindVideo,
		".webm": KindVideo,
		".txt":  KindOther,
		"":      KindOther,
	}
	for ext, want := range cases {
		if got := ClassifyExtension(ext); got != want {
			t.Errorf("ClassifyExtension(%q) = %v, want %v", ext, got, want)
		}
	}
}

func TestScanSkipsDupDirAndSymlinks(t *testing.T) {
	root := t.TempDir()
	dupDir := filepath.Join(root, "dups")
	if err := os.MkdirAll(dupDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dupDir, "ignored.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	sub := filepath.Join(root, "photos")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "a.jpg"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "b.mp4"), []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := os.Symlink(filepath.Join(sub, "a.jpg"), filepath.Join(sub, "link.jpg")); err == nil {
		// Symlink support varies by platform/filesystem; only assert if created.
	}

	records, errs := Scan([]string{root}, dupDir)
	if len(errs) != 0 {
		t.Fatalf("unexpected scan errors: %v", errs)
	}

	byPath := map[string]FileMetadata{}
	for _, r := range records {
		byPath[r.Path] = r
	}

	if _, found := byPath[filepath.Join(dupDir, "ignored.jpg")]; found {
		t.Error("expected dup-dir subtree to be skipped")
	}
	if _, found := byPath[filepath.Join(sub, "link.jpg")]; found {
		t.Error("expected symlinks to be skipped")
	}

	a, ok := byPath[filepath.Join(sub, "a.jpg")]
	if !ok {
		t.Fatal("expected a.jpg to be scanned")
	}
	if a.Kind != KindImage || a.Extension != ".jpg" {
		t.Errorf("a.jpg classified as %v/%q", a.Kind, a.Extension)
	}

	b, ok := byPath[filepath.Join(sub, "b.mp4")]
	if !ok {
		t.Fatal("expected b.mp4 to be scanned")
	}
	if b.Kind != KindVideo {
		t.Errorf("b.mp4 classified as %v", b.Kind)
	}
}

func TestIdentityEqual(t *testing.T) {
	a := Identity{Path: "p", Size: 1, MtimeNs: 2, Dev: 3, Ino: 4}
	b := a
	if !a.Equal(b) {
		t.Error("identical identities should be equal")
	}
	b.MtimeNs = 99
	if a.Equal(b) {
		t.Error("differing mtime should not be equal")
	}
}
