package direnum

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func relPaths(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.RelPath
	}
	sort.Strings(out)
	return out
}

func TestChildrenWalksNestedTree(t *testing.T) {
	root := t.TempDir()
	must := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	must(os.Mkdir(filepath.Join(root, "sub"), 0o755))
	must(os.WriteFile(filepath.Join(root, "a.txt"), nil, 0o600))
	must(os.WriteFile(filepath.Join(root, "sub", "b.txt"), nil, 0o600))

	entries := Children(root)
	got := relPaths(entries)
	want := []string{"a.txt", "sub", "sub/b.txt"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	for _, e := range entries {
		if e.RelPath == "sub" && !e.IsDir {
			t.Fatalf("expected sub to be reported as a directory")
		}
		if e.RelPath == "a.txt" && e.IsDir {
			t.Fatalf("expected a.txt to be reported as a file")
		}
	}
}

func TestChildrenOfEmptyDirectoryIsEmpty(t *testing.T) {
	root := t.TempDir()
	if entries := Children(root); len(entries) != 0 {
		t.Fatalf("expected no entries, got %v", entries)
	}
}

func TestChildrenOfMissingDirectoryIsEmpty(t *testing.T) {
	if entries := Children(filepath.Join(t.TempDir(), "does-not-exist")); len(entries) != 0 {
		t.Fatalf("expected no entries, got %v", entries)
	}
}
