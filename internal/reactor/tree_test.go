package reactor

import (
	"context"
	"encoding/json"
	"testing"
)

func putDir(t *testing.T, cas BlobStore, dir Directory) Digest {
	t.Helper()
	b, err := json.Marshal(dir)
	if err != nil {
		t.Fatalf("marshal directory: %v", err)
	}
	d, err := cas.Put(b)
	if err != nil {
		t.Fatalf("cas put: %v", err)
	}
	return d
}

func TestGetTreeWalksAllSubdirectories(t *testing.T) {
	cas := NewMemoryBlobStore()

	leafA := putDir(t, cas, Directory{Files: []FileNode{{Name: "a.txt"}}})
	leafB := putDir(t, cas, Directory{Files: []FileNode{{Name: "b.txt"}}})
	root := putDir(t, cas, Directory{
		Directories: []DirectoryNode{
			{Name: "a", Digest: leafA},
			{Name: "b", Digest: leafB},
		},
	})

	f := NewTreeFetcher(cas, JSONTreeCodec(), 10, 100, 4)
	dirs, next, err := f.GetTree(context.Background(), root, "", 0)
	if err != nil {
		t.Fatalf("GetTree: %v", err)
	}
	if next != "" {
		t.Fatalf("expected single page, got next token %q", next)
	}
	if len(dirs) != 3 {
		t.Fatalf("expected 3 directories (root + 2 children), got %d", len(dirs))
	}
}

func TestGetTreePaginates(t *testing.T) {
	cas := NewMemoryBlobStore()

	var children []DirectoryNode
	for i := 0; i < 5; i++ {
		leaf := putDir(t, cas, Directory{Files: []FileNode{{Name: string(rune('a' + i))}}})
		children = append(children, DirectoryNode{Digest: leaf})
	}
	root := putDir(t, cas, Directory{Directories: children})

	f := NewTreeFetcher(cas, JSONTreeCodec(), 2, 2, 4)

	var total int
	token := ""
	for {
		dirs, next, err := f.GetTree(context.Background(), root, token, 0)
		if err != nil {
			t.Fatalf("GetTree: %v", err)
		}
		if len(dirs) > 2 {
			t.Fatalf("page exceeded max size: got %d", len(dirs))
		}
		total += len(dirs)
		if next == "" {
			break
		}
		token = next
	}
	if total != 6 {
		t.Fatalf("expected 6 total directories across pages (root + 5 leaves), got %d", total)
	}
}

func TestGetTreeMissingDigestFails(t *testing.T) {
	cas := NewMemoryBlobStore()
	f := NewTreeFetcher(cas, JSONTreeCodec(), 10, 100, 4)

	_, _, err := f.GetTree(context.Background(), Digest{Hash: "does-not-exist"}, "", 0)
	if err == nil {
		t.Fatal("expected error resolving a digest absent from the CAS")
	}
}
