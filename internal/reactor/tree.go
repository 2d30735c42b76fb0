package reactor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/remoteexec/rexecd/internal/parallel"
)

// TreeCodec decodes a CAS blob into a Directory. A full deployment would
// unmarshal the build.bazel.remote.execution.v2.Directory protobuf message;
// that generated type is out of scope for this core (§1), so callers
// supply their own decode, matching the Marshaler[V] seam used by
// DelegateCASMap.
type TreeCodec interface {
	Decode(b []byte) (Directory, error)
}

// TreeFetcher resolves the full recursive directory tree rooted at a
// digest: component I's BlobStore walked breadth-first, then paginated the
// way listOperations pages the in-flight set (§4.H), capped by the
// config's treeDefaultPageSize/treeMaxPageSize (§6). Each level's child
// digests are resolved concurrently via the parallel package, since an
// input root can reference thousands of subdirectories and resolving them
// one at a time would serialize on CAS round-trips for no reason.
type TreeFetcher struct {
	cas         BlobStore
	codec       TreeCodec
	defaultSize int
	maxSize     int
	fanOut      int
}

// NewTreeFetcher returns a TreeFetcher backed by cas. defaultSize/maxSize
// mirror config.TreeDefaultPageSize/TreeMaxPageSize; fanOut bounds how
// many sibling directories are fetched concurrently per level.
func NewTreeFetcher(cas BlobStore, codec TreeCodec, defaultSize, maxSize, fanOut int) *TreeFetcher {
	if fanOut < 1 {
		fanOut = 1
	}
	return &TreeFetcher{cas: cas, codec: codec, defaultSize: defaultSize, maxSize: maxSize, fanOut: fanOut}
}

// namedDirectory pairs a resolved Directory with the digest it was fetched
// under, so GetTree's page can be ordered deterministically by digest hash
// the same way ListOperations orders by operation name.
type namedDirectory struct {
	digest Digest
	dir    Directory
}

// GetTree resolves every directory reachable from root (root included),
// breadth-first, and returns the page starting after pageToken. pageToken
// carries the hash of the last directory returned on the prior page,
// exactly as pagination.go's page token carries an operation name.
//
// A digest CAS can't resolve makes the whole call fail with
// ErrMissingReferent: unlike an operation put, there is no partial result
// to fall back to once a subtree is unreachable.
func (f *TreeFetcher) GetTree(ctx context.Context, root Digest, pageToken string, pageSize int) (dirs []Directory, nextToken string, err error) {
	if pageSize <= 0 {
		pageSize = f.defaultSize
	}
	if f.maxSize > 0 && pageSize > f.maxSize {
		pageSize = f.maxSize
	}

	all, err := f.walk(ctx, root)
	if err != nil {
		return nil, "", err
	}

	names := make([]string, len(all))
	byName := make(map[string]Directory, len(all))
	for i, nd := range all {
		names[i] = nd.digest.Hash
		byName[nd.digest.Hash] = nd.dir
	}
	sort.Strings(names)

	page, next, err := ListOperations(names, pageToken, pageSize)
	if err != nil {
		return nil, "", err
	}

	dirs = make([]Directory, len(page))
	for i, name := range page {
		dirs[i] = byName[name]
	}
	return dirs, next, nil
}

// walk performs a breadth-first traversal, resolving each level's child
// digests concurrently before descending to the next.
func (f *TreeFetcher) walk(ctx context.Context, root Digest) ([]namedDirectory, error) {
	visited := map[string]bool{}
	var out []namedDirectory

	frontier := []Digest{root}
	for len(frontier) > 0 {
		var mu sync.Mutex
		fetched := make(map[string]Directory, len(frontier))

		results := parallel.ExecuteContext(ctx, frontier, f.fanOut, func(d Digest) error {
			dir, err := f.fetch(d)
			if err != nil {
				return err
			}
			mu.Lock()
			fetched[d.Hash] = dir
			mu.Unlock()
			return nil
		})

		var nextFrontier []Digest
		for i, d := range frontier {
			if results[i].Error != nil {
				return nil, fmt.Errorf("resolving directory %s: %w", d.Hash, results[i].Error)
			}
			if visited[d.Hash] {
				continue
			}
			visited[d.Hash] = true

			dir := fetched[d.Hash]
			out = append(out, namedDirectory{digest: d, dir: dir})
			for _, child := range dir.Directories {
				if !visited[child.Digest.Hash] {
					nextFrontier = append(nextFrontier, child.Digest)
				}
			}
		}
		frontier = nextFrontier
	}

	return out, nil
}

func (f *TreeFetcher) fetch(d Digest) (Directory, error) {
	b, ok, err := f.cas.Get(d)
	if err != nil {
		return Directory{}, err
	}
	if !ok {
		return Directory{}, ErrMissingReferent
	}
	return f.codec.Decode(b)
}
