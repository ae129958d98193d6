package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Bucket names one cache namespace. Bumping Version abandons every entry
// written under the previous layout.
type Bucket struct {
	Name    string
	Version int
}

var (
	// BucketRuby holds interpreter archives and their metadata.
	BucketRuby = Bucket{Name: "ruby", Version: 1}
	// BucketGem holds downloaded .gem archives and memoized registry
	// responses.
	BucketGem = Bucket{Name: "gem", Version: 1}
	// BucketReleases holds network release manifests with revalidation
	// state.
	BucketReleases = Bucket{Name: "releases", Version: 1}
)

func (b Bucket) dir() string {
	return fmt.Sprintf("%s-v%d", b.Name, b.Version)
}

// DisableEnv turns cache reads off; writes still land so a later run
// benefits.
const DisableEnv = "RV_NO_CACHE"

// Cache is the on-disk store rooted at one directory.
type Cache struct {
	root     string
	disabled bool
}

// New opens a cache rooted at dir, honoring the disable toggle.
func New(root string) *Cache {
	return &Cache{root: root, disabled: os.Getenv(DisableEnv) != ""}
}

// Root returns the cache root directory.
func (c *Cache) Root() string { return c.root }

// EntryPath computes where a digest lives: <root>/<bucket>-v<n>/<shard>/<digest>.
// The shard is the first two digest characters, keeping directories small.
func (c *Cache) EntryPath(bucket Bucket, digest string) string {
	shard := "00"
	if len(digest) >= 2 {
		shard = digest[:2]
	}
	return filepath.Join(c.root, bucket.dir(), shard, digest)
}

// Read returns the entry's bytes, with ok=false on a miss. A miss is
// expected, never an error; only a failed read of an existing entry errors.
func (c *Cache) Read(bucket Bucket, digest string) ([]byte, bool, error) {
	if c.disabled {
		return nil, false, nil
	}
	body, err := os.ReadFile(c.EntryPath(bucket, digest))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

// Contains reports whether the digest is present without reading it.
func (c *Cache) Contains(bucket Bucket, digest string) bool {
	if c.disabled {
		return false
	}
	_, err := os.Stat(c.EntryPath(bucket, digest))
	return err == nil
}

// Write stores bytes under the digest: write a sibling .tmp fully, fsync,
// rename into place. An existing entry is reused (contents are a pure
// function of the key), and any stale .tmp from a crashed writer is
// replaced along the way.
func (c *Cache) Write(bucket Bucket, digest string, body []byte) (string, error) {
	dest := c.EntryPath(bucket, digest)
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	pending, err := c.StartWrite(bucket, digest)
	if err != nil {
		return "", err
	}
	if _, err := pending.Write(body); err != nil {
		pending.Abort()
		return "", err
	}
	if err := pending.Commit(); err != nil {
		return "", err
	}
	return dest, nil
}

// PendingFile is an in-flight cache write. Commit publishes it atomically;
// Abort removes the temporary file. Interrupted writers leave only a .tmp
// that the next StartWrite for the same digest replaces.
type PendingFile struct {
	file *os.File
	dest string
	done bool
}

// StartWrite opens the .tmp file for a digest, creating the shard
// directory as needed.
func (c *Cache) StartWrite(bucket Bucket, digest string) (*PendingFile, error) {
	dest := c.EntryPath(bucket, digest)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("failed to prepare cache dir: %w", err)
	}
	tmp := dest + ".tmp"
	// O_TRUNC clears any leftover from a crashed writer.
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &PendingFile{file: f, dest: dest}, nil
}

// Write appends to the pending entry.
func (p *PendingFile) Write(b []byte) (int, error) {
	return p.file.Write(b)
}

// Commit fsyncs, closes and renames the entry into place.
func (p *PendingFile) Commit() error {
	if p.done {
		return nil
	}
	p.done = true
	if err := p.file.Sync(); err != nil {
		p.file.Close()
		os.Remove(p.tmpPath())
		return err
	}
	if err := p.file.Close(); err != nil {
		os.Remove(p.tmpPath())
		return err
	}
	if err := os.Rename(p.tmpPath(), p.dest); err != nil {
		// A concurrent writer of the same digest already published it.
		if _, statErr := os.Stat(p.dest); statErr == nil {
			return nil
		}
		os.Remove(p.tmpPath())
		return err
	}
	return nil
}

// Abort discards the pending entry, leaving no partial file behind.
func (p *PendingFile) Abort() {
	if p.done {
		return
	}
	p.done = true
	_ = p.file.Close()
	_ = os.Remove(p.tmpPath())
}

// Dest is the final path the entry will occupy after Commit.
func (p *PendingFile) Dest() string { return p.dest }

func (p *PendingFile) tmpPath() string { return p.dest + ".tmp" }

// CleanStaleTemp removes .tmp leftovers under a bucket from interrupted
// writers.
func (c *Cache) CleanStaleTemp(bucket Bucket) error {
	dir := filepath.Join(c.root, bucket.dir())
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, shard := range entries {
		if !shard.IsDir() {
			continue
		}
		shardDir := filepath.Join(dir, shard.Name())
		files, err := os.ReadDir(shardDir)
		if err != nil {
			return err
		}
		for _, f := range files {
			if strings.HasSuffix(f.Name(), ".tmp") {
				if err := os.Remove(filepath.Join(shardDir, f.Name())); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
