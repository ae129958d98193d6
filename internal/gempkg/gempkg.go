// Package gempkg reads the .gem archive format: a POSIX tar containing
// metadata.gz, data.tar.gz and optionally checksums.yaml.gz. The pre-2007
// format (a plain file starting with an MD5SUM line) is detected and
// rejected up front.
package gempkg

import (
	"archive/tar"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/klauspost/compress/gzip"
	"gopkg.in/yaml.v3"

	"github.com/spinel-coop/rv/internal/gemspec"
	"github.com/spinel-coop/rv/internal/specyaml"
)

const (
	metadataMember  = "metadata.gz"
	dataMember      = "data.tar.gz"
	checksumsMember = "checksums.yaml.gz"

	// The legacy format begins with a literal Ruby assignment.
	oldFormatPrefix = "MD5SUM ="
)

// ErrOldFormat marks the pre-tar gem format, which is not supported.
var ErrOldFormat = errors.New("old-format gem detected; this format is not supported")

// FormatError reports a structurally invalid gem archive.
type FormatError struct {
	Msg string
}

func (e *FormatError) Error() string { return fmt.Sprintf("invalid gem package: %s", e.Msg) }

// ChecksumError reports a digest mismatch against the checksum manifest.
type ChecksumError struct {
	Algorithm Algorithm
	Member    string
	Expected  string
	Actual    string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("%s checksum mismatch for %s: expected %s, got %s",
		e.Algorithm, e.Member, e.Expected, e.Actual)
}

// Package is a parsed gem archive. It owns the raw member bytes; the spec
// and checksum manifest are decoded lazily and cached.
type Package struct {
	metadataGz  []byte
	dataTarGz   []byte
	checksumsGz []byte

	spec      *gemspec.Specification
	checksums *ChecksumManifest
}

// Open reads a gem archive from disk.
func Open(path string) (*Package, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return New(f)
}

// New reads a gem archive from an arbitrary byte source.
func New(r io.Reader) (*Package, error) {
	br := bufio.NewReader(r)

	head, err := br.Peek(len(oldFormatPrefix))
	if err == nil && string(head) == oldFormatPrefix {
		return nil, ErrOldFormat
	}

	pkg := &Package{}
	tr := tar.NewReader(br)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &FormatError{Msg: fmt.Sprintf("reading outer archive: %v", err)}
		}
		switch header.Name {
		case metadataMember:
			pkg.metadataGz, err = io.ReadAll(tr)
		case dataMember:
			pkg.dataTarGz, err = io.ReadAll(tr)
		case checksumsMember:
			pkg.checksumsGz, err = io.ReadAll(tr)
		default:
			// Signatures and future members are ignored.
		}
		if err != nil {
			return nil, &FormatError{Msg: fmt.Sprintf("reading member %s: %v", header.Name, err)}
		}
	}

	if pkg.metadataGz == nil && pkg.dataTarGz == nil {
		return nil, &FormatError{Msg: "not a gem archive"}
	}
	return pkg, nil
}

// Spec decompresses and parses metadata.gz, caching the result.
func (p *Package) Spec() (*gemspec.Specification, error) {
	if p.spec != nil {
		return p.spec, nil
	}
	if p.metadataGz == nil {
		return nil, &FormatError{Msg: "missing metadata"}
	}
	raw, err := gunzip(p.metadataGz)
	if err != nil {
		return nil, &FormatError{Msg: fmt.Sprintf("decompressing metadata: %v", err)}
	}
	spec, err := specyaml.Parse(string(raw))
	if err != nil {
		return nil, err
	}
	p.spec = spec
	return spec, nil
}

// Data opens a streaming reader over the inner data.tar.gz. Each call
// starts a fresh pass; within one reader, iteration only moves forward.
func (p *Package) Data() (*DataReader, error) {
	if p.dataTarGz == nil {
		return nil, &FormatError{Msg: "missing data.tar.gz"}
	}
	gz, err := gzip.NewReader(bytes.NewReader(p.dataTarGz))
	if err != nil {
		return nil, &FormatError{Msg: fmt.Sprintf("decompressing data: %v", err)}
	}
	return &DataReader{tr: tar.NewReader(gz), gz: gz}, nil
}

// Checksums parses checksums.yaml.gz lazily. A gem without a manifest
// yields an empty manifest.
func (p *Package) Checksums() (*ChecksumManifest, error) {
	if p.checksums != nil {
		return p.checksums, nil
	}
	manifest := &ChecksumManifest{digests: map[Algorithm]map[string]string{}}
	if p.checksumsGz != nil {
		raw, err := gunzip(p.checksumsGz)
		if err != nil {
			return nil, &FormatError{Msg: fmt.Sprintf("decompressing checksums: %v", err)}
		}
		var parsed map[string]map[string]string
		if err := yaml.Unmarshal(raw, &parsed); err != nil {
			return nil, &FormatError{Msg: fmt.Sprintf("parsing checksums: %v", err)}
		}
		for alg, members := range parsed {
			algorithm, err := AlgorithmFromName(alg)
			if err != nil {
				// Unknown algorithms are skipped rather than fatal so newer
				// manifests keep verifying on the algorithms we know.
				continue
			}
			manifest.digests[algorithm] = members
		}
	}
	p.checksums = manifest
	return manifest, nil
}

// Verify recomputes the digests of metadata.gz and data.tar.gz against the
// manifest. A missing manifest verifies trivially, as older gems have none.
func (p *Package) Verify() error {
	manifest, err := p.Checksums()
	if err != nil {
		return err
	}
	members := map[string][]byte{
		metadataMember: p.metadataGz,
		dataMember:     p.dataTarGz,
	}
	for algorithm, digests := range manifest.digests {
		for member, body := range members {
			expected, ok := digests[member]
			if !ok || body == nil {
				continue
			}
			actual := algorithm.Sum(body)
			if actual != expected {
				return &ChecksumError{
					Algorithm: algorithm,
					Member:    member,
					Expected:  expected,
					Actual:    actual,
				}
			}
		}
	}
	return nil
}

func gunzip(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return io.ReadAll(gz)
}

// Entry describes one file in the gem's data archive.
type Entry struct {
	Path string
	Size int64
	Mode fs.FileMode
	Type byte
}

// DataReader iterates the inner tar of a gem's file tree.
type DataReader struct {
	tr *tar.Reader
	gz *gzip.Reader
}

// FindFile scans forward for the named entry and returns its contents, or
// ok=false when the entry is not present (or already passed).
func (d *DataReader) FindFile(path string) ([]byte, bool, error) {
	for {
		header, err := d.tr.Next()
		if err == io.EOF {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		if header.Name == path {
			body, err := io.ReadAll(d.tr)
			if err != nil {
				return nil, false, err
			}
			return body, true, nil
		}
	}
}

// CollectEntries enumerates the remaining entries without reading bodies.
func (d *DataReader) CollectEntries() ([]Entry, error) {
	var entries []Entry
	for {
		header, err := d.tr.Next()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{
			Path: header.Name,
			Size: header.Size,
			Mode: header.FileInfo().Mode(),
			Type: header.Typeflag,
		})
	}
}

// Close releases the decompressor.
func (d *DataReader) Close() error {
	return d.gz.Close()
}
