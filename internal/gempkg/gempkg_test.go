package gempkg

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"testing"
)

const fixtureMetadata = `--- !ruby/object:Gem::Specification
name: demo
version: !ruby/object:Gem::Version
  version: 1.2.3
summary: demo gem
executables:
- demo
`

// buildGem assembles a .gem archive in memory. When withChecksums is set, a
// checksums.yaml.gz with correct SHA256/SHA512 digests is included.
func buildGem(t *testing.T, files map[string][]byte, withChecksums bool, tamper func(member string, b []byte) []byte) []byte {
	t.Helper()

	var metaBuf bytes.Buffer
	mw := gzip.NewWriter(&metaBuf)
	if _, err := mw.Write([]byte(fixtureMetadata)); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	var dataBuf bytes.Buffer
	dw := gzip.NewWriter(&dataBuf)
	dtw := tar.NewWriter(dw)
	for path, content := range files {
		if err := dtw.WriteHeader(&tar.Header{Name: path, Mode: 0o644, Size: int64(len(content))}); err != nil {
			t.Fatal(err)
		}
		if _, err := dtw.Write(content); err != nil {
			t.Fatal(err)
		}
	}
	if err := dtw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := dw.Close(); err != nil {
		t.Fatal(err)
	}

	metadata := metaBuf.Bytes()
	data := dataBuf.Bytes()

	var checksums []byte
	if withChecksums {
		manifest := fmt.Sprintf(
			"SHA256:\n  metadata.gz: %s\n  data.tar.gz: %s\nSHA512:\n  metadata.gz: %s\n  data.tar.gz: %s\n",
			SHA256.Sum(metadata), SHA256.Sum(data),
			SHA512.Sum(metadata), SHA512.Sum(data),
		)
		var ckBuf bytes.Buffer
		cw := gzip.NewWriter(&ckBuf)
		if _, err := cw.Write([]byte(manifest)); err != nil {
			t.Fatal(err)
		}
		if err := cw.Close(); err != nil {
			t.Fatal(err)
		}
		checksums = ckBuf.Bytes()
	}

	if tamper != nil {
		metadata = tamper("metadata.gz", metadata)
		data = tamper("data.tar.gz", data)
	}

	var out bytes.Buffer
	tw := tar.NewWriter(&out)
	writeMember := func(name string, body []byte) {
		if body == nil {
			return
		}
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body))}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write(body); err != nil {
			t.Fatal(err)
		}
	}
	writeMember("metadata.gz", metadata)
	writeMember("data.tar.gz", data)
	writeMember("checksums.yaml.gz", checksums)
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return out.Bytes()
}

func demoFiles() map[string][]byte {
	return map[string][]byte{
		"lib/demo.rb": []byte("module Demo\nend\n"),
		"bin/demo":    []byte("#!/usr/bin/env ruby\nputs 'demo'\n"),
	}
}

func TestSpecParsing(t *testing.T) {
	pkg, err := New(bytes.NewReader(buildGem(t, demoFiles(), false, nil)))
	if err != nil {
		t.Fatal(err)
	}
	spec, err := pkg.Spec()
	if err != nil {
		t.Fatal(err)
	}
	if spec.Name != "demo" || spec.Version.String() != "1.2.3" {
		t.Errorf("spec = %s-%s", spec.Name, spec.Version)
	}
	// Cached on second access.
	again, err := pkg.Spec()
	if err != nil || again != spec {
		t.Errorf("Spec() not cached: %v", err)
	}
}

func TestOldFormatRejected(t *testing.T) {
	payload := []byte("MD5SUM = \"deadbeef\"\nrest of an ancient gem")
	_, err := New(bytes.NewReader(payload))
	if !errors.Is(err, ErrOldFormat) {
		t.Fatalf("err = %v, want ErrOldFormat", err)
	}
}

func TestNotAGem(t *testing.T) {
	_, err := New(bytes.NewReader([]byte("this is not a tar archive at all, just text")))
	var formatErr *FormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("err = %v, want FormatError", err)
	}
}

func TestMissingMetadata(t *testing.T) {
	var out bytes.Buffer
	tw := tar.NewWriter(&out)
	var dataBuf bytes.Buffer
	dw := gzip.NewWriter(&dataBuf)
	tar.NewWriter(dw).Close()
	dw.Close()
	if err := tw.WriteHeader(&tar.Header{Name: "data.tar.gz", Mode: 0o644, Size: int64(dataBuf.Len())}); err != nil {
		t.Fatal(err)
	}
	tw.Write(dataBuf.Bytes())
	tw.Close()

	pkg, err := New(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	_, err = pkg.Spec()
	var formatErr *FormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("Spec() = %v, want FormatError", err)
	}
}

func TestVerifyUnmodified(t *testing.T) {
	pkg, err := New(bytes.NewReader(buildGem(t, demoFiles(), true, nil)))
	if err != nil {
		t.Fatal(err)
	}
	if err := pkg.Verify(); err != nil {
		t.Errorf("Verify() = %v", err)
	}
}

func TestVerifyWithoutManifest(t *testing.T) {
	pkg, err := New(bytes.NewReader(buildGem(t, demoFiles(), false, nil)))
	if err != nil {
		t.Fatal(err)
	}
	if err := pkg.Verify(); err != nil {
		t.Errorf("Verify() without manifest = %v", err)
	}
	manifest, err := pkg.Checksums()
	if err != nil {
		t.Fatal(err)
	}
	if !manifest.Empty() {
		t.Error("manifest should be empty")
	}
}

func TestVerifyTamperedData(t *testing.T) {
	// Rebuild data.tar.gz with different contents after the manifest was
	// computed, then expect a mismatch naming the member.
	tampered := buildGem(t, demoFiles(), true, func(member string, b []byte) []byte {
		if member != "data.tar.gz" {
			return b
		}
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		tw := tar.NewWriter(gw)
		content := []byte("tampered")
		tw.WriteHeader(&tar.Header{Name: "lib/demo.rb", Mode: 0o644, Size: int64(len(content))})
		tw.Write(content)
		tw.Close()
		gw.Close()
		return buf.Bytes()
	})

	pkg, err := New(bytes.NewReader(tampered))
	if err != nil {
		t.Fatal(err)
	}
	var checksumErr *ChecksumError
	if err := pkg.Verify(); !errors.As(err, &checksumErr) {
		t.Fatalf("Verify() = %v, want ChecksumError", err)
	}
	if checksumErr.Member != "data.tar.gz" {
		t.Errorf("Member = %q", checksumErr.Member)
	}
	if checksumErr.Expected == checksumErr.Actual {
		t.Error("digests should differ")
	}
}

func TestFindFile(t *testing.T) {
	pkg, err := New(bytes.NewReader(buildGem(t, demoFiles(), false, nil)))
	if err != nil {
		t.Fatal(err)
	}
	data, err := pkg.Data()
	if err != nil {
		t.Fatal(err)
	}
	defer data.Close()

	body, ok, err := data.FindFile("lib/demo.rb")
	if err != nil || !ok {
		t.Fatalf("FindFile = %v, %v", ok, err)
	}
	if !bytes.Contains(body, []byte("module Demo")) {
		t.Errorf("body = %q", body)
	}

	// A fresh Data() pass scans from the start and reports a missing path as not found.
	data2, err := pkg.Data()
	if err != nil {
		t.Fatal(err)
	}
	defer data2.Close()
	if _, ok, err := data2.FindFile("no/such/file"); err != nil || ok {
		t.Errorf("FindFile(missing) = %v, %v", ok, err)
	}
}

func TestCollectEntries(t *testing.T) {
	pkg, err := New(bytes.NewReader(buildGem(t, demoFiles(), false, nil)))
	if err != nil {
		t.Fatal(err)
	}
	data, err := pkg.Data()
	if err != nil {
		t.Fatal(err)
	}
	defer data.Close()

	entries, err := data.CollectEntries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %v", entries)
	}
	seen := map[string]int64{}
	for _, e := range entries {
		seen[e.Path] = e.Size
	}
	if seen["lib/demo.rb"] == 0 || seen["bin/demo"] == 0 {
		t.Errorf("entries = %v", seen)
	}
}

func TestAlgorithmFromName(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want Algorithm
	}{
		{"sha1", SHA1},
		{"SHA1", SHA1},
		{"Sha256", SHA256},
		{"SHA512", SHA512},
	} {
		got, err := AlgorithmFromName(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("AlgorithmFromName(%q) = %v, %v", tt.in, got, err)
		}
	}
	if _, err := AlgorithmFromName("md5"); err == nil {
		t.Error("md5 should be rejected")
	}
}
