// Package installer orchestrates gem installation: the ci flow installs
// everything a lockfile names, the tool flow resolves a gem's closure from
// scratch and installs it into an isolated prefix. Both run their per-spec
// work on the dependency scheduler's worker pool, download through the
// content-addressed cache, and verify archives before extraction.
package installer

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/spinel-coop/rv/internal/cache"
	"github.com/spinel-coop/rv/internal/config"
	"github.com/spinel-coop/rv/internal/depgraph"
	"github.com/spinel-coop/rv/internal/extensions"
	"github.com/spinel-coop/rv/internal/gempkg"
	"github.com/spinel-coop/rv/internal/lockfile"
	"github.com/spinel-coop/rv/internal/logger"
	"github.com/spinel-coop/rv/internal/platform"
	"github.com/spinel-coop/rv/internal/registry"
	"github.com/spinel-coop/rv/internal/ruby"
	"github.com/spinel-coop/rv/internal/specyaml"
)

// ChecksumMismatchError reports a downloaded archive that disagrees with
// the lockfile's recorded digest.
type ChecksumMismatchError struct {
	Gem       string
	Algorithm string
	Expected  string
	Actual    string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s (%s): expected %s, got %s",
		e.Gem, e.Algorithm, e.Expected, e.Actual)
}

// Report summarizes an install run.
type Report struct {
	Total                int
	Installed            int
	Skipped              int
	ExecutablesInstalled int
	ExtensionsBuilt      int
	ExtensionsSkipped    int
	ExtensionsFailed     int

	mu sync.Mutex
}

func (r *Report) add(update func(*Report)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	update(r)
}

// Installer carries the shared machinery of both entry points.
type Installer struct {
	cfg      *config.Config
	cache    *cache.Cache
	registry *registry.Manager
	engine   ruby.Engine
	host     platform.Platform

	// Force reinstalls specs that are already on disk.
	Force bool
	// SkipExtensions disables the native build step.
	SkipExtensions bool
	// RubyPath overrides the interpreter used for extension builds.
	RubyPath string
}

// New builds an installer over a config. The HTTP client is shared by all
// registry clients.
func New(cfg *config.Config, httpClient *http.Client) *Installer {
	store := cache.New(cfg.CacheDir)
	return &Installer{
		cfg:      cfg,
		cache:    store,
		registry: registry.NewManager(httpClient, store),
		engine:   ruby.DetectEngine(),
		host:     platform.Host(),
	}
}

// Registry exposes the client manager, shared with the resolver.
func (inst *Installer) Registry() *registry.Manager { return inst.registry }

// Cache exposes the underlying store.
func (inst *Installer) Cache() *cache.Cache { return inst.cache }

// workItem is one spec scheduled for install, tied to its source remote.
type workItem struct {
	spec   lockfile.Spec
	remote string
}

// CI installs everything the lockfile names into the prefix. Already
// installed specs are discarded up front; the rest run on the scheduler in
// dependency order. The first failure aborts the run; finished specs stay
// on disk.
func (inst *Installer) CI(ctx context.Context, lock *lockfile.Lockfile, prefix string) (*Report, error) {
	report := &Report{Total: lock.GemSpecCount()}

	if !inst.Force {
		lock.DiscardInstalledGems(prefix)
	}
	report.Skipped = report.Total - lock.GemSpecCount()

	work := inst.selectWork(lock)
	if len(work) == 0 {
		return report, nil
	}

	for _, dir := range []string{"gems", "specifications", "bin", "cache"} {
		if err := os.MkdirAll(filepath.Join(prefix, dir), 0o755); err != nil {
			return report, err
		}
	}

	graph := depgraph.New()
	for name := range work {
		graph.AddNode(name)
	}
	for name, item := range work {
		for _, dep := range item.spec.Dependencies {
			if _, known := work[dep.Name]; known {
				graph.AddDependency(name, dep.Name)
			}
		}
	}

	scheduler := depgraph.Schedule(graph)
	defer scheduler.Cancel()

	downloads := newDownloadLimiter(inst.cfg.DownloadWorkers)

	g, ctx := errgroup.WithContext(ctx)
	// A failing worker cancels the context; unblock the others by shutting
	// the dispatcher down so Next returns.
	go func() {
		<-ctx.Done()
		scheduler.Cancel()
	}()
	for i := 0; i < scheduler.Width(); i++ {
		g.Go(func() error {
			for {
				handle, ok := scheduler.Next()
				if !ok {
					return nil
				}
				if err := ctx.Err(); err != nil {
					handle.Done()
					return err
				}
				item := work[handle.ID()]
				err := inst.installOne(ctx, item, lock, prefix, report, downloads)
				handle.Done()
				if err != nil {
					return fmt.Errorf("failed to install %s: %w", item.spec.FullName(), err)
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}
	if err := scheduler.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// selectWork flattens GEM sections into one spec per gem name, resolving
// platform variants: a native build matching the host wins over the
// generic one.
func (inst *Installer) selectWork(lock *lockfile.Lockfile) map[string]workItem {
	work := make(map[string]workItem)
	for _, section := range lock.Gem {
		for _, spec := range section.Specs {
			candidate := workItem{spec: spec, remote: section.Remote}
			current, ok := work[spec.Name]
			if !ok {
				if inst.specUsable(spec) {
					work[spec.Name] = candidate
				}
				continue
			}
			if inst.preferable(spec, current.spec) {
				work[spec.Name] = candidate
			}
		}
	}
	return work
}

func (inst *Installer) specUsable(spec lockfile.Spec) bool {
	if spec.Platform == "" {
		return true
	}
	p, err := platform.New(spec.Platform)
	if err != nil {
		return false
	}
	return p.Matches(inst.host) || inst.host.Matches(p)
}

func (inst *Installer) preferable(candidate, current lockfile.Spec) bool {
	if !inst.specUsable(candidate) {
		return false
	}
	// A host-matching native variant beats the generic build.
	return candidate.Platform != "" && current.Platform == ""
}

// downloadLimiter bounds concurrent downloads per source remote.
type downloadLimiter struct {
	width int
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newDownloadLimiter(width int) *downloadLimiter {
	if width <= 0 {
		width = config.DefaultDownloadWorkers
	}
	return &downloadLimiter{width: width, slots: make(map[string]chan struct{})}
}

func (d *downloadLimiter) acquire(ctx context.Context, remote string) (release func(), err error) {
	d.mu.Lock()
	slot, ok := d.slots[remote]
	if !ok {
		slot = make(chan struct{}, d.width)
		d.slots[remote] = slot
	}
	d.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (inst *Installer) installOne(ctx context.Context, item workItem, lock *lockfile.Lockfile, prefix string, report *Report, downloads *downloadLimiter) error {
	spec := item.spec
	fullName := spec.FullName()

	release, err := downloads.acquire(ctx, item.remote)
	if err != nil {
		return err
	}
	archivePath, err := inst.registry.For(item.remote).DownloadGem(ctx, fullName)
	release()
	if err != nil {
		return err
	}

	if err := inst.verifyArchive(spec, lock, archivePath); err != nil {
		return err
	}

	pkg, err := gempkg.Open(archivePath)
	if err != nil {
		return err
	}

	destDir := filepath.Join(prefix, "gems", fullName)
	if err := os.RemoveAll(destDir); err != nil {
		return fmt.Errorf("failed to clean install dir: %w", err)
	}
	data, err := pkg.Data()
	if err != nil {
		return err
	}
	err = data.Extract(destDir)
	data.Close()
	if err != nil {
		return err
	}

	gemSpec, err := pkg.Spec()
	if err != nil {
		return err
	}
	specPath := filepath.Join(prefix, "specifications", fullName+".gemspec")
	if err := os.WriteFile(specPath, []byte(specyaml.ToRuby(gemSpec)), 0o644); err != nil {
		return fmt.Errorf("failed to write gemspec: %w", err)
	}

	linked, err := inst.linkExecutables(destDir, prefix, gemSpec.Bindir, gemSpec.Executables)
	if err != nil {
		return err
	}

	inst.buildExtensions(ctx, destDir, fullName, prefix, report)

	report.add(func(r *Report) {
		r.Installed++
		r.ExecutablesInstalled += linked
	})
	logger.Debug("installed gem", "gem", fullName, "prefix", prefix)
	return nil
}

// verifyArchive checks the archive against the lockfile's CHECKSUMS entry
// when present, else against the gem's own checksum manifest.
func (inst *Installer) verifyArchive(spec lockfile.Spec, lock *lockfile.Lockfile, archivePath string) error {
	if recorded, ok := lock.ChecksumFor(spec); ok {
		algorithm, err := gempkg.AlgorithmFromName(recorded.Algorithm)
		if err != nil {
			return err
		}
		body, err := os.ReadFile(archivePath)
		if err != nil {
			return err
		}
		actual := algorithm.Sum(body)
		if actual != recorded.Digest {
			return &ChecksumMismatchError{
				Gem:       spec.FullName(),
				Algorithm: recorded.Algorithm,
				Expected:  recorded.Digest,
				Actual:    actual,
			}
		}
		return nil
	}

	pkg, err := gempkg.Open(archivePath)
	if err != nil {
		return err
	}
	return pkg.Verify()
}

// linkExecutables writes binstubs into the prefix's bin directory. The
// spec's executables list drives the linking; a gem without one gets its
// bindir scanned.
func (inst *Installer) linkExecutables(gemDir, prefix, bindir string, executables []string) (int, error) {
	if bindir == "" {
		bindir = "bin"
	}
	exeDir := filepath.Join(gemDir, bindir)

	if len(executables) == 0 {
		entries, err := os.ReadDir(exeDir)
		if err != nil {
			if os.IsNotExist(err) {
				return 0, nil
			}
			return 0, err
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				executables = append(executables, entry.Name())
			}
		}
	}

	linked := 0
	for _, exe := range executables {
		source := filepath.Join(exeDir, exe)
		if _, err := os.Stat(source); err != nil {
			continue
		}
		if err := writeBinstub(filepath.Join(prefix, "bin", exe), source, prefix); err != nil {
			return linked, fmt.Errorf("failed to create binstub for %s: %w", exe, err)
		}
		linked++
	}
	return linked, nil
}

func (inst *Installer) buildExtensions(ctx context.Context, gemDir, fullName, prefix string, report *Report) {
	builder := extensions.NewBuilder(&extensions.BuildConfig{
		SkipExtensions: inst.SkipExtensions || extensions.ShouldSkipExtensions(),
		Parallel:       4,
		RubyPath:       inst.RubyPath,
		InstallPrefix:  prefix,
	})

	result, err := builder.BuildExtensions(ctx, gemDir, fullName, inst.engine)
	switch {
	case err != nil:
		// Extension failures are reported but do not fail the install;
		// many gems ship optional extensions.
		logger.Warn("failed to build extensions", "gem", fullName, "error", err)
		report.add(func(r *Report) { r.ExtensionsFailed++ })
	case result.Skipped:
		report.add(func(r *Report) { r.ExtensionsSkipped++ })
	case result.Success && len(result.Extensions) > 0:
		report.add(func(r *Report) { r.ExtensionsBuilt++ })
	}
}
