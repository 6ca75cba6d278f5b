package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Scanner discovers Markdown files under a vault root.
type Scanner struct{}

// New creates a Scanner.
func New() *Scanner {
	return &Scanner{}
}

// Scan recursively walks opts.RootDir, streaming a ScanResult for every
// "*.md" file that isn't hidden or excluded. The channel closes when the
// walk completes or ctx is cancelled.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) (<-chan ScanResult, error) {
	if opts == nil || opts.RootDir == "" {
		return nil, fmt.Errorf("scanner: RootDir is required")
	}
	absRoot, err := filepath.Abs(opts.RootDir)
	if err != nil {
		return nil, fmt.Errorf("scanner: resolving root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("scanner: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scanner: root %q is not a directory", absRoot)
	}

	excludeDirs := make(map[string]struct{}, len(DefaultExcludeDirs)+len(opts.ExcludeDirs))
	for _, d := range DefaultExcludeDirs {
		excludeDirs[d] = struct{}{}
	}
	for _, d := range opts.ExcludeDirs {
		excludeDirs[d] = struct{}{}
	}
	globs := newExcludeMatcher(opts.ExcludeGlobs)

	results := make(chan ScanResult, 64)
	go func() {
		defer close(results)
		s.walk(ctx, absRoot, absRoot, excludeDirs, globs, results)
	}()
	return results, nil
}

func (s *Scanner) walk(ctx context.Context, root, dir string, excludeDirs map[string]struct{}, globs *excludeMatcher, results chan<- ScanResult) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		results <- ScanResult{Error: fmt.Errorf("scanner: reading %s: %w", dir, err)}
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		full := filepath.Join(dir, name)

		if entry.IsDir() {
			if _, excluded := excludeDirs[name]; excluded {
				continue
			}
			s.walk(ctx, root, full, excludeDirs, globs, results)
			continue
		}

		if !strings.HasSuffix(strings.ToLower(name), ".md") {
			continue
		}

		docURI, err := toDocURI(root, full)
		if err != nil {
			results <- ScanResult{Error: err}
			continue
		}
		if globs.Match(docURI) {
			continue
		}

		fi, err := entry.Info()
		if err != nil {
			results <- ScanResult{Error: fmt.Errorf("scanner: stat %s: %w", full, err)}
			continue
		}

		select {
		case results <- ScanResult{File: &FileInfo{
			DocURI:  docURI,
			Size:    fi.Size(),
			MtimeMs: fi.ModTime().UnixMilli(),
		}}:
		case <-ctx.Done():
			return
		}
	}
}

// toDocURI converts an absolute path under root to a canonical POSIX-style
// vault-relative docUri; it rejects paths outside root.
func toDocURI(root, abs string) (string, error) {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", fmt.Errorf("scanner: %s is not under vault root %s: %w", abs, root, err)
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("scanner: %s is outside vault root %s", abs, root)
	}
	return filepath.ToSlash(rel), nil
}

// ToDocURI converts an absolute path under vaultRoot into the engine's
// canonical docUri, per spec §6, rejecting paths outside the vault.
func ToDocURI(vaultRoot, absPath string) (string, error) {
	root, err := filepath.Abs(vaultRoot)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(absPath)
	if err != nil {
		return "", err
	}
	return toDocURI(root, abs)
}

// DetectChanges diffs a previous {docUri -> (mtimeMs, size)} snapshot against
// the current scan results. A file is "modified" if either mtimeMs or size
// differs from the previous observation.
func DetectChanges(prev map[string]FileInfo, curr []FileInfo) ChangeSet {
	var cs ChangeSet
	seen := make(map[string]struct{}, len(curr))

	for _, f := range curr {
		seen[f.DocURI] = struct{}{}
		old, ok := prev[f.DocURI]
		switch {
		case !ok:
			cs.Added = append(cs.Added, f.DocURI)
		case old.MtimeMs != f.MtimeMs || old.Size != f.Size:
			cs.Modified = append(cs.Modified, f.DocURI)
		}
	}
	for docURI := range prev {
		if _, ok := seen[docURI]; !ok {
			cs.Deleted = append(cs.Deleted, docURI)
		}
	}
	return cs
}

// defaultWorkers mirrors the teacher's NumCPU-based worker sizing, kept for
// callers that want to size their own fan-out over ScanResult consumption.
func defaultWorkers(requested int) int {
	if requested > 0 {
		return requested
	}
	return runtime.NumCPU()
}
