// Package scanner discovers Markdown files under a vault root and detects
// additions, modifications, and deletions between scans.
package scanner

// FileInfo describes one discovered Markdown file.
type FileInfo struct {
	// DocURI is the POSIX-style, vault-relative path (forward slashes,
	// no leading slash), even on Windows.
	DocURI   string
	Size     int64
	MtimeMs  int64
}

// ScanOptions configures a scan.
type ScanOptions struct {
	// RootDir is the vault root to scan (absolute or relative).
	RootDir string

	// ExcludeDirs are directory names excluded anywhere in the tree
	// (".git", "node_modules", ...), beyond the always-excluded hidden
	// ("." prefixed) entries.
	ExcludeDirs []string

	// ExcludeGlobs are additional glob patterns (matched against the
	// vault-relative docUri) to exclude, per SPEC_FULL §9.
	ExcludeGlobs []string

	// Workers is not read by Scan, which walks the tree sequentially in a
	// single goroutine.
	Workers int
}

// ScanResult is streamed from Scan's channel.
type ScanResult struct {
	File  *FileInfo
	Error error
}

// ChangeSet is the result of diffing two file listings.
type ChangeSet struct {
	Added    []string
	Modified []string
	Deleted  []string
}

// DefaultExcludeDirs are always excluded in addition to hidden entries.
var DefaultExcludeDirs = []string{".git", "node_modules", ".msrl"}
