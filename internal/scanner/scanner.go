// Package scanner finds the C translation units of a project. It respects
// .canaryignore files with gitignore-style patterns plus any extra patterns
// from the configuration.
package scanner

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the per-directory ignore file.
const IgnoreFileName = ".canaryignore"

// FileInfo represents information about a discovered file.
type FileInfo struct {
	Path     string // Relative path from root, slash separated
	FullPath string // Absolute path
	Kind     Kind
	Size     int64
}

// Options configures the scanner behavior.
type Options struct {
	SkipHidden      bool     // Skip hidden files and directories (starting with .)
	FollowSymlinks  bool     // Follow file symlinks that stay within root
	IncludeHeaders  bool     // Report .h files as well as .c files
	DefaultExcludes []string // Directory names never descended into
	IgnoreFileName  string
	Patterns        []string // Extra ignore patterns applied at the root
}

// DefaultOptions returns scanner options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		SkipHidden:     true,
		IgnoreFileName: IgnoreFileName,
		DefaultExcludes: []string{
			".git",
			".hg",
			".svn",
			"CVS",
			".canary",
			"build",
			"cmake-build-debug",
			"cmake-build-release",
			"CMakeFiles",
			"autom4te.cache",
			".deps",
			".libs",
			"obj",
			"bin",
		},
	}
}

// rule is an ignore pattern together with the directory its file lives in.
type rule struct {
	base    string
	pattern IgnorePattern
}

func (r rule) match(relPath string, isDir bool) bool {
	if r.base != "" {
		if !strings.HasPrefix(relPath, r.base+"/") {
			return false
		}
		relPath = relPath[len(r.base)+1:]
	}
	return r.pattern.Match(relPath, isDir)
}

// Scanner provides file tree scanning capabilities.
type Scanner struct {
	opts Options
}

// New creates a new Scanner with the given options.
func New(opts Options) *Scanner {
	if opts.IgnoreFileName == "" {
		opts.IgnoreFileName = IgnoreFileName
	}
	return &Scanner{opts: opts}
}

// Scan walks root and returns the C files found there in lexical order.
func (s *Scanner) Scan(ctx context.Context, root string) ([]FileInfo, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}

	var rules []rule
	for _, p := range s.opts.Patterns {
		rules = append(rules, rule{pattern: ParseIgnorePattern(p)})
	}

	var files []FileInfo
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == absRoot {
				return err
			}
			// unreadable entries are skipped
			return nil
		}

		relPath, err := filepath.Rel(absRoot, path)
		if err != nil {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if relPath != "." {
				if s.SkipsDir(d.Name()) || ignored(rules, relPath, true) {
					return filepath.SkipDir
				}
			}
			nested, err := s.loadIgnorePatterns(path)
			if err != nil {
				return fmt.Errorf("loading ignore patterns in %s: %w", relPath, err)
			}
			base := relPath
			if base == "." {
				base = ""
			}
			for _, p := range nested {
				rules = append(rules, rule{base: base, pattern: p})
			}
			return nil
		}

		if s.opts.SkipHidden && strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		kind := Classify(filepath.Ext(path))
		if kind == "" || (kind == KindHeader && !s.opts.IncludeHeaders) {
			return nil
		}
		if ignored(rules, relPath, false) {
			return nil
		}

		info, ok := s.fileInfo(absRoot, path, d)
		if !ok {
			return nil
		}

		files = append(files, FileInfo{
			Path:     relPath,
			FullPath: path,
			Kind:     kind,
			Size:     info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	return files, nil
}

// SkipsDir reports whether directories with this name are never entered.
func (s *Scanner) SkipsDir(name string) bool {
	if s.opts.SkipHidden && strings.HasPrefix(name, ".") {
		return true
	}
	for _, exclude := range s.opts.DefaultExcludes {
		if strings.EqualFold(name, exclude) {
			return true
		}
	}
	return false
}

// fileInfo stats a regular file, resolving symlinks that stay inside root.
func (s *Scanner) fileInfo(absRoot, path string, d fs.DirEntry) (fs.FileInfo, bool) {
	if d.Type()&fs.ModeSymlink == 0 {
		info, err := d.Info()
		return info, err == nil
	}
	if !s.opts.FollowSymlinks {
		return nil, false
	}

	realPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil, false
	}
	if !strings.HasPrefix(realPath, absRoot+string(filepath.Separator)) {
		return nil, false
	}
	info, err := os.Stat(realPath)
	if err != nil || info.IsDir() {
		return nil, false
	}
	return info, true
}

// loadIgnorePatterns reads the ignore file in dir, if there is one.
func (s *Scanner) loadIgnorePatterns(dir string) ([]IgnorePattern, error) {
	file, err := os.Open(filepath.Join(dir, s.opts.IgnoreFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var patterns []IgnorePattern
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, ParseIgnorePattern(line))
	}

	return patterns, sc.Err()
}

// ignored applies the rules in order; a later negation re-includes a path.
func ignored(rules []rule, relPath string, isDir bool) bool {
	out := false
	for _, r := range rules {
		if r.match(relPath, isDir) {
			out = !r.pattern.IsNegation()
		}
	}
	return out
}

// Scan scans a directory with default options.
func Scan(ctx context.Context, root string) ([]FileInfo, error) {
	return New(DefaultOptions()).Scan(ctx, root)
}

// ScanWithOptions scans a directory with custom options.
func ScanWithOptions(ctx context.Context, root string, opts Options) ([]FileInfo, error) {
	return New(opts).Scan(ctx, root)
}
