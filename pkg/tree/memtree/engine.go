// Package memtree is an in-memory document engine. It parses files through
// lenses into a path-addressable tree rooted at /files, accepts edits, and
// writes changed files back on Save.
//
// Problems found while loading or saving a file are recorded as error nodes
// below /augeas/files/<file>/error, with the error kind as value and line,
// char, message or path children, so callers can inspect them through the
// same path expressions as the rest of the tree.
package memtree

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/openfroyo/ral/pkg/tree"
)

var (
	// ErrBadPath is returned for path expressions the engine cannot handle.
	ErrBadPath = errors.New("memtree: invalid path expression")

	// ErrMultipleMatches is returned when a path must match one node but
	// matches several.
	ErrMultipleMatches = errors.New("memtree: path matches multiple nodes")

	// ErrNoMatch is returned when a path must match one node but matches none.
	ErrNoMatch = errors.New("memtree: path matches no node")

	// ErrUnknownLens is returned by Transform for lenses that are not registered.
	ErrUnknownLens = errors.New("memtree: unknown lens")

	// ErrSaveFailed is returned by Save when at least one file could not be
	// written. Details are in the error records.
	ErrSaveFailed = errors.New("memtree: save failed")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("memtree: engine closed")
)

const (
	filesPrefix = "/files"
	errorsRoot  = "/augeas/files"
)

// Option configures an Engine.
type Option func(*Engine)

// WithRoot makes the engine resolve file paths relative to dir instead of /.
func WithRoot(dir string) Option {
	return func(e *Engine) {
		e.root = dir
	}
}

// WithLens registers a lens under name.
func WithLens(name string, l Lens) Option {
	return func(e *Engine) {
		e.lenses[name] = l
	}
}

type transform struct {
	lens string
	incl []string
	excl []string
}

type loadedFile struct {
	lens  Lens
	text  string
	trail string
	mode  os.FileMode
}

// Engine is an in-memory document engine. It is not safe for concurrent use.
type Engine struct {
	root   string
	lenses map[string]Lens
	tree   *Node
	xfms   []transform
	files  map[string]*loadedFile
	closed bool
}

var _ tree.Engine = (*Engine)(nil)

// New creates an engine with the built-in lenses registered.
func New(opts ...Option) *Engine {
	e := &Engine{
		root: "/",
		lenses: map[string]Lens{
			HostsLens: Hosts{},
		},
		files: make(map[string]*loadedFile),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.reset()
	return e
}

// Opener returns a tree.Opener creating engines configured with opts.
func Opener(opts ...Option) tree.Opener {
	return func() (tree.Engine, error) {
		return New(opts...), nil
	}
}

func (e *Engine) reset() {
	e.tree = &Node{}
	e.tree.Append(&Node{Label: "augeas"})
	e.tree.Append(&Node{Label: "files"})
}

// Transform adds a transform. Files matching one of incl and none of excl
// are parsed with lens on the next Load.
func (e *Engine) Transform(lens string, incl, excl []string) error {
	if e.closed {
		return ErrClosed
	}
	if _, ok := e.lenses[lens]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLens, lens)
	}
	if len(incl) == 0 {
		return fmt.Errorf("memtree: transform for %s has no include pattern", lens)
	}
	e.xfms = append(e.xfms, transform{lens: lens, incl: incl, excl: excl})
	return nil
}

// Load discards the tree and parses all files selected by the transforms.
func (e *Engine) Load() error {
	if e.closed {
		return ErrClosed
	}
	e.reset()
	e.files = make(map[string]*loadedFile)

	for _, x := range e.xfms {
		files, err := e.expand(x)
		if err != nil {
			return err
		}
		for _, f := range files {
			if err := e.loadFile(f, x.lens); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) expand(x transform) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, pattern := range x.incl {
		matches, err := filepath.Glob(filepath.Join(e.root, pattern))
		if err != nil {
			return nil, fmt.Errorf("memtree: bad include pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			rel := e.docPath(m)
			if seen[rel] || excluded(rel, x.excl) {
				continue
			}
			if fi, err := os.Stat(m); err != nil || fi.IsDir() {
				continue
			}
			seen[rel] = true
			out = append(out, rel)
		}
	}
	sort.Strings(out)
	return out, nil
}

func excluded(path string, excl []string) bool {
	for _, pattern := range excl {
		if ok, _ := filepath.Match(pattern, path); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(path)); ok {
			return true
		}
	}
	return false
}

// docPath turns a filesystem path below the root into the absolute path
// used in the tree.
func (e *Engine) docPath(fsPath string) string {
	rel, err := filepath.Rel(e.root, fsPath)
	if err != nil {
		return filepath.ToSlash(fsPath)
	}
	return "/" + filepath.ToSlash(rel)
}

func (e *Engine) fsPath(docPath string) string {
	return filepath.Join(e.root, filepath.FromSlash(docPath))
}

func (e *Engine) loadFile(path, lensName string) error {
	data, err := os.ReadFile(e.fsPath(path))
	if err != nil {
		return fmt.Errorf("memtree: read %s: %w", path, err)
	}
	fi, err := os.Stat(e.fsPath(path))
	if err != nil {
		return fmt.Errorf("memtree: stat %s: %w", path, err)
	}
	lens := e.lenses[lensName]

	info, err := e.infoNode(path)
	if err != nil {
		return err
	}
	info.insertChild(NewNode("path", filesPrefix+path))
	info.insertChild(NewNode("lens", lensName))

	text := string(data)
	nodes, err := lens.Parse(text)
	if err != nil {
		var perr *ParseError
		if !errors.As(err, &perr) {
			perr = &ParseError{Message: err.Error()}
		}
		rec := NewNode("error", "parse_failed")
		if perr.Line > 0 {
			rec.Append(NewNode("line", strconv.Itoa(perr.Line)))
			rec.Append(NewNode("char", strconv.Itoa(perr.Char)))
		}
		rec.Append(NewNode("message", perr.Message))
		info.insertChild(rec)
		return nil
	}

	fileNode, err := e.resolveOrCreate(filesPrefix + path)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		fileNode.Append(n)
	}
	e.files[path] = &loadedFile{lens: lens, text: text, trail: trailingBlank(text), mode: fi.Mode().Perm()}
	return nil
}

func (e *Engine) infoNode(path string) (*Node, error) {
	return e.resolveOrCreate(errorsRoot + path)
}

func (e *Engine) resolveOrCreate(pathx string) (*Node, error) {
	steps, err := parsePath(pathx)
	if err != nil {
		return nil, err
	}
	return resolveOrCreate(e.tree, steps, pathx)
}

func (e *Engine) match(pathx string) ([]*Node, error) {
	if e.closed {
		return nil, ErrClosed
	}
	steps, err := parsePath(pathx)
	if err != nil {
		return nil, err
	}
	return eval(e.tree, steps), nil
}

// Match returns the canonical paths of all nodes matching pathx.
func (e *Engine) Match(pathx string) ([]string, error) {
	nodes, err := e.match(pathx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		p := n.path()
		if p == "" {
			p = "/"
		}
		out = append(out, p)
	}
	return out, nil
}

// Get returns the value of the node matching path. A path matching no node
// yields no value and no error.
func (e *Engine) Get(path string) (string, bool, error) {
	nodes, err := e.match(path)
	if err != nil {
		return "", false, err
	}
	switch len(nodes) {
	case 0:
		return "", false, nil
	case 1:
		if nodes[0].Value == nil {
			return "", false, nil
		}
		return *nodes[0].Value, true, nil
	default:
		return "", false, fmt.Errorf("%w: %s", ErrMultipleMatches, path)
	}
}

// Set sets the value of the node matching path, creating it if necessary.
func (e *Engine) Set(path, value string) error {
	if e.closed {
		return ErrClosed
	}
	n, err := e.resolveOrCreate(path)
	if err != nil {
		return err
	}
	n.Value = &value
	return nil
}

// Clear is like Set but leaves the node without a value.
func (e *Engine) Clear(path string) error {
	if e.closed {
		return ErrClosed
	}
	n, err := e.resolveOrCreate(path)
	if err != nil {
		return err
	}
	n.Value = nil
	return nil
}

// Move moves the node matching src to dst. An existing node at dst is
// replaced, together with its descendants; a missing one is created. The
// moved node takes the label of dst.
func (e *Engine) Move(src, dst string) error {
	nodes, err := e.match(src)
	if err != nil {
		return err
	}
	switch len(nodes) {
	case 0:
		return fmt.Errorf("%w: %s", ErrNoMatch, src)
	case 1:
	default:
		return fmt.Errorf("%w: %s", ErrMultipleMatches, src)
	}
	from := nodes[0]
	if from.parent == nil {
		return fmt.Errorf("%w: cannot move the root", ErrBadPath)
	}

	existing, err := e.match(dst)
	if err != nil {
		return err
	}
	to, err := e.resolveOrCreate(dst)
	if err != nil {
		return err
	}
	if to == from {
		return nil
	}
	if from.isAncestorOf(to) {
		if len(existing) == 0 {
			to.detach()
		}
		return fmt.Errorf("%w: cannot move %s into its own descendant %s", ErrBadPath, src, dst)
	}

	from.detach()
	parent, i := to.parent, to.index()
	from.Label = to.Label
	from.lead = to.lead
	from.parent = parent
	parent.Children[i] = from
	to.parent = nil
	return nil
}

// Remove deletes every node matching path with its descendants and returns
// the number of nodes deleted.
func (e *Engine) Remove(path string) (int, error) {
	nodes, err := e.match(path)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, n := range nodes {
		if n.parent == nil {
			// already removed together with an ancestor, or the root
			continue
		}
		removed += n.count()
		n.detach()
	}
	return removed, nil
}

// Save writes every loaded file whose tree changed. Files that cannot be
// rendered are left untouched and get a put_failed error record.
func (e *Engine) Save() error {
	if e.closed {
		return ErrClosed
	}
	paths := make([]string, 0, len(e.files))
	for p := range e.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	failed := false
	for _, p := range paths {
		if _, err := e.Remove(errorsRoot + p + "/error"); err != nil {
			return err
		}
		ok, err := e.saveFile(p, e.files[p])
		if err != nil {
			return err
		}
		if !ok {
			failed = true
		}
	}
	if failed {
		return ErrSaveFailed
	}
	return nil
}

func (e *Engine) saveFile(path string, lf *loadedFile) (bool, error) {
	nodes, err := e.match(filesPrefix + path)
	if err != nil {
		return false, err
	}
	if len(nodes) != 1 {
		return true, nil
	}
	fileNode := nodes[0]

	text, err := lf.lens.Render(fileNode.Children)
	if err != nil {
		info, ierr := e.infoNode(path)
		if ierr != nil {
			return false, ierr
		}
		rec := NewNode("error", "put_failed")
		var rerr *RenderError
		if errors.As(err, &rerr) {
			if rerr.Node != nil {
				rec.Append(NewNode("path", rerr.Node.path()))
			}
			rec.Append(NewNode("message", rerr.Message))
		} else {
			rec.Append(NewNode("message", err.Error()))
		}
		info.insertChild(rec)
		return false, nil
	}
	text += lf.trail
	if text == lf.text {
		return true, nil
	}

	if err := os.WriteFile(e.fsPath(path), []byte(text), lf.mode); err != nil {
		info, ierr := e.infoNode(path)
		if ierr != nil {
			return false, ierr
		}
		rec := NewNode("error", "write_failed")
		rec.Append(NewNode("message", err.Error()))
		info.insertChild(rec)
		return false, nil
	}
	lf.text = text
	return true, nil
}

// Close releases the engine. Further calls fail with ErrClosed.
func (e *Engine) Close() error {
	if e.closed {
		return ErrClosed
	}
	e.closed = true
	e.tree = nil
	e.files = nil
	return nil
}

// trailingBlank returns the blank lines at the end of text that no node
// owns.
func trailingBlank(text string) string {
	trimmed := strings.TrimRight(text, "\n \t")
	rest := text[len(trimmed):]
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		// the first newline ends the last line
		return rest[i+1:]
	}
	return ""
}
