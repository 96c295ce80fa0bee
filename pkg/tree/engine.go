// Package tree adapts a structured-document engine for use by providers.
//
// The engine itself, which parses configuration files through a lens into a
// tree of labeled nodes and writes edits back, is reached only through the
// Engine interface. Session wraps one open engine and adds a read-only tree
// projection (Node) and a Builder for creating and relocating nodes.
package tree

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMatch is returned when a path that must resolve to a node does not.
	ErrNoMatch = errors.New("tree: path matches no node")

	// ErrAmbiguous is returned when a path that must resolve to a single node
	// resolves to several.
	ErrAmbiguous = errors.New("tree: path matches more than one node")
)

// Engine is the contract a document engine has to fulfill. Paths are
// engine path expressions; Match returns canonical paths that address
// exactly one node each.
//
// When Save fails, the engine must describe every problem as a node below
// /augeas/files/<file>/error whose value is the error kind and whose
// children may include line, char, message and path.
type Engine interface {
	// Transform restricts the files the engine loads to those matching incl
	// and not excl, parsed with lens.
	Transform(lens string, incl, excl []string) error
	Load() error
	Match(pathx string) ([]string, error)
	// Get returns the value of the single node matching path. The boolean is
	// false when the node has no value.
	Get(path string) (string, bool, error)
	// Set assigns value to the node matching path, creating it if needed.
	Set(path, value string) error
	// Clear creates the node matching path if needed and removes its value.
	Clear(path string) error
	Move(src, dst string) error
	Remove(path string) (int, error)
	Save() error
	Close() error
}

// Opener creates a new engine instance. Every call must return an engine
// that shares no state with previously opened ones.
type Opener func() (Engine, error)

// Session is one open engine instance with tree helpers attached.
type Session struct {
	eng Engine
}

// NewSession wraps an engine.
func NewSession(eng Engine) *Session {
	return &Session{eng: eng}
}

// Engine returns the wrapped engine.
func (s *Session) Engine() Engine {
	return s.eng
}

func (s *Session) Match(pathx string) ([]string, error) {
	return s.eng.Match(pathx)
}

func (s *Session) Get(path string) (string, bool, error) {
	return s.eng.Get(path)
}

func (s *Session) Set(path, value string) error {
	return s.eng.Set(path, value)
}

func (s *Session) Clear(path string) error {
	return s.eng.Clear(path)
}

func (s *Session) Move(src, dst string) error {
	return s.eng.Move(src, dst)
}

func (s *Session) Remove(path string) (int, error) {
	return s.eng.Remove(path)
}

// Exists reports whether at least one node matches pathx.
func (s *Session) Exists(pathx string) (bool, error) {
	paths, err := s.eng.Match(pathx)
	if err != nil {
		return false, err
	}
	return len(paths) > 0, nil
}

// Resolve returns the canonical path of the single node matching pathx.
func (s *Session) Resolve(pathx string) (string, error) {
	paths, err := s.eng.Match(pathx)
	if err != nil {
		return "", err
	}
	switch len(paths) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNoMatch, pathx)
	case 1:
		return paths[0], nil
	default:
		return "", fmt.Errorf("%w: %s (%d nodes)", ErrAmbiguous, pathx, len(paths))
	}
}

// Dump returns one "path = value" line for every node at or below the
// nodes matching pathx, in document order.
func (s *Session) Dump(pathx string) ([]string, error) {
	paths, err := s.eng.Match(pathx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range paths {
		lines, err := s.dump(p)
		if err != nil {
			return nil, err
		}
		out = append(out, lines...)
	}
	return out, nil
}

func (s *Session) dump(path string) ([]string, error) {
	val, ok, err := s.eng.Get(path)
	if err != nil {
		return nil, err
	}
	line := path
	if ok {
		line = fmt.Sprintf("%s = %s", path, val)
	}
	out := []string{line}
	children, err := s.eng.Match(path + "/*")
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		lines, err := s.dump(c)
		if err != nil {
			return nil, err
		}
		out = append(out, lines...)
	}
	return out, nil
}
