package provider

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/ral/pkg/tree"
)

// ErrNoEngine is returned by WithDocument when the context was created
// without a document engine.
var ErrNoEngine = errors.New("provider: no document engine configured")

// DocumentConfig selects what a document session loads.
type DocumentConfig struct {
	// Lens is the grammar the files are parsed with, e.g. Hosts.lns.
	Lens string `validate:"required"`
	// Incl are globs of the files to load.
	Incl []string `validate:"required,min=1,dive,required"`
	// Excl are globs removed from the files matched by Incl.
	Excl []string
	// Save writes the session back after the body returns successfully.
	Save bool
}

var validate = validator.New()

// WithDocument opens a document session, loads the files cfg selects and
// runs body with it. Files the engine could not parse fail the call with a
// *DocumentLoadError before body runs. When cfg.Save is set and body
// succeeds, the session is saved; problems reported by the engine are turned
// into a *DocumentSaveError. The session is closed on every path out.
func (c *Context) WithDocument(cfg DocumentConfig, body func(*tree.Session) error) error {
	if verr := validate.Struct(cfg); verr != nil {
		return Errorf("invalid document configuration: %v", verr)
	}
	if c.open == nil {
		return ErrNoEngine
	}

	eng, err := c.open()
	if err != nil {
		return Errorf("failed to open document engine: %v", err)
	}
	defer func() {
		if cerr := eng.Close(); cerr != nil {
			c.log.WithError(cerr).Warn("closing document engine failed")
		}
	}()

	if err := eng.Transform(cfg.Lens, cfg.Incl, cfg.Excl); err != nil {
		return Errorf("failed to set up %s for %s: %v", cfg.Lens, strings.Join(cfg.Incl, ", "), err)
	}
	if err := eng.Load(); err != nil {
		return Errorf("failed to load %s: %v", strings.Join(cfg.Incl, ", "), err)
	}

	s := tree.NewSession(eng)
	problems, err := errorRecords(s)
	if err != nil {
		return Errorf("failed to load %s: %v", strings.Join(cfg.Incl, ", "), err)
	}
	if len(problems) > 0 {
		lerr := newDocumentLoadError(problems)
		c.log.Debug(lerr.Message)
		return lerr
	}

	if err := body(s); err != nil {
		return err
	}
	if !cfg.Save {
		return nil
	}
	if serr := eng.Save(); serr != nil {
		return c.saveError(s, serr)
	}
	return nil
}

// saveError collects the engine's error records after a failed save.
func (c *Context) saveError(s *tree.Session, cause error) error {
	problems, err := errorRecords(s)
	if err != nil {
		return Errorf("failed to save: %v (%v)", cause, err)
	}
	if len(problems) == 0 {
		return Errorf("failed to save: %v", cause)
	}
	serr := newDocumentSaveError(problems)
	c.log.Debug(serr.Message)
	return serr
}

// errorRecords reads every error record below /augeas.
func errorRecords(s *tree.Session) ([]SaveProblem, error) {
	paths, err := s.Match("/augeas//error")
	if err != nil {
		return nil, err
	}

	problems := make([]SaveProblem, 0, len(paths))
	for _, p := range paths {
		n, err := s.Tree(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		problems = append(problems, SaveProblem{
			File:    errorFile(p),
			Kind:    n.Val(),
			Line:    n.Child("line").Val(),
			Char:    n.Child("char").Val(),
			Path:    n.Child("path").Val(),
			Message: n.Child("message").Val(),
		})
	}
	return problems, nil
}

// errorFile recovers the file name from an error record path of the form
// /augeas/files/<file>/error.
func errorFile(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) < 5 {
		return path
	}
	return "/" + strings.Join(parts[3:len(parts)-1], "/")
}
