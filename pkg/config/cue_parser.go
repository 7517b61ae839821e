package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ValidationError describes one problem in a settings file.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	switch {
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	default:
		return e.Message
	}
}

// ParseError collects every problem found while loading a settings file.
type ParseError struct {
	Errors []ValidationError
}

func (e *ParseError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, v := range e.Errors {
		parts = append(parts, v.String())
	}
	return "invalid settings: " + strings.Join(parts, "; ")
}

// Parser loads settings files. YAML files are decoded over the defaults;
// CUE files are unified with the embedded schema first. Both are then
// checked with struct validation.
type Parser struct {
	ctx       *cue.Context
	schema    cue.Value
	validator *validator.Validate
}

// NewParser creates a parser with the built-in schema compiled.
func NewParser() (*Parser, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(settingsSchema, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile settings schema: %w", err)
	}

	return &Parser{
		ctx:       ctx,
		schema:    schema.LookupPath(cue.ParsePath("#Settings")),
		validator: validator.New(),
	}, nil
}

// LoadFile reads and parses path based on its extension.
func (p *Parser) LoadFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return p.ParseYAML(data, path)
	case ".cue":
		return p.ParseCUE(data, path)
	default:
		return nil, fmt.Errorf("unsupported settings file extension: %s", filepath.Ext(path))
	}
}

// ParseYAML decodes YAML settings. Unknown keys are rejected.
func (p *Parser) ParseYAML(data []byte, filename string) (*Settings, error) {
	s := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty document decodes to io.EOF and leaves the defaults in place.
	if err := dec.Decode(s); err != nil && err != io.EOF {
		return nil, &ParseError{Errors: []ValidationError{{File: filename, Message: err.Error()}}}
	}

	if err := p.finish(s); err != nil {
		return nil, err
	}
	return s, nil
}

// ParseCUE compiles CUE settings and unifies them with the schema.
func (p *Parser) ParseCUE(data []byte, filename string) (*Settings, error) {
	val := p.ctx.CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, &ParseError{Errors: convertCUEErrors(err)}
	}

	unified := p.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, &ParseError{Errors: convertCUEErrors(err)}
	}

	s := Default()
	if err := unified.Decode(s); err != nil {
		return nil, &ParseError{Errors: []ValidationError{{File: filename, Message: fmt.Sprintf("failed to decode: %v", err)}}}
	}

	if err := p.finish(s); err != nil {
		return nil, err
	}
	return s, nil
}

// finish fills nil maps and runs struct validation.
func (p *Parser) finish(s *Settings) error {
	if s.Sites == nil {
		s.Sites = map[string]*Site{}
	}
	if s.Subscriptions == nil {
		s.Subscriptions = map[string]*Subscription{}
	}
	if s.SiteIDs == nil {
		s.SiteIDs = map[string]int64{}
	}
	for key, site := range s.Sites {
		if site == nil {
			d := DefaultSite()
			s.Sites[key] = &d
		}
	}
	for id, sub := range s.Subscriptions {
		if sub == nil {
			d := DefaultSubscription()
			s.Subscriptions[id] = &d
		}
	}

	if err := p.validator.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if ok := asValidationErrors(err, &verrs); !ok {
			return fmt.Errorf("validation failed: %w", err)
		}
		out := make([]ValidationError, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, ValidationError{
				Path:    fe.Namespace(),
				Message: fmt.Sprintf("failed %q constraint (value %v)", fe.Tag(), fe.Value()),
			})
		}
		return &ParseError{Errors: out}
	}
	return nil
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	v, ok := err.(validator.ValidationErrors)
	if ok {
		*target = v
	}
	return ok
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError

	for _, e := range errors.Errors(err) {
		var file string
		var line, column int

		if pos := errors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		out = append(out, ValidationError{
			File:    file,
			Line:    line,
			Column:  column,
			Path:    strings.Join(e.Path(), "."),
			Message: errors.Details(e, nil),
		})
	}

	return out
}
