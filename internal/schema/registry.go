// Package schema holds the versioned structural definitions of every form type
// and validates serialized returns against them.
package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	dErrors "efile/pkg/domain-errors"
	"efile/pkg/platform/sentinel"
)

// envelopeType is the pseudo form type of the shared Return envelope schema.
const envelopeType = "Return"

// snapshot is an immutable view of every registered definition. Readers load it
// without locking; writers copy, modify and swap.
type snapshot struct {
	defs     map[Key]*Definition
	versions map[string][]Version
}

func (s *snapshot) with(def *Definition, v Version) *snapshot {
	next := &snapshot{
		defs:     make(map[Key]*Definition, len(s.defs)+1),
		versions: make(map[string][]Version, len(s.versions)+1),
	}
	for k, d := range s.defs {
		next.defs[k] = d
	}
	for ft, vs := range s.versions {
		next.versions[ft] = vs
	}

	next.defs[Key{FormType: def.FormType, Version: def.Version}] = def
	vs := slices.Clone(next.versions[def.FormType])
	if !slices.ContainsFunc(vs, func(x Version) bool { return x.Compare(v) == 0 }) {
		vs = append(vs, v)
		slices.SortFunc(vs, Version.Compare)
	}
	next.versions[def.FormType] = vs
	return next
}

func (s *snapshot) latest(formType string) (Version, bool) {
	vs := s.versions[formType]
	if len(vs) == 0 {
		return Version{}, false
	}
	return vs[len(vs)-1], true
}

// Registry maps (form type, version) to a compiled definition.
type Registry struct {
	mu      sync.Mutex
	current atomic.Pointer[snapshot]
	sources []Source
	store   Store
	loads   singleflight.Group
	logger  *slog.Logger
}

type Option func(*Registry)

// WithSource adds a source loaded at construction. Later sources override
// earlier ones for the same key.
func WithSource(src Source) Option {
	return func(r *Registry) { r.sources = append(r.sources, src) }
}

// WithStore shares registrations through store and consults it on lookup misses.
func WithStore(store Store) Option {
	return func(r *Registry) { r.store = store }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// New builds a registry from its sources. Without WithSource the embedded
// schemas are used.
func New(ctx context.Context, opts ...Option) (*Registry, error) {
	r := &Registry{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	if len(r.sources) == 0 {
		r.sources = []Source{Embedded()}
	}
	r.logger = r.logger.With("component", "schema")
	r.current.Store(&snapshot{defs: map[Key]*Definition{}, versions: map[string][]Version{}})

	sources := r.sources
	if r.store != nil {
		sources = append(slices.Clone(sources), r.store)
	}
	for _, src := range sources {
		keys, err := src.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list schema source: %w", err)
		}
		for _, key := range keys {
			data, err := src.Load(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("load schema %s: %w", key, err)
			}
			if _, err := r.install(key, data); err != nil {
				return nil, err
			}
		}
	}
	r.logger.InfoContext(ctx, "schema registry loaded", "definitions", len(r.current.Load().defs))
	return r, nil
}

// Register adds or replaces the definition for (formType, version) and makes it
// visible to subsequent validations.
func (r *Registry) Register(ctx context.Context, formType, version string, source []byte) error {
	key := Key{FormType: formType, Version: version}
	def, err := r.install(key, source)
	if err != nil {
		return err
	}
	if r.store != nil {
		if err := r.store.Save(ctx, key, source); err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "share schema registration")
		}
	}
	r.logger.InfoContext(ctx, "schema registered",
		"form_type", def.FormType,
		"version", def.Version,
	)
	return nil
}

func (r *Registry) install(key Key, source []byte) (*Definition, error) {
	v, err := ParseVersion(key.Version)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "register schema")
	}
	def, err := ParseDefinition(source)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "register schema")
	}
	if def.FormType == "" {
		def.FormType = key.FormType
	}
	if def.Version == "" {
		def.Version = key.Version
	}
	if def.FormType != key.FormType || def.Version != key.Version {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput,
			"schema source declares %s %s, registered as %s %s", def.FormType, def.Version, key.FormType, key.Version)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.current.Store(r.current.Load().with(def, v))
	return def, nil
}

// Definition returns the schema for formType at version, or the latest version
// when version is empty.
func (r *Registry) Definition(ctx context.Context, formType, version string) (*Definition, error) {
	snap := r.current.Load()
	if version == "" {
		v, ok := snap.latest(formType)
		if !ok {
			return nil, &SchemaNotFoundError{FormType: formType}
		}
		version = v.String()
	}
	key := Key{FormType: formType, Version: version}
	if def, ok := snap.defs[key]; ok {
		return def, nil
	}
	return r.loadMissing(ctx, key)
}

// loadMissing consults the shared store for a registration made by another
// replica. Concurrent misses for one key share a single load.
func (r *Registry) loadMissing(ctx context.Context, key Key) (*Definition, error) {
	if r.store == nil {
		return nil, &SchemaNotFoundError{FormType: key.FormType, Version: key.Version}
	}
	res, err, _ := r.loads.Do(key.String(), func() (any, error) {
		data, err := r.store.Load(ctx, key)
		if err != nil {
			return nil, err
		}
		return r.install(key, data)
	})
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, &SchemaNotFoundError{FormType: key.FormType, Version: key.Version}
	}
	if err != nil {
		return nil, err
	}
	return res.(*Definition), nil
}

// Latest returns the newest registered version of formType.
func (r *Registry) Latest(formType string) (string, bool) {
	v, ok := r.current.Load().latest(formType)
	if !ok {
		return "", false
	}
	return v.String(), true
}

// Versions lists the registered versions of formType, oldest first.
func (r *Registry) Versions(formType string) []string {
	vs := r.current.Load().versions[formType]
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.String()
	}
	return out
}

// Has reports whether any version of formType is registered.
func (r *Registry) Has(formType string) bool {
	return len(r.current.Load().versions[formType]) > 0
}
