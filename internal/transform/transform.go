// filmetl - PostgreSQL to Elasticsearch change-data-capture pipeline
// Copyright 2026 Roman Zyapkin
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rezyapkin/filmetl

// Package transform turns a raw extracted SQL row into a document ready
// for the search index, keyed by the binding's transform_class name.
package transform

import (
	"fmt"

	"github.com/rezyapkin/filmetl/internal/document"
)

// Row is one extracted record: the field aliases the query builder
// produced, mapped to their decoded Go values. Scalar fields decode to
// string/float64/nil; grouped fields decode to []any holding either
// raw scalars (single-field groups) or map[string]any (multi-field
// groups, one per jsonb_build_object key).
type Row map[string]any

// Transform converts one extracted Row into a document ready for
// indexing. Implementations must be safe to reuse across rows.
type Transform interface {
	Apply(row Row) (any, error)
}

// Registry resolves a binding's transform_class name to a Transform.
type Registry struct {
	transforms map[string]Transform
}

// NewRegistry builds a Registry seeded with the built-in transforms.
func NewRegistry() *Registry {
	return &Registry{
		transforms: map[string]Transform{
			"FilmTransform": FilmTransform{},
		},
	}
}

// Register adds or replaces the Transform bound to name.
func (r *Registry) Register(name string, t Transform) {
	r.transforms[name] = t
}

// Get resolves name, returning an error if nothing is registered for it.
func (r *Registry) Get(name string) (Transform, error) {
	t, ok := r.transforms[name]
	if !ok {
		return nil, fmt.Errorf("transform: no transform registered for class %q", name)
	}
	return t, nil
}

// FilmTransform turns one extracted film-work row into a document: a
// person's role routes them into exactly one of the director,
// actors_names or writers_names name arrays (a person with the producer
// role contributes to neither), and actors are additionally collected
// into the nested Actors array with their id and name.
type FilmTransform struct{}

func (FilmTransform) Apply(row Row) (any, error) {
	id, ok := row["id"].(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("filmtransform: row missing string \"id\" field")
	}

	film := document.NewFilm(id)
	film.Title, _ = row["title"].(string)
	film.Description, _ = row["description"].(string)

	if rating, ok := row["imdb_rating"].(float64); ok {
		film.IMDbRating = &rating
	}

	film.Genre = stringList(row["genre"])

	persons := row["persons"]
	items, _ := persons.([]any)
	seenDirector := map[string]bool{}
	seenActor := map[string]bool{}
	seenWriter := map[string]bool{}

	for _, raw := range items {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := entry["name"].(string)
		personID, _ := entry["id"].(string)
		role := document.PersonRole(fmt.Sprint(entry["role"]))
		if name == "" {
			continue
		}

		switch role {
		case document.PersonRoleDirector:
			if !seenDirector[name] {
				seenDirector[name] = true
				film.Director = append(film.Director, name)
			}
		case document.PersonRoleActor:
			if !seenActor[name] {
				seenActor[name] = true
				film.ActorsNames = append(film.ActorsNames, name)
				film.Actors = append(film.Actors, document.Person{ID: personID, Name: name})
			}
		case document.PersonRoleWriter:
			if !seenWriter[name] {
				seenWriter[name] = true
				film.WritersNames = append(film.WritersNames, name)
			}
		case document.PersonRoleProducer:
			// carried through the persons aggregate only; no name array.
		}
	}

	return film, nil
}

// stringList coerces a decoded []any of scalars (or a single scalar) into
// a []string, skipping entries that are empty or not strings.
func stringList(v any) []string {
	out := []string{}
	items, ok := v.([]any)
	if !ok {
		if s, ok := v.(string); ok && s != "" {
			return []string{s}
		}
		return out
	}
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
