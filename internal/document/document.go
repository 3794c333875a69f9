// filmetl - PostgreSQL to Elasticsearch change-data-capture pipeline
// Copyright 2026 Roman Zyapkin
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rezyapkin/filmetl

// Package document defines the target index record shape.
package document

// Person is a nested cast member reference inside a Film document.
type Person struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PersonRole enumerates the role values the source schema may carry.
// Only PersonRoleDirector, PersonRoleActor and PersonRoleWriter feed the
// denormalized name arrays; PersonRoleProducer is carried through the
// persons aggregate and otherwise ignored.
type PersonRole string

const (
	PersonRoleActor    PersonRole = "actor"
	PersonRoleDirector PersonRole = "director"
	PersonRoleProducer PersonRole = "producer"
	PersonRoleWriter   PersonRole = "writer"
)

// PersonRef is one row of a film's aggregated persons array, as it comes
// back from the query builder's json_agg(jsonb_build_object(...)).
type PersonRef struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Role     PersonRole `json:"role"`
	Modified string     `json:"modified,omitempty"`
}

// Film is the denormalized per-film document uploaded to the search
// index. ID is also surfaced as ElasticID so the bulk
// loader can address it for idempotent upsert.
type Film struct {
	ID          string   `json:"id"`
	ElasticID   string   `json:"_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	IMDbRating  *float64 `json:"imdb_rating,omitempty"`
	Genre       []string `json:"genre"`

	Director     []string `json:"director"`
	ActorsNames  []string `json:"actors_names"`
	WritersNames []string `json:"writers_names"`
	Actors       []Person `json:"actors"`
}

// NewFilm initializes a Film with empty (never nil) slice fields, so the
// transform can always append without a nil check and the marshaled
// document always carries `[]` rather than `null` for absent arrays.
func NewFilm(id string) *Film {
	return &Film{
		ID:           id,
		ElasticID:    id,
		Genre:        []string{},
		Director:     []string{},
		ActorsNames:  []string{},
		WritersNames: []string{},
		Actors:       []Person{},
	}
}
