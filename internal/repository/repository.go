// Package repository implements the in-memory keyed stores that own the
// signaling engine's connections, users and sessions.
//
// A Repository is not safe for concurrent mutation. The engine serializes every
// mutating entry point, so a Repository only ever sees one writer at a time.
package repository

import "iter"

// Entity is anything a Repository can hold.
type Entity interface {
	ID() string
	SetID(id string)
}

// Saver is the capability a bound entity uses to persist itself.
type Saver[T Entity] interface {
	Update(entity T) T
}

// Bindable entities are bound to the repository that owns them on Add and
// Update so they can later call Save.
type Bindable[T Entity] interface {
	BindRepository(repo Saver[T])
}

// Repository is an insertion-ordered map from id to entity.
type Repository[T Entity] struct {
	ids   IDStrategy
	items []T
	index map[string]int
}

// New returns an empty repository that draws fresh ids from ids. A nil
// strategy falls back to RandomIDs.
func New[T Entity](ids IDStrategy) *Repository[T] {
	if ids == nil {
		ids = RandomIDs{}
	}
	return &Repository[T]{
		ids:   ids,
		index: make(map[string]int),
	}
}

// Get returns the entity stored under id.
func (r *Repository[T]) Get(id string) (T, bool) {
	if i, ok := r.index[id]; ok {
		return r.items[i], true
	}
	var zero T
	return zero, false
}

// Find returns the first entity, in insertion order, that matches.
func (r *Repository[T]) Find(match func(T) bool) (T, bool) {
	for _, item := range r.items {
		if match(item) {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// IsUnique reports whether no entity is stored under id.
func (r *Repository[T]) IsUnique(id string) bool {
	_, ok := r.index[id]
	return !ok
}

// NewID draws ids from the strategy until one is unused. Empty ids are never
// returned.
func (r *Repository[T]) NewID() string {
	for {
		id := r.ids.NewID()
		if id != "" && r.IsUnique(id) {
			return id
		}
	}
}

// Add appends entity. An unset or already taken id is replaced by a fresh one,
// so Add never stores two entities under the same id.
func (r *Repository[T]) Add(entity T) T {
	if entity.ID() == "" || !r.IsUnique(entity.ID()) {
		entity.SetID(r.NewID())
	}
	r.bind(entity)
	r.index[entity.ID()] = len(r.items)
	r.items = append(r.items, entity)
	return entity
}

// Update replaces the entity stored under the same id in place, keeping its
// position. Entities with an unset or unknown id are added.
func (r *Repository[T]) Update(entity T) T {
	if entity.ID() == "" {
		return r.Add(entity)
	}
	i, ok := r.index[entity.ID()]
	if !ok {
		return r.Add(entity)
	}
	r.bind(entity)
	r.items[i] = entity
	return entity
}

// Remove deletes the entity stored under id. Unknown ids are ignored.
func (r *Repository[T]) Remove(id string) {
	i, ok := r.index[id]
	if !ok {
		return
	}
	copy(r.items[i:], r.items[i+1:])
	var zero T
	r.items[len(r.items)-1] = zero
	r.items = r.items[:len(r.items)-1]
	delete(r.index, id)
	for j := i; j < len(r.items); j++ {
		r.index[r.items[j].ID()] = j
	}
}

// RemoveEntity deletes entity by its id.
func (r *Repository[T]) RemoveEntity(entity T) {
	r.Remove(entity.ID())
}

// Len returns the number of stored entities.
func (r *Repository[T]) Len() int {
	return len(r.items)
}

// All iterates entities in insertion order. The sequence may be ranged over
// any number of times; mutating the repository during iteration is undefined.
func (r *Repository[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, item := range r.items {
			if !yield(item) {
				return
			}
		}
	}
}

// Snapshot returns a copy of the entities in insertion order, safe to range
// over while the repository changes.
func (r *Repository[T]) Snapshot() []T {
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

func (r *Repository[T]) bind(entity T) {
	if b, ok := any(entity).(Bindable[T]); ok {
		b.BindRepository(r)
	}
}
