// Package engine executes store driver operations over an in-memory set of
// documents and records which documents changed, so that backends without a
// native document query language can persist only the difference.
package engine

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/platinummonkey/chronicle/pkg/document"
	"github.com/platinummonkey/chronicle/pkg/storage"
	"github.com/platinummonkey/chronicle/pkg/storage/query"
)

// ErrNoModifier is returned by FindAndModify without an update or remove.
var ErrNoModifier = errors.New("engine: find and modify requires an update or remove")

// Set is an ordered collection of documents keyed by _id. It is not safe for
// concurrent use; callers provide locking.
type Set struct {
	docs  []document.Document
	index map[string]int

	dirty     map[string]struct{}
	deleted   map[string]any
	untracked bool

	newID func() any
}

// NewSet builds a Set from loaded documents. Documents are kept as given.
func NewSet(docs []document.Document) (*Set, error) {
	s := &Set{
		index:   make(map[string]int, len(docs)),
		dirty:   make(map[string]struct{}),
		deleted: make(map[string]any),
		newID:   func() any { return bson.NewObjectID() },
	}
	for _, d := range docs {
		key, err := keyOf(d)
		if err != nil {
			return nil, err
		}
		if _, dup := s.index[key]; dup {
			return nil, fmt.Errorf("%w: %s", storage.ErrDuplicateKey, key)
		}
		s.index[key] = len(s.docs)
		s.docs = append(s.docs, d)
	}
	return s, nil
}

// Changes lists what was written since the Set was built or last reset.
type Changes struct {
	Put     []document.Document
	Deleted []any
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Put) == 0 && len(c.Deleted) == 0
}

// Changes returns the current change list. Put is in document order.
func (s *Set) Changes() Changes {
	var c Changes
	if len(s.dirty) > 0 {
		for _, d := range s.docs {
			key, _ := keyOf(d)
			if _, ok := s.dirty[key]; ok {
				c.Put = append(c.Put, d)
			}
		}
	}
	for _, id := range s.deleted {
		c.Deleted = append(c.Deleted, id)
	}
	return c
}

// DisableTracking stops recording changes. Used by backends that hold the
// Set as their only copy of the data.
func (s *Set) DisableTracking() {
	s.untracked = true
	s.ResetChanges()
}

// ResetChanges clears the change list.
func (s *Set) ResetChanges() {
	s.dirty = make(map[string]struct{})
	s.deleted = make(map[string]any)
}

// Docs returns the documents in insertion order. The slice is shared.
func (s *Set) Docs() []document.Document {
	return s.docs
}

// Len returns the number of documents.
func (s *Set) Len() int {
	return len(s.docs)
}

// Insert adds new documents. The whole batch is rejected on a duplicate id.
func (s *Set) Insert(docs ...document.Document) (storage.WriteResult, error) {
	prepared := make([]document.Document, 0, len(docs))
	keys := make(map[string]struct{}, len(docs))
	ids := make([]any, 0, len(docs))
	for _, d := range docs {
		doc := d.Clone()
		if !doc.Has(document.IDField) {
			doc = prepend(doc, s.newID())
		}
		key, err := keyOf(doc)
		if err != nil {
			return storage.WriteResult{}, err
		}
		if _, exists := s.index[key]; exists {
			return storage.WriteResult{}, fmt.Errorf("%w: %v", storage.ErrDuplicateKey, doc.Get(document.IDField))
		}
		if _, exists := keys[key]; exists {
			return storage.WriteResult{}, fmt.Errorf("%w: %v", storage.ErrDuplicateKey, doc.Get(document.IDField))
		}
		keys[key] = struct{}{}
		prepared = append(prepared, doc)
		ids = append(ids, doc.Get(document.IDField))
	}
	for _, doc := range prepared {
		s.put(doc)
	}
	return storage.WriteResult{Acknowledged: true, Inserted: int64(len(prepared)), InsertedIDs: ids}, nil
}

// Save replaces the document with the same _id or inserts it.
func (s *Set) Save(doc document.Document) (storage.WriteResult, error) {
	doc = doc.Clone()
	if !doc.Has(document.IDField) {
		doc = prepend(doc, s.newID())
	}
	key, err := keyOf(doc)
	if err != nil {
		return storage.WriteResult{}, err
	}
	if i, ok := s.index[key]; ok {
		modified := int64(0)
		if !query.Equal(s.docs[i], doc) {
			modified = 1
		}
		s.docs[i] = doc
		s.track(key)
		return storage.WriteResult{Acknowledged: true, Matched: 1, Modified: modified}, nil
	}
	s.put(doc)
	id := doc.Get(document.IDField)
	return storage.WriteResult{Acknowledged: true, Upserted: 1, UpsertedID: id}, nil
}

// Update applies modifier to the first (or, with Multi, every) document
// matching filter.
func (s *Set) Update(filter, modifier document.Document, opts storage.UpdateOptions) (storage.WriteResult, error) {
	replacement := !query.IsOperatorModifier(modifier)
	if replacement && opts.Multi {
		return storage.WriteResult{}, fmt.Errorf("multi update requires update operators")
	}
	positions, err := s.match(filter)
	if err != nil {
		return storage.WriteResult{}, err
	}
	if len(positions) == 0 {
		if !opts.Upsert {
			return storage.WriteResult{Acknowledged: true}, nil
		}
		doc, err := s.upsert(filter, modifier)
		if err != nil {
			return storage.WriteResult{}, err
		}
		return storage.WriteResult{Acknowledged: true, Upserted: 1, UpsertedID: doc.Get(document.IDField)}, nil
	}
	if !opts.Multi {
		positions = positions[:1]
	}

	res := storage.WriteResult{Acknowledged: true}
	for _, i := range positions {
		updated := s.docs[i].Clone()
		if err := query.Apply(&updated, modifier, false); err != nil {
			return storage.WriteResult{}, err
		}
		res.Matched++
		if !query.Equal(s.docs[i], updated) {
			res.Modified++
			s.replaceAt(i, updated)
		}
	}
	return res, nil
}

// Delete removes every document matching filter.
func (s *Set) Delete(filter document.Document) (storage.WriteResult, error) {
	positions, err := s.match(filter)
	if err != nil {
		return storage.WriteResult{}, err
	}
	// Remove back to front so earlier positions stay valid.
	for j := len(positions) - 1; j >= 0; j-- {
		s.removeAt(positions[j])
	}
	return storage.WriteResult{Acknowledged: true, Deleted: int64(len(positions))}, nil
}

// Find returns clones of the matching documents.
func (s *Set) Find(filter document.Document, opts storage.FindOptions) ([]document.Document, error) {
	positions, err := s.match(filter)
	if err != nil {
		return nil, err
	}
	out := make([]document.Document, 0, len(positions))
	for _, i := range positions {
		out = append(out, s.docs[i].Clone())
	}
	query.Sort(out, opts.Sort)
	if opts.Limit > 0 && int64(len(out)) > opts.Limit {
		out = out[:opts.Limit]
	}
	if len(opts.Projection) > 0 {
		for i := range out {
			out[i] = query.Project(out[i], opts.Projection)
		}
	}
	return out, nil
}

// Count returns the number of matching documents.
func (s *Set) Count(filter document.Document) (int64, error) {
	positions, err := s.match(filter)
	if err != nil {
		return 0, err
	}
	return int64(len(positions)), nil
}

// FindAndModify updates or removes the first matching document in sort
// order.
func (s *Set) FindAndModify(filter document.Document, opts storage.FindAndModifyOptions) (document.Document, bool, error) {
	if !opts.Remove && len(opts.Update) == 0 {
		return nil, false, ErrNoModifier
	}
	positions, err := s.match(filter)
	if err != nil {
		return nil, false, err
	}
	if len(positions) == 0 {
		if opts.Remove || !opts.Upsert {
			return nil, false, nil
		}
		doc, err := s.upsert(filter, opts.Update)
		if err != nil {
			return nil, false, err
		}
		if !opts.ReturnNew {
			return nil, false, nil
		}
		return query.Project(doc.Clone(), opts.Projection), true, nil
	}

	target := s.first(positions, opts.Sort)
	old := s.docs[target].Clone()
	if opts.Remove {
		s.removeAt(target)
		return query.Project(old, opts.Projection), true, nil
	}

	updated := old.Clone()
	if err := query.Apply(&updated, opts.Update, false); err != nil {
		return nil, false, err
	}
	s.replaceAt(target, updated)
	if opts.ReturnNew {
		return query.Project(updated.Clone(), opts.Projection), true, nil
	}
	return query.Project(old, opts.Projection), true, nil
}

func (s *Set) first(positions []int, sortSpec document.Document) int {
	if len(sortSpec) == 0 || len(positions) == 1 {
		return positions[0]
	}
	candidates := make([]document.Document, len(positions))
	byKey := make(map[string]int, len(positions))
	for n, i := range positions {
		candidates[n] = s.docs[i]
		key, _ := keyOf(s.docs[i])
		byKey[key] = i
	}
	query.Sort(candidates, sortSpec)
	key, _ := keyOf(candidates[0])
	return byKey[key]
}

func (s *Set) upsert(filter, modifier document.Document) (document.Document, error) {
	var doc document.Document
	if query.IsOperatorModifier(modifier) {
		doc = query.UpsertSeed(filter)
		if err := query.Apply(&doc, modifier, true); err != nil {
			return nil, err
		}
	} else {
		doc = modifier.Clone()
		if id, ok := query.IDFromFilter(filter); ok && !doc.Has(document.IDField) {
			doc = prepend(doc, id)
		}
	}
	if !doc.Has(document.IDField) {
		doc = prepend(doc, s.newID())
	}
	if _, err := s.Insert(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Set) match(filter document.Document) ([]int, error) {
	if id, ok := query.IDFromFilter(filter); ok {
		key, err := query.IDKey(id)
		if err != nil {
			return nil, err
		}
		i, found := s.index[key]
		if !found {
			return nil, nil
		}
		ok, err := query.Match(s.docs[i], filter)
		if err != nil || !ok {
			return nil, err
		}
		return []int{i}, nil
	}

	var positions []int
	for i, d := range s.docs {
		ok, err := query.Match(d, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			positions = append(positions, i)
		}
	}
	return positions, nil
}

func (s *Set) put(doc document.Document) {
	key, _ := keyOf(doc)
	s.index[key] = len(s.docs)
	s.docs = append(s.docs, doc)
	s.track(key)
}

func (s *Set) replaceAt(i int, doc document.Document) {
	key, _ := keyOf(doc)
	s.docs[i] = doc
	s.track(key)
}

func (s *Set) removeAt(i int) {
	doc := s.docs[i]
	key, _ := keyOf(doc)
	s.docs = append(s.docs[:i], s.docs[i+1:]...)
	delete(s.index, key)
	if !s.untracked {
		delete(s.dirty, key)
		s.deleted[key] = doc.Get(document.IDField)
	}
	for k, pos := range s.index {
		if pos > i {
			s.index[k] = pos - 1
		}
	}
}

func (s *Set) track(key string) {
	if s.untracked {
		return
	}
	s.dirty[key] = struct{}{}
	delete(s.deleted, key)
}

func keyOf(doc document.Document) (string, error) {
	id, ok := doc.Lookup(document.IDField)
	if !ok {
		return "", fmt.Errorf("document has no %s", document.IDField)
	}
	return query.IDKey(id)
}

func prepend(doc document.Document, id any) document.Document {
	out := make(document.Document, 0, len(doc)+1)
	out = append(out, bson.E{Key: document.IDField, Value: id})
	return append(out, doc...)
}
