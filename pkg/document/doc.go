// Package document provides the untyped document model the audit pipelines
// operate on.
//
// A Document is an ordered list of fields backed by bson.D. Documents are
// owned and mutable. A View is anything that can be read and materialized into
// an owned Document; RawView is a lazily decoded view over encoded BSON bytes
// and IdentityView pins the identity field of another view.
//
// Views are never mutated in place. Code that needs to change fields first
// calls Materialize (or Clone) and works on the returned Document:
//
//	doc, err := document.Clone(view)
//	if err != nil {
//		return err
//	}
//	doc.Rename(document.IDField, "_docId")
package document
