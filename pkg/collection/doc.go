// Package collection runs audited mutations against a live collection and
// its history collection.
//
// # Overview
//
// A Collection wraps a live storage.Collection and, when auditing is on, a
// history storage.Collection. Every mutation path keeps the same contract:
// the state a document had before the mutation is appended to history as a
// row whose _id is replaced by _docId, and the live document ends up with
// _version incremented by one and _lastChange set to the time of the copy.
//
//	users := collection.New(db.Collection("users"),
//		collection.WithHistory(db.Collection("users_history")),
//		collection.WithLogger(logger),
//	)
//
//	res, err := users.Save(ctx, &User{Name: "Ann"})
//	res, err = users.Update(document.New("_id", id)).WithRecord(ctx, &User{Name: "Bob"})
//	doc, found, err := users.FindAndModify(document.New("_id", id)).
//		With(document.New("$inc", document.New("logins", 1))).
//		ReturnNew().
//		Result(ctx)
//
// # Insert and Save
//
// Each record gets an identity first (generated when unset), is marshalled
// and pinned to that identity, then copied to history before the live write.
// Records implementing versioning.VersionedRecord see their version bumped
// in memory so callers observe the stored value.
//
// # Update
//
// Operator updates passed to With are written as is and are not audited:
// an arbitrary modifier has no clean pre-image without an extra read.
// Replacement updates (WithRecord, or With given a document without
// operators) strip _id from the payload and are audited.
//
// # FindAndModify
//
// The atomic operation runs first and its result is returned untouched. The
// audit pass then copies the document's state and bumps its version. With
// Remove the removed document's last state stays in history.
//
// # Consistency
//
// Audited updates read the documents they are about to change, issue the
// write, then copy the pre-images and bump versions by _id. None of these
// steps are atomic with each other. A concurrent writer between the read and
// the write can cause a history row that misses its change or a version that
// is bumped twice. This is a best-effort audit trail, eventually consistent
// with the live collection. It is not a transaction log.
//
// Store errors are returned wrapped in a *StageError naming the step that
// failed; errors.Is still reaches the store's own error.
package collection
