// Package archive ships history collections to object storage.
//
// An Archiver reads the rows of a history collection, optionally limited to
// rows whose _lastChange is older than a cutoff, and uploads them as one
// NDJSON object under history/<collection>/<timestamp>.ndjson. With
// DeleteArchived set, the uploaded rows are then removed from the history
// collection, which lets retention keep long-term history in S3 while the
// document store stays small.
//
// S3Store talks to AWS S3 or any S3 compatible service such as MinIO.
package archive
