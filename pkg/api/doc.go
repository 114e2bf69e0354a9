// Package api serves read-only HTTP access to live documents and their
// history.
//
// Routes:
//
//	GET /v1/collections/{name}/documents/{id}           live document
//	GET /v1/collections/{name}/documents/{id}/history   history rows, oldest version first
//	GET /v1/collections/{name}/history                  recent history rows of a collection
//	GET /v1/collections/{name}/count                    live document count
//	GET /healthz, /readyz                               liveness and readiness
//	GET /metrics                                        Prometheus metrics
//
// Document ids are parsed by httputil.ParseID; ?id_type=string|int|objectid
// overrides detection. History routes accept ?format=json|ndjson|csv.
// Documents are encoded as canonical Extended JSON.
package api
