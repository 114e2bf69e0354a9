// Package cli implements the chronicle command line tool.
//
// Commands:
//
//	chronicle history -collection users -id 42
//	chronicle export  -collection users -format csv -before 2024-01-01T00:00:00Z -out users.csv
//	chronicle archive -collection users -before 2024-01-01T00:00:00Z -delete
//	chronicle restore -collection users -key history/users/20240101T000000.000Z.ndjson
//	chronicle prune   -collection users -max-age 2160h -archive
//	chronicle policy  -collection users
//
// Each command runs against the storage backend and S3 archive configured
// through the CHRONICLE_* environment variables.
package cli
