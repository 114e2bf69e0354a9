// Package httputil holds the response helpers, request parsing and
// middleware shared by chronicle's HTTP handlers.
//
//	router.Use(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)
//
// Errors are written as {"error": "..."} with the matching status code.
package httputil
