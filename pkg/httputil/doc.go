// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteForbidden(w, "insufficient permissions")
//	httputil.WriteServiceUnavailable(w, "store unavailable")
//
// Errors are written as RFC 7807 problem documents (application/problem+json)
// with a machine-readable code. Internal errors are never echoed to clients;
// WriteInternalError writes a fixed detail and the handler logs the cause.
//
// # Middleware
//
//	router.Use(httputil.RequestIDMiddleware(logger))
//	router.Use(httputil.LoggingMiddleware)
//	router.Use(httputil.RecoveryMiddleware)
package httputil
