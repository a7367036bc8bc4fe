// Package httpapi exposes the attendant operations over HTTP.
//
// Routes:
//
//	GET  /healthz
//	GET  /v1/view
//	POST /v1/checkins
//	POST /v1/sessions/{ref}/checkout
//	GET  /v1/promotion
//	POST /v1/promotion/accept
//	POST /v1/promotion/reject
//	POST /v1/sync
//	GET  /v1/queue
//
// Errors are JSON bodies of the form {"error":{"code":...,"message":...}}
// where code is the engine.ErrorKind label.
package httpapi
