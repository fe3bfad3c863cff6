// Package server hosts the Fiber HTTP service that plays the browser's role
// for the thumbnail worker: it identifies clients (one per session cookie),
// attaches them to the worker registration, assigns request IDs and hands each
// request to the intercepting proxy handler. Diagnostics live under /-/ and
// bypass interception. Helpers here translate between Fiber contexts and the
// fetch package's request/response descriptors so proxy and origin handlers
// share one conversion path.
package server
