// Package proxy connects the Fiber server to the thumbnail worker. Handler
// dispatches each request to the worker controlling the client and writes the
// intercepted response back; PassThrough results fall through to the
// Forwarder, which performs the default network handling (upstream or origin)
// with panic isolation.
package proxy
