// Package worker hosts the thumbnail interceptor and the lifecycle that
// installs and activates it.
//
// A Worker is one version of the interceptor. Install signals that it should
// activate immediately (skip waiting), Activate claims every open client, and
// Fetch applies the cache-aside policy to requests under the configured path
// prefix, returning an explicit Intercepted or PassThrough result. Storage and
// network primitives are injected; failures from either are returned to the
// caller untouched.
//
// Registration plays the host's role: it drives install/activate, keeps track
// of the active and waiting versions and routes each client's requests to the
// worker controlling that client.
package worker
