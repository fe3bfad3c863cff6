// Package fetch defines the request/response descriptors exchanged between the
// interceptor, the cache store and the network. A Response body can be read
// exactly once; Clone buffers it so one copy can be written to the cache while
// the other is returned to the caller. HTTPFetcher is the network primitive
// used by the edge: it resolves descriptors onto the configured upstream and
// reports transport failures as errors rather than synthetic responses.
package fetch
