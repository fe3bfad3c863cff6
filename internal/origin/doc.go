// Package origin is the built-in thumbnail source used when no external
// upstream is configured. Source images live in an S3-compatible bucket
// (Cloudflare R2 in production); Fetcher renders them into bounded JPEG
// thumbnails with long-lived cache headers and acts as the interceptor's
// network primitive, while Handler exposes the same thumbnails plus raw object
// streaming (/file/<key>) for requests the interceptor passes through.
package origin
