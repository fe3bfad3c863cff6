// Package cache implements the named, disk-backed response store used by the
// interceptor. Each named cache lives under StoragePath/<name>/ and holds one
// file per request key: a JSON header line (method, URL, status, headers)
// followed by the raw body bytes. Writes go through temp file + rename so a
// single entry is always replaced atomically; concurrent writers to the same
// key serialize on a per-entry lock and the last write wins. Caches are
// created lazily on Open and are never removed by the store itself.
package cache
