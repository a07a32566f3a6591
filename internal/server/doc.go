// Package server exposes the cache manager over HTTP. GET /assets streams a
// cached (or freshly fetched) remote image; each in-flight request acts as one
// cache consumer whose lock brackets the response. Diagnostics live under
// /-/ (prewarm, flush, stats) so they never collide with asset serving. The
// upstream fetcher in this package is the network collaborator the cache core
// treats as a black box.
package server
