// Package cache persists rendered output keyed by route and content digest.
//
// A restore is a hit only when the stored digest equals the current one.
// Besides pages the store tracks static asset digests, a template
// modification checkpoint used for whole-site invalidation, and a run log so
// an interrupted run forces the next one to re-render.
package cache
