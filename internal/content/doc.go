// Package content models source files and the routes derived from them.
//
// A ContentFile loads its bytes at most once per run and exposes a stable
// 64-bit digest. A SiteEntry pairs a ContentFile with its kind and the output
// path/route it renders to. Route derivation is a pure function of the path
// relative to the content root.
package content
