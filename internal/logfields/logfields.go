package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyStage      = "stage"
	KeyDurationMS = "duration_ms"
	KeyRoute      = "route"
	KeyPath       = "path"
	KeyGroup      = "group"
	KeyDigest     = "digest"
	KeyKind       = "kind"
	KeyAsset      = "asset"
	KeyCount      = "count"
	KeyWorkers    = "workers"
	KeyOutput     = "output"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr       { return slog.String(KeyRunID, id) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Route(r string) slog.Attr        { return slog.String(KeyRoute, r) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Group(g string) slog.Attr        { return slog.String(KeyGroup, g) }
func Digest(d string) slog.Attr       { return slog.String(KeyDigest, d) }
func Kind(k string) slog.Attr         { return slog.String(KeyKind, k) }
func Asset(name string) slog.Attr     { return slog.String(KeyAsset, name) }
func Count(n int) slog.Attr           { return slog.Int(KeyCount, n) }
func Workers(n int) slog.Attr         { return slog.Int(KeyWorkers, n) }
func Output(dir string) slog.Attr     { return slog.String(KeyOutput, dir) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
