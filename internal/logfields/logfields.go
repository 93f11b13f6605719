// Package logfields centralizes slog attribute construction so field names
// stay consistent across packages.
package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID   = "run_id"
	KeyVersion = "minecraft_version"
	KeyBuild   = "build_number"
	KeyRepo    = "repository"
	KeyPath    = "path"
	KeyJar     = "jar"
	KeyPlugin  = "plugin"
	KeyHash    = "hash"
	KeyCommit  = "commit"
	KeyURL     = "url"
	KeyError   = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr     { return slog.String(KeyRunID, id) }
func Version(v string) slog.Attr    { return slog.String(KeyVersion, v) }
func Build(n int) slog.Attr         { return slog.Int(KeyBuild, n) }
func Repository(r string) slog.Attr { return slog.String(KeyRepo, r) }
func Path(p string) slog.Attr       { return slog.String(KeyPath, p) }
func Jar(name string) slog.Attr     { return slog.String(KeyJar, name) }
func Plugin(name string) slog.Attr  { return slog.String(KeyPlugin, name) }
func Hash(h string) slog.Attr       { return slog.String(KeyHash, h) }
func Commit(id string) slog.Attr    { return slog.String(KeyCommit, id) }
func URL(u string) slog.Attr        { return slog.String(KeyURL, u) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
