// Package buildinfo exposes version metadata stamped at build time via
// -ldflags "-X wastenav/internal/buildinfo.Version=... ".
package buildinfo

var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

func Info() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"date":    Date,
	}
}
