package version

// Set via -ldflags at build time.
var (
	AppName   = "guildscript"
	Version   = "dev"
	BuildDate = "unknown"
)
