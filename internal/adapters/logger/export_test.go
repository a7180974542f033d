package logger

// The error chain walker and formatter are unexported; re-export them
// here so the external test package can pin their output.
var (
	CollectErrorEntriesExported = collectErrorEntries
	FormatErrorEntriesExported  = formatErrorEntries
)
