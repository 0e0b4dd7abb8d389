package common

import (
	"fmt"
	"strings"
)

// ConfigWriter builds the sectioned, human-readable form of a configuration
// struct used by the String methods of the configs and by the CLI.
type ConfigWriter struct {
	sb strings.Builder
}

// AddSection starts a new section with an upper case title
func (w *ConfigWriter) AddSection(title string) {
	w.sb.WriteString("\n")
	w.sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
}

// AddField writes one aligned name/value line
func (w *ConfigWriter) AddField(name, value string) {
	w.sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
}

// AddFieldf writes one aligned line with a formatted value
func (w *ConfigWriter) AddFieldf(name, format string, args ...interface{}) {
	w.AddField(name, fmt.Sprintf(format, args...))
}

// String returns everything written so far
func (w *ConfigWriter) String() string {
	return w.sb.String()
}
