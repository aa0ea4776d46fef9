package utils

import (
	"path"
	"strings"
	"unicode"
)

// SanitizeString sanitizes a string for safe use
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// TruncateString truncates a string to max length
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// FileStem strips directories and the final extension from a file name.
func FileStem(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if ext := path.Ext(name); ext != "" && ext != name {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}

// DownloadName builds prefix + stem + ext for a downloadable file.
func DownloadName(prefix, sourceName, ext string) string {
	stem := FileStem(SanitizeString(sourceName))
	if stem == "" || stem == "." || stem == "/" {
		stem = "video"
	}
	return prefix + stem + ext
}
