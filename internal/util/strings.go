package util

import "regexp"

var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// MakeValidFileName replaces characters that are unsafe in filenames
// with underscores.
func MakeValidFileName(name string) string {
	return invalidFilenameChars.ReplaceAllString(name, "_")
}
