package utils

import "github.com/microcosm-cc/bluemonday"

var sanitizer = bluemonday.UGCPolicy()

// Sanitize cleans user supplied HTML before it is stored or echoed back.
func Sanitize(input string) string {
	return sanitizer.Sanitize(input)
}
