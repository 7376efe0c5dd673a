package search

import (
	"strings"

	"github.com/hyperjump/kioku/pkg/utils"
)

// Snippet flattens whitespace in content and truncates it to maxRunes.
func Snippet(content string, maxRunes int) string {
	return utils.Truncate(strings.Join(strings.Fields(content), " "), maxRunes)
}
