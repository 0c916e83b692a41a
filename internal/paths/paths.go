package paths

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"vortex-thunder/internal/helpers"
	"vortex-thunder/internal/models"
)

// DefaultDownloadPattern keeps each mod's downloads in a directory named by its id.
const DefaultDownloadPattern = "{modId}"

// Define allowed tags using a map for easy lookup
var allowedTags = map[string]struct{}{
	"modId":   {},
	"modName": {},
	"fileId":  {},
	"version": {},
	"author":  {},
}

// Regex to find tags like {tagName}
var tagRegex = regexp.MustCompile(`\{([^}]+)\}`)

// ValidatePattern returns the tags in pattern that GeneratePath would reject.
func ValidatePattern(pattern string) []string {
	var bad []string
	for _, match := range tagRegex.FindAllStringSubmatch(pattern, -1) {
		if _, ok := allowedTags[match[1]]; !ok {
			bad = append(bad, match[0])
		}
	}
	return bad
}

// DownloadData builds the tag values for one mod's download.
func DownloadData(info models.ModInfo, file models.FileInfo) map[string]string {
	return map[string]string{
		"modId":   strconv.Itoa(info.ModID),
		"modName": info.Name,
		"fileId":  strconv.Itoa(file.FileID),
		"version": info.Version,
		"author":  info.Author,
	}
}

// GeneratePath substitutes placeholders in a pattern string with sanitized values from the data map.
// It returns the generated relative path string or an error if substitution fails.
func GeneratePath(pattern string, data map[string]string) (string, error) {
	if pattern == "" {
		pattern = DefaultDownloadPattern
	}
	generatedPath := pattern

	for _, match := range tagRegex.FindAllStringSubmatch(pattern, -1) {
		tagName := match[1]
		tagWithBraces := match[0]

		if _, allowed := allowedTags[tagName]; !allowed {
			return "", fmt.Errorf("unknown tag found in path pattern: %s", tagWithBraces)
		}

		// Missing values slug to "" and fall through to the empty_ placeholder.
		sanitizedValue := helpers.ConvertToSlug(data[tagName])
		if sanitizedValue == "" {
			sanitizedValue = "empty_" + tagName
		}
		generatedPath = strings.ReplaceAll(generatedPath, tagWithBraces, sanitizedValue)
	}

	cleanedPath := filepath.Clean(generatedPath)
	if cleanedPath == "." || cleanedPath == "" {
		return "", fmt.Errorf("generated path pattern resulted in an empty or invalid path: '%s'", pattern)
	}
	// Ensure it's a relative path
	cleanedPath = strings.TrimPrefix(cleanedPath, string(filepath.Separator))

	// Security check: Prevent path traversal
	if strings.Contains(cleanedPath, "..") {
		return "", fmt.Errorf("generated path contains invalid sequence '..': %s", cleanedPath)
	}

	return cleanedPath, nil
}
