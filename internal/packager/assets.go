package packager

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"html"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"vortex-thunder/internal/models"

	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/microcosm-cc/bluemonday"
	"github.com/spf13/afero"
)

const (
	ManifestFile  = "manifest.json"
	ReadmeFile    = "README.md"
	ChangelogFile = "CHANGELOG.md"
	IconFile      = "icon.png"

	IconSize = 256
	// DefaultIconColor is the slate blue placeholder used when no colour is configured.
	DefaultIconColor = "#496d89"
	// IconColorAuto derives a stable colour from the package name.
	IconColorAuto = "auto"

	DefaultDescription   = "No description provided."
	MaxDescriptionLength = 250
)

// bbcodeTags are the tag names Nexus descriptions use. Other bracketed text,
// such as markdown link labels, is left alone.
const bbcodeTags = `b|i|u|s|url|size|color|colour|font|center|left|right|list|\*|img|quote|spoiler|code|youtube|line|heading|hr|ol|ul|li|table|tr|td|th`

var (
	lineBreakTag = regexp.MustCompile(`(?i)<br\s*/?>`)
	bbcodeBold   = regexp.MustCompile(`(?is)\[b\](.*?)\[/b\]`)
	bbcodeItalic = regexp.MustCompile(`(?is)\[i\](.*?)\[/i\]`)
	bbcodeURL    = regexp.MustCompile(`(?is)\[url=([^\]]+)\](.*?)\[/url\]`)
	bbcodeAny    = regexp.MustCompile(`(?i)\[/?(` + bbcodeTags + `)(=[^\]]*)?\]`)
	blankRuns    = regexp.MustCompile(`\n{3,}`)
	stripAll     = bluemonday.StrictPolicy()
)

// SanitizeDescription turns a Nexus HTML/BBCode description into plain markdown.
func SanitizeDescription(raw string) string {
	s := lineBreakTag.ReplaceAllString(raw, "\n")
	s = stripAll.Sanitize(s)
	s = html.UnescapeString(s)
	s = bbcodeAny.ReplaceAllStringFunc(s, keepMarkdownTags)
	s = bbcodeBold.ReplaceAllString(s, "**$1**")
	s = bbcodeItalic.ReplaceAllString(s, "*$1*")
	s = bbcodeURL.ReplaceAllString(s, "[$2]($1)")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// keepMarkdownTags drops every BBCode tag that has no markdown rendering.
func keepMarkdownTags(tag string) string {
	switch strings.ToLower(bbcodeAny.FindStringSubmatch(tag)[1]) {
	case "b", "i", "url":
		return tag
	}
	return ""
}

// ManifestDescription picks the summary and trims it to Thunderstore's limit.
func ManifestDescription(info models.ModInfo) string {
	desc := strings.TrimSpace(SanitizeDescription(info.Summary))
	if desc == "" {
		return DefaultDescription
	}
	if utf8.RuneCountInString(desc) > MaxDescriptionLength {
		runes := []rune(desc)
		desc = strings.TrimSpace(string(runes[:MaxDescriptionLength-3])) + "..."
	}
	return desc
}

// RenderReadme returns the README body for a mod.
func RenderReadme(info models.ModInfo) string {
	body := SanitizeDescription(info.Description)
	if body == "" {
		body = SanitizeDescription(info.Summary)
	}
	name := info.Name
	if name == "" {
		name = "Unknown Mod"
	}
	return fmt.Sprintf("# %s\n\n%s\n", name, body)
}

// RenderChangelog returns the CHANGELOG body for version on day.
func RenderChangelog(version string, day time.Time) string {
	return fmt.Sprintf("## Version %s - %s\n\n- Automated update.\n", version, day.Format("2006-01-02"))
}

// WriteManifest writes manifest.json into dir.
func WriteManifest(fsys afero.Fs, dir string, m models.PackageManifest) error {
	if m.Dependencies == nil {
		m.Dependencies = []string{}
	}
	data, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	return writeFile(fsys, filepath.Join(dir, ManifestFile), data)
}

// WriteReadme writes README.md into dir.
func WriteReadme(fsys afero.Fs, dir string, info models.ModInfo) error {
	return writeFile(fsys, filepath.Join(dir, ReadmeFile), []byte(RenderReadme(info)))
}

// WriteChangelog writes CHANGELOG.md into dir.
func WriteChangelog(fsys afero.Fs, dir, version string, day time.Time) error {
	return writeFile(fsys, filepath.Join(dir, ChangelogFile), []byte(RenderChangelog(version, day)))
}

// WriteIcon writes a solid IconSize square PNG into dir.
func WriteIcon(fsys afero.Fs, dir string, fill color.Color) error {
	img := image.NewRGBA(image.Rect(0, 0, IconSize, IconSize))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: fill}, image.Point{}, draw.Src)

	f, err := fsys.Create(filepath.Join(dir, IconFile))
	if err != nil {
		return fmt.Errorf("creating icon: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encoding icon: %w", err)
	}
	return f.Close()
}

// IconColor resolves a configured colour value for a package.
func IconColor(value, packageName string) (color.Color, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		value = DefaultIconColor
	case IconColorAuto:
		h := fnv.New32a()
		_, _ = h.Write([]byte(packageName))
		hue := float64(h.Sum32() % 360)
		return toRGBA(colorful.Hsv(hue, 0.45, 0.55)), nil
	}
	c, err := colorful.Hex(value)
	if err != nil {
		return nil, fmt.Errorf("invalid icon colour %q: %w", value, err)
	}
	return toRGBA(c), nil
}

func toRGBA(c colorful.Color) color.RGBA {
	r, g, b := c.Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

func writeFile(fsys afero.Fs, path string, data []byte) error {
	if err := afero.WriteFile(fsys, path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}
