package packager

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vortex-thunder/internal/models"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, fsys afero.Fs, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, fsys.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, afero.WriteFile(fsys, path, buf.Bytes(), 0o644))
}

func readZipNames(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func fixedNow() time.Time {
	return time.Date(2024, 3, 9, 15, 4, 5, 0, time.UTC)
}

func TestFormatDependency(t *testing.T) {
	assert.Equal(t, "Some_Author-Cool_Lib-1.2.0", FormatDependency("Some Author", "Cool Lib", "1.2.0"))
}

func TestResolveDependencies(t *testing.T) {
	all := []models.ModEntry{
		{ModID: 1, Name: "Main Mod", Dependencies: models.StringOrStringSlice{"Core Lib", "Fresh Lib", "Ghost Lib"}},
		{ModID: 2, Name: "Core Lib", Author: "Lib Dev", LastProcessedVersion: models.StringPtr("3.1")},
		{ModID: 3, Name: "Fresh Lib"},
		{ModID: 4, Name: "Team Lib", LastProcessedVersion: models.StringPtr("0.9")},
	}

	resolved, pending := ResolveDependencies(all[0], all, "community")
	assert.Equal(t, []string{"Lib_Dev-Core_Lib-3.1"}, resolved)
	require.Len(t, pending, 2)
	assert.Equal(t, PendingDependency{Name: "Fresh Lib", Reason: ReasonNotProcessed}, pending[0])
	assert.Equal(t, PendingDependency{Name: "Ghost Lib", Reason: ReasonNotConfigured}, pending[1])

	entry := models.ModEntry{Name: "X", Dependencies: models.StringOrStringSlice{"Team Lib"}}
	resolved, pending = ResolveDependencies(entry, all, "")
	assert.Equal(t, []string{"UnknownAuthor-Team_Lib-0.9"}, resolved)
	assert.Empty(t, pending)

	resolved, _ = ResolveDependencies(models.ModEntry{Name: "Solo"}, all, "team")
	assert.NotNil(t, resolved, "resolved list must never be nil")
	assert.Empty(t, resolved)
}

func TestUnresolvedDependencyError(t *testing.T) {
	err := error(&UnresolvedDependencyError{
		Mod:     "Main Mod (1)",
		Pending: []PendingDependency{{Name: "Ghost Lib", Reason: ReasonNotConfigured}},
	})
	assert.True(t, errors.Is(err, ErrUnresolvedDependencies))
	assert.Contains(t, err.Error(), "Ghost Lib (not configured)")
}

func TestSanitizeDescription(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Just text", "Just text"},
		{"line breaks", "one<br>two<br />three", "one\ntwo\nthree"},
		{"html tags", "<p>Hello <b>world</b></p>", "Hello world"},
		{"entities", "Fish &amp; Chips", "Fish & Chips"},
		{"bbcode", "[b]Bold[/b] and [i]it[/i] [url=https://x.test]link[/url]", "**Bold** and *it* [link](https://x.test)"},
		{"unknown bbcode", "[size=4][color=red]Big[/color][/size]", "Big"},
		{"list bbcode", "[list][*]one[*]two[/list]", "onetwo"},
		{"plain brackets kept", "[Note] see [here](https://x.test)", "[Note] see [here](https://x.test)"},
		{"blank runs", "a<br><br><br><br>b", "a\n\nb"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeDescription(tt.in))
		})
	}
}

func TestManifestDescription(t *testing.T) {
	assert.Equal(t, DefaultDescription, ManifestDescription(models.ModInfo{}))
	assert.Equal(t, "Short", ManifestDescription(models.ModInfo{Summary: "Short"}))

	long := strings.Repeat("a", 400)
	got := ManifestDescription(models.ModInfo{Summary: long})
	assert.Len(t, got, MaxDescriptionLength)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestRenderReadmeAndChangelog(t *testing.T) {
	readme := RenderReadme(models.ModInfo{Name: "Cool Mod", Summary: "fallback", Description: "Full [b]text[/b]"})
	assert.Equal(t, "# Cool Mod\n\nFull **text**\n", readme)

	readme = RenderReadme(models.ModInfo{Name: "Cool Mod", Summary: "only summary"})
	assert.Equal(t, "# Cool Mod\n\nonly summary\n", readme)

	assert.Equal(t, "## Version 1.0.0 - 2024-03-09\n\n- Automated update.\n", RenderChangelog("1.0.0", fixedNow()))
}

func TestIconColor(t *testing.T) {
	c, err := IconColor("", "Anything")
	require.NoError(t, err)
	r, g, b, _ := c.RGBA()
	assert.Equal(t, []uint32{0x49, 0x6d, 0x89}, []uint32{r >> 8, g >> 8, b >> 8})

	a1, err := IconColor("auto", "Cool_Mod")
	require.NoError(t, err)
	a2, err := IconColor("AUTO", "Cool_Mod")
	require.NoError(t, err)
	assert.Equal(t, a1, a2, "auto colour must be stable per name")

	_, err = IconColor("not-a-colour", "x")
	assert.Error(t, err)
}

func TestWriteIcon(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/pkg", 0o755))
	c, err := IconColor(DefaultIconColor, "x")
	require.NoError(t, err)
	require.NoError(t, WriteIcon(fsys, "/pkg", c))

	f, err := fsys.Open("/pkg/icon.png")
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, IconSize, img.Bounds().Dx())
	assert.Equal(t, IconSize, img.Bounds().Dy())
}

func TestWriteManifest_EmptyDependencies(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/pkg", 0o755))
	require.NoError(t, WriteManifest(fsys, "/pkg", models.PackageManifest{Name: "A", VersionNumber: "1.0.0"}))

	data, err := afero.ReadFile(fsys, "/pkg/manifest.json")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"dependencies": []`)
	assert.Contains(t, string(data), `    "version_number": "1.0.0"`)
}

func TestExtract_ZipSlipRejected(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeZip(t, fsys, "/in/evil.zip", map[string]string{"../../escape.txt": "x"})

	err := Extract(fsys, "/in/evil.zip", "/out")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsafeArchivePath) || errors.Is(err, ErrCorruptArchive), "got %v", err)
	exists, _ := afero.Exists(fsys, "/escape.txt")
	assert.False(t, exists)
}

func TestExtract_CorruptAndUnsupported(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/in/bad.zip", []byte("not a zip"), 0o644))
	err := Extract(fsys, "/in/bad.zip", "/out")
	assert.True(t, errors.Is(err, ErrCorruptArchive), "got %v", err)

	require.NoError(t, afero.WriteFile(fsys, "/in/mod.7z", []byte("7z"), 0o644))
	err = Extract(fsys, "/in/mod.7z", "/out")
	assert.True(t, errors.Is(err, ErrUnsupportedArchive), "got %v", err)
}

func TestExtract_EmptyArchivesRejected(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeZip(t, fsys, "/in/empty.zip", map[string]string{})
	err := Extract(fsys, "/in/empty.zip", "/out")
	assert.True(t, errors.Is(err, ErrCorruptArchive), "got %v", err)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.Close())
	require.NoError(t, afero.WriteFile(fsys, "/in/empty.tar", buf.Bytes(), 0o644))
	err = Extract(fsys, "/in/empty.tar", "/out")
	assert.True(t, errors.Is(err, ErrCorruptArchive), "got %v", err)
}

func TestExtract_TarGz(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	body := []byte("plugin bytes")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "BepInEx/plugins/mod.dll", Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
	_, err := tw.Write(body)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/in/mod.tar.gz", buf.Bytes(), 0o644))
	require.NoError(t, Extract(fsys, "/in/mod.tar.gz", "/out"))

	got, err := afero.ReadFile(fsys, "/out/BepInEx/plugins/mod.dll")
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestBuild_EndToEnd(t *testing.T) {
	fsys := afero.NewOsFs()
	root := t.TempDir()
	archive := filepath.Join(root, "downloads", "42", "mod.zip")
	writeZip(t, fsys, archive, map[string]string{"plugins/cool.dll": "dll", "readme.txt": "original"})

	all := []models.ModEntry{
		{ModID: 42, Name: "Cool Mod", Dependencies: models.StringOrStringSlice{"Core Lib"}},
		{ModID: 7, Name: "Core Lib", Author: "Lib Dev", LastProcessedVersion: models.StringPtr("1.1")},
	}
	p := &Packager{Fs: fsys, PackagesDir: filepath.Join(root, "packages"), Now: fixedNow}

	res, err := p.Build(Input{
		Entry:       all[0],
		All:         all,
		Info:        models.ModInfo{ModID: 42, Name: "Cool Mod", Version: "2.0", Summary: "A cool mod"},
		ArchivePath: archive,
		WebsiteURL:  "https://www.nexusmods.com/game/mods/42",
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "packages", "Cool_Mod_2.0"), res.Dir)
	assert.Equal(t, filepath.Join(root, "packages", "Cool_Mod_2.0.zip"), res.ArchivePath)
	assert.Equal(t, []string{"Lib_Dev-Core_Lib-1.1"}, res.Manifest.Dependencies)

	for _, name := range []string{ManifestFile, ReadmeFile, ChangelogFile, IconFile, "plugins/cool.dll"} {
		_, err := os.Stat(filepath.Join(res.Dir, filepath.FromSlash(name)))
		assert.NoError(t, err, "missing %s", name)
	}

	data, err := os.ReadFile(filepath.Join(res.Dir, ManifestFile))
	require.NoError(t, err)
	var m models.PackageManifest
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "Cool_Mod", m.Name)
	assert.Equal(t, "2.0", m.VersionNumber)
	assert.Equal(t, "A cool mod", m.Description)
	assert.Equal(t, "https://www.nexusmods.com/game/mods/42", m.WebsiteURL)

	changelog, err := os.ReadFile(filepath.Join(res.Dir, ChangelogFile))
	require.NoError(t, err)
	assert.Contains(t, string(changelog), "## Version 2.0 - 2024-03-09")

	names := readZipNames(t, res.ArchivePath)
	assert.Contains(t, names, ManifestFile)
	assert.Contains(t, names, IconFile)
	assert.Contains(t, names, "plugins/cool.dll")
	for _, n := range names {
		assert.False(t, strings.HasPrefix(n, "Cool_Mod_2.0/"), "zip must hold package contents at its root, got %s", n)
	}

	entries, err := os.ReadDir(p.PackagesDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "only the package dir and zip should remain")
}

func TestBuild_KeepsShippedIcon(t *testing.T) {
	fsys := afero.NewOsFs()
	root := t.TempDir()
	archive := filepath.Join(root, "mod.zip")
	writeZip(t, fsys, archive, map[string]string{"icon.png": "custom"})

	p := &Packager{Fs: fsys, PackagesDir: filepath.Join(root, "packages"), Now: fixedNow}
	res, err := p.Build(Input{
		Entry:       models.ModEntry{ModID: 1, Name: "Iconic"},
		Info:        models.ModInfo{Name: "Iconic", Version: "1.0"},
		ArchivePath: archive,
	})
	require.NoError(t, err)

	icon, err := os.ReadFile(filepath.Join(res.Dir, IconFile))
	require.NoError(t, err)
	assert.Equal(t, "custom", string(icon))
}

func TestBuild_PendingDependencyPolicy(t *testing.T) {
	fsys := afero.NewOsFs()
	root := t.TempDir()
	archive := filepath.Join(root, "mod.zip")
	writeZip(t, fsys, archive, map[string]string{"a.txt": "a"})

	entry := models.ModEntry{ModID: 1, Name: "Needy", Dependencies: models.StringOrStringSlice{"Missing"}}
	in := Input{Entry: entry, All: []models.ModEntry{entry}, Info: models.ModInfo{Name: "Needy", Version: "1.0"}, ArchivePath: archive}

	p := &Packager{Fs: fsys, PackagesDir: filepath.Join(root, "packages"), Now: fixedNow}
	_, err := p.Build(in)
	var unresolved *UnresolvedDependencyError
	require.True(t, errors.As(err, &unresolved), "got %v", err)
	assert.Equal(t, "Missing", unresolved.Pending[0].Name)
	_, statErr := os.Stat(p.PackagesDir)
	assert.True(t, os.IsNotExist(statErr), "nothing should be written when dependencies block the build")

	p.AllowPending = true
	res, err := p.Build(in)
	require.NoError(t, err)
	assert.Empty(t, res.Manifest.Dependencies)
	require.Len(t, res.Pending, 1)
	assert.Equal(t, ReasonNotConfigured, res.Pending[0].Reason)
}

func TestBuild_CorruptArchiveLeavesNothing(t *testing.T) {
	fsys := afero.NewOsFs()
	root := t.TempDir()
	archive := filepath.Join(root, "mod.zip")
	require.NoError(t, os.WriteFile(archive, []byte("garbage"), 0o644))

	p := &Packager{Fs: fsys, PackagesDir: filepath.Join(root, "packages"), Now: fixedNow}
	_, err := p.Build(Input{
		Entry:       models.ModEntry{ModID: 1, Name: "Broken"},
		Info:        models.ModInfo{Name: "Broken", Version: "1.0"},
		ArchivePath: archive,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorruptArchive))

	entries, err := os.ReadDir(p.PackagesDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staging must be removed after a failed build")
}

func TestBuild_ReplacesExistingPackage(t *testing.T) {
	fsys := afero.NewOsFs()
	root := t.TempDir()
	packages := filepath.Join(root, "packages")
	stale := filepath.Join(packages, "Again_1.0")
	require.NoError(t, os.MkdirAll(stale, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stale, "stale.txt"), []byte("old"), 0o644))

	archive := filepath.Join(root, "mod.zip")
	writeZip(t, fsys, archive, map[string]string{"new.txt": "new"})

	p := &Packager{Fs: fsys, PackagesDir: packages, Now: fixedNow}
	res, err := p.Build(Input{
		Entry:       models.ModEntry{ModID: 1, Name: "Again"},
		Info:        models.ModInfo{Name: "Again", Version: "1.0"},
		ArchivePath: archive,
	})
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(res.Dir, "stale.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(res.Dir, "new.txt"))
	assert.NoError(t, err)
}

func TestBuild_NamedAfterEntry(t *testing.T) {
	fsys := afero.NewOsFs()
	root := t.TempDir()
	archive := filepath.Join(root, "mod.zip")
	writeZip(t, fsys, archive, map[string]string{"a.txt": "a"})

	p := &Packager{Fs: fsys, PackagesDir: filepath.Join(root, "packages"), Now: fixedNow}
	entry := models.ModEntry{ModID: 3, Name: "BetterLib"}
	res, err := p.Build(Input{
		Entry:       entry,
		Info:        models.ModInfo{Name: "Better Lib", Version: "1.0.0"},
		ArchivePath: archive,
	})
	require.NoError(t, err)
	assert.Equal(t, "BetterLib", res.Manifest.Name)
	assert.Equal(t, ArchivePathFor(p.PackagesDir, entry.Name, "1.0.0"), res.ArchivePath)

	assert.Equal(t, "Better Lib", PackageSourceName(models.ModEntry{}, models.ModInfo{Name: "Better Lib"}))
}

func TestArchivePathFor(t *testing.T) {
	assert.Equal(t, filepath.Join("packages", "My_Mod_1.2.3.zip"), ArchivePathFor("packages", "My Mod", "1.2.3"))
}
