package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	forbiddenChars = regexp.MustCompile(`[\\/*?:"<>|]`)
	controlChars   = regexp.MustCompile(`[\x00-\x1f]`)
	multiSpace     = regexp.MustCompile(`\s+`)
)

// foldDiacritics strips combining marks so accented titles produce
// portable folder names (e.g. "Bibliothèque" -> "Bibliotheque").
var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SanitizeFilename makes a string safe for use as a file or directory name
// on Windows, Linux and macOS.
func SanitizeFilename(name string) string {
	if folded, _, err := transform.String(foldDiacritics, name); err == nil {
		name = folded
	}
	s := forbiddenChars.ReplaceAllString(name, "_")
	s = controlChars.ReplaceAllString(s, "")
	s = multiSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// JobID derives a stable, URL-safe job identifier from the library and
// manifest URL. Re-submitting the same manifest always yields the same ID,
// e.g. "Gallica_a1b2c3d4...".
func JobID(library, manifestURL string) string {
	sum := sha256.Sum256([]byte(manifestURL))
	return fmt.Sprintf("%s_%s", library, hex.EncodeToString(sum[:]))
}

// FolderName builds the on-disk directory name for a downloaded document,
// in the form "LIBRARY - id - title". The title is optional and truncated
// to 30 characters to keep paths short.
func FolderName(library, docID, title string) string {
	cleanID := SanitizeFilename(docID)

	cleanTitle := ""
	if title != "" {
		t := SanitizeFilename(title)
		if len(t) > 30 {
			t = t[:30]
		}
		t = strings.TrimSpace(t)
		if t != "" {
			cleanTitle = " - " + t
		}
	}

	return fmt.Sprintf("%s - %s%s", strings.ToUpper(library), cleanID, cleanTitle)
}
