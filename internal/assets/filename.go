package assets

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxNameBytes = 200
	untitled     = "untitled"
	forbidden    = `/\?%*:|"<>`
)

// SanitizeFilename removes characters that are invalid in file names on
// common filesystems, trims leading and trailing dots and spaces, and caps the
// result at maxNameBytes without splitting a rune.
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if r == utf8.RuneError || unicode.IsControl(r) || strings.ContainsRune(forbidden, r) {
			continue
		}
		b.WriteRune(r)
	}
	out := strings.Trim(b.String(), ". ")
	out = truncate(out, maxNameBytes)
	out = strings.TrimRight(out, ". ")
	if out == "" {
		return untitled
	}
	return out
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// DocumentFilename names the text document of an item: "<id>. <title>.txt".
// The id prefix keeps names unique when titles collide.
func DocumentFilename(itemID, title string) string {
	return truncate(fmt.Sprintf("%s. %s", itemID, SanitizeFilename(title)), maxNameBytes) + ".txt"
}

// BinaryFilename names a downloaded binary after the last path segment of its
// URL. URLs without a usable segment get a digest-based name that keeps the
// extension when there is one.
func BinaryFilename(remoteURL string) string {
	u, err := url.Parse(remoteURL)
	if err == nil {
		segment := path.Base(u.Path)
		if unescaped, unErr := url.PathUnescape(segment); unErr == nil {
			segment = unescaped
		}
		if segment != "" && segment != "/" && segment != "." {
			if name := SanitizeFilename(segment); name != untitled {
				return name
			}
		}
	}
	sum := sha256.Sum256([]byte(remoteURL))
	name := hex.EncodeToString(sum[:])[:32]
	if err == nil {
		if ext := path.Ext(u.Path); len(ext) > 1 && len(ext) <= 8 {
			name += "." + SanitizeFilename(ext[1:])
		}
	}
	return name
}
