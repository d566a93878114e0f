package build

import (
	"bytes"
	"fmt"
	"strings"
)

// Commit stores the current commit hash of this build; set with -ldflags
// during compilation.
var Commit string

const semanticAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-"

const (
	appMajor uint = 0
	appMinor uint = 1
	appPatch uint = 0

	appPreRelease = "alpha"
)

// Version returns the application version as a semver 2.0.0 string plus
// the commit it was built on.
func Version() string {
	return fmt.Sprintf("%s commit=%s", semanticVersion(), Commit)
}

func semanticVersion() string {
	version := fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)

	preRelease := normalizeVerString(appPreRelease, semanticAlphabet)
	if preRelease != "" {
		version = fmt.Sprintf("%s-%s", version, preRelease)
	}
	return version
}

func normalizeVerString(str, alphabet string) string {
	var result bytes.Buffer
	for _, r := range str {
		if strings.ContainsRune(alphabet, r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}
