// Package hostinfo answers read-only questions about the local host's
// package-management identity. Detection never fails: ambiguous hosts get a
// best-guess profile with low confidence.
package hostinfo

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Confidence expresses how certain detection is about a Profile.
type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
)

// Profile describes the host's OS family, distribution and package manager.
type Profile struct {
	OSFamily       string     `json:"os_family"`
	DistroID       string     `json:"distro_id"`
	PackageManager string     `json:"package_manager"`
	Confidence     Confidence `json:"confidence"`
}

// distroPackageManagers maps /etc/os-release ID values to package managers.
var distroPackageManagers = map[string]string{
	"fedora":              "dnf",
	"rhel":                "dnf",
	"centos":              "dnf",
	"rocky":               "dnf",
	"alma":                "dnf",
	"debian":              "apt",
	"ubuntu":              "apt",
	"raspbian":            "apt",
	"mint":                "apt",
	"pop":                 "apt",
	"arch":                "pacman",
	"manjaro":             "pacman",
	"endeavouros":         "pacman",
	"opensuse-leap":       "zypper",
	"opensuse-tumbleweed": "zypper",
	"sles":                "zypper",
	"alpine":              "apk",
}

// Detect inspects the running host and returns its Profile. It is a pure
// read of the filesystem and never returns an error; callers should detect
// once at startup and pass the value down.
func Detect() Profile {
	return DetectFromRoot("/")
}

// DetectFromRoot is Detect with an overridable filesystem root, so tests can
// point it at a fixture tree.
func DetectFromRoot(root string) Profile {
	if runtime.GOOS == "darwin" {
		return Profile{
			OSFamily:       "darwin",
			DistroID:       "macos",
			PackageManager: "brew",
			Confidence:     ConfidenceHigh,
		}
	}

	p := Profile{
		OSFamily:   runtime.GOOS,
		Confidence: ConfidenceLow,
	}

	id, idLike := readOSRelease(filepath.Join(root, "etc", "os-release"))
	if id == "" {
		return p
	}
	p.DistroID = id

	if pm, ok := distroPackageManagers[id]; ok {
		p.PackageManager = pm
		p.Confidence = ConfidenceHigh
		return p
	}

	// Unknown ID: fall back to the ID_LIKE chain, lower confidence.
	for _, like := range idLike {
		if pm, ok := distroPackageManagers[like]; ok {
			p.PackageManager = pm
			return p
		}
	}

	return p
}

// readOSRelease parses ID and ID_LIKE from an os-release file. Missing or
// unreadable files yield empty results.
func readOSRelease(path string) (id string, idLike []string) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "ID="):
			id = unquote(strings.TrimPrefix(line, "ID="))
		case strings.HasPrefix(line, "ID_LIKE="):
			raw := unquote(strings.TrimPrefix(line, "ID_LIKE="))
			idLike = strings.Fields(raw)
		}
	}
	return id, idLike
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	return strings.Trim(s, `"'`)
}
