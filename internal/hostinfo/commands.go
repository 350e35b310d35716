package hostinfo

import "strings"

// updateCommands holds the canonical "update everything" command per package
// manager. Unknown managers map to the empty sentinel.
var updateCommands = map[string]string{
	"dnf":    "sudo dnf upgrade --refresh -y",
	"apt":    "sudo apt update && sudo apt upgrade -y",
	"pacman": "sudo pacman -Syu",
	"zypper": "sudo zypper update -y",
	"apk":    "sudo apk upgrade --update-cache",
	"brew":   "brew update && brew upgrade",
}

// installTemplates holds the install command per package manager with a %s
// placeholder for the package name.
var installTemplates = map[string]string{
	"dnf":    "sudo dnf install -y %s",
	"apt":    "sudo apt install -y %s",
	"pacman": "sudo pacman -S %s",
	"zypper": "sudo zypper install -y %s",
	"apk":    "sudo apk add %s",
	"brew":   "brew install %s",
}

// UpdateCommand returns the canonical full-upgrade command for the profile,
// or "" when the package manager is unsupported. Deterministic; callers use
// the empty return to fall back gracefully rather than handle an error.
func UpdateCommand(p Profile) string {
	return updateCommands[p.PackageManager]
}

// InstallCommand returns the install command for pkg on the given profile,
// or "" when the package manager is unsupported or pkg fails sanitization.
func InstallCommand(p Profile, pkg string) string {
	tmpl, ok := installTemplates[p.PackageManager]
	if !ok {
		return ""
	}
	if !SafePackageName(pkg) {
		return ""
	}
	return strings.Replace(tmpl, "%s", pkg, 1)
}

// SafePackageName reports whether pkg is safe to embed in a shell command.
// Package names across dnf/apt/pacman/apk are limited to alphanumerics and
// a small punctuation set; anything else is rejected rather than escaped.
func SafePackageName(pkg string) bool {
	if pkg == "" || len(pkg) > 128 {
		return false
	}
	for _, r := range pkg {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.' || r == '+' || r == ':' || r == '@':
		default:
			return false
		}
	}
	return true
}
