package hostinfo

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func writeOSRelease(t *testing.T, content string) string {
	t.Helper()
	root := t.TempDir()
	etc := filepath.Join(root, "etc")
	if err := os.MkdirAll(etc, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(etc, "os-release"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func TestDetectFedora(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("detection short-circuits on darwin")
	}
	root := writeOSRelease(t, "NAME=\"Fedora Linux\"\nID=fedora\nVERSION_ID=41\n")

	p := DetectFromRoot(root)
	if p.DistroID != "fedora" {
		t.Errorf("DistroID = %q, want fedora", p.DistroID)
	}
	if p.PackageManager != "dnf" {
		t.Errorf("PackageManager = %q, want dnf", p.PackageManager)
	}
	if p.Confidence != ConfidenceHigh {
		t.Errorf("Confidence = %q, want high", p.Confidence)
	}
}

func TestDetectViaIDLike(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("detection short-circuits on darwin")
	}
	root := writeOSRelease(t, "ID=neon\nID_LIKE=\"ubuntu debian\"\n")

	p := DetectFromRoot(root)
	if p.DistroID != "neon" {
		t.Errorf("DistroID = %q, want neon", p.DistroID)
	}
	if p.PackageManager != "apt" {
		t.Errorf("PackageManager = %q, want apt (via ID_LIKE)", p.PackageManager)
	}
	if p.Confidence != ConfidenceLow {
		t.Errorf("Confidence = %q, want low for ID_LIKE match", p.Confidence)
	}
}

func TestDetectUnknownNeverFails(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("detection short-circuits on darwin")
	}
	root := t.TempDir() // no /etc/os-release at all

	p := DetectFromRoot(root)
	if p.Confidence != ConfidenceLow {
		t.Errorf("Confidence = %q, want low", p.Confidence)
	}
	if p.PackageManager != "" {
		t.Errorf("PackageManager = %q, want empty sentinel", p.PackageManager)
	}
}

func TestDetectIdempotent(t *testing.T) {
	a := Detect()
	b := Detect()
	if a != b {
		t.Errorf("Detect not idempotent: %+v vs %+v", a, b)
	}
}

func TestUpdateCommand(t *testing.T) {
	tests := []struct {
		pm   string
		want string
	}{
		{"dnf", "sudo dnf upgrade --refresh -y"},
		{"apt", "sudo apt update && sudo apt upgrade -y"},
		{"pacman", "sudo pacman -Syu"},
		{"nix", ""},
		{"", ""},
	}
	for _, tt := range tests {
		got := UpdateCommand(Profile{PackageManager: tt.pm})
		if got != tt.want {
			t.Errorf("UpdateCommand(%q) = %q, want %q", tt.pm, got, tt.want)
		}
	}
}

func TestInstallCommand(t *testing.T) {
	p := Profile{PackageManager: "apt"}

	if got := InstallCommand(p, "ripgrep"); got != "sudo apt install -y ripgrep" {
		t.Errorf("InstallCommand = %q", got)
	}
	if got := InstallCommand(Profile{PackageManager: "portage"}, "ripgrep"); got != "" {
		t.Errorf("unsupported manager should return empty sentinel, got %q", got)
	}
}

func TestInstallCommandRejectsUnsafeNames(t *testing.T) {
	p := Profile{PackageManager: "dnf"}

	unsafe := []string{
		"",
		"foo; rm -rf /",
		"foo && curl evil",
		"foo`id`",
		"$(reboot)",
		"foo bar",
		"foo|sh",
	}
	for _, pkg := range unsafe {
		if got := InstallCommand(p, pkg); got != "" {
			t.Errorf("InstallCommand(%q) = %q, want empty sentinel", pkg, got)
		}
	}

	safe := []string{"ripgrep", "gcc-c++x", "libstdc++", "python3.12", "foo-bar_baz", "pkg:ver"}
	for _, pkg := range safe {
		if got := InstallCommand(p, pkg); got == "" {
			t.Errorf("InstallCommand(%q) rejected a safe name", pkg)
		}
	}
}
