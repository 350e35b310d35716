package intent

import "testing"

func TestClassify(t *testing.T) {
	c := NewRuleClassifier()

	tests := []struct {
		prompt string
		want   string
	}{
		{"update my system", SystemUpdate},
		{"please upgrade all packages", SystemUpdate},
		{"update everything", SystemUpdate},
		{"install ripgrep", InstallPackage},
		{"can you install the package htop", InstallPackage},
		{"find files named config.yaml", SearchFiles},
		{"search for files containing TODO", SearchFiles},
		{"how much disk space is left", DiskUsage},
		{"what is taking up space in this folder", DiskUsage},
		{"what's using all my memory", ProcessStatus},
		{"show processes sorted by cpu usage", ProcessStatus},
		{"what is my ip address", Network},
		{"which ports are listening", Network},
		{"git commit everything", Git},
		{"undo the last commit", Git},
		{"", Unknown},
		{"make me a sandwich", Unknown},
	}

	for _, tt := range tests {
		got := c.Classify(tt.prompt)
		if got.Label != tt.want {
			t.Errorf("Classify(%q).Label = %q, want %q", tt.prompt, got.Label, tt.want)
		}
	}
}

func TestClassifyConfidence(t *testing.T) {
	c := NewRuleClassifier()

	if got := c.Classify("update my system"); got.Confidence <= 0 || got.Confidence > 1 {
		t.Errorf("Confidence = %v, want in (0,1]", got.Confidence)
	}
	if got := c.Classify("gibberish zzz"); got.Confidence != 0 {
		t.Errorf("unknown prompt Confidence = %v, want 0", got.Confidence)
	}
}

func TestClassifyExtractsPackageName(t *testing.T) {
	c := NewRuleClassifier()

	tests := []struct {
		prompt string
		want   string
	}{
		{"install ripgrep", "ripgrep"},
		{"install the package htop", "htop"},
		{"please install neovim for me", "neovim"},
	}
	for _, tt := range tests {
		got := c.Classify(tt.prompt)
		if got.Label != InstallPackage {
			t.Fatalf("Classify(%q).Label = %q, want install_package", tt.prompt, got.Label)
		}
		if got.Package != tt.want {
			t.Errorf("Classify(%q).Package = %q, want %q", tt.prompt, got.Package, tt.want)
		}
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := NewRuleClassifier()
	a := c.Classify("update my system")
	b := c.Classify("update my system")
	if a != b {
		t.Errorf("classification not deterministic: %+v vs %+v", a, b)
	}
}
