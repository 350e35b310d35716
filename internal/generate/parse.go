package generate

import (
	"sort"
	"strings"
)

// commonCommands are well-known executables used to decide whether a line of
// model output looks like a shell command rather than prose.
var commonCommands = map[string]bool{
	"sudo": true, "ls": true, "cd": true, "cp": true, "mv": true, "rm": true,
	"find": true, "grep": true, "rg": true, "cat": true, "tail": true,
	"head": true, "du": true, "df": true, "ps": true, "top": true,
	"htop": true, "kill": true, "pkill": true, "systemctl": true,
	"journalctl": true, "git": true, "curl": true, "wget": true, "ssh": true,
	"scp": true, "tar": true, "zip": true, "unzip": true, "chmod": true,
	"chown": true, "mkdir": true, "touch": true, "echo": true, "awk": true,
	"sed": true, "sort": true, "uniq": true, "wc": true, "xargs": true,
	"ip": true, "ping": true, "dig": true, "nmcli": true, "ss": true,
	"netstat": true, "dnf": true, "apt": true, "apt-get": true,
	"pacman": true, "zypper": true, "apk": true, "brew": true, "docker": true,
	"podman": true, "make": true, "free": true, "uname": true, "uptime": true,
	"lsof": true, "mount": true, "env": true, "export": true, "man": true,
	"which": true, "whereis": true, "ncdu": true, "fd": true,
}

// commandLines extracts plausible shell-command lines from free-form model
// output: code-fence contents, `$ `-prefixed lines, and bare lines whose
// first word is a known executable. Conversational filler yields nothing.
func commandLines(raw string) []string {
	var out []string
	seen := make(map[string]bool)
	inFence := false

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}

		cmd := cleanCommandLine(trimmed)
		if cmd == "" {
			continue
		}
		if !inFence && !looksLikeCommand(cmd) {
			continue
		}
		if inFence && !looksLikeCommand(cmd) && strings.Contains(cmd, " ") && !strings.Contains(cmd, "/") {
			// Fenced prose (e.g. a comment block) still gets filtered.
			continue
		}
		if seen[cmd] {
			continue
		}
		seen[cmd] = true
		out = append(out, cmd)
	}
	return out
}

// cleanCommandLine strips shell-prompt prefixes, backticks and surrounding
// whitespace. Returns "" for lines that cannot be commands.
func cleanCommandLine(line string) string {
	s := strings.TrimSpace(line)
	s = strings.Trim(s, "`")
	s = strings.TrimPrefix(s, "$ ")
	s = strings.TrimPrefix(s, "# ")
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "```") {
		return ""
	}
	// Multi-line strings are never a single runnable command.
	if strings.ContainsAny(s, "\n\r") {
		return ""
	}
	return s
}

// looksLikeCommand reports whether the line's first word is a known
// executable or an absolute/relative path.
func looksLikeCommand(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	first := fields[0]
	if commonCommands[first] {
		return true
	}
	return strings.HasPrefix(first, "/") || strings.HasPrefix(first, "./")
}

// heuristicScore derives a confidence for a candidate with no model-reported
// confidence: known leading executable and moderate length score higher.
func heuristicScore(cmd string) float64 {
	score := 0.5
	if looksLikeCommand(cmd) {
		score += 0.2
	}
	n := len(cmd)
	switch {
	case n >= 4 && n <= 120:
		score += 0.1
	case n > 300:
		score -= 0.3
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// rankStable orders candidates by score descending, preserving generation
// order for equal scores.
func rankStable(cands []Candidate) []Candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].Score > cands[j].Score
	})
	return cands
}
