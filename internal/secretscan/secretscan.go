// Package secretscan finds credentials introduced by a commit diff. Three
// detectors run over the parsed diff: a table of known credential formats,
// a Shannon entropy heuristic gated on secret-ish keywords, and a list of
// file names that must never be committed.
package secretscan

import (
	"math"
	"path"
	"regexp"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Method is the detector that produced a finding.
type Method string

const (
	MethodPattern       Method = "pattern"
	MethodEntropy       Method = "entropy"
	MethodForbiddenFile Method = "forbidden_file"
)

// DetectedSecret is one finding. LineNumber is 0 for forbidden files.
type DetectedSecret struct {
	FilePath        string `json:"filePath"`
	LineNumber      int    `json:"lineNumber"`
	PatternName     string `json:"patternName"`
	DetectionMethod Method `json:"detectionMethod"`
}

// Pattern is a named credential format.
type Pattern struct {
	Name  string
	Regex *regexp.Regexp
}

// Patterns is the credential format table, checked in order.
var Patterns = []Pattern{
	{"aws_access_key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"aws_secret_key", regexp.MustCompile(`(?i)aws_secret.*[=:]\s*['"]?([0-9a-zA-Z/+=]{40})`)},
	{"github_pat", regexp.MustCompile(`ghp_[A-Za-z0-9_]{36,}`)},
	{"github_fine_grained", regexp.MustCompile(`github_pat_[A-Za-z0-9_]{22,}`)},
	{"github_oauth", regexp.MustCompile(`gho_[A-Za-z0-9_]{36,}`)},
	{"openai_key", regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`)},
	{"gcp_service_account", regexp.MustCompile(`"type"\s*:\s*"service_account"`)},
	{"private_key_pem", regexp.MustCompile(`-----BEGIN\s+(RSA|EC|DSA|OPENSSH)\s+PRIVATE KEY-----`)},
	{"slack_token", regexp.MustCompile(`xox[bpras]-[A-Za-z0-9-]{10,}`)},
	{"stripe_secret", regexp.MustCompile(`sk_live_[A-Za-z0-9]{20,}`)},
	{"generic_secret", regexp.MustCompile(`(?i)(secret|password|token|api_key)\s*[=:]\s*['"][^'"]{16,}['"]`)},
}

// ScanPatterns reports every pattern that matches every line. A line can
// produce several findings.
func ScanPatterns(filePath string, lines []AddedLine) []DetectedSecret {
	var out []DetectedSecret
	for _, l := range lines {
		for _, p := range Patterns {
			if p.Regex.MatchString(l.Content) {
				out = append(out, DetectedSecret{
					FilePath:        filePath,
					LineNumber:      l.Number,
					PatternName:     p.Name,
					DetectionMethod: MethodPattern,
				})
			}
		}
	}
	return out
}

const (
	entropyThreshold = 4.5
	minTokenLength   = 20
)

var (
	contextKeywords = []string{"key", "secret", "token", "password", "credential", "api"}
	tokenSeparators = regexp.MustCompile("[\\s=:'\"`,;(){}\\[\\]]+")
)

// ShannonEntropy returns the entropy of s in bits per character.
func ShannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	freq := make(map[rune]int)
	n := 0
	for _, r := range s {
		freq[r]++
		n++
	}
	var h float64
	for _, c := range freq {
		p := float64(c) / float64(n)
		h -= p * math.Log2(p)
	}
	return h
}

// ScanEntropy flags lines that mention a secret keyword and contain a long,
// high entropy token. At most one finding is reported per line.
func ScanEntropy(filePath string, lines []AddedLine) []DetectedSecret {
	var out []DetectedSecret
	for _, l := range lines {
		if !hasContextKeyword(l.Content) {
			continue
		}
		for _, tok := range tokenSeparators.Split(l.Content, -1) {
			if len(tok) < minTokenLength {
				continue
			}
			if ShannonEntropy(tok) > entropyThreshold {
				out = append(out, DetectedSecret{
					FilePath:        filePath,
					LineNumber:      l.Number,
					PatternName:     "high_entropy",
					DetectionMethod: MethodEntropy,
				})
				break
			}
		}
	}
	return out
}

func hasContextKeyword(line string) bool {
	lower := strings.ToLower(line)
	for _, kw := range contextKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

var (
	forbiddenNames      = mapset.NewSet(".env", "credentials.json", "id_rsa", "id_ed25519")
	forbiddenExtensions = mapset.NewSet(".pem", ".key", ".p12", ".pfx")
	forbiddenPrefixes   = []string{".env."}
)

// IsForbiddenFile reports whether filePath names a file that should never be
// committed: dotenv files, private keys and key stores, service account
// credentials.
func IsForbiddenFile(filePath string) bool {
	name := path.Base(filePath)
	if forbiddenNames.Contains(name) {
		return true
	}
	// A leading dot is a hidden file, not an extension.
	if i := strings.LastIndex(name, "."); i > 0 && forbiddenExtensions.Contains(name[i:]) {
		return true
	}
	for _, p := range forbiddenPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// ScanForbidden reports each forbidden path with line 0.
func ScanForbidden(paths []string) []DetectedSecret {
	var out []DetectedSecret
	for _, p := range paths {
		if IsForbiddenFile(p) {
			out = append(out, DetectedSecret{
				FilePath:        p,
				PatternName:     "forbidden_file",
				DetectionMethod: MethodForbiddenFile,
			})
		}
	}
	return out
}

// ScanDiff runs all detectors over a raw unified diff: forbidden files first,
// then pattern and entropy findings file by file.
func ScanDiff(raw string) []DetectedSecret {
	files := ParseDiff(raw)

	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	out := ScanForbidden(paths)

	for _, f := range files {
		if len(f.AddedLines) == 0 {
			continue
		}
		out = append(out, ScanPatterns(f.Path, f.AddedLines)...)
		out = append(out, ScanEntropy(f.Path, f.AddedLines)...)
	}
	return out
}
