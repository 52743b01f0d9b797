// Package standards checks changed file paths against the naming rules a
// repository declares in its standards.toml.
package standards

import (
	"fmt"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the repository-root config file that opts a repo into checks.
const FileName = "standards.toml"

const (
	RuleFileCase   = "naming/file-case"
	RuleFolderCase = "naming/folder-case"
)

// Violation is one rule failure for one file.
type Violation struct {
	File     string `json:"file"`
	Line     *int   `json:"line"`
	Rule     string `json:"rule"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// CheckResult is the outcome of checking a set of files.
type CheckResult struct {
	Violations   []Violation `json:"violations"`
	FilesChecked int         `json:"filesChecked"`

	// StandardsConfig names the extended rulesets, or "unknown".
	StandardsConfig string `json:"standardsConfig"`
}

// Config is the subset of standards.toml the checker understands.
type Config struct {
	Metadata struct {
		Project string `toml:"project"`
		Tier    string `toml:"tier"`
	} `toml:"metadata"`
	Extends struct {
		Registry string   `toml:"registry"`
		Rulesets []string `toml:"rulesets"`
	} `toml:"extends"`
	Code struct {
		Naming struct {
			Rules []NamingRule `toml:"rules"`
		} `toml:"naming"`
	} `toml:"code"`
}

// NamingRule applies file and folder case conventions to files with one of
// Extensions (without the leading dot).
type NamingRule struct {
	Extensions []string `toml:"extensions"`
	FileCase   string   `toml:"file_case"`
	FolderCase string   `toml:"folder_case"`
	Exclude    []string `toml:"exclude"`
}

// Parse decodes standards.toml text.
func Parse(text string) (*Config, error) {
	var c Config
	if err := toml.Unmarshal([]byte(text), &c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", FileName, err)
	}
	return &c, nil
}

// Check parses tomlText and checks files against its naming rules.
func Check(files []string, tomlText string) (CheckResult, error) {
	c, err := Parse(tomlText)
	if err != nil {
		return CheckResult{}, err
	}
	return c.Check(files), nil
}

// Check runs every naming rule over files.
func (c *Config) Check(files []string) CheckResult {
	res := CheckResult{
		Violations:      []Violation{},
		FilesChecked:    len(files),
		StandardsConfig: strings.Join(c.Extends.Rulesets, ", "),
	}
	if res.StandardsConfig == "" {
		res.StandardsConfig = "unknown"
	}

	for _, f := range files {
		for _, r := range c.Code.Naming.Rules {
			res.Violations = append(res.Violations, r.check(f)...)
		}
	}
	return res
}

func (r NamingRule) check(file string) []Violation {
	for _, pattern := range r.Exclude {
		if MatchGlob(file, pattern) {
			return nil
		}
	}

	ext := strings.TrimPrefix(path.Ext(file), ".")
	if ext == "" || !slices.Contains(r.Extensions, ext) {
		return nil
	}

	var out []Violation

	base := strings.TrimSuffix(path.Base(file), "."+ext)
	if !MatchesCase(base, r.FileCase) {
		out = append(out, Violation{
			File:     file,
			Rule:     RuleFileCase,
			Message:  fmt.Sprintf("File name %q should be %s", base, r.FileCase),
			Severity: "error",
		})
	}

	dirs := strings.Split(file, "/")
	for _, dir := range dirs[:len(dirs)-1] {
		if !MatchesCase(dir, r.FolderCase) {
			out = append(out, Violation{
				File:     file,
				Rule:     RuleFolderCase,
				Message:  fmt.Sprintf("Folder name %q should be %s", dir, r.FolderCase),
				Severity: "error",
			})
		}
	}
	return out
}

var caseRules = map[string]*regexp.Regexp{
	"camelCase":  regexp.MustCompile(`^[a-z][a-zA-Z0-9]*$`),
	"kebab-case": regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`),
	"PascalCase": regexp.MustCompile(`^[A-Z][a-zA-Z0-9]*$`),
	"snake_case": regexp.MustCompile(`^[a-z][a-z0-9]*(_[a-z0-9]+)*$`),
}

// MatchesCase reports whether name follows the named convention. Unknown
// conventions always match.
func MatchesCase(name, convention string) bool {
	re, ok := caseRules[convention]
	if !ok {
		return true
	}
	return re.MatchString(name)
}

// MatchGlob matches a slash separated path against a glob where ** spans
// directories, * stays within one segment and ? is any single character.
func MatchGlob(p, pattern string) bool {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; {
		case c == '*' && i+1 < len(pattern) && pattern[i+1] == '*':
			b.WriteString(".*")
			i++
		case c == '*':
			b.WriteString("[^/]*")
		case c == '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(p)
}
