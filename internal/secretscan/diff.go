package secretscan

import (
	"regexp"
	"strconv"
	"strings"
)

// AddedLine is one line introduced by a diff, numbered in the new file.
type AddedLine struct {
	Number  int
	Content string
}

// DiffFile is one file section of a unified diff.
type DiffFile struct {
	Path       string
	AddedLines []AddedLine
}

var (
	fileHeader = regexp.MustCompile(`(?m)^diff --git `)
	pathHeader = regexp.MustCompile(`^a/\S+ b/(\S+)`)
	hunkHeader = regexp.MustCompile(`(?m)^@@\s+-\d+(?:,\d+)?\s+\+(\d+)(?:,\d+)?\s+@@`)
)

// ParseDiff extracts the added lines of every file in a git unified diff.
// Removed lines and "\ No newline" markers do not advance the new-file line
// counter; context lines do. Sections without a recognizable a/ b/ header
// are skipped.
func ParseDiff(raw string) []DiffFile {
	var files []DiffFile

	sections := fileHeader.Split(raw, -1)
	for _, section := range sections[1:] {
		m := pathHeader.FindStringSubmatch(section)
		if m == nil {
			continue
		}
		f := DiffFile{Path: m[1]}

		hunks := hunkHeader.FindAllStringSubmatchIndex(section, -1)
		for i, h := range hunks {
			start, err := strconv.Atoi(section[h[2]:h[3]])
			if err != nil {
				continue
			}
			end := len(section)
			if i+1 < len(hunks) {
				end = hunks[i+1][0]
			}
			f.AddedLines = append(f.AddedLines, addedLines(hunkBody(section[h[1]:end]), start)...)
		}

		files = append(files, f)
	}
	return files
}

// hunkBody drops the rest of the @@ header line (the optional section
// heading) so it is not counted as a context line.
func hunkBody(s string) string {
	i := strings.IndexByte(s, '\n')
	if i < 0 {
		return ""
	}
	return s[i+1:]
}

func addedLines(body string, line int) []AddedLine {
	var out []AddedLine
	for _, l := range strings.Split(body, "\n") {
		switch {
		case l == "":
		case strings.HasPrefix(l, "+"):
			out = append(out, AddedLine{Number: line, Content: l[1:]})
			line++
		case strings.HasPrefix(l, "-"), strings.HasPrefix(l, `\`):
		default:
			line++
		}
	}
	return out
}
