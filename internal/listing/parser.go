// Package listing turns the text of a long-format directory listing
// (ls -la) into FileRecords.
package listing

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rescale/remotesh/internal/models"
)

// Parser parses long-format listings. It holds no state between calls and is
// safe for concurrent use.
type Parser struct {
	summary *regexp.Regexp
	entry   *regexp.Regexp
	now     func() time.Time
}

// Timestamp layouts printed by ls, tried in order.
var (
	recentLayout = "Jan _2 15:04" // within the last six months, year omitted
	olderLayout  = "Jan _2 2006"
	isoLayouts   = []string{
		"2006-01-02 15:04:05.999999999 -0700",
		"2006-01-02 15:04:05 -0700",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
	}
)

// NewParser creates a listing parser.
func NewParser() *Parser {
	return &Parser{
		summary: regexp.MustCompile(`^total\s+\d+`),
		entry: regexp.MustCompile(
			`^([bcdlpsD?-][rwxsStTl-]{9}[.+@]?)\s+` + // permissions
				`(\d+)\s+` + // link count
				`(\S+)\s+` + // owner
				`(\S+)\s+` + // group
				`(\d+|\d+,\s*\d+)\s+` + // size, or major, minor for devices
				`([A-Z][a-z]{2}\s+\d{1,2}\s+(?:\d{1,2}:\d{2}|\d{4})|` + // Jan 15 10:30 / Jan 15  2023
				`\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2}(?::\d{2}(?:\.\d+)?)?(?:\s+[+-]\d{4})?)\s` + // ISO styles
				`(.+)$`), // name, greedy to end of line
		now: time.Now,
	}
}

var defaultParser = NewParser()

// Parse parses output with the default parser. See Parser.Parse.
func Parse(output, directory string) []models.FileRecord {
	return defaultParser.Parse(output, directory)
}

// Parse returns one FileRecord per well-formed entry line, in the order the
// remote tool printed them. The summary line, blank lines and lines that do
// not have the expected shape are skipped; Parse never fails.
//
// Each record's Path is directory + "/" + name with duplicate slashes
// collapsed, using the directory passed in, so later navigation does not
// affect records already returned.
func (p *Parser) Parse(output, directory string) []models.FileRecord {
	captured := p.now()
	records := make([]models.FileRecord, 0)

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimLeft(strings.TrimRight(scanner.Text(), "\r"), " \t")
		if strings.TrimSpace(line) == "" || p.summary.MatchString(line) {
			continue
		}

		m := p.entry.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		links, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}

		rec := models.FileRecord{
			Permissions: m[1],
			LinkCount:   links,
			Owner:       m[3],
			Group:       m[4],
			IsDirectory: m[1][0] == models.DirectoryMarker,
			RawModified: m[6],
			ModifiedAt:  parseTimestamp(m[6], captured),
		}

		if !strings.Contains(m[5], ",") {
			size, err := strconv.ParseInt(m[5], 10, 64)
			if err != nil {
				continue
			}
			rec.SizeBytes = size
		}

		rec.Name = m[7]
		if rec.IsSymlink() {
			if i := strings.Index(rec.Name, " -> "); i > 0 {
				rec.LinkTarget = rec.Name[i+4:]
				rec.Name = rec.Name[:i]
			}
		}
		rec.Path = JoinPath(directory, rec.Name)

		records = append(records, rec)
	}

	return records
}

// IsListing reports whether output contains a listing summary line, the
// marker used to decide whether command output should be parsed.
func IsListing(output string) bool {
	for _, line := range strings.Split(output, "\n") {
		if defaultParser.summary.MatchString(strings.TrimSpace(line)) {
			return true
		}
	}
	return false
}

// JoinPath joins a directory context and an entry name, collapsing
// duplicate slashes. It does not clean "." or ".." elements: the entry "."
// in "/" is "/.".
func JoinPath(directory, name string) string {
	joined := directory + "/" + name
	var b strings.Builder
	b.Grow(len(joined))
	prevSlash := false
	for i := 0; i < len(joined); i++ {
		c := joined[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(c)
	}
	return b.String()
}

// parseTimestamp interprets an ls timestamp relative to the capture time.
// Entries without a year are assumed to be within the past year. Anything
// unreadable falls back to the capture time.
func parseTimestamp(raw string, captured time.Time) time.Time {
	loc := captured.Location()
	normalized := strings.Join(strings.Fields(raw), " ")

	if t, err := time.ParseInLocation(recentLayout, normalized, loc); err == nil {
		t = time.Date(captured.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, loc)
		// ls omits the year only for recent files; a date ahead of the
		// capture time belongs to the previous year.
		if t.After(captured.Add(24 * time.Hour)) {
			t = t.AddDate(-1, 0, 0)
		}
		return t
	}
	if t, err := time.ParseInLocation(olderLayout, normalized, loc); err == nil {
		return t
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, normalized, loc); err == nil {
			return t
		}
	}
	return captured
}
