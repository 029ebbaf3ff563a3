package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/applytrack/internal/models"
)

// MetadataFilenames are the exact names treated as job-metadata files.
var MetadataFilenames = []string{
	"job.json", "job.txt", "job.yaml", "job.yml", "job.md",
	"job-description.txt", "jd.txt",
}

// DedupTextPrefix is how many characters of text go into the dedup key.
const DedupTextPrefix = 500

var (
	datePattern = `(\d{4}-\d{2}-\d{2})`

	// Company_Role_Date
	underscorePattern = regexp.MustCompile(`^([^_]+)_([^_]+)_` + datePattern + `$`)
	// Company - Role - Date
	dashPattern = regexp.MustCompile(`^(.+?)\s+-\s+(.+?)\s+-\s+` + datePattern + `$`)
	// Date - Company - Role
	datedPattern = regexp.MustCompile(`^` + datePattern + `\s+-\s+(.+?)\s+-\s+(.+)$`)

	companyLine = regexp.MustCompile(`(?im)^\s*(?:company|employer)\s*:\s*(.+?)\s*$`)
	roleLine    = regexp.MustCompile(`(?im)^\s*(?:position|role|title)\s*:\s*(.+?)\s*$`)
	emailDomain = regexp.MustCompile(`[A-Za-z0-9._%+-]+@([A-Za-z0-9-]+)\.[A-Za-z.]{2,}`)
	bodyDate    = regexp.MustCompile(`\b` + datePattern + `\b`)
	bodyURL     = regexp.MustCompile(`https?://[^\s<>"']+`)
	htmlTag     = regexp.MustCompile(`(?s)<[^>]*>`)
)

// genericMailDomains never name an employer.
var genericMailDomains = map[string]bool{
	"gmail": true, "googlemail": true, "yahoo": true, "hotmail": true, "outlook": true,
	"live": true, "icloud": true, "me": true, "aol": true, "proton": true,
	"protonmail": true, "gmx": true, "mail": true, "example": true,
}

// IsCandidate reports whether a file name looks like it could hold a job.
func IsCandidate(name string) bool {
	lower := strings.ToLower(name)
	for _, m := range MetadataFilenames {
		if lower == m {
			return true
		}
	}
	ext := filepath.Ext(lower)
	if ext == ".json" || ext == ".txt" || ext == ".html" {
		return true
	}
	return strings.Contains(lower, "job") || strings.Contains(lower, "jd")
}

// ParseJobFile mines job fields from one candidate file. The bool is false
// when the file yields no company, role or text.
func ParseJobFile(name string, data []byte) (models.DetectedJob, bool) {
	var job models.DetectedJob

	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		if ValidateJobJSON(data) != nil {
			return job, false
		}
		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err != nil {
			return job, false
		}
		job = fromFields(fields)
	case ".yaml", ".yml":
		var fields map[string]any
		if err := yaml.Unmarshal(data, &fields); err != nil || fields == nil {
			return job, false
		}
		job = fromFields(fields)
		if job.UUID == "" && job.Company == "" && job.Role == "" {
			return job, false
		}
	case ".md", ".markdown":
		doc := ParseMarkdown(string(data))
		job = fromFields(doc.Frontmatter)
		if job.Text == "" {
			job.Text = strings.TrimSpace(doc.Content)
		}
		mineText(&job, doc.Content)
	case ".html", ".htm":
		text := strings.TrimSpace(htmlTag.ReplaceAllString(string(data), "\n"))
		job.Text = text
		fromFilename(&job, name)
		mineText(&job, text)
	default:
		text := strings.TrimSpace(string(data))
		job.Text = text
		fromFilename(&job, name)
		mineText(&job, text)
	}

	if job.Company == "" && job.Role == "" && job.Text == "" {
		return job, false
	}
	return job, true
}

// ParseFilename matches the stem of name against the supported filename
// patterns and returns company, role and date.
func ParseFilename(name string) (company, role, date string, ok bool) {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	stem = strings.TrimSpace(stem)

	if m := datedPattern.FindStringSubmatch(stem); m != nil {
		return strings.TrimSpace(m[2]), strings.TrimSpace(m[3]), m[1], true
	}
	if m := dashPattern.FindStringSubmatch(stem); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), m[3], true
	}
	if m := underscorePattern.FindStringSubmatch(stem); m != nil {
		return m[1], m[2], m[3], true
	}
	return "", "", "", false
}

// CompanyFromEmail returns a company name guessed from the first
// non-generic email domain in text.
func CompanyFromEmail(text string) string {
	for _, m := range emailDomain.FindAllStringSubmatch(text, -1) {
		label := strings.ToLower(m[1])
		if genericMailDomains[label] {
			continue
		}
		return strings.ToUpper(label[:1]) + label[1:]
	}
	return ""
}

// DedupKey identifies a job by company, role and a hash of the start of its text.
func DedupKey(job models.DetectedJob) string {
	text := []rune(job.Text)
	if len(text) > DedupTextPrefix {
		text = text[:DedupTextPrefix]
	}
	sum := sha256.Sum256([]byte(string(text)))
	return strings.ToLower(strings.TrimSpace(job.Company)) + "|" +
		strings.ToLower(strings.TrimSpace(job.Role)) + "|" +
		hex.EncodeToString(sum[:8])
}

func fromFilename(job *models.DetectedJob, name string) {
	company, role, date, ok := ParseFilename(name)
	if !ok {
		return
	}
	job.Company, job.Role, job.Date = company, role, date
}

// mineText fills fields still empty from the body text.
func mineText(job *models.DetectedJob, text string) {
	if job.Company == "" {
		if m := companyLine.FindStringSubmatch(text); m != nil {
			job.Company = m[1]
		} else {
			job.Company = CompanyFromEmail(text)
		}
	}
	if job.Role == "" {
		if m := roleLine.FindStringSubmatch(text); m != nil {
			job.Role = m[1]
		}
	}
	if job.Date == "" {
		if m := bodyDate.FindStringSubmatch(text); m != nil {
			job.Date = m[1]
		}
	}
	if job.URL == "" {
		job.URL = bodyURL.FindString(text)
	}
}

func fromFields(fields map[string]any) models.DetectedJob {
	return models.DetectedJob{
		UUID:    stringField(fields, "uuid", "id"),
		Company: stringField(fields, "company", "employer", "organization"),
		Role:    stringField(fields, "role", "position", "title"),
		Date:    normalizeDate(stringField(fields, "date", "applied", "posted", "created_at")),
		URL:     stringField(fields, "url", "link", "source_url"),
		Text:    stringField(fields, "text", "description", "content", "job_description"),
	}
}

func stringField(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := fields[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			return strconv.Itoa(v)
		case time.Time:
			return v.Format(time.DateOnly)
		}
	}
	return ""
}

// normalizeDate keeps the YYYY-MM-DD prefix of timestamps.
func normalizeDate(s string) string {
	if m := bodyDate.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}
