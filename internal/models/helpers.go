package models

import (
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
)

// maxComponentLen bounds a single sanitized filename component.
const maxComponentLen = 50

// SanitizeComponent turns free text into a filesystem-safe filename component.
// Whitespace runs become "_", characters outside [A-Za-z0-9_.-] are dropped,
// and repeated underscores collapse.
func SanitizeComponent(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.TrimSpace(s) {
		switch {
		case unicode.IsSpace(r) || r == '_' || r == '/' || r == '\\':
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.'):
			b.WriteRune(r)
			lastUnderscore = false
		}
	}
	out := strings.Trim(b.String(), "_.-")
	if len(out) > maxComponentLen {
		out = strings.TrimRight(out[:maxComponentLen], "_.-")
	}
	return out
}

// BaseFilename builds the managed base name company_role[_person]_date.
// Empty components are replaced with placeholders so the name is never empty.
func BaseFilename(company, role, personName, date string) string {
	parts := []string{orDefault(SanitizeComponent(company), "Company"), orDefault(SanitizeComponent(role), "Role")}
	if p := SanitizeComponent(personName); p != "" {
		parts = append(parts, p)
	}
	if d := SanitizeComponent(date); d != "" {
		parts = append(parts, d)
	}
	return strings.Join(parts, "_")
}

// NormalizeExtension lowercases ext and guarantees a leading dot.
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// VersionSuffix returns the suffix for the n-th probe: "" for 0, "_v<n>" otherwise.
func VersionSuffix(n int) string {
	if n <= 0 {
		return ""
	}
	return "_v" + strconv.Itoa(n)
}

// ManagedFilename joins base, suffix and extension.
func ManagedFilename(base, suffix, ext string) string {
	return base + suffix + NormalizeExtension(ext)
}

// FolderName renders the naming format for a job. Unknown fields get placeholders.
func FolderName(format, company, role, date string) string {
	if strings.TrimSpace(format) == "" {
		format = DefaultNamingFormat
	}
	r := strings.NewReplacer(
		"{company}", orDefault(SanitizeComponent(company), "Unknown_Company"),
		"{role}", orDefault(SanitizeComponent(role), "Unknown_Role"),
		"{date}", orDefault(SanitizeComponent(date), "undated"),
	)
	return filepath.Clean(r.Replace(format))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
