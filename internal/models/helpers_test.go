package models

import "testing"

func TestSanitizeComponent(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Acme", "Acme"},
		{"spaces become underscores", "Senior Engineer", "Senior_Engineer"},
		{"consecutive spaces collapse", "Senior   Engineer", "Senior_Engineer"},
		{"punctuation stripped", "Acme, Inc.", "Acme_Inc"},
		{"slashes are separators", "R&D/Platform", "RD_Platform"},
		{"date preserved", "2024-01-01", "2024-01-01"},
		{"unicode stripped", "café résumé", "caf_rsum"},
		{"empty", "", ""},
		{"only special chars", "!@#$%", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeComponent(tt.in); got != tt.want {
				t.Errorf("SanitizeComponent(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeComponent_Truncates(t *testing.T) {
	long := "abcdefghij abcdefghij abcdefghij abcdefghij abcdefghij abcdefghij"
	got := SanitizeComponent(long)
	if len(got) > maxComponentLen {
		t.Errorf("len = %d, want <= %d", len(got), maxComponentLen)
	}
}

func TestBaseFilename(t *testing.T) {
	tests := []struct {
		name                        string
		company, role, person, date string
		want                        string
	}{
		{"company role date", "Acme", "Engineer", "", "2024-01-01", "Acme_Engineer_2024-01-01"},
		{"with person", "Acme", "Engineer", "Jane Doe", "2024-01-01", "Acme_Engineer_Jane_Doe_2024-01-01"},
		{"placeholders", "", "", "", "2024-01-01", "Company_Role_2024-01-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BaseFilename(tt.company, tt.role, tt.person, tt.date); got != tt.want {
				t.Errorf("BaseFilename() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVersionSuffix(t *testing.T) {
	for n, want := range map[int]string{0: "", 1: "_v1", 2: "_v2", 12: "_v12"} {
		if got := VersionSuffix(n); got != want {
			t.Errorf("VersionSuffix(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestFolderName(t *testing.T) {
	if got := FolderName("", "Acme Corp", "Staff Engineer", "2024-03-02"); got != "Acme_Corp_Staff_Engineer_2024-03-02" {
		t.Errorf("FolderName() = %q", got)
	}
	if got := FolderName("{date}-{company}", "", "x", ""); got != "undated-Unknown_Company" {
		t.Errorf("FolderName() with placeholders = %q", got)
	}
}

func TestManifestEntry_Activate(t *testing.T) {
	e := ManifestEntry{Versions: []VersionEntry{
		{VersionID: "a", IsActive: true},
		{VersionID: "b"},
	}}

	if !e.Activate("b") {
		t.Fatal("Activate(b) = false")
	}
	if active := e.ActiveVersion(); active == nil || active.VersionID != "b" {
		t.Fatalf("active = %+v, want b", active)
	}
	if e.Activate("missing") {
		t.Error("Activate(missing) = true")
	}

	removed, ok := e.RemoveVersion("a")
	if !ok || removed.VersionID != "a" || len(e.Versions) != 1 {
		t.Errorf("RemoveVersion(a) = %+v, %v; versions=%d", removed, ok, len(e.Versions))
	}
}

func TestServiceConfig_Supports(t *testing.T) {
	cfg := ServiceConfig{SupportedExtensions: []string{".pdf", "DOCX"}}
	if !cfg.Supports("PDF") || !cfg.Supports(".docx") {
		t.Error("expected pdf and docx to be supported")
	}
	if cfg.Supports(".exe") {
		t.Error(".exe should not be supported")
	}
}
