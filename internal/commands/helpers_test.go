package commands

import (
	"strings"
	"testing"
)

func TestIsNumeric(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		// Valid numeric strings
		{"0", true},
		{"1", true},
		{"123", true},
		{"123456789", true},

		// Invalid inputs
		{"", false},
		{"abc", false},
		{"123abc", false},
		{"abc123", false},
		{"12.34", false},
		{"-1", false},
		{" 123", false},
		{"123 ", false},
		{"12 34", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := isNumeric(tt.input)
			if result != tt.expected {
				t.Errorf("isNumeric(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestParseID(t *testing.T) {
	id, err := parseID("42", "post")
	if err != nil || id != 42 {
		t.Fatalf("parseID(42) = %d, %v", id, err)
	}

	for _, bad := range []string{"", "0", "abc", "-3", "99999999999999999999"} {
		if _, err := parseID(bad, "post"); err == nil {
			t.Errorf("parseID(%q) should fail", bad)
		}
	}
}

func TestReadValue(t *testing.T) {
	old := stdin
	defer func() { stdin = old }()

	v, err := readValue("literal")
	if err != nil || v != "literal" {
		t.Fatalf("readValue(literal) = %q, %v", v, err)
	}

	stdin = strings.NewReader("line one\nline two\r\n\n")
	v, err = readValue("-")
	if err != nil {
		t.Fatal(err)
	}
	if v != "line one\nline two" {
		t.Errorf("readValue(-) = %q", v)
	}
}

func TestMessageSummary(t *testing.T) {
	if got := messageSummary("Done.", "fallback"); got != "Done." {
		t.Errorf("got %q", got)
	}
	if got := messageSummary("", "fallback"); got != "fallback" {
		t.Errorf("got %q", got)
	}
}

func TestParsePath(t *testing.T) {
	const base = "http://127.0.0.1:8000"
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"api/get_forums/", "/api/get_forums/", false},
		{"/api/get_forums/", "/api/get_forums/", false},
		{"http://127.0.0.1:8000/api/get_posts/3/?page=2", "/api/get_posts/3/?page=2", false},
		{"https://evil.example/api/get_forums/", "", true},
		{"http://127.0.0.1:9999/api/get_forums/", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parsePath(tt.input, base)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parsePath(%q) should fail", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("parsePath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestAPISummary(t *testing.T) {
	tests := []struct {
		data string
		want string
	}{
		{`[1,2,3]`, "3 items"},
		{`{"message":"The post has been created successfully."}`, "The post has been created successfully."},
		{`{"title":"Welcome"}`, "Welcome"},
		{`{"username":"citizen"}`, "citizen"},
		{`{"id":7}`, "API response"},
		{`not json`, "API response"},
		{`{"message":"` + strings.Repeat("x", 60) + `"}`, strings.Repeat("x", 47) + "..."},
	}
	for _, tt := range tests {
		if got := apiSummary([]byte(tt.data)); got != tt.want {
			t.Errorf("apiSummary(%s) = %q, want %q", tt.data, got, tt.want)
		}
	}
}

func TestAPIBreadcrumbs(t *testing.T) {
	tests := map[string]string{
		"/api/get_forums/":            "egov forums",
		"/api/renewal_requests/":      "egov requests renewals",
		"/api/get_posts/12/":          "egov posts list 12",
		"/api/get_comments/5/":        "egov comments list 5",
		"/api/registration_requests/": "egov requests registrations",
	}
	for path, want := range tests {
		crumbs := apiBreadcrumbs(path)
		if len(crumbs) != 1 || crumbs[0].Cmd != want {
			t.Errorf("apiBreadcrumbs(%s) = %+v, want %s", path, crumbs, want)
		}
	}
	if crumbs := apiBreadcrumbs("/api/get_user/"); crumbs != nil {
		t.Errorf("unexpected breadcrumbs %+v", crumbs)
	}
}
