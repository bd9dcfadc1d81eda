package server

import (
	"path/filepath"
	"strings"
	"testing"
)

func FuzzIsSafeName(f *testing.F) {
	f.Add("smp")
	f.Add("creative.2")
	f.Add("")
	f.Add("..")
	f.Add("../etc/passwd")
	f.Add("smp/with/slash")
	f.Add(`smp\with\backslash`)
	f.Add("...dotted")
	f.Add("서버")
	f.Add("smp\x00null")
	f.Add("smp\nnewline")

	f.Fuzz(func(t *testing.T, name string) {
		if len(name) > 200 {
			t.Skip("name too long")
		}
		ok := isSafeName(name)
		if name == "" && ok {
			t.Error("empty name accepted")
		}
		if strings.Contains(name, "..") && ok {
			t.Errorf("name with .. accepted: %q", name)
		}
		if strings.ContainsAny(name, `/\`) && ok {
			t.Errorf("name with path separator accepted: %q", name)
		}
	})
}

func FuzzIsSafeAbsPath(f *testing.F) {
	f.Add("/srv/minecraft/smp")
	f.Add("")
	f.Add("/")
	f.Add("srv/minecraft")
	f.Add("/srv/../etc")
	f.Add("/srv/./minecraft")
	f.Add("/srv//minecraft")
	f.Add(`C:\srv\minecraft`)
	f.Add("/srv/with space")
	f.Add("/srv\x00null")

	f.Fuzz(func(t *testing.T, path string) {
		if len(path) > 500 {
			t.Skip("path too long")
		}
		ok := isSafeAbsPath(path)
		if path == "" {
			if !ok {
				t.Error("empty path rejected; empty means unset")
			}
			return
		}
		if !filepath.IsAbs(path) && ok {
			t.Errorf("relative path accepted: %q", path)
		}
		clean := filepath.Clean(path)
		trimmed := strings.TrimRight(path, string(filepath.Separator))
		if trimmed == "" {
			trimmed = path
		}
		if clean != path && clean != trimmed && ok {
			t.Errorf("path that changes when cleaned accepted: %q -> %q", path, clean)
		}
	})
}

func FuzzSanitizeBase(f *testing.F) {
	f.Add("")
	f.Add("/")
	f.Add("/api")
	f.Add("/api/")
	f.Add("api")
	f.Add("  /api/v1/  ")
	f.Add("//double//slash//")
	f.Add("/base\x00null")

	f.Fuzz(func(t *testing.T, base string) {
		if len(base) > 200 {
			t.Skip("base path too long")
		}
		got := sanitizeBase(base)
		if got != "" {
			if !strings.HasPrefix(got, "/") {
				t.Errorf("sanitized base missing leading slash: %q -> %q", base, got)
			}
			if strings.HasSuffix(got, "/") {
				t.Errorf("sanitized base keeps trailing slash: %q -> %q", base, got)
			}
		}
		if tr := strings.TrimSpace(base); (tr == "" || tr == "/") && got != "" {
			t.Errorf("empty base should sanitize to empty: %q -> %q", base, got)
		}
	})
}
