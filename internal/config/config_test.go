package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Bot.DefaultNiche != "general" {
		t.Fatalf("unexpected default niche: %q", cfg.Bot.DefaultNiche)
	}
	if cfg.Leaderboard.DefaultLimit != 10 {
		t.Fatalf("unexpected leaderboard limit: %d", cfg.Leaderboard.DefaultLimit)
	}
}

func TestFromYAMLRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing niche",
			yaml: "bot:\n  name: x\nleaderboard:\n  default_limit: 5\n",
			want: "default_niche",
		},
		{
			name: "zero limit",
			yaml: "bot:\n  default_niche: general\nleaderboard:\n  default_limit: 0\n",
			want: "default_limit",
		},
		{
			name: "max below default",
			yaml: "bot:\n  default_niche: general\nleaderboard:\n  default_limit: 10\n  max_limit: 5\n",
			want: "max_limit",
		},
		{
			name: "empty admin",
			yaml: "bot:\n  default_niche: general\nleaderboard:\n  default_limit: 10\nadmins:\n  - \"\"\n",
			want: "admins[0]",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadFromWorkspace(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for missing config")
	}
	if err := os.WriteFile(filepath.Join(dir, "growboard.yml"), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PlatformLabel("youtube") != "YouTube" {
		t.Fatalf("unexpected label: %q", cfg.PlatformLabel("youtube"))
	}
	if cfg.PlatformLabel("unknown") != "Link" {
		t.Fatalf("unknown platform should fall back to Link")
	}
}

func TestIsAdmin(t *testing.T) {
	cfg, err := FromYAML([]byte("bot:\n  default_niche: general\nleaderboard:\n  default_limit: 10\nadmins:\n  - alice\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.IsAdmin("alice") {
		t.Fatal("alice should be admin")
	}
	if cfg.IsAdmin("bob") {
		t.Fatal("bob should not be admin")
	}
}
