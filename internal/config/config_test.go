package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Pagination.DefaultLimit != 10 || cfg.Pagination.MaxLimit != 100 {
		t.Fatalf("unexpected pagination %+v", cfg.Pagination)
	}
	if cfg.RepairInterval() != 15*time.Second || cfg.Access.ProjectTeamVisibility {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if len(cfg.Seed.Roles["Member"]) != 1 {
		t.Fatalf("member role not seeded: %+v", cfg.Seed.Roles)
	}
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("access:\n  project_team_visibility: true\npagination:\n  default_limit: 25\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cfg.Access.ProjectTeamVisibility || cfg.Pagination.DefaultLimit != 25 || cfg.Pagination.MaxLimit != 100 {
		t.Fatalf("overlay lost values: %+v", cfg)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("default driver lost: %q", cfg.Storage.Driver)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"driver", "storage:\n  driver: redis\n", "storage.driver"},
		{"mongo uri", "storage:\n  driver: mongo\n", "mongo.uri"},
		{"pagination", "pagination:\n  default_limit: 200\n", "pagination"},
		{"gridfs needs mongo", "blob:\n  driver: gridfs\n", "gridfs"},
		{"super admin seed", "seed:\n  roles:\n    super admin: [View Task]\n", "must not redefine"},
		{"unknown permission", "seed:\n  roles:\n    Auditor: [Read Minds]\n", "unknown permission"},
		{"webhook event", "notifications:\n  webhooks:\n    - url: http://x\n      events: [taskExploded]\n", "unknown event"},
		{"smtp", "notifications:\n  smtp:\n    enabled: true\n    host: \"\"\n", "smtp"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOrDefault(dir)
	if err != nil || cfg.Server.Addr == "" {
		t.Fatalf("expected defaults, got %+v %v", cfg, err)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "tl init") {
		t.Fatalf("expected hint, got %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("server:\n  addr: 0.0.0.0:9000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil || cfg.Server.Addr != "0.0.0.0:9000" {
		t.Fatalf("load: %+v %v", cfg, err)
	}
}
