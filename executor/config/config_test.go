package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.json")
	body := `{
		"num_search_threads": 2,
		"c_puct": 1.5,
		"time_control": {"enable": false},
		"dist_svr_addrs": ["a:1"]
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NumSearchThreads != 2 || cfg.CPuct != 1.5 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.TimeControl.Enable {
		t.Fatalf("nested override not applied")
	}
	// Untouched nested fields keep their defaults.
	if cfg.TimeControl.CDenom != Default().TimeControl.CDenom {
		t.Fatalf("c_denom = %d", cfg.TimeControl.CDenom)
	}
	if cfg.EvalBatchSize != Default().EvalBatchSize {
		t.Fatalf("eval_batch_size = %d", cfg.EvalBatchSize)
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.NumSearchThreads = 0
	cfg.EnableDist = true
	cfg.ResignMode = 7
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected errors")
	}
	for _, want := range []string{"num_search_threads", "dist_svr_addrs", "resign_mode"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestClone_CopiesAddresses(t *testing.T) {
	cfg := Default()
	cfg.DistSvrAddrs = []string{"a"}
	c := cfg.Clone()
	c.DistSvrAddrs[0] = "b"
	if cfg.DistSvrAddrs[0] != "a" {
		t.Fatalf("clone shares address slice")
	}
}
