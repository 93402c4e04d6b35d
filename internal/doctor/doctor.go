package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/threadsync/internal/config"
	"github.com/basket/threadsync/internal/store"
	"github.com/basket/threadsync/internal/tagmap"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes all diagnostic checks against a loaded config.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkPermissions,
		checkStore,
		checkTagMap,
		checkCronSchedule,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "configuration not loaded"}
	}
	if cfg.ForumID == "" {
		return CheckResult{Name: "Config", Status: "WARN", Message: "forum_id is unset"}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("loaded from %s", cfg.HomeDir)}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "config missing"}
	}
	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("home dir unwritable: %v", err)}
	}
	os.Remove(testFile)
	return CheckResult{Name: "Permissions", Status: "PASS", Message: "home directory writable"}
}

func checkStore(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Store", Status: "SKIP", Message: "config missing"}
	}
	path := cfg.StorePath
	if path == "" {
		path = store.DefaultDBPath()
	}
	s, err := store.Open(path)
	if err != nil {
		return CheckResult{Name: "Store", Status: "FAIL", Message: fmt.Sprintf("open failed: %v", err)}
	}
	defer s.Close()

	if _, err := s.ListOpenTasks(ctx); err != nil {
		return CheckResult{Name: "Store", Status: "FAIL", Message: fmt.Sprintf("query failed: %v", err)}
	}
	return CheckResult{Name: "Store", Status: "PASS", Message: fmt.Sprintf("connection and schema valid (%s)", path)}
}

func checkTagMap(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || cfg.TagMapPath == "" {
		return CheckResult{Name: "Tag map", Status: "SKIP", Message: "no tag_map_path configured"}
	}
	dst := map[string]string{}
	n, err := tagmap.Load(cfg.TagMapPath, dst)
	if err != nil {
		return CheckResult{Name: "Tag map", Status: "FAIL", Message: fmt.Sprintf("load failed: %v", err)}
	}
	return CheckResult{Name: "Tag map", Status: "PASS", Message: fmt.Sprintf("%d entries loaded from %s", n, cfg.TagMapPath)}
}

func checkCronSchedule(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || cfg.CronSchedule == "" {
		return CheckResult{Name: "Cron schedule", Status: "SKIP", Message: "no cron_schedule configured"}
	}
	if _, err := cronlib.ParseStandard(cfg.CronSchedule); err != nil {
		return CheckResult{Name: "Cron schedule", Status: "FAIL", Message: fmt.Sprintf("invalid expression %q: %v", cfg.CronSchedule, err)}
	}
	return CheckResult{Name: "Cron schedule", Status: "PASS", Message: fmt.Sprintf("%q is valid", cfg.CronSchedule)}
}
