package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spendlens/core/pkg/blob"
	"github.com/spendlens/core/pkg/config"
)

// runDoctorCmd implements `spendlensd doctor`: configuration and
// connectivity checks for every external dependency the engine talks
// to.
//
// Exit codes:
//
//	0 = all checks pass
//	1 = one or more checks failed
func runDoctorCmd(stdout, stderr io.Writer) int {
	type checkResult struct {
		Name   string `json:"name"`
		Status string `json:"status"` // "ok", "warn", "fail"
		Detail string `json:"detail,omitempty"`
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := config.Load()
	var results []checkResult
	allOK := true

	// Check 1: Go runtime
	results = append(results, checkResult{
		Name:   "go_runtime",
		Status: "ok",
		Detail: fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	})

	// Check 2: database
	if cfg.LiteMode() {
		results = append(results, checkResult{
			Name:   "database",
			Status: "warn",
			Detail: fmt.Sprintf("DATABASE_URL not set; lite mode at %s (no tier 2)", cfg.LitePath),
		})
	}
	if db, driver, err := openDatabase(ctx, cfg); err != nil {
		results = append(results, checkResult{Name: "database", Status: "fail", Detail: err.Error()})
		allOK = false
	} else {
		_ = db.Close()
		results = append(results, checkResult{Name: "database", Status: "ok", Detail: driver + " reachable"})
	}

	// Check 3: redis (tier-3 rate limiter)
	if cfg.RedisAddr == "" {
		results = append(results, checkResult{
			Name:   "redis",
			Status: "warn",
			Detail: "REDIS_ADDR not set; per-process rate limiter",
		})
	} else {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			results = append(results, checkResult{Name: "redis", Status: "fail", Detail: err.Error()})
			allOK = false
		} else {
			results = append(results, checkResult{Name: "redis", Status: "ok", Detail: cfg.RedisAddr})
		}
		_ = client.Close()
	}

	// Check 4: chat service (tier 3)
	if err := dialCheck(cfg.AIServiceURL, 3*time.Second); err != nil {
		results = append(results, checkResult{Name: "chat_service", Status: "fail", Detail: err.Error()})
		allOK = false
	} else {
		results = append(results, checkResult{Name: "chat_service", Status: "ok", Detail: cfg.AIServiceURL})
	}

	// Check 5: embedding service (tier 2, Postgres only)
	if cfg.LiteMode() {
		results = append(results, checkResult{
			Name:   "embed_service",
			Status: "warn",
			Detail: "skipped in lite mode",
		})
	} else if err := dialCheck(cfg.EmbedServiceURL, 3*time.Second); err != nil {
		results = append(results, checkResult{Name: "embed_service", Status: "fail", Detail: err.Error()})
		allOK = false
	} else {
		results = append(results, checkResult{Name: "embed_service", Status: "ok", Detail: cfg.EmbedServiceURL})
	}

	// Check 6: blob storage
	switch cfg.BlobBackend {
	case "", "fs":
		if _, err := blob.NewFileStore(cfg.BlobFSRoot); err != nil {
			results = append(results, checkResult{Name: "blob_storage", Status: "fail", Detail: err.Error()})
			allOK = false
		} else {
			results = append(results, checkResult{Name: "blob_storage", Status: "ok", Detail: "fs " + cfg.BlobFSRoot})
		}
	case "s3", "gcs":
		if cfg.BlobBucket == "" {
			results = append(results, checkResult{Name: "blob_storage", Status: "fail", Detail: "BLOB_BUCKET not set"})
			allOK = false
		} else {
			results = append(results, checkResult{Name: "blob_storage", Status: "ok", Detail: cfg.BlobBackend + " " + cfg.BlobBucket})
		}
	default:
		results = append(results, checkResult{Name: "blob_storage", Status: "fail", Detail: "unsupported backend " + cfg.BlobBackend})
		allOK = false
	}

	fmt.Fprintf(stdout, "\n%sSpendLens Doctor%s\n", ColorBold+ColorBlue, ColorReset)
	fmt.Fprintln(stdout, "────────────────")
	for _, r := range results {
		icon := "✅"
		if r.Status == "warn" {
			icon = "⚠️ "
		} else if r.Status == "fail" {
			icon = "❌"
		}
		fmt.Fprintf(stdout, "  %s  %-16s %s%s%s\n", icon, r.Name, ColorGray, r.Detail, ColorReset)
	}

	if allOK {
		fmt.Fprintf(stdout, "\n%sAll checks passed.%s\n", ColorGreen+ColorBold, ColorReset)
		return 0
	}
	fmt.Fprintf(stdout, "\n%sOne or more checks failed.%s\n", ColorRed+ColorBold, ColorReset)
	return 1
}

// dialCheck verifies TCP reachability of an HTTP service URL without
// spending a model call.
func dialCheck(rawURL string, timeout time.Duration) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("bad url %q: %w", rawURL, err)
	}
	addr := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		addr = net.JoinHostPort(u.Hostname(), port)
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return err
	}
	return conn.Close()
}
