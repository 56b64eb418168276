package internal

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lychee-technology/strata"
)

// ValidateAWSConfig checks that static credentials come in pairs.
func ValidateAWSConfig(cfg strata.AWSConfig) error {
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey == "" {
		return fmt.Errorf("aws.accessKeyId provided without aws.secretAccessKey")
	}
	if cfg.SecretAccessKey != "" && cfg.AccessKeyID == "" {
		return fmt.Errorf("aws.secretAccessKey provided without aws.accessKeyId")
	}
	return nil
}

// S3HealthCheck attempts a best-effort HTTP ping against a custom S3 endpoint.
// It only succeeds for endpoints that accept anonymous HEAD requests, such as
// local emulators. Without a custom endpoint it does nothing.
func S3HealthCheck(ctx context.Context, cfg strata.AWSConfig, timeout time.Duration) error {
	if cfg.Endpoint == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := &http.Client{
		Timeout: timeout,
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, cfg.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("s3 health request build failed: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("s3 health request failed: %w", err)
	}
	defer resp.Body.Close()

	// Treat 200-399 as success; 403/401 as warning but not fatal for presence check.
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return nil
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("s3 endpoint reachable but returned auth error: %d", resp.StatusCode)
	}
	return fmt.Errorf("s3 endpoint returned unexpected status: %d", resp.StatusCode)
}
