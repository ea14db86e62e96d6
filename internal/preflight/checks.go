package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"montage/internal/config"
	"montage/internal/deps"
	"montage/internal/services/genapi"
)

// CheckGateway verifies that the generation gateway is reachable and the API
// key is valid. It uses a 30-second timeout and a single attempt.
func CheckGateway(ctx context.Context, provider config.Provider) Result {
	const name = "Generation gateway"

	if strings.TrimSpace(provider.APIKey) == "" {
		return Result{Name: name, Detail: "API key missing"}
	}
	if strings.TrimSpace(provider.BaseURL) == "" {
		return Result{Name: name, Detail: "base URL missing"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client, err := genapi.NewClient(genapi.Config{
		APIKey:         provider.APIKey,
		BaseURL:        provider.BaseURL,
		TimeoutSeconds: provider.TimeoutSeconds,
	})
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}

	if err := client.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeGatewayError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "API reachable"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates the external binaries frame extraction needs.
// Both the daemon and the CLI status command use this to avoid duplicating
// the requirements list.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	return deps.CheckBinaries(deps.FrameTools(cfg.FFmpegBinary(), cfg.FFprobeBinary()))
}

// summarizeGatewayError produces a human-readable summary for gateway health
// check failures.
func summarizeGatewayError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (gateway unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (gateway unreachable)"
	}
	return err.Error()
}
