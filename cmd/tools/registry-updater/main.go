// cmd/tools/registry-updater/main.go
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "threatintel-workers/internal/common/errors"
	"threatintel-workers/pkg/registry"
)

const defaultRegistryPath = "configs/activity-registry.json"

// contractUpdate holds the contract fields to change; nil fields are left alone.
type contractUpdate struct {
	ErrorCodes []string
	Timeout    *string
	Retries    *int
}

func main() {
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	contractCmd := flag.NewFlagSet("contract", flag.ExitOnError)
	statusCmd := flag.NewFlagSet("status", flag.ExitOnError)

	validatePath := validateCmd.String("path", defaultRegistryPath, "Path to registry file")

	contractPath := contractCmd.String("path", defaultRegistryPath, "Path to registry file")
	contractID := contractCmd.String("id", "", "Activity ID (e.g., fetch-threat-intel-ips)")
	errorCodes := contractCmd.String("errorCodes", "", "Comma-separated BPMN error codes the worker may throw")
	timeout := contractCmd.String("timeout", "", "Job timeout (e.g., 90s)")
	retries := contractCmd.Int("retries", -1, "Job retries")

	statusPath := statusCmd.String("path", defaultRegistryPath, "Path to registry file")
	statusID := statusCmd.String("id", "", "Activity ID")
	status := statusCmd.String("value", "", "planned, in-progress, completed or verified")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "validate":
		validateCmd.Parse(os.Args[2:])
		var reg *registry.ActivityRegistry
		if reg, err = loadChecked(*validatePath); err == nil {
			fmt.Printf("Registry valid: %d activities.\n", len(reg.Activities))
		}

	case "contract":
		contractCmd.Parse(os.Args[2:])
		if *contractID == "" {
			fmt.Fprintln(os.Stderr, "Error: -id is required")
			contractCmd.Usage()
			os.Exit(1)
		}
		update := contractUpdate{ErrorCodes: splitCodes(*errorCodes)}
		contractCmd.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "timeout":
				update.Timeout = timeout
			case "retries":
				update.Retries = retries
			}
		})
		if err = setContract(*contractPath, *contractID, update); err == nil {
			fmt.Printf("Updated contract of %s\n", *contractID)
		}

	case "status":
		statusCmd.Parse(os.Args[2:])
		if *statusID == "" || *status == "" {
			fmt.Fprintln(os.Stderr, "Error: -id and -value are required")
			statusCmd.Usage()
			os.Exit(1)
		}
		if err = setStatus(*statusPath, *statusID, *status); err == nil {
			fmt.Printf("Activity %s is now %s\n", *statusID, *status)
		}

	default:
		help()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func splitCodes(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var codes []string
	for _, code := range strings.Split(raw, ",") {
		if code = strings.TrimSpace(code); code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}

// loadChecked loads the registry and checks both its structure and every
// activity contract.
func loadChecked(path string) (*registry.ActivityRegistry, error) {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}
	if err := checkRegistry(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func checkRegistry(reg *registry.ActivityRegistry) error {
	if err := reg.Validate(); err != nil {
		return err
	}
	for i := range reg.Activities {
		if err := checkContract(&reg.Activities[i]); err != nil {
			return err
		}
	}
	return nil
}

// checkContract rejects error codes without a BPMN mapping, unparsable or
// non-positive timeouts and negative retries.
func checkContract(activity *registry.Activity) error {
	for _, code := range activity.ErrorCodes {
		if _, ok := apperrors.BPMNErrorMapping[apperrors.ErrorCode(code)]; !ok {
			return fmt.Errorf("activity %s declares unknown error code %s", activity.ID, code)
		}
	}
	if activity.Timeout != "" {
		d, err := time.ParseDuration(activity.Timeout)
		if err != nil {
			return fmt.Errorf("activity %s has invalid timeout %q: %w", activity.ID, activity.Timeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("activity %s timeout must be positive", activity.ID)
		}
	}
	if activity.Retries < 0 {
		return fmt.Errorf("activity %s retries must not be negative", activity.ID)
	}
	return nil
}

func setContract(path, id string, update contractUpdate) error {
	return modify(path, id, func(activity *registry.Activity) {
		if update.ErrorCodes != nil {
			activity.ErrorCodes = update.ErrorCodes
		}
		if update.Timeout != nil {
			activity.Timeout = *update.Timeout
		}
		if update.Retries != nil {
			activity.Retries = *update.Retries
		}
	})
}

func setStatus(path, id, status string) error {
	return modify(path, id, func(activity *registry.Activity) {
		activity.ImplementationStatus = status
	})
}

// modify applies change to one activity and saves the registry only if the
// result still passes checkRegistry.
func modify(path, id string, change func(*registry.Activity)) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	var activity *registry.Activity
	for i := range reg.Activities {
		if reg.Activities[i].ID == id {
			activity = &reg.Activities[i]
			break
		}
	}
	if activity == nil {
		return fmt.Errorf("activity with ID %s not found", id)
	}

	change(activity)
	if err := checkRegistry(reg); err != nil {
		return err
	}

	reg.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	return save(reg, path)
}

func save(reg *registry.ActivityRegistry, path string) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}
	return nil
}

func help() {
	fmt.Print(`Usage: registry-updater <command> [flags]

Commands:
  validate  Check registry structure and every worker contract
  contract  Change error codes, timeout or retries of an activity
  status    Change the implementation status of an activity

Examples:
  registry-updater validate -path configs/activity-registry.json
  registry-updater contract -id fetch-threat-intel-ips -timeout 90s -retries 3
  registry-updater contract -id fetch-threat-intel-ips -errorCodes THREAT_INTEL_QUERY_FAILED,LOG_ANALYTICS_UNAVAILABLE
  registry-updater status -id fetch-threat-intel-ips -value verified
`)
}
