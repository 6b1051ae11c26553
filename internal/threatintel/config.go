package threatintel

import (
	"fmt"
	"strings"
)

// Config carries the settings needed to build and run the indicator query.
// It is bound once by the configuration provider and never mutated afterwards.
type Config struct {
	TenantID           string `mapstructure:"tenant_id"`
	ClientID           string `mapstructure:"client_id"`
	ClientSecret       string `mapstructure:"client_secret"`
	WorkspaceID        string `mapstructure:"workspace_id"`
	MinConfidence      *int   `mapstructure:"min_confidence"`
	ExclusionListAlias string `mapstructure:"exclusion_list_alias"`
	IPv4ColumnName     string `mapstructure:"ipv4_column_name"`
}

// HasExclusion reports whether both watchlist settings are present.
func (c Config) HasExclusion() bool {
	return strings.TrimSpace(c.ExclusionListAlias) != "" && strings.TrimSpace(c.IPv4ColumnName) != ""
}

// Validate checks the query-shaping settings. Credentials and workspace are
// the query client's concern and are validated where that client is built.
func (c Config) Validate() error {
	if c.MinConfidence == nil {
		return &ConfigurationError{Field: "min_confidence", Reason: "confidence threshold is required"}
	}

	hasAlias := strings.TrimSpace(c.ExclusionListAlias) != ""
	hasColumn := strings.TrimSpace(c.IPv4ColumnName) != ""
	if hasAlias != hasColumn {
		missing := "ipv4_column_name"
		if !hasAlias {
			missing = "exclusion_list_alias"
		}
		return &ConfigurationError{
			Field:  missing,
			Reason: "exclusion_list_alias and ipv4_column_name must be set together",
		}
	}

	return nil
}

// IntPtr is a convenience for building configs in code.
func IntPtr(v int) *int {
	return &v
}

func (c Config) String() string {
	minConfidence := "<unset>"
	if c.MinConfidence != nil {
		minConfidence = fmt.Sprintf("%d", *c.MinConfidence)
	}
	return fmt.Sprintf("workspace=%s minConfidence=%s exclusion=%t", c.WorkspaceID, minConfidence, c.HasExclusion())
}
