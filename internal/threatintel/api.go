// Package threatintel builds the threat-indicator query, runs it through a
// credentialed query client and turns the tabular answer into an IP list.
package threatintel

import (
	"context"
	"time"
)

// TimeRange bounds the query window. The zero value is AllTime.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// AllTime leaves the query unbounded in time.
var AllTime = TimeRange{}

func (r TimeRange) IsAllTime() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// QueryClient executes a query against a log-analytics workspace. A nil
// result with a nil error means the service returned nothing.
type QueryClient interface {
	QueryWorkspace(ctx context.Context, workspaceID string, query Query, timeRange TimeRange) (*QueryResult, error)
}

// API returns the current set of vetted threat-intel IPs.
type API struct {
	config Config
	client QueryClient
}

func NewAPI(cfg Config, client QueryClient) *API {
	return &API{
		config: cfg,
		client: client,
	}
}

func (a *API) Config() Config {
	return a.config
}

// GetCurrentThreatIntelIPs builds the query, runs it once over all time and
// extracts the IP column. Errors are returned as-is to the caller.
func (a *API) GetCurrentThreatIntelIPs(ctx context.Context) ([]string, error) {
	query, err := BuildQuery(a.config)
	if err != nil {
		return nil, err
	}

	result, err := a.client.QueryWorkspace(ctx, a.config.WorkspaceID, query, AllTime)
	if err != nil {
		return nil, err
	}

	return ExtractIPs(result)
}
