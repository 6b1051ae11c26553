// Package loganalytics runs threat-intel queries against an Azure Log
// Analytics workspace.
package loganalytics

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/monitor/azquery"

	"threatintel-workers/internal/threatintel"
)

type logsQuerier interface {
	QueryWorkspace(ctx context.Context, workspaceID string, body azquery.Body, options *azquery.LogsClientQueryWorkspaceOptions) (azquery.LogsClientQueryWorkspaceResponse, error)
}

// Client implements threatintel.QueryClient over azquery.
type Client struct {
	logs logsQuerier
}

var _ threatintel.QueryClient = (*Client)(nil)

// NewClient authenticates with a client secret. transport may be nil, in
// which case the SDK default is used.
func NewClient(cfg threatintel.Config, transport policy.Transporter) (*Client, error) {
	if cfg.TenantID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("tenant_id, client_id and client_secret are required")
	}

	clientOptions := azcore.ClientOptions{}
	if transport != nil {
		clientOptions.Transport = transport
	}

	cred, err := azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret,
		&azidentity.ClientSecretCredentialOptions{ClientOptions: clientOptions})
	if err != nil {
		return nil, fmt.Errorf("failed to create credential: %w", err)
	}

	logs, err := azquery.NewLogsClient(cred, &azquery.LogsClientOptions{ClientOptions: clientOptions})
	if err != nil {
		return nil, fmt.Errorf("failed to create logs client: %w", err)
	}

	return &Client{logs: logs}, nil
}

func (c *Client) QueryWorkspace(ctx context.Context, workspaceID string, query threatintel.Query, timeRange threatintel.TimeRange) (*threatintel.QueryResult, error) {
	body := azquery.Body{Query: to.Ptr(query.String())}
	if !timeRange.IsAllTime() {
		body.Timespan = to.Ptr(azquery.NewTimeInterval(timeRange.Start, timeRange.End))
	}

	resp, err := c.logs.QueryWorkspace(ctx, workspaceID, body, nil)
	if err != nil {
		return nil, fmt.Errorf("log analytics query: %w", err)
	}

	return convertResults(resp.Results), nil
}

// convertResults maps the service answer onto a QueryResult. A reported
// error wins over any partial tables.
// serviceMessage pulls the message out of the raw error body kept by
// azquery.ErrorInfo, falling back to the error code.
func serviceMessage(info *azquery.ErrorInfo) string {
	var body struct {
		Message string `json:"message"`
	}
	if raw := info.Error(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &body); err == nil && body.Message != "" {
			return body.Message
		}
	}
	return info.Code
}

func convertResults(results azquery.Results) *threatintel.QueryResult {
	if results.Error != nil {
		return &threatintel.QueryResult{Status: threatintel.StatusFailure, ErrorMessage: serviceMessage(results.Error)}
	}

	if len(results.Tables) == 0 || results.Tables[0] == nil {
		return nil
	}

	table := results.Tables[0]
	names := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		if col != nil && col.Name != nil {
			names[i] = *col.Name
		}
	}

	rows := make([]threatintel.Row, 0, len(table.Rows))
	for _, r := range table.Rows {
		row := make(threatintel.Row, len(names))
		for i, name := range names {
			if name == "" || i >= len(r) {
				continue
			}
			row[name] = r[i]
		}
		rows = append(rows, row)
	}

	return &threatintel.QueryResult{Status: threatintel.StatusSuccess, Table: rows}
}
