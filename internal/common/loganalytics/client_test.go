package loganalytics

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/monitor/azquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"threatintel-workers/internal/threatintel"
)

type MockLogsQuerier struct {
	mock.Mock
}

func (m *MockLogsQuerier) QueryWorkspace(ctx context.Context, workspaceID string, body azquery.Body, options *azquery.LogsClientQueryWorkspaceOptions) (azquery.LogsClientQueryWorkspaceResponse, error) {
	args := m.Called(ctx, workspaceID, body, options)
	return args.Get(0).(azquery.LogsClientQueryWorkspaceResponse), args.Error(1)
}

func ipTable(ips ...string) *azquery.Table {
	rows := make([]azquery.Row, 0, len(ips))
	for _, ip := range ips {
		rows = append(rows, azquery.Row{ip})
	}
	return &azquery.Table{
		Name:    to.Ptr("PrimaryResult"),
		Columns: []*azquery.Column{{Name: to.Ptr("NetworkIP")}},
		Rows:    rows,
	}
}

func buildQuery(t *testing.T) threatintel.Query {
	t.Helper()
	q, err := threatintel.BuildQuery(threatintel.Config{MinConfidence: threatintel.IntPtr(70)})
	require.NoError(t, err)
	return q
}

func TestConvertResults(t *testing.T) {
	tests := []struct {
		name     string
		results  azquery.Results
		validate func(t *testing.T, result *threatintel.QueryResult)
	}{
		{
			name:    "rows keyed by column name",
			results: azquery.Results{Tables: []*azquery.Table{ipTable("203.0.113.5", "198.51.100.9")}},
			validate: func(t *testing.T, result *threatintel.QueryResult) {
				require.NotNil(t, result)
				assert.Equal(t, threatintel.StatusSuccess, result.Status)
				require.Len(t, result.Table, 2)
				assert.Equal(t, "203.0.113.5", result.Table[0]["NetworkIP"])
				assert.Equal(t, "198.51.100.9", result.Table[1]["NetworkIP"])
			},
		},
		{
			name:    "empty table is a successful empty result",
			results: azquery.Results{Tables: []*azquery.Table{ipTable()}},
			validate: func(t *testing.T, result *threatintel.QueryResult) {
				require.NotNil(t, result)
				assert.Equal(t, threatintel.StatusSuccess, result.Status)
				assert.Empty(t, result.Table)
			},
		},
		{
			name:    "no tables is an absent result",
			results: azquery.Results{},
			validate: func(t *testing.T, result *threatintel.QueryResult) {
				assert.Nil(t, result)
			},
		},
		{
			name: "service error wins over partial tables",
			results: azquery.Results{
				Tables: []*azquery.Table{ipTable("203.0.113.5")},
				Error:  &azquery.ErrorInfo{Code: "PartialError"},
			},
			validate: func(t *testing.T, result *threatintel.QueryResult) {
				require.NotNil(t, result)
				assert.Equal(t, threatintel.StatusFailure, result.Status)
				assert.Contains(t, result.ErrorMessage, "PartialError")
				assert.Empty(t, result.Table)
			},
		},
		{
			name: "multiple columns and short rows",
			results: azquery.Results{Tables: []*azquery.Table{{
				Columns: []*azquery.Column{{Name: to.Ptr("NetworkIP")}, {Name: to.Ptr("ConfidenceScore")}},
				Rows:    []azquery.Row{{"203.0.113.5", float64(90)}, {"198.51.100.9"}},
			}}},
			validate: func(t *testing.T, result *threatintel.QueryResult) {
				require.Len(t, result.Table, 2)
				assert.Equal(t, float64(90), result.Table[0]["ConfidenceScore"])
				_, ok := result.Table[1]["ConfidenceScore"]
				assert.False(t, ok)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.validate(t, convertResults(tt.results))
		})
	}
}

func TestConvertResults_ServicePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{
			name: "message from error body",
			payload: `{"tables":[],"error":{"code":"PartialError","message":"There were some errors when processing your query.",` +
				`"details":[{"code":"EvaluationError","message":"Failed to resolve table expression named 'ThreatIntelligenceIndicator'"}]}}`,
			want: "There were some errors when processing your query.",
		},
		{
			name:    "code when message is missing",
			payload: `{"tables":[],"error":{"code":"BadArgumentError"}}`,
			want:    "BadArgumentError",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var results azquery.Results
			require.NoError(t, json.Unmarshal([]byte(tt.payload), &results))

			ips, err := threatintel.ExtractIPs(convertResults(results))

			assert.Nil(t, ips)
			require.Error(t, err)
			assert.ErrorIs(t, err, threatintel.ErrQueryExecution)
			assert.Equal(t, tt.want, err.Error())
		})
	}
}

func TestClient_QueryWorkspace_AllTime(t *testing.T) {
	logs := new(MockLogsQuerier)
	query := buildQuery(t)

	logs.On("QueryWorkspace", mock.Anything, "ws-1", mock.MatchedBy(func(body azquery.Body) bool {
		return body.Query != nil && *body.Query == query.String() && body.Timespan == nil
	}), (*azquery.LogsClientQueryWorkspaceOptions)(nil)).
		Return(azquery.LogsClientQueryWorkspaceResponse{Results: azquery.Results{Tables: []*azquery.Table{ipTable("203.0.113.5")}}}, nil).
		Once()

	client := &Client{logs: logs}
	result, err := client.QueryWorkspace(context.Background(), "ws-1", query, threatintel.AllTime)

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "203.0.113.5", result.Table[0]["NetworkIP"])
	logs.AssertExpectations(t)
}

func TestClient_QueryWorkspace_BoundedRange(t *testing.T) {
	logs := new(MockLogsQuerier)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	want := azquery.NewTimeInterval(start, end)

	logs.On("QueryWorkspace", mock.Anything, "ws-1", mock.MatchedBy(func(body azquery.Body) bool {
		return body.Timespan != nil && *body.Timespan == want
	}), mock.Anything).Return(azquery.LogsClientQueryWorkspaceResponse{}, nil).Once()

	client := &Client{logs: logs}
	result, err := client.QueryWorkspace(context.Background(), "ws-1", buildQuery(t), threatintel.TimeRange{Start: start, End: end})

	require.NoError(t, err)
	assert.Nil(t, result)
	logs.AssertExpectations(t)
}

func TestClient_QueryWorkspace_TransportError(t *testing.T) {
	logs := new(MockLogsQuerier)
	cause := errors.New("dial tcp: i/o timeout")
	logs.On("QueryWorkspace", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(azquery.LogsClientQueryWorkspaceResponse{}, cause).Once()

	client := &Client{logs: logs}
	result, err := client.QueryWorkspace(context.Background(), "ws-1", buildQuery(t), threatintel.AllTime)

	assert.Nil(t, result)
	assert.ErrorIs(t, err, cause)
}

func TestClient_EndToEndThroughAPI(t *testing.T) {
	logs := new(MockLogsQuerier)
	logs.On("QueryWorkspace", mock.Anything, "ws-1", mock.Anything, mock.Anything).
		Return(azquery.LogsClientQueryWorkspaceResponse{Results: azquery.Results{Tables: []*azquery.Table{ipTable("203.0.113.5", "198.51.100.9")}}}, nil)

	api := threatintel.NewAPI(threatintel.Config{WorkspaceID: "ws-1", MinConfidence: threatintel.IntPtr(70)}, &Client{logs: logs})
	ips, err := api.GetCurrentThreatIntelIPs(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"203.0.113.5", "198.51.100.9"}, ips)
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient(threatintel.Config{TenantID: "t", ClientID: "c"}, nil)
	assert.Error(t, err)
}
