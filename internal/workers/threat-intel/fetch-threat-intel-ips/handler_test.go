package fetchthreatintelips

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"threatintel-workers/internal/common/config"
	"threatintel-workers/internal/common/database"
	apperrors "threatintel-workers/internal/common/errors"
	"threatintel-workers/internal/common/logger"
	"threatintel-workers/internal/models"
	"threatintel-workers/internal/threatintel"
)

type MockIPSource struct {
	mock.Mock
	cfg threatintel.Config
}

func (m *MockIPSource) GetCurrentThreatIntelIPs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockIPSource) Config() threatintel.Config {
	return m.cfg
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishSnapshot(ctx context.Context, snapshot models.IPSnapshot, ttl time.Duration) error {
	return m.Called(ctx, snapshot, ttl).Error(0)
}

var fixedNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func createTestConfig() *Config {
	return &Config{
		QueryTimeout:     5 * time.Second,
		SnapshotTTL:      time.Hour,
		PublishByDefault: true,
	}
}

func createTestLogger(t *testing.T) logger.Logger {
	return logger.NewZapAdapter(zaptest.NewLogger(t))
}

func createTestSource() *MockIPSource {
	return &MockIPSource{cfg: threatintel.Config{
		WorkspaceID:   "ws-1",
		MinConfidence: threatintel.IntPtr(70),
	}}
}

func createTestRedis(t *testing.T) (*miniredis.Miniredis, *database.RedisClient) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := database.NewRedis(config.RedisConfig{Address: mr.Addr(), SnapshotKey: "threatintel:ips:latest"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func createTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, sqlMock
}

func newTestHandler(t *testing.T, source IPSource, db *sql.DB, publisher SnapshotPublisher) *Handler {
	h := NewHandler(createTestConfig(), source, db, publisher, nil, createTestLogger(t))
	h.now = func() time.Time { return fixedNow }
	return h
}

func boolPtr(v bool) *bool {
	return &v
}

func requireCode(t *testing.T, err error, code apperrors.ErrorCode) *apperrors.StandardError {
	t.Helper()
	require.Error(t, err)
	stdErr, ok := apperrors.AsStandardError(err)
	require.True(t, ok, "expected StandardError, got %T", err)
	assert.Equal(t, code, stdErr.Code)
	return stdErr
}

func TestHandler_Execute_Success(t *testing.T) {
	source := createTestSource()
	source.On("GetCurrentThreatIntelIPs", mock.Anything).Return([]string{"203.0.113.5", "198.51.100.9"}, nil).Once()

	db, sqlMock := createTestDB(t)
	sqlMock.ExpectExec("INSERT INTO threat_intel_runs").
		WithArgs(sqlmock.AnyArg(), fixedNow, fixedNow, "succeeded", 2, nil, nil, false, 70, "firewall-sync").
		WillReturnResult(sqlmock.NewResult(1, 1))

	mr, redisClient := createTestRedis(t)
	h := newTestHandler(t, source, db, redisClient)

	output, err := h.Execute(context.Background(), &Input{RequestedBy: "firewall-sync"})

	require.NoError(t, err)
	assert.Equal(t, []string{"203.0.113.5", "198.51.100.9"}, output.IPs)
	assert.Equal(t, 2, output.Count)
	assert.Equal(t, fixedNow.Format(time.RFC3339), output.FetchedAt)
	assert.False(t, output.ExclusionApplied)
	assert.True(t, output.SnapshotPublished)
	_, parseErr := uuid.Parse(output.RunID)
	assert.NoError(t, parseErr)

	assert.True(t, mr.Exists("threatintel:ips:latest"))
	snapshot, err := redisClient.LatestSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, output.RunID, snapshot.RunID)
	assert.Equal(t, output.IPs, snapshot.IPs)
	assert.Equal(t, 70, snapshot.MinConfidence)

	assert.NoError(t, sqlMock.ExpectationsWereMet())
	source.AssertExpectations(t)
}

func TestHandler_Execute_SkipsPublishWhenRequested(t *testing.T) {
	source := createTestSource()
	source.On("GetCurrentThreatIntelIPs", mock.Anything).Return([]string{"203.0.113.5"}, nil)

	db, sqlMock := createTestDB(t)
	sqlMock.ExpectExec("INSERT INTO threat_intel_runs").WillReturnResult(sqlmock.NewResult(1, 1))

	mr, redisClient := createTestRedis(t)
	h := newTestHandler(t, source, db, redisClient)

	output, err := h.Execute(context.Background(), &Input{PublishSnapshot: boolPtr(false)})

	require.NoError(t, err)
	assert.False(t, output.SnapshotPublished)
	assert.False(t, mr.Exists("threatintel:ips:latest"))
}

func TestHandler_Execute_ExclusionFlagFromConfig(t *testing.T) {
	source := createTestSource()
	source.cfg.ExclusionListAlias = "ti-allowlist"
	source.cfg.IPv4ColumnName = "IPAddress"
	source.On("GetCurrentThreatIntelIPs", mock.Anything).Return([]string{}, nil)

	db, sqlMock := createTestDB(t)
	sqlMock.ExpectExec("INSERT INTO threat_intel_runs").
		WithArgs(sqlmock.AnyArg(), fixedNow, fixedNow, "succeeded", 0, nil, nil, true, 70, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	h := newTestHandler(t, source, db, nil)

	output, err := h.Execute(context.Background(), nil)

	require.NoError(t, err)
	assert.True(t, output.ExclusionApplied)
	assert.Equal(t, 0, output.Count)
	assert.NotNil(t, output.IPs)
	assert.False(t, output.SnapshotPublished)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestHandler_Execute_QueryErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      apperrors.ErrorCode
		retryable bool
	}{
		{
			name: "partial exclusion configuration",
			err:  &threatintel.ConfigurationError{Field: "ipv4_column_name", Reason: "must be set together"},
			code: apperrors.ErrCodeThreatIntelConfigInvalid,
		},
		{
			name:      "service reported failure",
			err:       &threatintel.QueryExecutionError{Message: "boom"},
			code:      apperrors.ErrCodeThreatIntelQueryFailed,
			retryable: true,
		},
		{
			name: "result without NetworkIP",
			err:  &threatintel.SchemaError{Column: "NetworkIP", Row: 0},
			code: apperrors.ErrCodeThreatIntelSchemaMismatch,
		},
		{
			name:      "transport failure",
			err:       errors.New("dial tcp: connection refused"),
			code:      apperrors.ErrCodeLogAnalyticsUnavailable,
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := createTestSource()
			source.On("GetCurrentThreatIntelIPs", mock.Anything).Return(nil, tt.err).Once()

			db, sqlMock := createTestDB(t)
			sqlMock.ExpectExec("INSERT INTO threat_intel_runs").
				WithArgs(sqlmock.AnyArg(), fixedNow, fixedNow, "failed", 0, string(tt.code), tt.err.Error(), false, 70, nil).
				WillReturnResult(sqlmock.NewResult(1, 1))

			publisher := new(MockPublisher)
			h := newTestHandler(t, source, db, publisher)

			output, err := h.Execute(context.Background(), &Input{})

			assert.Nil(t, output)
			stdErr := requireCode(t, err, tt.code)
			assert.Equal(t, tt.retryable, stdErr.Retryable)
			assert.True(t, errors.Is(err, tt.err))
			assert.NotEmpty(t, stdErr.Metadata["runId"])

			publisher.AssertNotCalled(t, "PublishSnapshot", mock.Anything, mock.Anything, mock.Anything)
			assert.NoError(t, sqlMock.ExpectationsWereMet())
		})
	}
}

func TestHandler_Execute_Timeout(t *testing.T) {
	source := createTestSource()
	source.On("GetCurrentThreatIntelIPs", mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded).Once()

	db, sqlMock := createTestDB(t)
	sqlMock.ExpectExec("INSERT INTO threat_intel_runs").WillReturnResult(sqlmock.NewResult(1, 1))

	h := newTestHandler(t, source, db, nil)
	h.config.QueryTimeout = 20 * time.Millisecond

	_, err := h.Execute(context.Background(), &Input{})

	stdErr := requireCode(t, err, apperrors.ErrCodeThreatIntelQueryTimeout)
	assert.True(t, stdErr.Retryable)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestHandler_Execute_FailedRunRecordingIsBestEffort(t *testing.T) {
	source := createTestSource()
	source.On("GetCurrentThreatIntelIPs", mock.Anything).Return(nil, &threatintel.QueryExecutionError{Message: "boom"})

	db, sqlMock := createTestDB(t)
	sqlMock.ExpectExec("INSERT INTO threat_intel_runs").WillReturnError(errors.New("connection reset"))

	h := newTestHandler(t, source, db, nil)

	_, err := h.Execute(context.Background(), &Input{})

	requireCode(t, err, apperrors.ErrCodeThreatIntelQueryFailed)
}

func TestHandler_Execute_RunHistoryWriteFailed(t *testing.T) {
	source := createTestSource()
	source.On("GetCurrentThreatIntelIPs", mock.Anything).Return([]string{"203.0.113.5"}, nil)

	db, sqlMock := createTestDB(t)
	sqlMock.ExpectExec("INSERT INTO threat_intel_runs").WillReturnError(errors.New("disk full"))

	publisher := new(MockPublisher)
	h := newTestHandler(t, source, db, publisher)

	_, err := h.Execute(context.Background(), &Input{})

	stdErr := requireCode(t, err, apperrors.ErrCodeRunHistoryWriteFailed)
	assert.True(t, stdErr.Retryable)
	publisher.AssertNotCalled(t, "PublishSnapshot", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandler_Execute_SnapshotPublishFailed(t *testing.T) {
	source := createTestSource()
	source.On("GetCurrentThreatIntelIPs", mock.Anything).Return([]string{"203.0.113.5"}, nil)

	db, sqlMock := createTestDB(t)
	sqlMock.ExpectExec("INSERT INTO threat_intel_runs").WillReturnResult(sqlmock.NewResult(1, 1))

	publisher := new(MockPublisher)
	publisher.On("PublishSnapshot", mock.Anything, mock.MatchedBy(func(s models.IPSnapshot) bool {
		return s.Count == 1 && s.IPs[0] == "203.0.113.5"
	}), time.Hour).Return(errors.New("READONLY")).Once()

	h := newTestHandler(t, source, db, publisher)

	_, err := h.Execute(context.Background(), &Input{})

	requireCode(t, err, apperrors.ErrCodeSnapshotPublishFailed)
	publisher.AssertExpectations(t)
}

func TestHandler_Execute_NilDBSkipsHistory(t *testing.T) {
	source := createTestSource()
	source.On("GetCurrentThreatIntelIPs", mock.Anything).Return([]string{"203.0.113.5"}, nil)

	h := newTestHandler(t, source, nil, nil)

	output, err := h.Execute(context.Background(), &Input{})

	require.NoError(t, err)
	assert.Equal(t, 1, output.Count)
}

func TestParseInput(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    *Input
		wantErr string
	}{
		{name: "empty variables", raw: "", want: &Input{}},
		{name: "empty object", raw: "{}", want: &Input{}},
		{
			name: "all fields",
			raw:  `{"requestedBy":"cron","publishSnapshot":false}`,
			want: &Input{RequestedBy: "cron", PublishSnapshot: boolPtr(false)},
		},
		{
			name: "unrelated process variables",
			raw:  `{"requestedBy":"cron","firewallId":42}`,
			want: &Input{RequestedBy: "cron"},
		},
		{name: "wrong type", raw: `{"publishSnapshot":"yes"}`, wantErr: "input validation failed"},
		{name: "not json", raw: `requestedBy=cron`, wantErr: "validation error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseInput(tt.raw)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err    error
		code   apperrors.ErrorCode
		reason string
	}{
		{&threatintel.ConfigurationError{Field: "min_confidence"}, apperrors.ErrCodeThreatIntelConfigInvalid, "config"},
		{&threatintel.SchemaError{Column: "NetworkIP"}, apperrors.ErrCodeThreatIntelSchemaMismatch, "schema"},
		{&threatintel.QueryExecutionError{Message: "x"}, apperrors.ErrCodeThreatIntelQueryFailed, "service"},
		{&queryTimeoutError{timeout: time.Second, cause: context.DeadlineExceeded}, apperrors.ErrCodeThreatIntelQueryTimeout, "timeout"},
		{errors.New("EOF"), apperrors.ErrCodeLogAnalyticsUnavailable, "transport"},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			stdErr, reason := classifyError(tt.err)
			assert.Equal(t, tt.code, stdErr.Code)
			assert.Equal(t, tt.reason, reason)
		})
	}
}
