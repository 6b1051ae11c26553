package threatintel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractIPs_Success(t *testing.T) {
	result := &QueryResult{
		Status: StatusSuccess,
		Table: []Row{
			{"NetworkIP": "1.2.3.4"},
			{"NetworkIP": "5.6.7.8"},
		},
	}

	ips, err := ExtractIPs(result)

	require.NoError(t, err)
	assert.Equal(t, []string{"1.2.3.4", "5.6.7.8"}, ips)
}

func TestExtractIPs_AbsentResult(t *testing.T) {
	ips, err := ExtractIPs(nil)

	require.NoError(t, err)
	assert.NotNil(t, ips)
	assert.Empty(t, ips)
}

func TestExtractIPs_EmptyTable(t *testing.T) {
	ips, err := ExtractIPs(&QueryResult{Status: StatusSuccess})

	require.NoError(t, err)
	assert.Empty(t, ips)
}

func TestExtractIPs_Failure(t *testing.T) {
	result := &QueryResult{
		Status:       StatusFailure,
		ErrorMessage: "boom",
		Table:        []Row{{"NetworkIP": "1.2.3.4"}},
	}

	ips, err := ExtractIPs(result)

	require.Error(t, err)
	assert.Nil(t, ips)
	assert.True(t, errors.Is(err, ErrQueryExecution))
	assert.Equal(t, "boom", err.Error())

	var execErr *QueryExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "boom", execErr.Message)
}

func TestExtractIPs_MissingColumn(t *testing.T) {
	result := &QueryResult{
		Status: StatusSuccess,
		Table: []Row{
			{"NetworkIP": "1.2.3.4"},
			{"IPAddress": "5.6.7.8"},
			{"NetworkIP": "9.9.9.9"},
		},
	}

	ips, err := ExtractIPs(result)

	require.Error(t, err)
	assert.Nil(t, ips)
	assert.True(t, errors.Is(err, ErrSchemaMismatch))

	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, 1, schemaErr.Row)
	assert.Equal(t, "NetworkIP", schemaErr.Column)
}

func TestExtractIPs_KeepsDuplicatesAndOrder(t *testing.T) {
	result := &QueryResult{
		Status: StatusSuccess,
		Table: []Row{
			{"NetworkIP": "203.0.113.5"},
			{"NetworkIP": "198.51.100.9"},
			{"NetworkIP": "203.0.113.5"},
		},
	}

	ips, err := ExtractIPs(result)

	require.NoError(t, err)
	assert.Equal(t, []string{"203.0.113.5", "198.51.100.9", "203.0.113.5"}, ips)
}

// Private-range filtering happens in the query. The extractor passes such
// values through untouched.
func TestExtractIPs_DoesNotFilterPrivateRanges(t *testing.T) {
	result := &QueryResult{
		Status: StatusSuccess,
		Table: []Row{
			{"NetworkIP": "10.0.0.1"},
			{"NetworkIP": "192.168.1.1"},
			{"NetworkIP": "172.16.0.9"},
		},
	}

	ips, err := ExtractIPs(result)

	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "192.168.1.1", "172.16.0.9"}, ips)
}

func TestExtractIPs_CoercesCells(t *testing.T) {
	result := &QueryResult{
		Status: StatusSuccess,
		Table: []Row{
			{"NetworkIP": nil},
			{"NetworkIP": 42},
			{"NetworkIP": []byte("x")},
		},
	}

	ips, err := ExtractIPs(result)

	require.NoError(t, err)
	assert.Equal(t, []string{"", "42", "[120]"}, ips)
}

func TestResultStatus_String(t *testing.T) {
	assert.Equal(t, "success", StatusSuccess.String())
	assert.Equal(t, "failure", StatusFailure.String())
	assert.Equal(t, "status(7)", ResultStatus(7).String())
}
