package threatintel

import "fmt"

// ResultStatus is the completion state reported by the query service.
type ResultStatus int

const (
	StatusSuccess ResultStatus = iota
	StatusFailure
)

func (s ResultStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Row maps column names to cell values.
type Row map[string]interface{}

// QueryResult is the tabular answer for one query call. A nil *QueryResult
// means the client had nothing to return.
type QueryResult struct {
	Status       ResultStatus
	ErrorMessage string
	Table        []Row
}

// ExtractIPs projects the NetworkIP column of a successful result into a list,
// preserving row order. It does not deduplicate or filter; both are the
// query's job.
func ExtractIPs(result *QueryResult) ([]string, error) {
	if result == nil {
		return []string{}, nil
	}

	if result.Status != StatusSuccess {
		return nil, &QueryExecutionError{Message: result.ErrorMessage}
	}

	ips := make([]string, 0, len(result.Table))
	for i, row := range result.Table {
		value, ok := row[IPColumn]
		if !ok {
			return nil, &SchemaError{Column: IPColumn, Row: i}
		}
		ips = append(ips, cellString(value))
	}

	return ips, nil
}

func cellString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
