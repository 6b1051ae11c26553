package threatintel

import (
	"fmt"
	"strings"
)

const (
	// IndicatorTable is the log-analytics table holding threat indicators.
	IndicatorTable = "ThreatIntelligenceIndicator"
	// IPColumn is the single column the query projects and the extractor reads.
	IPColumn = "NetworkIP"

	exclusionsName = "exclusions"

	// strict dotted quad; rejects domains, IPv6 and anything with a port
	ipv4Pattern = `^(?:[1-2]?[0-9]?[0-9]\.){3}(?:[1-2]?[0-9]?[0-9])$`
	// 192.168.0.0/16, 10.0.0.0/8, 172.16.0.0/12
	privateRangePattern = `^(?:192\.168\.|10\.|172\.(?:1[6-9]|2[0-9]|3[0-1])\.)`
)

// Query is an immutable query-language statement ready to be handed to the
// query client verbatim.
type Query struct {
	text string
}

func (q Query) String() string {
	return q.text
}

func (q Query) IsZero() bool {
	return q.text == ""
}

// clause is a single boolean predicate inside a where stage.
type clause string

func notExpired() clause {
	return "ExpirationDateTime > now()"
}

func minConfidence(threshold int) clause {
	return clause(fmt.Sprintf("ConfidenceScore >= %d", threshold))
}

func notInList(list string) clause {
	return clause(fmt.Sprintf("%s !in~ (%s)", IPColumn, list))
}

func matchesIPv4() clause {
	return clause(fmt.Sprintf(`%s matches regex @"%s"`, IPColumn, ipv4Pattern))
}

func notPrivateRange() clause {
	return clause(fmt.Sprintf(`not(%s matches regex @"%s")`, IPColumn, privateRangePattern))
}

type letStatement struct {
	name   string
	stages []string
}

// queryBuilder composes a tabular pipeline: optional let statements, a
// source table, one where stage of and-joined clauses and a summarize stage.
type queryBuilder struct {
	lets        []letStatement
	source      string
	clauses     []clause
	summarizeBy []string
}

func newQueryBuilder(source string) *queryBuilder {
	return &queryBuilder{source: source}
}

func (b *queryBuilder) Let(name string, stages ...string) *queryBuilder {
	b.lets = append(b.lets, letStatement{name: name, stages: stages})
	return b
}

func (b *queryBuilder) Where(c clause) *queryBuilder {
	b.clauses = append(b.clauses, c)
	return b
}

func (b *queryBuilder) SummarizeBy(columns ...string) *queryBuilder {
	b.summarizeBy = append(b.summarizeBy, columns...)
	return b
}

func (b *queryBuilder) Build() Query {
	var sb strings.Builder

	for _, l := range b.lets {
		sb.WriteString("let ")
		sb.WriteString(l.name)
		sb.WriteString(" = ")
		sb.WriteString(strings.Join(l.stages, " | "))
		sb.WriteString(";\n")
	}

	sb.WriteString(b.source)

	if len(b.clauses) > 0 {
		parts := make([]string, len(b.clauses))
		for i, c := range b.clauses {
			parts[i] = string(c)
		}
		sb.WriteString("\n| where ")
		sb.WriteString(strings.Join(parts, " and "))
	}

	if len(b.summarizeBy) > 0 {
		sb.WriteString("\n| summarize by ")
		sb.WriteString(strings.Join(b.summarizeBy, ", "))
	}

	return Query{text: sb.String()}
}

// BuildQuery produces the indicator query for cfg. When both watchlist
// settings are present the watchlist variant is emitted, otherwise the base
// variant. A partial watchlist setting is rejected before anything is built.
//
// Watchlist settings are trimmed and otherwise interpolated as-is; they are
// trusted operator input.
// TODO: switch to query parameters if alias or column ever come from callers.
func BuildQuery(cfg Config) (Query, error) {
	if err := cfg.Validate(); err != nil {
		return Query{}, err
	}

	b := newQueryBuilder(IndicatorTable)

	if cfg.HasExclusion() {
		b.Let(exclusionsName,
			fmt.Sprintf(`_GetWatchlist("%s")`, strings.TrimSpace(cfg.ExclusionListAlias)),
			"project "+strings.TrimSpace(cfg.IPv4ColumnName),
		)
	}

	b.Where(notExpired()).
		Where(minConfidence(*cfg.MinConfidence))

	if cfg.HasExclusion() {
		b.Where(notInList(exclusionsName))
	}

	return b.Where(matchesIPv4()).
		Where(notPrivateRange()).
		SummarizeBy(IPColumn).
		Build(), nil
}
