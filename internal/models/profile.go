package models

// Column types inferred from a sampled dataset.
const (
	TypeInteger  = "integer"
	TypeFloat    = "float"
	TypeBoolean  = "boolean"
	TypeDatetime = "datetime"
	TypeString   = "string"
)

// Candidate confidence tiers.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
)

// Candidate is a column flagged by one of the profiling heuristics.
type Candidate struct {
	Column     string `json:"column"`
	Confidence string `json:"confidence"`
	Reason     string `json:"reason"`
}

// ColumnQuality summarizes per-column completeness and uniqueness.
type ColumnQuality struct {
	Column        string  `json:"column"`
	NullPercent   float64 `json:"null_percent"`
	NullStatus    string  `json:"null_status"` // good | warning | poor
	UniquePercent float64 `json:"unique_percent"`
	CurrentType   string  `json:"current_type"`
	SuggestedType string  `json:"suggested_type"`
}

// SchemaColumn is one column of the recommended destination schema.
type SchemaColumn struct {
	Name            string `json:"name"`
	DestinationType string `json:"destination_type"`
	Nullable        bool   `json:"nullable"`
	Unique          bool   `json:"unique"`
}

// DatasetInfo describes the sampled dataset's shape.
type DatasetInfo struct {
	RowCount    int               `json:"row_count"`
	ColumnCount int               `json:"column_count"`
	ColumnNames []string          `json:"column_names"`
	ColumnTypes map[string]string `json:"column_types"`
}

// ProfilingResult is the read-only output of the Schema Profiler. It is
// created once per Profile stage invocation, attached to the workflow
// record, and never mutated afterwards.
type ProfilingResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	Dataset           DatasetInfo     `json:"dataset_info"`
	PrimaryKeys       []Candidate     `json:"primary_key_candidates"`
	TemporalColumns   []Candidate     `json:"temporal_candidates"`
	Quality           []ColumnQuality `json:"data_quality"`
	RecommendedSchema []SchemaColumn  `json:"recommended_schema"`
	CompletenessScore float64         `json:"completeness_score"`
	Narrative         string          `json:"narrative,omitempty"`
	SampleRows        [][]string      `json:"-"`
}

// PoorQualityColumns lists columns whose null status is "poor"; the code
// synthesizer calls these out in the enhanced prompt.
func (p *ProfilingResult) PoorQualityColumns() []string {
	var out []string
	for _, q := range p.Quality {
		if q.NullStatus == "poor" {
			out = append(out, q.Column)
		}
	}
	return out
}
