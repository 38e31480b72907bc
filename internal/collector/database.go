package collector

import (
	"context"

	"github.com/szibis/request-toolbar/internal/observer"
)

// QueriesConfig configures the queries collector.
type QueriesConfig struct {
	Toggle `yaml:",inline"`
	// ShowSessionQueries keeps session-store housekeeping statements in the payload.
	ShowSessionQueries bool `yaml:"show_session_queries"`
}

// DefaultQueriesConfig enables the collector and hides session queries.
func DefaultQueriesConfig() QueriesConfig {
	return QueriesConfig{Toggle: Toggle{Enabled: true}}
}

// QueriesData is the queries payload.
type QueriesData struct {
	TotalTime                float64             `json:"total_time"`
	TotalTimeFilteredQueries float64             `json:"total_time_filtered_queries"`
	Databases                []observer.Database `json:"databases"`
	Connections              []string            `json:"connections"`
	Drivers                  []string            `json:"drivers"`
	Queries                  []observer.Query    `json:"queries"`
	Duplicates               int                 `json:"duplicates"`
	Slow                     int                 `json:"slow"`
}

// QueriesCollector reports the statements seen by the query observer. Each
// query's Percentage is its fraction of the reported time and Offset the sum
// of the fractions before it.
type QueriesCollector struct {
	cfg QueriesConfig
}

// NewQueriesCollector returns a QueriesCollector.
func NewQueriesCollector(cfg QueriesConfig) *QueriesCollector {
	return &QueriesCollector{cfg: cfg}
}

func (c *QueriesCollector) Key() string    { return KeyQueries }
func (c *QueriesCollector) Config() Config { return c.cfg }

func (c *QueriesCollector) Collect(_ context.Context, m *Manager) (any, error) {
	data := &QueriesData{
		Databases:   []observer.Database{},
		Connections: []string{},
		Drivers:     []string{},
		Queries:     []observer.Query{},
	}
	if m.Observers == nil || m.Observers.Queries == nil {
		return data, nil
	}

	st := m.Observers.Queries.Stats()
	data.TotalTime = st.TotalTime
	data.Databases = st.Databases
	data.Connections = st.Connections
	data.Drivers = st.Drivers

	for _, q := range st.Queries {
		if q.Type == observer.QueryTypeSession && !c.cfg.ShowSessionQueries {
			continue
		}
		data.Queries = append(data.Queries, q)
		data.TotalTimeFilteredQueries += q.Duration
	}

	var offset float64
	for i := range data.Queries {
		q := &data.Queries[i]
		if data.TotalTimeFilteredQueries > 0 {
			q.Percentage = q.Duration / data.TotalTimeFilteredQueries
		}
		q.Offset = offset
		offset += q.Percentage
		if q.IsDuplicate {
			data.Duplicates++
		}
		if q.IsSlow {
			data.Slow++
		}
	}
	return data, nil
}

// ModelsConfig configures the models collector.
type ModelsConfig struct {
	Toggle `yaml:",inline"`
}

// DefaultModelsConfig enables the collector.
func DefaultModelsConfig() ModelsConfig {
	return ModelsConfig{Toggle: Toggle{Enabled: true}}
}

// ModelsCollector reports hydrated model counts.
type ModelsCollector struct {
	cfg ModelsConfig
}

// NewModelsCollector returns a ModelsCollector.
func NewModelsCollector(cfg ModelsConfig) *ModelsCollector {
	return &ModelsCollector{cfg: cfg}
}

func (c *ModelsCollector) Key() string    { return KeyModels }
func (c *ModelsCollector) Config() Config { return c.cfg }

func (c *ModelsCollector) Collect(_ context.Context, m *Manager) (any, error) {
	if m.Observers == nil || m.Observers.Models == nil {
		return []observer.ModelEntry{}, nil
	}
	return m.Observers.Models.Entries(), nil
}
