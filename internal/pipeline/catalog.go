package pipeline

import (
	"github.com/couchcryptid/indicator-etl/internal/config"
	"github.com/couchcryptid/indicator-etl/internal/domain"
	"github.com/couchcryptid/indicator-etl/internal/resolver"
)

// Job is one (source, indicator) ingestion unit.
type Job struct {
	Source    string
	Indicator string
	Category  string
	Unit      string
	Params    map[string]string
}

func (j Job) seriesKey(m domain.Municipality) domain.SeriesKey {
	return domain.SeriesKey{Municipality: m, IndicatorKey: j.Indicator, Source: j.Source}
}

// Catalog converts the source registry into resolver routes and the job list,
// in registry order.
func Catalog(sources []config.Source) (map[string]resolver.SourceConfig, []Job) {
	routes := make(map[string]resolver.SourceConfig, len(sources))
	var jobs []Job
	for _, src := range sources {
		sc := resolver.SourceConfig{
			Route: resolver.Route{Tiers: src.Tiers, Locations: src.Locations},
		}
		for _, ind := range src.Indicators {
			if len(ind.Tiers) > 0 || len(ind.Locations) > 0 {
				if sc.Indicators == nil {
					sc.Indicators = make(map[string]resolver.Route)
				}
				sc.Indicators[ind.Key] = resolver.Route{Tiers: ind.Tiers, Locations: ind.Locations}
			}
			jobs = append(jobs, Job{
				Source:    src.Name,
				Indicator: ind.Key,
				Category:  ind.Category,
				Unit:      ind.Unit,
				Params:    ind.Params,
			})
		}
		routes[src.Name] = sc
	}
	return routes, jobs
}
