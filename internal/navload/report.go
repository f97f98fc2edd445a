package navload

import "time"

// Strategy names how a level's related records were obtained.
type Strategy string

const (
	// StrategyJoin: LEFT JOINed onto the fetch of the root or a collection level.
	StrategyJoin Strategy = "join"
	// StrategySubquery: filtered with IN (SELECT ...) over the previous level's query.
	StrategySubquery Strategy = "subquery"
	// StrategyKeyed: filtered with an explicit key list.
	StrategyKeyed Strategy = "keyed"
	// StrategyCached: reused from an earlier chain of the same execution.
	StrategyCached Strategy = "cached"
	// StrategyPreloaded: every owner already held the navigation.
	StrategyPreloaded Strategy = "preloaded"
	// StrategySkipped: the level had no owners.
	StrategySkipped Strategy = "skipped"
)

// LevelReport describes one resolved level.
type LevelReport struct {
	Path       string   `json:"path"`
	Navigation string   `json:"navigation"`
	Kind       string   `json:"kind"`
	Offset     int      `json:"offset"`
	Strategy   Strategy `json:"strategy"`
	Owners     int      `json:"owners"`
	Related    int      `json:"related"`
	Fetches    int      `json:"fetches"`
}

// Report summarises one terminal execution.
type Report struct {
	ExecutionID    string        `json:"execution_id"`
	Root           string        `json:"root"`
	Terminal       string        `json:"terminal"`
	Tracking       bool          `json:"tracking"`
	Records        int           `json:"records"`
	Fetches        int           `json:"fetches"`
	RegistryHits   int           `json:"registry_hits"`
	RegistryMisses int           `json:"registry_misses"`
	Duration       time.Duration `json:"duration_ns"`
	Levels         []LevelReport `json:"levels"`
}

// Level returns the first report entry for path.
func (r *Report) Level(path string) (LevelReport, bool) {
	if r == nil {
		return LevelReport{}, false
	}
	for _, l := range r.Levels {
		if l.Path == path {
			return l, true
		}
	}
	return LevelReport{}, false
}
