package model

import (
	"sort"
	"sync"
)

// Issue: листинг, который не был применён к каталогу как обычно.
type Issue struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Category string `json:"category"`
	Outcome  string `json:"outcome"` // invalid | ambiguous | failed
	Reason   string `json:"reason"`
}

// Report: итог ReconcileBatch.
type Report struct {
	RunID                 string  `json:"runId"`
	Site                  string  `json:"site"`
	Matched               int     `json:"matched"`
	Created               int     `json:"created"`
	Ambiguous             int     `json:"ambiguous"`
	Failed                int     `json:"failed"`
	Invalid               int     `json:"invalid"`
	HistoryEntriesWritten int     `json:"historyEntriesWritten"`
	Issues                []Issue `json:"issues"`
}

// ReportAccumulator: потокобезопасный сборщик отчёта для воркеров.
type ReportAccumulator struct {
	mu sync.Mutex
	r  Report
}

func NewReportAccumulator(runID, site string) *ReportAccumulator {
	return &ReportAccumulator{r: Report{RunID: runID, Site: site, Issues: []Issue{}}}
}

func (a *ReportAccumulator) Decided(st State, history bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch st {
	case StateMatched:
		a.r.Matched++
	case StateCreated:
		a.r.Created++
	case StateAmbiguous:
		a.r.Ambiguous++
	}
	if history {
		a.r.HistoryEntriesWritten++
	}
}

func (a *ReportAccumulator) Issue(is Issue) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch is.Outcome {
	case "invalid":
		a.r.Invalid++
	case "failed":
		a.r.Failed++
	}
	a.r.Issues = append(a.r.Issues, is)
}

func (a *ReportAccumulator) Report() Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.r
	out.Issues = append([]Issue(nil), a.r.Issues...)
	// воркеры дописывают в произвольном порядке
	sort.SliceStable(out.Issues, func(i, j int) bool {
		if out.Issues[i].Outcome != out.Issues[j].Outcome {
			return out.Issues[i].Outcome < out.Issues[j].Outcome
		}
		return out.Issues[i].URL < out.Issues[j].URL
	})
	return out
}
