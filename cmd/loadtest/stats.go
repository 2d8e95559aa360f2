package main

import (
	"maps"
	"math"
	"slices"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
)

// scenarioKey — имя, под которым записываются сценарии целиком, а не отдельные RPC.
const scenarioKey = "scenario"

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

// samples — сырые наблюдения по одному методу.
type samples struct {
	codes     map[codes.Code]int64
	latencies []float64
}

func (s *samples) report() methodReport {
	r := methodReport{Codes: make(map[string]int64, len(s.codes)), LatencyMs: summarize(s.latencies)}
	for code, n := range s.codes {
		r.Calls += n
		if code == codes.OK {
			r.Success += n
		} else {
			r.Failed += n
		}
		r.Codes[code.String()] = n
	}
	r.ErrorRate = ratio(r.Failed, r.Calls)
	return r
}

// recorder копит латентность и коды ответов; безопасен для конкурентного использования.
type recorder struct {
	mu      sync.Mutex
	methods map[string]*samples
}

func newRecorder() *recorder {
	return &recorder{methods: make(map[string]*samples)}
}

func (r *recorder) observe(method string, latency time.Duration, code codes.Code) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.methods[method]
	if s == nil {
		s = &samples{codes: make(map[codes.Code]int64)}
		r.methods[method] = s
	}
	s.codes[code]++
	s.latencies = append(s.latencies, float64(latency.Microseconds())/1000)
}

func (r *recorder) report(startedAt time.Time, elapsed time.Duration) report {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Methods:         make(map[string]methodReport, len(r.methods)),
	}
	for _, name := range slices.Sorted(maps.Keys(r.methods)) {
		out.Methods[name] = r.methods[name].report()
	}

	if scenarios, ok := out.Methods[scenarioKey]; ok {
		out.TotalScenarios = scenarios.Calls
		out.SuccessScenarios = scenarios.Success
		out.FailedScenarios = scenarios.Failed
		out.ErrorRate = scenarios.ErrorRate
		out.ScenarioLatencyMs = scenarios.LatencyMs
	}
	if elapsed > 0 {
		out.RPS = float64(out.TotalScenarios) / elapsed.Seconds()
	}
	return out
}

func summarize(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

// percentile интерполирует линейно между соседними рангами отсортированной выборки.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo, hi := int(math.Floor(rank)), int(math.Ceil(rank))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

func ratio(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}
