package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

func printReport(w io.Writer, result report, cfg config) {
	lat := result.ScenarioLatencyMs
	fmt.Fprintln(w, "Load test summary")
	fmt.Fprintf(w, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode, cfg.target(), result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate)
	fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		lat.Min, lat.Avg, lat.P50, lat.P95, lat.P99, lat.Max)

	for _, name := range slices.Sorted(maps.Keys(result.Methods)) {
		if name == scenarioKey {
			continue
		}
		m := result.Methods[name]
		fmt.Fprintf(w, "%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, m.Calls, m.Success, m.Failed, m.ErrorRate, m.LatencyMs.P95)
	}
}

// writeJSONReport пишет отчёт только внутри текущего каталога.
func writeJSONReport(path string, result report) error {
	clean := filepath.Clean(path)
	switch {
	case clean == "." || clean == string(filepath.Separator):
		return errors.New("output path must point to a file")
	case clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)):
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- путь явно задан флагом -output.
	file, err := os.Create(clean)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
