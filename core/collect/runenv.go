package collect

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// runVariables maps run.json keys to the CI environment variables they
// come from.
var runVariables = []struct {
	key string
	env string
}{
	{key: "repo", env: "GITHUB_REPOSITORY"},
	{key: "run_id", env: "GITHUB_RUN_ID"},
	{key: "sha", env: "GITHUB_SHA"},
	{key: "workflow", env: "GITHUB_WORKFLOW"},
	{key: "actor", env: "GITHUB_ACTOR"},
	{key: "event_name", env: "GITHUB_EVENT_NAME"},
	{key: "job", env: "GITHUB_JOB"},
	{key: "runner_name", env: "RUNNER_NAME"},
}

// RunContext builds the run.json document. Empty values, including a zero
// epoch, are dropped.
func RunContext(getenv func(string) string, epoch int64) map[string]any {
	run := map[string]any{}
	if epoch != 0 {
		run["source_date_epoch"] = epoch
	}
	for _, variable := range runVariables {
		if value := getenv(variable.env); value != "" {
			run[variable.key] = value
		}
	}
	return run
}

// SourceDateEpoch reads SOURCE_DATE_EPOCH. Unset means 0. Invalid or negative
// values also yield 0 and a non-nil warning describing the problem.
func SourceDateEpoch(getenv func(string) string) (int64, error) {
	raw := strings.TrimSpace(getenv("SOURCE_DATE_EPOCH"))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid SOURCE_DATE_EPOCH %q, defaulting to 0", raw)
	}
	if value < 0 {
		return 0, fmt.Errorf("negative SOURCE_DATE_EPOCH %q, defaulting to 0", raw)
	}
	if value > math.MaxUint32 {
		return 0, fmt.Errorf("SOURCE_DATE_EPOCH %q exceeds the gzip timestamp range, defaulting to 0", raw)
	}
	return value, nil
}
