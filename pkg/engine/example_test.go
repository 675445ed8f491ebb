package engine_test

import (
	"errors"
	"fmt"
	"time"

	"github.com/openfroyo/harnessctl/pkg/engine"
)

func ExampleSummarize() {
	results := []engine.OperationResult{
		engine.Created(engine.ResourceEnvironment, "dev", "dev", nil),
		engine.Existing(engine.ResourceEnvironment, "prod", "prod", nil),
		engine.Failed(engine.ResourceService, "api", "api", errors.New("[client] invalid yaml")),
	}

	s := engine.Summarize(results)
	fmt.Printf("total=%d created=%d existing=%d failed=%d\n", s.Total, s.Created, s.Existing, s.Failed)
	fmt.Println(results[2])
	// Output:
	// total=3 created=1 existing=1 failed=1
	// ✗ service: api (api)
}

func ExampleReportFileName() {
	ts := time.Date(2025, 10, 17, 9, 5, 3, 0, time.UTC)
	fmt.Println(engine.ReportFileName("payments_api", ts))
	// Output: harness_resources_payments_api_20251017_090503.json
}

func ExampleOutcome_ExitCode() {
	partial := &engine.Outcome{Completed: true, FullySucceeded: false}
	fmt.Println(partial.ExitCode(false), partial.ExitCode(true))

	failed := &engine.Outcome{Completed: false}
	fmt.Println(failed.ExitCode(false))
	// Output:
	// 0 1
	// 1
}
