package telemetry_test

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/harnessctl/pkg/telemetry"
)

func ExampleRedact() {
	fmt.Println(telemetry.Redact("pat.abc.def.1234"))
	fmt.Println(telemetry.Redact("abc"))
	// Output:
	// [REDACTED]...1234
	// [REDACTED]
}

func ExampleLogger_WithResource() {
	var buf bytes.Buffer
	logger := telemetry.NewLoggerWithWriter(telemetry.LoggingConfig{Level: "info", Format: "json"}, &buf)

	logger.WithRunID("run-1").WithResource("connector", "k8s_dev").Info("created")

	line := buf.String()
	fmt.Println(strings.Contains(line, `"resource_type":"connector"`))
	fmt.Println(strings.Contains(line, `"identifier":"k8s_dev"`))
	// Output:
	// true
	// true
}

func ExampleStartOperation() {
	tel := telemetry.Nop()
	ctx := tel.WithContext(context.Background())

	op := telemetry.StartOperation(ctx, "phase.connectors")
	defer op.End(nil)

	op.Logger.Info("phase started")
	fmt.Println(op.Timer.Duration() >= 0)
	// Output: true
}
