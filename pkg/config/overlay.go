package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
)

// DefaultOverlayTimeout bounds the execution time of an overlay script.
const DefaultOverlayTimeout = 30 * time.Second

// OverlayEvaluator runs Starlark overlay scripts against a document. A
// script must define configure(cfg), which receives the document as a dict
// and returns the modified dict (or None to keep in-place edits).
type OverlayEvaluator struct {
	timeout time.Duration
	logger  zerolog.Logger
}

// NewOverlayEvaluator creates a new overlay evaluator.
func NewOverlayEvaluator(timeout time.Duration, logger zerolog.Logger) *OverlayEvaluator {
	if timeout == 0 {
		timeout = DefaultOverlayTimeout
	}
	return &OverlayEvaluator{
		timeout: timeout,
		logger:  logger.With().Str("component", "overlay").Logger(),
	}
}

// ApplyFile reads an overlay script from path and applies it to doc.
func (oe *OverlayEvaluator) ApplyFile(ctx context.Context, path string, doc *Document) (*Document, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read overlay %s: %w", path, err)
	}
	return oe.Apply(ctx, filepath.Base(path), string(src), doc)
}

// Apply executes script and returns the document produced by its configure
// function. doc itself is not modified.
func (oe *OverlayEvaluator) Apply(ctx context.Context, name, script string, doc *Document) (*Document, error) {
	start := time.Now()

	input, err := doc.ToMap()
	if err != nil {
		return nil, err
	}
	cfg, err := toStarlarkValue(input)
	if err != nil {
		return nil, fmt.Errorf("failed to convert document: %w", err)
	}
	if err := orderPipelines(cfg, doc.Pipelines); err != nil {
		return nil, fmt.Errorf("failed to convert document: %w", err)
	}

	evalCtx, cancel := context.WithTimeout(ctx, oe.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: "overlay",
		Print: func(_ *starlark.Thread, msg string) {
			oe.logger.Debug().Str("script", name).Msg(msg)
		},
	}
	stop := context.AfterFunc(evalCtx, func() {
		thread.Cancel(evalCtx.Err().Error())
	})
	defer stop()

	predeclared := starlark.StringDict{
		"normalize": starlark.NewBuiltin("normalize", builtinNormalize),
	}

	globals, err := starlark.ExecFile(thread, name, script, predeclared)
	if err != nil {
		return nil, oe.wrapErr(evalCtx, name, err)
	}

	fn, ok := globals["configure"].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("overlay %s: configure(cfg) is not defined", name)
	}

	out, err := starlark.Call(thread, fn, starlark.Tuple{cfg}, nil)
	if err != nil {
		return nil, oe.wrapErr(evalCtx, name, err)
	}
	if out == starlark.None {
		out = cfg
	}

	goVal, err := fromStarlarkValue(out)
	if err != nil {
		return nil, fmt.Errorf("overlay %s: %w", name, err)
	}
	m, ok := goVal.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("overlay %s: configure must return a dict, got %s", name, out.Type())
	}

	result, err := FromMap(m)
	if err != nil {
		return nil, fmt.Errorf("overlay %s: %w", name, err)
	}
	result.Pipelines = result.Pipelines.InOrder(pipelineKeys(out))

	oe.logger.Debug().
		Str("script", name).
		Dur("duration", time.Since(start)).
		Msg("overlay applied")
	return result, nil
}

func (oe *OverlayEvaluator) wrapErr(ctx context.Context, name string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("overlay %s: execution timeout after %v", name, oe.timeout)
	}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return fmt.Errorf("overlay %s: %s", name, evalErr.Backtrace())
	}
	return fmt.Errorf("overlay %s: %w", name, err)
}

// orderPipelines rebuilds cfg["pipelines"] so that the dict iterates in
// document order.
func orderPipelines(cfg starlark.Value, pipelines Pipelines) error {
	src := pipelinesDict(cfg)
	if src == nil {
		return nil
	}
	ordered := starlark.NewDict(src.Len())
	for _, pl := range pipelines {
		v, found, err := src.Get(starlark.String(pl.Key))
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		if err := ordered.SetKey(starlark.String(pl.Key), v); err != nil {
			return err
		}
	}
	return cfg.(*starlark.Dict).SetKey(starlark.String("pipelines"), ordered)
}

// pipelineKeys returns the pipeline keys of cfg in dict order. Keys added
// by a script come after the ones it received.
func pipelineKeys(cfg starlark.Value) []string {
	d := pipelinesDict(cfg)
	if d == nil {
		return nil
	}
	keys := make([]string, 0, d.Len())
	for _, k := range d.Keys() {
		if s, ok := k.(starlark.String); ok {
			keys = append(keys, string(s))
		}
	}
	return keys
}

func pipelinesDict(cfg starlark.Value) *starlark.Dict {
	d, ok := cfg.(*starlark.Dict)
	if !ok {
		return nil
	}
	v, found, err := d.Get(starlark.String("pipelines"))
	if err != nil || !found {
		return nil
	}
	pd, _ := v.(*starlark.Dict)
	return pd
}

// builtinNormalize exposes Normalize to scripts.
func builtinNormalize(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	return starlark.String(Normalize(name)), nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		if val == float64(int64(val)) {
			return starlark.MakeInt64(int64(val)), nil
		}
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			starlarkVal, err := toStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, item := range val {
			goItem, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = goItem
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
