package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// ErrUnknownKind is returned for a command kind with no builder.
var ErrUnknownKind = errors.New("unknown command kind")

// Command kinds understood by the loaders.
const (
	KindConst = "const"
	KindEcho  = "echo"
	KindFail  = "fail"
	KindEmit  = "emit"
	KindDelay = "delay"
)

type constParams struct {
	Value any `mapstructure:"value"`
}

type failParams struct {
	Message string `mapstructure:"message"`
}

type emitParams struct {
	Event string `mapstructure:"event"`
}

type delayParams struct {
	Duration time.Duration `mapstructure:"duration"`
	Value    any           `mapstructure:"value"`
}

// NewCommand builds the handler for a declarative command bound to d.
func NewCommand(d *Device, kind string, params map[string]any) (Command, error) {
	switch kind {
	case KindConst:
		var p constParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if err := checkValue(p.Value); err != nil {
			return nil, fmt.Errorf("const command: %w", err)
		}
		return func(ctx context.Context, args ...any) (any, error) {
			return p.Value, nil
		}, nil

	case KindEcho:
		if err := decodeParams(params, &struct{}{}); err != nil {
			return nil, err
		}
		return func(ctx context.Context, args ...any) (any, error) {
			switch len(args) {
			case 0:
				return nil, nil
			case 1:
				return args[0], nil
			}
			return args, nil
		}, nil

	case KindFail:
		p := failParams{Message: "command failed"}
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return func(ctx context.Context, args ...any) (any, error) {
			return nil, errors.New(p.Message)
		}, nil

	case KindEmit:
		var p emitParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.Event == "" {
			return nil, fmt.Errorf("emit command: event is required")
		}
		return func(ctx context.Context, args ...any) (any, error) {
			d.Emit(p.Event, args...)
			return nil, nil
		}, nil

	case KindDelay:
		var p delayParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.Duration < 0 {
			return nil, fmt.Errorf("delay command: negative duration %s", p.Duration)
		}
		if err := checkValue(p.Value); err != nil {
			return nil, fmt.Errorf("delay command: %w", err)
		}
		return func(ctx context.Context, args ...any) (any, error) {
			timer := time.NewTimer(p.Duration)
			defer timer.Stop()
			select {
			case <-timer.C:
				return p.Value, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// checkValue rejects values that cannot be sent to clients, such as NaN.
func checkValue(v any) error {
	if _, err := json.Marshal(v); err != nil {
		return fmt.Errorf("value cannot be sent: %w", err)
	}
	return nil
}

func decodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused: true,
		Result:      out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}
