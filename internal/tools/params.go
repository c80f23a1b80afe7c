package tools

import (
	"context"

	"github.com/go-viper/mapstructure/v2"
)

// validator is implemented by parameter structs that check their own
// invariants after decoding.
type validator interface {
	Validate() error
}

// typed adapts a handler taking a parameter struct P into a [Handler].
// The wire map is decoded with weak typing ("5" becomes 5, "true"
// becomes true) using `param` struct tags, and P.Validate runs when
// present. Decode and validation failures become failed results
// without calling fn.
func typed[P any](fn func(ctx context.Context, p P) Result) Handler {
	return func(ctx context.Context, raw map[string]string) Result {
		var p P
		if err := decodeParams(raw, &p); err != nil {
			return Fail(&ExecutionError{Err: &ParamsError{Err: err}})
		}
		if v, ok := any(&p).(validator); ok {
			if err := v.Validate(); err != nil {
				return Fail(&ExecutionError{Err: err})
			}
		}
		return fn(ctx, p)
	}
}

func decodeParams(raw map[string]string, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "param",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// noParams is the parameter struct for tools that take none.
type noParams struct{}
