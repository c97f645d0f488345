package handler

import (
	"fmt"
	"maps"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	"github.com/sznuper/overwatch/internal/check"
	"github.com/sznuper/overwatch/internal/notify"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// decode binds params onto out. Keys may be camelCase or snake_case.
func decode(p Params, out any) error {
	normalized := make(map[string]any, len(p))
	for k, v := range p {
		normalized[snakeCase(k)] = v
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(normalized); err != nil {
		return err
	}
	if err := validate.Struct(out); err != nil {
		return err
	}
	return nil
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// renderParams renders top-level string values. Nested values are left
// alone so sub-lists of a fork render in their own branch context.
func renderParams(p map[string]any, data map[string]any) (Params, error) {
	out := make(Params, len(p))
	for k, v := range p {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		rendered, err := notify.Render(s, data)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", k, err)
		}
		out[k] = rendered
	}
	return out, nil
}

func resultData(c *check.Check, r *check.Result, id string, vars map[string]any) map[string]any {
	data := make(map[string]any, len(vars)+11)
	maps.Copy(data, vars)
	data["target"] = r.Target
	data["check"] = c.Name
	data["status"] = r.Status().String()
	data["status_emoji"] = notify.StatusEmoji(r.Status())
	data["retcode"] = r.ReturnCode
	data["stdout"] = r.Stdout
	data["stderr"] = r.Stderr
	data["count"] = r.Count
	data["meta"] = c.Meta
	data["fields"] = check.ParseFields(r.Stdout)
	data["handler_id"] = id
	return data
}

func batchData(b *Batch) map[string]any {
	data := make(map[string]any, len(b.Vars)+10)
	maps.Copy(data, b.Vars)
	data["check"] = b.Check.Name
	data["status"] = b.Status.String()
	data["status_emoji"] = notify.StatusEmoji(b.Status)
	data["targets"] = b.Targets()
	data["results"] = b.Results
	data["count"] = len(b.Results)
	data["marked_resolved"] = b.MarkedResolved
	data["user"] = b.User
	data["meta"] = b.Check.Meta
	data["handler_id"] = b.ID
	return data
}

// renderVars renders the string values of a variable map, one level deep.
func renderVars(vars map[string]any, data map[string]any) (map[string]any, error) {
	if len(vars) == 0 {
		return nil, nil
	}
	return renderParams(vars, data)
}

func mergeVars(layers ...map[string]any) map[string]any {
	out := make(map[string]any)
	for _, l := range layers {
		maps.Copy(out, l)
	}
	return out
}
