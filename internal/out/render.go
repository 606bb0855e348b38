package out

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/ggonzalez94/xquotes/internal/config"
	"github.com/ggonzalez94/xquotes/internal/model"
)

func Render(w io.Writer, env model.Envelope, settings config.Settings) error {
	data := env.Data
	if len(settings.SelectFields) > 0 {
		data = project(data, settings.SelectFields)
	}

	if settings.OutputMode == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if settings.ResultsOnly {
			return enc.Encode(data)
		}
		env.Data = data
		return enc.Encode(env)
	}

	if settings.ResultsOnly {
		return renderPlain(w, data)
	}
	if env.Error == nil {
		if res, ok := data.(model.AggregateResult); ok {
			return renderMatrix(w, res)
		}
	}

	plain := map[string]any{
		"success":  env.Success,
		"data":     data,
		"warnings": env.Warnings,
		"meta":     env.Meta,
	}
	if env.Error != nil {
		plain["error"] = env.Error
	}
	return renderPlain(w, plain)
}

var matrixRows = []struct {
	key   string
	title string
}{
	{model.RowAggregator, "aggregator"},
	{model.RowBridgeAuto, "bridge (auto)"},
	{model.RowBridgeManual, "bridge (manual)"},
}

// renderMatrix prints one line per row and one column per checkpoint. Error
// cells show the short error label.
func renderMatrix(w io.Writer, res model.AggregateResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "pair\t%s:%s -> %s:%s\n", res.Pair.FromChain, res.Pair.FromToken, res.Pair.ToChain, res.Pair.ToToken)
	fmt.Fprintf(tw, "prices\t%s / %s USD\n", res.FromPrice.USD.String(), res.ToPrice.USD.String())

	header := []string{"route"}
	for _, cp := range res.Checkpoints {
		header = append(header, cp.Label)
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range matrixRows {
		cells, ok := res.Matrix[row.key]
		if !ok {
			continue
		}
		line := []string{row.title}
		for _, cp := range res.Checkpoints {
			line = append(line, cellText(cells[cp.Label]))
		}
		fmt.Fprintln(tw, strings.Join(line, "\t"))
	}
	return tw.Flush()
}

func cellText(q model.NormalizedQuote) string {
	switch {
	case q.OutputAmount == "" && q.ErrorKind == "":
		return "-"
	case !q.OK():
		return q.OutputAmount + " (" + q.Error + ")"
	case q.RouteLabel != "":
		return q.OutputAmount + " via " + q.RouteLabel
	default:
		return q.OutputAmount
	}
}

func renderPlain(w io.Writer, data any) error {
	v := reflect.ValueOf(data)
	if !v.IsValid() {
		_, err := fmt.Fprintln(w, "null")
		return err
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			line, err := toLine(normalizeValue(v.Index(i).Interface()))
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		if v.Len() == 0 {
			_, err := fmt.Fprintln(w, "[]")
			return err
		}
		return nil
	default:
		line, err := toLine(normalizeValue(data))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, line)
		return err
	}
}

func project(data any, fields []string) any {
	switch t := normalizeValue(data).(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, projectMap(m, fields))
			}
		}
		return out
	case map[string]any:
		return projectMap(t, fields)
	default:
		return t
	}
}

// projectMap keeps the named fields. A dotted field such as "matrix.aggregator"
// selects a nested value.
func projectMap(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := lookup(m, strings.Split(f, ".")); ok {
			out[f] = v
		}
	}
	return out
}

func lookup(m map[string]any, path []string) (any, bool) {
	v, ok := m[path[0]]
	if !ok || len(path) == 1 {
		return v, ok
	}
	next, isMap := v.(map[string]any)
	if !isMap {
		return nil, false
	}
	return lookup(next, path[1:])
}

func normalizeValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}

func toLine(v any) (string, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, t[k]))
		}
		return strings.Join(parts, " "), nil
	default:
		buf, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(buf), nil
	}
}
