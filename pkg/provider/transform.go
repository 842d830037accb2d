package provider

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cubicler/cubicler/pkg/config"
)

// removed marks a value deleted by a remove transform so array elements can
// be pruned after the walk.
type removedMarker struct{}

var removed = removedMarker{}

// ApplyTransforms runs the configured transforms over a decoded JSON value,
// in order. Each transform operates on a deep clone of the previous result.
func ApplyTransforms(data any, specs []config.TransformSpec) (any, error) {
	for _, spec := range specs {
		cloned, err := deepClone(data)
		if err != nil {
			return nil, err
		}
		segs, err := parsePath(spec.Path)
		if err != nil {
			return nil, err
		}
		out, err := applyAt(cloned, segs, &spec)
		if err != nil {
			return nil, fmt.Errorf("transform %s at %s: %w", spec.Transform, spec.Path, err)
		}
		if _, gone := out.(removedMarker); gone {
			out = nil
		}
		data = out
	}
	return data, nil
}

type pathSeg struct {
	name string
	each bool
}

// parsePath splits a transform path into segments. `name[]` descends into an
// array property and applies to each element; `_root[]` is the top-level
// array.
func parsePath(path string) ([]pathSeg, error) {
	if path == "" {
		return nil, fmt.Errorf("empty transform path")
	}
	parts := strings.Split(path, ".")
	segs := make([]pathSeg, len(parts))
	for i, p := range parts {
		if strings.HasSuffix(p, "[]") {
			segs[i] = pathSeg{name: strings.TrimSuffix(p, "[]"), each: true}
		} else {
			segs[i] = pathSeg{name: p}
		}
		if segs[i].name == "" {
			return nil, fmt.Errorf("empty segment in transform path %q", path)
		}
	}
	return segs, nil
}

// applyAt walks the value along the path and applies the operation at the
// leaves. Missing paths leave the value untouched.
func applyAt(node any, segs []pathSeg, spec *config.TransformSpec) (any, error) {
	if len(segs) == 0 {
		return applyOp(node, spec)
	}

	seg := segs[0]

	if seg.name == "_root" && seg.each {
		arr, ok := node.([]any)
		if !ok {
			return node, nil
		}
		return applyEach(arr, segs[1:], spec)
	}

	obj, ok := node.(map[string]any)
	if !ok {
		return node, nil
	}
	child, ok := obj[seg.name]
	if !ok {
		return node, nil
	}

	if seg.each {
		arr, ok := child.([]any)
		if !ok {
			return node, nil
		}
		out, err := applyEach(arr, segs[1:], spec)
		if err != nil {
			return nil, err
		}
		obj[seg.name] = out
		return obj, nil
	}

	out, err := applyAt(child, segs[1:], spec)
	if err != nil {
		return nil, err
	}
	if _, gone := out.(removedMarker); gone {
		delete(obj, seg.name)
	} else {
		obj[seg.name] = out
	}
	return obj, nil
}

// applyEach applies the remaining path to every array element, pruning
// elements removed outright.
func applyEach(arr []any, segs []pathSeg, spec *config.TransformSpec) ([]any, error) {
	out := make([]any, 0, len(arr))
	for _, elem := range arr {
		res, err := applyAt(elem, segs, spec)
		if err != nil {
			return nil, err
		}
		if _, gone := res.(removedMarker); gone {
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

// applyOp performs one leaf operation.
func applyOp(value any, spec *config.TransformSpec) (any, error) {
	switch spec.Transform {
	case "remove":
		return removed, nil

	case "map":
		if mapped, ok := spec.Map[stringify(value)]; ok {
			return mapped, nil
		}
		return value, nil

	case "date_format":
		s, ok := value.(string)
		if !ok {
			return value, nil
		}
		t, err := parseDate(s)
		if err != nil {
			return nil, err
		}
		return t.Format(goLayout(spec.Format)), nil

	case "template":
		return strings.ReplaceAll(spec.Template, "{value}", stringify(value)), nil

	case "regex_replace":
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling pattern: %w", err)
		}
		return re.ReplaceAllString(stringify(value), spec.Replace), nil

	default:
		return nil, fmt.Errorf("unknown transform %q", spec.Transform)
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		// Avoid the %v float formatting of integral values.
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// goLayout translates YYYY MM DD HH mm ss tokens into a Go time layout.
var layoutReplacer = strings.NewReplacer(
	"YYYY", "2006",
	"MM", "01",
	"DD", "02",
	"HH", "15",
	"mm", "04",
	"ss", "05",
)

func goLayout(format string) string {
	return layoutReplacer.Replace(format)
}

func deepClone(data any) (any, error) {
	if data == nil {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("cloning value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("cloning value: %w", err)
	}
	return out, nil
}
