package sqlite

import (
	"fmt"
	"regexp"
	"time"

	"github.com/bytedance/sonic"

	"github.com/sakif/codeflow/internal/docstore"
)

// codec keeps integers as int64 on decode so numeric ids (GitHub user ids)
// survive a round trip without float rounding.
var codec = sonic.Config{UseInt64: true}.Froze()

// Field and collection names end up inside SQL text (json paths, index
// names), so they are restricted to identifier characters.
var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: invalid name %q", docstore.ErrUnsupported, name)
	}
	return nil
}

func fieldExpr(field string) string {
	return "json_extract(body, '$." + field + "')"
}

// encode turns a resolved document body into JSON. time.Time values become
// fixed-width UTC strings.
func encode(fields docstore.Fields) (string, error) {
	flat := make(map[string]any, len(fields))
	for k, v := range fields {
		if err := checkName(k); err != nil {
			return "", err
		}
		if t, ok := v.(time.Time); ok {
			v = t.UTC().Format(docstore.TimeLayout)
		}
		flat[k] = v
	}
	body, err := codec.Marshal(flat)
	if err != nil {
		return "", fmt.Errorf("encoding document: %w", err)
	}
	return string(body), nil
}

func decode(id, body string) (*docstore.Document, error) {
	var fields map[string]any
	if err := codec.UnmarshalFromString(body, &fields); err != nil {
		return nil, fmt.Errorf("decoding document %s: %w", id, err)
	}
	return &docstore.Document{ID: id, Fields: docstore.Fields(fields)}, nil
}

// filterArg converts a filter value into the form json_extract() returns
// for the same stored value.
func filterArg(v any) (any, error) {
	switch x := v.(type) {
	case string, int, int32, int64, float64:
		return x, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case time.Time:
		return x.UTC().Format(docstore.TimeLayout), nil
	}
	return nil, fmt.Errorf("%w: cannot filter on %T", docstore.ErrUnsupported, v)
}
