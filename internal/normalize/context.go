package normalize

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sourceplane/mapflow/internal/model"
)

// Context stringifies structured parameter values into a ParameterContext.
// Values are rendered the way a parset spells them so that a substituted
// placeholder decodes back to the same type.
func Context(values map[string]interface{}) (model.ParameterContext, error) {
	flat := make(map[string]string, len(values))
	for k, v := range values {
		if k == "" {
			return model.ParameterContext{}, fmt.Errorf("parameter name cannot be empty")
		}
		s, err := Value(v)
		if err != nil {
			return model.ParameterContext{}, fmt.Errorf("parameter %s: %w", k, err)
		}
		flat[k] = s
	}
	return model.NewParameterContext(flat), nil
}

// Value stringifies one parameter value.
func Value(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case bool:
		if val {
			return "True", nil
		}
		return "False", nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case uint64:
		return strconv.FormatUint(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	case []interface{}:
		parts := make([]string, len(val))
		for i, item := range val {
			s, err := Value(item)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			s, err := Value(val[k])
			if err != nil {
				return "", err
			}
			parts[i] = k + ": " + s
		}
		return "{" + strings.Join(parts, ", ") + "}", nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}
