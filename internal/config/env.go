package config

import (
	"strconv"
	"strings"

	"github.com/canectors/cdp-inventory/internal/collector"
)

// EnvPrefix marks a credential value read from the environment.
const EnvPrefix = "env:"

// LookupFunc returns the value of an environment variable (os.LookupEnv).
type LookupFunc func(name string) (string, bool)

// ResolveEnv returns a copy of conn where every "env:NAME" string, at any
// depth, is replaced by the value of NAME. path prefixes the locations of
// the returned errors. conn is not modified.
func ResolveEnv(conn collector.Connection, path string, lookup LookupFunc) (collector.Connection, []ValidationError) {
	out := conn.Clone()
	var errs []ValidationError
	for k, v := range out {
		out[k] = resolveValue(v, path+"/"+k, lookup, &errs)
	}
	return out, errs
}

func resolveValue(v interface{}, path string, lookup LookupFunc, errs *[]ValidationError) interface{} {
	switch val := v.(type) {
	case string:
		name, ok := strings.CutPrefix(val, EnvPrefix)
		if !ok {
			return val
		}
		name = strings.TrimSpace(name)
		resolved, found := lookup(name)
		if name == "" || !found {
			*errs = append(*errs, ValidationError{
				Path:     path,
				Type:     "env",
				Expected: "environment variable " + name,
				Message:  "environment variable " + strconv.Quote(name) + " is not set",
			})
			return val
		}
		return resolved
	case map[string]interface{}:
		for k, item := range val {
			val[k] = resolveValue(item, path+"/"+k, lookup, errs)
		}
		return val
	case []interface{}:
		for i, item := range val {
			val[i] = resolveValue(item, path+"/"+strconv.Itoa(i), lookup, errs)
		}
		return val
	default:
		return v
	}
}
