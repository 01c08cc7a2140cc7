package config

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/canectors/cdp-inventory/internal/collector"
)

// ConvertToRequest converts a validated request document into a Request.
// Environment references in connection descriptors are resolved with lookup.
// Every unresolvable reference is reported.
func ConvertToRequest(data map[string]interface{}, lookup LookupFunc) (*Request, []ValidationError) {
	if data == nil {
		return nil, []ValidationError{{Path: "/", Type: "required", Message: "request is empty"}}
	}

	req := &Request{}
	var errs []ValidationError

	rawConns, _ := data["connections"].([]interface{})
	req.Connections = make([]collector.Connection, 0, len(rawConns))
	for i, raw := range rawConns {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			errs = append(errs, ValidationError{
				Path:    "/connections/" + strconv.Itoa(i),
				Type:    "type",
				Message: "connection must be an object",
			})
			continue
		}
		conn, envErrs := ResolveEnv(collector.Connection(obj), "/connections/"+strconv.Itoa(i), lookup)
		errs = append(errs, envErrs...)
		req.Connections = append(req.Connections, conn)
	}

	if rawOpts, ok := data["options"]; ok && rawOpts != nil {
		opts, err := decodeOptions(rawOpts)
		if err != nil {
			errs = append(errs, ValidationError{Path: "/options", Type: "type", Message: err.Error()})
		} else {
			req.Options = opts
		}
	}
	if err := req.Options.Validate(); err != nil {
		errs = append(errs, ValidationError{Path: "/options", Type: "validation", Message: err.Error()})
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return req, nil
}

// decodeOptions maps the options object onto collector.Options through its
// JSON tags. Unknown keys are ignored.
func decodeOptions(raw interface{}) (collector.Options, error) {
	var opts collector.Options
	encoded, err := json.Marshal(raw)
	if err != nil {
		return opts, fmt.Errorf("options cannot be encoded: %w", err)
	}
	if err := json.Unmarshal(encoded, &opts); err != nil {
		return opts, fmt.Errorf("invalid options: %w", err)
	}
	return opts, nil
}
