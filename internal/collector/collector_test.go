package collector

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestConnection_Accessors(t *testing.T) {
	conn := Connection{
		"name":       "hubspot",
		"port":       float64(443),
		"nested":     map[string]interface{}{"a": []interface{}{"x"}},
		"null_value": nil,
	}

	if got := conn.Name(); got != "hubspot" {
		t.Errorf("Name() = %q, want hubspot", got)
	}
	if got := conn.String("port"); got != "443" {
		t.Errorf("String(port) = %q, want 443", got)
	}
	if got := conn.String("missing"); got != "" {
		t.Errorf("String(missing) = %q, want empty", got)
	}
	if conn.Has("null_value") || conn.Has("missing") || !conn.Has("nested") {
		t.Error("Has() returned unexpected results")
	}
	if (Connection{"name": 3}).Name() != "" {
		t.Error("Name() must ignore non-string names")
	}
}

func TestConnection_CloneIsDeep(t *testing.T) {
	conn := Connection{"nested": map[string]interface{}{"list": []interface{}{"a"}}}

	clone := conn.Clone()
	clone["nested"].(map[string]interface{})["list"].([]interface{})[0] = "b"
	clone["extra"] = true

	if conn["nested"].(map[string]interface{})["list"].([]interface{})[0] != "a" {
		t.Error("Clone() shares nested values with the original")
	}
	if conn.Has("extra") {
		t.Error("Clone() shares the top-level map with the original")
	}
	if Connection(nil).Clone() != nil {
		t.Error("Clone() of nil must be nil")
	}
}

func TestSettings(t *testing.T) {
	t.Run("client honours timeout", func(t *testing.T) {
		client := Settings{Timeout: 3 * time.Second}.Client()
		if client.Timeout != 3*time.Second {
			t.Errorf("Timeout = %v, want 3s", client.Timeout)
		}
	})

	t.Run("client defaults timeout", func(t *testing.T) {
		if got := (Settings{}).Client().Timeout; got != DefaultTimeout {
			t.Errorf("Timeout = %v, want %v", got, DefaultTimeout)
		}
	})

	t.Run("custom client is kept", func(t *testing.T) {
		custom := &http.Client{}
		if (Settings{HTTPClient: custom}).Client() != custom {
			t.Error("Client() must return the configured client")
		}
	})

	t.Run("base url override", func(t *testing.T) {
		s := Settings{BaseURLs: map[string]string{"hubspot": "http://127.0.0.1:9"}}
		if got := s.BaseURL("hubspot", "https://api.hubapi.com"); got != "http://127.0.0.1:9" {
			t.Errorf("BaseURL() = %q", got)
		}
		if got := s.BaseURL("salesforce", "https://login.salesforce.com"); got != "https://login.salesforce.com" {
			t.Errorf("BaseURL() = %q", got)
		}
	})
}

func TestOptions_Defaults(t *testing.T) {
	var o Options

	if o.ObjectNameOrDefault() != "Contact" || o.DomainOrDefault() != "login" {
		t.Error("unexpected Salesforce defaults")
	}
	if o.ObjectTypeOrDefault() != "contacts" || o.PageSizeOrDefault() != 100 {
		t.Error("unexpected HubSpot defaults")
	}
	if m := o.MetricsOrDefault(); len(m) != 1 || m[0] != "totalUsers" {
		t.Errorf("MetricsOrDefault() = %v", m)
	}
	if o.CompletenessMetricOrDefault() != "totalUsers" {
		t.Error("unexpected completeness metric default")
	}
	if (Options{PageSize: 500}).PageSizeOrDefault() != MaxPageSize {
		t.Error("page size must be capped")
	}
	if o.FieldSet() != nil {
		t.Error("FieldSet() must be nil without fields")
	}
}

func TestOptions_DecodeKeepsEmptyDirectives(t *testing.T) {
	var absent, empty Options
	if err := json.Unmarshal([]byte(`{}`), &absent); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(`{"object_names": []}`), &empty); err != nil {
		t.Fatal(err)
	}
	if absent.ObjectNames != nil {
		t.Error("absent directive must decode as nil")
	}
	if empty.ObjectNames == nil || len(empty.ObjectNames) != 0 {
		t.Error("empty directive must decode as an empty, non-nil list")
	}
}

func TestFlexString(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{"string", `{"property_id": "123456"}`, "123456"},
		{"number", `{"property_id": 123456}`, "123456"},
		{"null", `{"property_id": null}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var o Options
			if err := json.Unmarshal([]byte(tt.json), &o); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if o.PropertyID.String() != tt.want {
				t.Errorf("PropertyID = %q, want %q", o.PropertyID, tt.want)
			}
		})
	}

	t.Run("yaml number", func(t *testing.T) {
		var o Options
		if err := yaml.Unmarshal([]byte("property_id: 987\n"), &o); err != nil {
			t.Fatalf("yaml.Unmarshal() error = %v", err)
		}
		if o.PropertyID != "987" {
			t.Errorf("PropertyID = %q, want 987", o.PropertyID)
		}
	})

	t.Run("rejects objects", func(t *testing.T) {
		var o Options
		if err := json.Unmarshal([]byte(`{"property_id": {"id": 1}}`), &o); err == nil {
			t.Error("expected an error for an object property_id")
		}
	})
}

func TestOptions_CloneIsDeep(t *testing.T) {
	o := Options{
		Fields:        []string{"Email"},
		FieldMappings: map[string]string{"Email": "email"},
		MetricViews:   []MetricView{{Metric: "totalUsers", Fields: []string{"eventName"}}},
	}

	clone := o.Clone()
	clone.Fields[0] = "Phone"
	clone.FieldMappings["Email"] = "mail"
	clone.MetricViews[0].Fields[0] = "sessionSource"

	if o.Fields[0] != "Email" || o.FieldMappings["Email"] != "email" || o.MetricViews[0].Fields[0] != "eventName" {
		t.Errorf("Clone() shares state with the original: %+v", o)
	}
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"empty", Options{}, false},
		{"negative page size", Options{PageSize: -1}, true},
		{"incomplete date range", Options{DateRanges: []DateRange{{StartDate: "7daysAgo"}}}, true},
		{"complete date range", Options{DateRanges: []DateRange{{StartDate: "7daysAgo", EndDate: "today"}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.opts.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMetricView_Identifier(t *testing.T) {
	if got := (MetricView{Metric: "sessions", Name: "engaged"}).Identifier(); got != "engaged" {
		t.Errorf("Identifier() = %q, want engaged", got)
	}
	if got := (MetricView{Metric: "sessions"}).Identifier(); got != "sessions" {
		t.Errorf("Identifier() = %q, want sessions", got)
	}
	if got := (MetricView{}).Identifier(); got != "totalUsers" {
		t.Errorf("Identifier() = %q, want totalUsers", got)
	}
}
