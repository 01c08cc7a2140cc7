package hubspot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canectors/cdp-inventory/internal/collector"
	"github.com/canectors/cdp-inventory/internal/errhandling"
	"github.com/canectors/cdp-inventory/pkg/inventory"
)

type record = map[string]interface{}

// fakePortal serves the properties API and pages of records keyed by cursor.
type fakePortal struct {
	t          *testing.T
	properties string
	pages      map[string]map[string]interface{}
	pageCalls  atomic.Int32
	lastQuery  atomic.Value
}

func (f *fakePortal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, "Bearer pat-na1-123", r.Header.Get("Authorization"))
	switch {
	case strings.HasPrefix(r.URL.Path, "/crm/v3/properties/"):
		if f.properties == "" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"status":"error","message":"This app hasn't been granted all required scopes to make this call."}`))
			return
		}
		_, _ = w.Write([]byte(f.properties))
	case strings.HasPrefix(r.URL.Path, "/crm/v3/objects/"):
		f.pageCalls.Add(1)
		f.lastQuery.Store(r.URL.Query())
		page, ok := f.pages[r.URL.Query().Get("after")]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"unknown cursor"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(page)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func page(next string, records ...record) map[string]interface{} {
	results := make([]interface{}, 0, len(records))
	for _, r := range records {
		results = append(results, map[string]interface{}{"id": "1", "properties": r})
	}
	p := map[string]interface{}{"results": results}
	if next != "" {
		p["paging"] = map[string]interface{}{"next": map[string]interface{}{"after": next}}
	}
	return p
}

func newPortal(t *testing.T, portal *fakePortal) collector.Settings {
	t.Helper()
	portal.t = t
	server := httptest.NewServer(portal)
	t.Cleanup(server.Close)

	settings := collector.DefaultSettings()
	settings.RequestsPerSecond = 0
	settings.Retry = errhandling.NoRetry()
	settings.BaseURLs = map[string]string{Platform: server.URL}
	return settings
}

func token() collector.Connection {
	return collector.Connection{"name": "hubspot", "access_token": "pat-na1-123"}
}

const contactProperties = `{"results":[
	{"name":"email","type":"string","label":"Email"},
	{"name":"phone","type":"string","label":"Phone Number"},
	{"name":"firstname","type":"string","label":"First Name"}
]}`

func TestCollect_PaginatesAllRecords(t *testing.T) {
	portal := &fakePortal{
		properties: contactProperties,
		pages: map[string]map[string]interface{}{
			"": page("c1",
				record{"email": "a@x.io", "phone": ""},
				record{"email": nil, "phone": "+33 1"},
			),
			"c1": page("",
				record{"email": "b@x.io"},
				record{"email": "c@x.io", "phone": "+1 2"},
			),
		},
	}
	settings := newPortal(t, portal)

	inv, err := New(settings).Collect(context.Background(), token(), collector.Options{
		Fields:        []string{"phone", "email", "missing"},
		PageSize:      2,
		FieldMappings: map[string]string{"phone": "mobile"},
	})

	require.NoError(t, err)
	assert.Equal(t, "HubSpot", inv.Platform)
	assert.Equal(t, "contacts", inv.Entity)
	assert.Equal(t, 4, *inv.TotalRecords)
	assert.Equal(t, int32(2), portal.pageCalls.Load())

	require.Len(t, inv.Fields, 2, "unknown fields are not reported")
	assert.Equal(t, "email", inv.Fields[0].Definition.Name)
	assert.Equal(t, 3, *inv.Fields[0].NonNullCount)
	assert.InDelta(t, 0.75, *inv.Fields[0].CompletenessPct, 1e-9)
	assert.Equal(t, "phone", inv.Fields[1].Definition.Name)
	assert.Equal(t, "mobile", inv.Fields[1].Definition.MappedName)
	assert.Equal(t, 2, *inv.Fields[1].NonNullCount)

	query := portal.lastQuery.Load().(url.Values)
	assert.Equal(t, []string{"2"}, query["limit"])
	assert.Equal(t, []string{"phone,email,missing"}, query["properties"])
}

func TestCollect_AllPropertiesByDefault(t *testing.T) {
	portal := &fakePortal{
		properties: contactProperties,
		pages: map[string]map[string]interface{}{
			"": page("", record{"email": "a@x.io", "firstname": "Ada"}),
		},
	}
	settings := newPortal(t, portal)

	inv, err := New(settings).Collect(context.Background(), token(), collector.Options{})

	require.NoError(t, err)
	require.Len(t, inv.Fields, 3)
	assert.Equal(t, 1, *inv.Fields[0].NonNullCount)
	assert.Equal(t, 0, *inv.Fields[1].NonNullCount)
	assert.Equal(t, 1, *inv.Fields[2].NonNullCount)

	query := portal.lastQuery.Load().(url.Values)
	assert.Equal(t, []string{"100"}, query["limit"])
	assert.Equal(t, []string{"email,phone,firstname"}, query["properties"])
}

func TestCollect_EmptyObjectType(t *testing.T) {
	portal := &fakePortal{
		properties: `{"results":[{"name":"dealname","type":"string","label":"Deal Name"}]}`,
		pages:      map[string]map[string]interface{}{"": page("")},
	}
	settings := newPortal(t, portal)

	inv, err := New(settings).Collect(context.Background(), token(), collector.Options{ObjectType: "deals"})

	require.NoError(t, err)
	assert.Equal(t, "deals", inv.Entity)
	assert.Equal(t, 0, *inv.TotalRecords)
	require.Len(t, inv.Fields, 1)
	assert.Nil(t, inv.Fields[0].CompletenessPct)
}

func TestCollect_RepeatedCursorStops(t *testing.T) {
	portal := &fakePortal{
		properties: contactProperties,
		pages: map[string]map[string]interface{}{
			"":   page("c1", record{"email": "a@x.io"}),
			"c1": page("c1", record{"email": "b@x.io"}),
		},
	}
	settings := newPortal(t, portal)

	_, err := New(settings).Collect(context.Background(), token(), collector.Options{})

	require.Error(t, err)
	assert.Equal(t, inventory.KindUnexpected, errhandling.Describe(err).Kind)
	assert.Equal(t, int32(2), portal.pageCalls.Load())
}

func TestCollect_MissingToken(t *testing.T) {
	_, err := New(collector.DefaultSettings()).Collect(context.Background(),
		collector.Connection{"name": "hubspot"}, collector.Options{})

	require.Error(t, err)
	desc := errhandling.Describe(err)
	assert.Equal(t, inventory.KindValidation, desc.Kind)
	assert.Equal(t, "HubSpot access token is required.", desc.Message)
}

func TestCollect_MissingScopeIsValidation(t *testing.T) {
	settings := newPortal(t, &fakePortal{})

	_, err := New(settings).Collect(context.Background(), token(), collector.Options{})

	require.Error(t, err)
	desc := errhandling.Describe(err)
	assert.Equal(t, inventory.KindValidation, desc.Kind)
	assert.Contains(t, desc.Message, "required scopes")
}

func TestCollect_InvalidObjectType(t *testing.T) {
	_, err := New(collector.DefaultSettings()).Collect(context.Background(), token(),
		collector.Options{ObjectType: "contacts/../owners"})

	require.Error(t, err)
	assert.Equal(t, inventory.KindValidation, errhandling.Describe(err).Kind)
}

func TestPopulated(t *testing.T) {
	tests := []struct {
		value interface{}
		want  bool
	}{
		{nil, false},
		{"", false},
		{"x", true},
		{"0", true},
		{false, true},
		{0.0, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, populated(tt.value), "%#v", tt.value)
	}
}
