package endpoint

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/pubsub/xerrors"
)

func validProps() map[string]string {
	return map[string]string{
		KeyUUID:          "e-1",
		KeyFrameworkUUID: "fw-1",
		KeyType:          string(Publisher),
		KeyAdminType:     "zmq",
		KeyTopic:         "orders",
		KeyScope:         "shop",
		KeySerializer:    "json",
		KeyServiceID:     "42",
		"custom":         "x",
	}
}

func TestValidate(t *testing.T) {
	required := []string{KeyUUID, KeyFrameworkUUID, KeyType, KeyAdminType, KeyTopic}
	for _, key := range required {
		t.Run("missing "+key, func(t *testing.T) {
			props := validProps()
			delete(props, key)
			ep, err := FromProperties(props)
			assert.Nil(t, ep)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidEndpoint)
			assert.Contains(t, err.Error(), key)
			assert.Equal(t, xerrors.CodeInvalidEndpoint, xerrors.GetCode(err))
		})
	}

	ep, err := FromProperties(validProps())
	require.NoError(t, err)
	assert.True(t, ep.Validate())

	ep.Topic = ""
	assert.False(t, ep.Validate())
	var nilEp *Endpoint
	assert.False(t, nilEp.Validate())
}

func TestFromPropertiesDefaultsScope(t *testing.T) {
	props := validProps()
	delete(props, KeyScope)
	ep, err := FromProperties(props)
	require.NoError(t, err)
	assert.Equal(t, DefaultScope, ep.Scope)
	assert.Equal(t, "default:orders", ep.ScopeTopicKey())
	assert.Equal(t, int64(42), ep.ServiceID)
	assert.Equal(t, map[string]string{"custom": "x"}, ep.Properties)
}

func TestFromJSON(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{"not json", `{{`, ErrMalformedPayload},
		{"array", `["a"]`, ErrMalformedPayload},
		{"null", `null`, ErrMalformedPayload},
		{"string", `"x"`, ErrMalformedPayload},
		{"missing fields", `{"pubsub.topic.name":"orders"}`, ErrInvalidEndpoint},
		{"valid", `{"pubsub.endpoint.uuid":"e-1","pubsub.framework.uuid":"fw","pubsub.endpoint.type":"publisher","pubsub.config":"zmq","pubsub.topic.name":"orders","port":5555}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, err := FromJSON([]byte(tt.payload))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, ep)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "e-1", ep.UUID)
			assert.Equal(t, "5555", ep.Properties["port"])
		})
	}
}

func TestJSONRoundTrip(t *testing.T) {
	ep := New("fw-1", "", "orders", Subscriber, "zmq", "json", map[string]string{
		KeyVisibility: string(VisibilityHost),
		KeyURL:        "tcp://127.0.0.1:5555",
		"extra":       "1",
	})
	require.True(t, ep.Validate())
	assert.NotEmpty(t, ep.UUID)
	assert.Equal(t, DefaultScope, ep.Scope)
	assert.Equal(t, VisibilityHost, ep.Visibility())

	data, err := ep.ToJSON()
	require.NoError(t, err)
	decoded, err := FromJSON(data)
	require.NoError(t, err)

	if diff := cmp.Diff(ep, decoded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, ep.Equals(decoded))
	assert.True(t, ep.SameContent(decoded))
}

func TestIDsSurviveRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		serviceID  string
		wantParsed int64
	}{
		{name: "numeric", serviceID: "42", wantParsed: 42},
		{name: "zero", serviceID: "0", wantParsed: 0},
		{name: "not a number", serviceID: "svc-7", wantParsed: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			props := validProps()
			props[KeyServiceID] = tt.serviceID
			props[KeyBundleID] = tt.serviceID

			ep, err := FromProperties(props)
			require.NoError(t, err)
			assert.Equal(t, tt.wantParsed, ep.ServiceID)
			assert.Equal(t, tt.wantParsed, ep.BundleID)

			data, err := ep.ToJSON()
			require.NoError(t, err)
			decoded, err := FromJSON(data)
			require.NoError(t, err)
			assert.Equal(t, tt.serviceID, decoded.ToProperties()[KeyServiceID])
			assert.Equal(t, tt.serviceID, decoded.ToProperties()[KeyBundleID])
			assert.True(t, ep.SameContent(decoded))
		})
	}
}

func TestEqualsAndClone(t *testing.T) {
	a, err := FromProperties(validProps())
	require.NoError(t, err)

	b := a.Clone()
	b.Properties["custom"] = "changed"
	b.URL = "tcp://other"
	assert.Equal(t, "x", a.Properties["custom"])
	assert.True(t, a.Equals(b))
	assert.False(t, a.SameContent(b))

	c := a.Clone()
	c.UUID = "e-2"
	assert.False(t, a.Equals(c))

	var nilEp *Endpoint
	assert.True(t, nilEp.Equals(nil))
	assert.False(t, a.Equals(nil))
	assert.Nil(t, nilEp.Clone())
	assert.Equal(t, VisibilitySystem, a.Visibility())
	assert.Equal(t, "zmq", a.Get(KeyAdminType))
}

func TestScopeTopicKey(t *testing.T) {
	assert.Equal(t, "default:orders", ScopeTopicKey("", "orders"))
	assert.Equal(t, "shop:orders", ScopeTopicKey("shop", "orders"))

	scope, topic := SplitScopeTopicKey("shop:orders")
	assert.Equal(t, "shop", scope)
	assert.Equal(t, "orders", topic)

	scope, topic = SplitScopeTopicKey("orders")
	assert.Equal(t, DefaultScope, scope)
	assert.Equal(t, "orders", topic)
}
