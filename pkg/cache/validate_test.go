package cache

import "testing"

func TestIsCacheable(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		// Contract table
		{name: "null", body: `null`, want: false},
		{name: "error envelope", body: `{"error":"x"}`, want: false},
		{name: "bare message", body: `{"message":"x"}`, want: false},
		{name: "message with code", body: `{"message":"x","code":1}`, want: true},
		{name: "paginated items", body: `{"items":[],"pagination":{"page":1}}`, want: true},
		{name: "pagination without data", body: `{"pagination":{"page":1}}`, want: false},
		{name: "empty array", body: `[]`, want: true},

		// Edge cases
		{name: "empty body", body: ``, want: false},
		{name: "whitespace", body: "  \n", want: false},
		{name: "invalid json", body: `{"items":`, want: false},
		{name: "error with other keys", body: `{"error":"x","status":500}`, want: false},
		{name: "error null is still an envelope", body: `{"error":null,"items":[]}`, want: false},
		{name: "paginated orders", body: `{"orders":[{"id":1}],"pagination":{"total":1}}`, want: true},
		{name: "paginated feedbacks", body: `{"feedbacks":[],"pagination":{}}`, want: true},
		{name: "data field not an array", body: `{"items":{"a":1},"pagination":{}}`, want: false},
		{name: "two data arrays", body: `{"items":[],"orders":[],"pagination":{}}`, want: false},
		{name: "null pagination", body: `{"items":[],"pagination":null}`, want: false},
		{name: "unrecognized data field", body: `{"users":[],"pagination":{}}`, want: false},
		{name: "plain object", body: `{"id":7,"name":"widget"}`, want: true},
		{name: "items without pagination", body: `{"items":"whatever"}`, want: true},
		{name: "non-empty array", body: `[{"id":1}]`, want: true},
		{name: "scalar", body: `42`, want: true},
		{name: "string", body: `"ok"`, want: true},
		{name: "empty object", body: `{}`, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCacheable([]byte(tt.body)); got != tt.want {
				t.Errorf("IsCacheable(%s) = %v, want %v", tt.body, got, tt.want)
			}
		})
	}
}

func TestValidator_CustomDataFields(t *testing.T) {
	v := Validator{DataFields: []string{"users"}}

	if !v.IsCacheable([]byte(`{"users":[],"pagination":{}}`)) {
		t.Error("custom data field should be recognized")
	}
	if v.IsCacheable([]byte(`{"items":[],"pagination":{}}`)) {
		t.Error("default data field should not be recognized by a custom validator")
	}
}
