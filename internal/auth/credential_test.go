package auth

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestEncode_OAuthFlattensExtra(t *testing.T) {
	c := &OAuth{
		Access:      "acc",
		Refresh:     "ref",
		ExpiresAtMs: 1771810754548,
		Extra:       map[string]string{"accountId": "acct-1", "access": "ignored"},
	}
	data, err := Encode(c)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if obj["type"] != "oauth" {
		t.Errorf("expected type oauth, got %v", obj["type"])
	}
	if obj["access"] != "acc" {
		t.Errorf("reserved key must not be overwritten by extra, got %v", obj["access"])
	}
	if obj["accountId"] != "acct-1" {
		t.Errorf("expected flattened accountId, got %v", obj["accountId"])
	}
	if obj["expires"] != float64(1771810754548) {
		t.Errorf("expected expires in ms, got %v", obj["expires"])
	}
}

func TestDecode_Variants(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Credential
	}{
		{
			name: "oauth with extras",
			in:   `{"type":"oauth","access":"a","refresh":"r","expires":1000,"projectId":"p","email":"e@x.io","flag":true}`,
			want: &OAuth{
				Access:      "a",
				Refresh:     "r",
				ExpiresAtMs: 1000,
				Extra:       map[string]string{"projectId": "p", "email": "e@x.io"},
				Unknown:     map[string]json.RawMessage{"flag": json.RawMessage(`true`)},
			},
		},
		{
			name: "oauth without refresh",
			in:   `{"type":"oauth","access":"a","expires":5}`,
			want: &OAuth{Access: "a", ExpiresAtMs: 5},
		},
		{
			name: "cookie",
			in:   `{"type":"cookie","cookie":"WorkosCursorSessionToken=x","email":"me@x.io"}`,
			want: &Cookie{Cookie: "WorkosCursorSessionToken=x", Email: "me@x.io"},
		},
		{
			name: "api key",
			in:   `{"type":"api_key","key":"sk-admin"}`,
			want: &APIKey{Key: "sk-admin"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.in))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected %#v, got %#v", tt.want, got)
			}
		})
	}
}

func TestOAuth_NonStringFieldsSurviveRewrite(t *testing.T) {
	in := `{"type":"oauth","access":"a","refresh":"r","expires":7,"projectId":"p","scopes":["x"],"tier":3}`
	c, err := Decode([]byte(in))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	o := c.(*OAuth).Clone()
	o.Access = "b"

	data, err := Encode(o)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if obj["access"] != "b" || obj["projectId"] != "p" {
		t.Errorf("unexpected fields: %s", data)
	}
	if !reflect.DeepEqual(obj["scopes"], []any{"x"}) || obj["tier"] != float64(3) {
		t.Errorf("non-string fields dropped: %s", data)
	}
}

func TestDecode_UnknownType(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"password","value":"x"}`)); err == nil {
		t.Fatal("expected error for unknown credential type")
	}
	if _, err := Decode([]byte(`{"access":"x"}`)); err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestOAuth_ExpiresWithin(t *testing.T) {
	now := time.UnixMilli(1_000_000_000)
	tests := []struct {
		name    string
		expires int64
		want    bool
	}{
		{"expired", now.UnixMilli() - 1, true},
		{"inside threshold", now.Add(4 * time.Minute).UnixMilli(), true},
		{"outside threshold", now.Add(6 * time.Minute).UnixMilli(), false},
	}
	for _, tt := range tests {
		c := &OAuth{ExpiresAtMs: tt.expires}
		if got := c.ExpiresWithin(now, 5*time.Minute); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func TestOAuth_CloneIsIndependent(t *testing.T) {
	c := &OAuth{Access: "a", Extra: map[string]string{"email": "x"}}
	cp := c.Clone()
	cp.Extra["email"] = "y"
	cp.Access = "b"
	if c.Extra["email"] != "x" || c.Access != "a" {
		t.Fatal("clone shares state with original")
	}
}
