package validators

import (
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/enrollpay-backend/pkg/errors"
)

type verifyBody struct {
	OrderID string `json:"orderId" validate:"required"`
}

func TestDecodeJSONBody(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"orderId":"order_1"}`))
	var body verifyBody
	if err := DecodeJSONBody(req, &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body.OrderID != "order_1" {
		t.Fatalf("unexpected body %+v", body)
	}

	req = httptest.NewRequest("POST", "/", strings.NewReader(`{"orderId":"o","extra":1}`))
	if err := DecodeJSONBody(req, &body); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected unknown field to be rejected, got %v", err)
	}

	req = httptest.NewRequest("POST", "/", strings.NewReader(`{}`))
	body = verifyBody{}
	if err := DecodeJSONBody(req, &body); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected missing field to be rejected, got %v", err)
	}
}

func TestReadRawBodyPreservesBytes(t *testing.T) {
	raw := `{"id":"evt_1",  "type":"payment.captured"}`
	req := httptest.NewRequest("POST", "/", strings.NewReader(raw))
	got, err := ReadRawBody(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != raw {
		t.Fatalf("body altered: %q", got)
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest("POST", "/", nil)
	req.Header.Set("Authorization", "Bearer abc.def")
	if got := BearerToken(req); got != "abc.def" {
		t.Fatalf("unexpected token %q", got)
	}
	req.Header.Set("Authorization", "Basic xyz")
	if got := BearerToken(req); got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}
}

func TestSanitizeText(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{in: "  requested by learner ", max: 0, want: "requested by learner"},
		{in: "dup\x00licate\ncharge", max: 0, want: "duplicatecharge"},
		{in: "\u00e9t\u00e9 cohort", max: 3, want: "\u00e9t\u00e9"},
		{in: "abcdef", max: 3, want: "abc"},
	}
	for _, tc := range cases {
		if got := SanitizeText(tc.in, tc.max); got != tc.want {
			t.Errorf("SanitizeText(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}
