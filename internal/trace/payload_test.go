package trace

import (
	"strings"
	"testing"
)

func TestMask_Email(t *testing.T) {
	got := Mask("contact alice@example.com for access")
	if strings.Contains(got, "alice@example.com") {
		t.Errorf("email survived masking: %q", got)
	}
	if !strings.Contains(got, "[REDACTED_EMAIL]") {
		t.Errorf("expected email marker: %q", got)
	}
}

func TestMask_HexSecret(t *testing.T) {
	secret := strings.Repeat("ab", 20) // 40 hex chars
	got := Mask("token " + secret + " here")
	if strings.Contains(got, secret) {
		t.Errorf("hex secret survived masking: %q", got)
	}
	if !strings.Contains(got, "[REDACTED_HEX]") {
		t.Errorf("expected hex marker: %q", got)
	}
}

func TestMask_APITokens(t *testing.T) {
	for _, token := range []string{"sk_abcdefghijklmnop1234", "lsv2_abcdefghijklmnop1234"} {
		got := Mask("key=" + token)
		if strings.Contains(got, token) {
			t.Errorf("token %q survived masking: %q", token, got)
		}
		if !strings.Contains(got, "[REDACTED_TOKEN]") {
			t.Errorf("expected token marker: %q", got)
		}
	}
}

func TestMask_ShortHexUntouched(t *testing.T) {
	got := Mask("commit deadbeef")
	if got != "commit deadbeef" {
		t.Errorf("short hex must pass through: %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("unexpected truncation: %q", got)
	}
	got := Truncate(strings.Repeat("x", 20), 10)
	if got != strings.Repeat("x", 10)+"..." {
		t.Errorf("unexpected truncation: %q", got)
	}
	got = Truncate(strings.Repeat("é", 10), 5)
	if got != strings.Repeat("é", 2)+"..." {
		t.Errorf("cut must land on a rune boundary: %q", got)
	}
}

func TestBuildPayload(t *testing.T) {
	payload := BuildPayload(BuildInput{
		TraceID:          "t-1",
		Step:             "finalize",
		RawText:          "Build something for bob@example.com " + strings.Repeat("y", 600),
		Model:            "gpt-4o-mini",
		ValidationStatus: "ok",
		ValidationErrors: nil,
		Status:           "ok",
		RawResponse:      "raw content",
		IncludeRaw:       false,
	})

	if payload.TraceID != "t-1" || payload.Step != "finalize" {
		t.Errorf("unexpected identity fields: %+v", payload)
	}
	if strings.Contains(payload.UserInputExcerpt, "bob@example.com") {
		t.Error("input excerpt must be masked")
	}
	if len(payload.UserInputExcerpt) > excerptLimit+len("...") {
		t.Errorf("input excerpt not truncated: %d chars", len(payload.UserInputExcerpt))
	}
	if payload.RawResponseExcerpt != "" {
		t.Error("raw response must be omitted unless requested")
	}
	if payload.Validation.Errors == nil {
		t.Error("validation errors must serialize as an empty list, not null")
	}
}

func TestBuildPayload_IncludeRaw(t *testing.T) {
	payload := BuildPayload(BuildInput{
		TraceID:     "t-1",
		RawResponse: strings.Repeat("z", 1000),
		IncludeRaw:  true,
	})

	if payload.RawResponseExcerpt == "" {
		t.Fatal("expected a raw response excerpt")
	}
	if len(payload.RawResponseExcerpt) > rawLimit+len("...") {
		t.Errorf("raw excerpt not truncated: %d chars", len(payload.RawResponseExcerpt))
	}
}
