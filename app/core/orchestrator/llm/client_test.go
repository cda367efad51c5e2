package llm

import (
	"encoding/json"
	"errors"
	"testing"

	config "aide0/app/configs"
	"aide0/app/pkg/types"
)

func TestExtractJSONFromFencedOutput(t *testing.T) {
	text := "Sure, here is the result:\n```json\n{\"intent\":\"task\",\"confidence\":0.8}\n```\nLet me know!"
	payload, err := ExtractJSON(text, nil)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded["intent"] != "task" {
		t.Fatalf("unexpected payload: %v", decoded)
	}
}

func TestExtractJSONPatchesMissingDefaults(t *testing.T) {
	payload, err := ExtractJSON(`{"intent":"task"}`, map[string]interface{}{
		"confidence": 0.0,
		"parameters": map[string]interface{}{},
	})
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	var decoded struct {
		Intent     string                 `json:"intent"`
		Confidence float64                `json:"confidence"`
		Parameters map[string]interface{} `json:"parameters"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Intent != "task" || decoded.Confidence != 0 || decoded.Parameters == nil {
		t.Fatalf("defaults not applied: %+v", decoded)
	}
}

func TestExtractJSONDoesNotOverwriteExistingKeys(t *testing.T) {
	payload, err := ExtractJSON(`{"confidence":0.7}`, map[string]interface{}{"confidence": 0.0})
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	var decoded struct {
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Confidence != 0.7 {
		t.Fatalf("existing value overwritten: %v", decoded.Confidence)
	}
}

func TestExtractJSONRejectsNonJSON(t *testing.T) {
	if _, err := ExtractJSON("no braces here", nil); err == nil {
		t.Fatal("expected error for text without an object")
	}
	if _, err := ExtractJSON("{broken", nil); err == nil {
		t.Fatal("expected error for unbalanced braces")
	}
	if _, err := ExtractJSON("{not valid}", nil); err == nil {
		t.Fatal("expected error for invalid object body")
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("AIDE0_TEST_KEY", "")
	_, err := NewClient(config.LLMConfig{Model: "gpt-4o-mini", APIKeyEnv: "AIDE0_TEST_KEY"})
	if err == nil {
		t.Fatal("expected error for missing key")
	}
	if !errors.Is(err, types.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestNewClientWithKey(t *testing.T) {
	t.Setenv("AIDE0_TEST_KEY", "sk-test")
	client, err := NewClient(config.LLMConfig{Model: "gpt-4o-mini", APIKeyEnv: "AIDE0_TEST_KEY"})
	if err != nil {
		t.Fatalf("client construction failed: %v", err)
	}
	if client.model != "gpt-4o-mini" {
		t.Fatalf("unexpected model: %s", client.model)
	}
}
