// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestDeterministicEncoding(t *testing.T) {
	value := map[string]any{"b": 2, "a": 1, "c": []string{"x", "y"}}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("same value produced different encodings")
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	data, err := Marshal(map[string]any{"known": "v", "extra": 42})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var target struct {
		Known string `cbor:"known"`
	}
	if err := Unmarshal(data, &target); err != nil {
		t.Fatalf("Unmarshal with unknown field: %v", err)
	}
	if target.Known != "v" {
		t.Errorf("Known = %q, want %q", target.Known, "v")
	}
}

func TestAnyTargetDecodesStringKeyMaps(t *testing.T) {
	data, err := Marshal(map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	m, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if m["k"] != "v" {
		t.Errorf("m[k] = %v, want v", m["k"])
	}
}
