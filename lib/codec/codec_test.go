// Copyright 2026 The Autosd Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestMarshalDeterministic(t *testing.T) {
	type payload struct {
		ID       string   `cbor:"1,keyasint"`
		Projects []string `cbor:"2,keyasint"`
		Expires  int64    `cbor:"3,keyasint"`
	}

	value := payload{
		ID:       "a1b2c3",
		Projects: []string{"web-shop", "billing"},
		Expires:  1772452800,
	}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 50; i++ {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal iteration %d: %v", i, err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("non-deterministic encoding on iteration %d", i)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	type payload struct {
		ID      string `cbor:"1,keyasint"`
		Expires int64  `cbor:"2,keyasint"`
	}

	in := payload{ID: "grant-1", Expires: 42}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out payload
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestMapKeysSorted(t *testing.T) {
	// Core Deterministic Encoding sorts map keys, so two maps with
	// the same entries inserted in different orders encode equally.
	a := map[string]int{"x": 1, "y": 2, "z": 3}
	b := map[string]int{"z": 3, "x": 1, "y": 2}

	dataA, err := Marshal(a)
	if err != nil {
		t.Fatalf("Marshal a: %v", err)
	}
	dataB, err := Marshal(b)
	if err != nil {
		t.Fatalf("Marshal b: %v", err)
	}
	if !bytes.Equal(dataA, dataB) {
		t.Error("map encodings differ")
	}
}
