package gocdp

import "testing"

func TestMarshalParamsNil(t *testing.T) {
	buf, err := marshalParams(nil)
	if err != nil || buf != nil {
		t.Fatalf("expected (nil, nil) for nil params, got (%v, %v)", buf, err)
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	type payload struct {
		A int    `json:"a"`
		B string `json:"b"`
	}
	in := payload{A: 7, B: "hi"}

	buf, err := marshalParams(in)
	if err != nil {
		t.Fatalf("unexpected marshal error: %v", err)
	}

	var out payload
	if err := unmarshalResult(buf, &out); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}
	if out != in {
		t.Fatalf("expected %+v, got %+v", in, out)
	}
}

func TestUnmarshalResultEmptyIsNoop(t *testing.T) {
	var out struct{ A int }
	if err := unmarshalResult(nil, &out); err != nil {
		t.Fatalf("expected nil error for empty buffer, got %v", err)
	}
}
