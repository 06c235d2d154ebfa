package codec

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/unkn0wn-root/skycache/store"
)

func TestNormalizeWidensAndRebuilds(t *testing.T) {
	in := map[string]any{
		"int":    42,
		"int64":  int64(7),
		"f32":    float32(1.5),
		"str":    "x",
		"bool":   true,
		"null":   nil,
		"bytes":  []byte{0x1, 0x2},
		"nested": map[string]any{"deep": 3},
		"list":   []any{1, "two"},
	}
	got, err := Normalize(in)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if got["int"] != float64(42) || got["int64"] != float64(7) || got["f32"] != float64(1.5) {
		t.Fatalf("numbers not widened to float64: %+v", got)
	}
	if got["str"] != "x" || got["bool"] != true || got["null"] != nil {
		t.Fatalf("scalars changed: %+v", got)
	}
	if got["bytes"] != base64.StdEncoding.EncodeToString([]byte{0x1, 0x2}) {
		t.Fatalf("bytes not base64 string: %v", got["bytes"])
	}
	nested, ok := got["nested"].(map[string]any)
	if !ok || nested["deep"] != float64(3) {
		t.Fatalf("nested map not rebuilt: %+v", got["nested"])
	}
	list, ok := got["list"].([]any)
	if !ok || list[0] != float64(1) || list[1] != "two" {
		t.Fatalf("list not rebuilt: %+v", got["list"])
	}
}

func TestNormalizeRejectsOutOfDomain(t *testing.T) {
	if _, err := Normalize(map[string]any{"ch": make(chan int)}); err == nil {
		t.Fatalf("expected error for channel value")
	}
	type opaque struct{ X int }
	if _, err := Normalize(map[string]any{"s": opaque{1}}); err == nil {
		t.Fatalf("expected error for struct value")
	}
}

func TestNormalizeNil(t *testing.T) {
	got, err := Normalize(nil)
	if err != nil || got != nil {
		t.Fatalf("Normalize(nil) = %v, %v", got, err)
	}
}

func TestValuesRoundTrip(t *testing.T) {
	in := map[string]any{"rate": 120, "units": map[string]any{"temp": "F"}}
	enc, err := Values{}.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Values{}.Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got["rate"] != float64(120) {
		t.Fatalf("rate = %v (%T)", got["rate"], got["rate"])
	}
	if got["units"].(map[string]any)["temp"] != "F" {
		t.Fatalf("nested roundtrip mismatch: %+v", got)
	}
}

// Nested payload values must come back as map[string]any regardless of codec,
// or lookups above the store break on one backend and not another.
func TestDocumentCodecsPreserveNestedShape(t *testing.T) {
	doc := store.SharedDocument{ID: "shared", Version: 2}
	doc.SetEntry("location", "austin_texas", store.Entry{
		Payload: map[string]any{
			"lat":  float64(30.27),
			"geo":  map[string]any{"county": "Travis"},
			"tags": []any{"metro"},
		},
		ExpiresAt: 1_700_000_000,
	})

	codecs := map[string]Codec[store.SharedDocument]{
		"json":    JSONCodec[store.SharedDocument]{},
		"cbor":    MustCBOR[store.SharedDocument](false),
		"msgpack": Msgpack[store.SharedDocument]{},
	}
	for name, c := range codecs {
		t.Run(name, func(t *testing.T) {
			b, err := c.Encode(doc)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := c.Decode(b)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Version != 2 {
				t.Fatalf("Version = %d", got.Version)
			}
			e, ok := got.Entry("location", "austin_texas")
			if !ok {
				t.Fatalf("entry missing after decode")
			}
			if e.ExpiresAt != 1_700_000_000 {
				t.Fatalf("ExpiresAt = %d", e.ExpiresAt)
			}
			if lat, ok := e.Payload["lat"].(float64); !ok || lat != 30.27 {
				t.Fatalf("lat = %[1]v (%[1]T)", e.Payload["lat"])
			}
			geo, ok := e.Payload["geo"].(map[string]any)
			if !ok {
				t.Fatalf("nested payload decoded as %T, want map[string]any", e.Payload["geo"])
			}
			if geo["county"] != "Travis" {
				t.Fatalf("nested value mismatch: %+v", geo)
			}
			if tags, ok := e.Payload["tags"].([]any); !ok || tags[0] != "metro" {
				t.Fatalf("slice payload mismatch: %+v", e.Payload["tags"])
			}
		})
	}
}

func TestLimitCodec(t *testing.T) {
	inner := JSONCodec[map[string]any]{}
	lim := LimitCodec[map[string]any]{Inner: inner, MaxDecode: 16}

	big, err := inner.Encode(map[string]any{"k": strings.Repeat("v", 64)})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := lim.Decode(big); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("oversized decode error = %v, want ErrTooLarge", err)
	}

	small, _ := inner.Encode(map[string]any{"k": "v"})
	if len(small) > 16 {
		t.Fatalf("test setup: %d bytes", len(small))
	}
	if _, err := lim.Decode(small); err != nil {
		t.Fatalf("small payload rejected: %v", err)
	}

	// disabled limit passes everything through
	open := LimitCodec[map[string]any]{Inner: inner}
	if _, err := open.Decode(big); err != nil {
		t.Fatalf("disabled limit rejected payload: %v", err)
	}
}
