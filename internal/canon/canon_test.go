package canon

import "testing"

func TestMarshalSortsKeys(t *testing.T) {
	v := map[string]any{"b": 1.0, "a": 2.0, "c": 3.0}
	got, err := Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %s", err)
	}
	want := `{"a":2,"b":1,"c":3}`
	if string(got) != want {
		t.Fatalf("Marshal = %s, want %s", got, want)
	}
}

func TestMarshalEscapesNonASCII(t *testing.T) {
	v := map[string]any{"name": "Z" + string(rune(0xFC)) + "rich"}
	got, err := Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %s", err)
	}
	want := `{"name":"Z` + "\\u00fc" + `rich"}`
	if string(got) != want {
		t.Fatalf("Marshal = %s, want %s", got, want)
	}
}

func TestMarshalEscapesSurrogatePair(t *testing.T) {
	v := map[string]any{"emoji": "\U0001F680"}
	got, err := Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %s", err)
	}
	want := `{"emoji":"` + "\\ud83d\\ude80" + `"}`
	if string(got) != want {
		t.Fatalf("Marshal = %s, want %s", got, want)
	}
}

func TestMarshalNoWhitespace(t *testing.T) {
	v := map[string]any{"a": []any{1.0, 2.0, 3.0}, "b": map[string]any{"c": true, "d": nil}}
	got, err := Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %s", err)
	}
	for _, b := range got {
		if b == ' ' || b == '\n' || b == '\t' {
			t.Fatalf("Marshal output contains whitespace: %s", got)
		}
	}
}

func TestMarshalDeterministic(t *testing.T) {
	v := map[string]any{"z": 1.0, "y": 2.0, "x": map[string]any{"m": 1.0, "n": 2.0}}
	first, err := Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %s", err)
	}
	for i := 0; i < 10; i++ {
		got, err := Marshal(v)
		if err != nil {
			t.Fatalf("Marshal: %s", err)
		}
		if string(got) != string(first) {
			t.Fatalf("Marshal is not deterministic across calls: %s != %s", got, first)
		}
	}
}
