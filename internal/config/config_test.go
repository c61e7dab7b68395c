package config

import "testing"

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", Default(), false},
		{"chunk len one", Config{ChunkLen: 1, Precision: PrecisionSingle}, false},
		{"double precision", Config{ChunkLen: 16, Precision: PrecisionDouble}, false},
		{"zero chunk len", Config{ChunkLen: 0, Precision: PrecisionSingle}, true},
		{"negative chunk len", Config{ChunkLen: -4, Precision: PrecisionSingle}, true},
		{"bogus precision", Config{ChunkLen: 8, Precision: Precision(7)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParsePrecision(t *testing.T) {
	tests := []struct {
		in      string
		want    Precision
		wantErr bool
	}{
		{"single", PrecisionSingle, false},
		{"SINGLE", PrecisionSingle, false},
		{"fp32", PrecisionSingle, false},
		{"double", PrecisionDouble, false},
		{"float64", PrecisionDouble, false},
		{"half", PrecisionSingle, true},
		{"", PrecisionSingle, true},
	}

	for _, tt := range tests {
		got, err := ParsePrecision(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePrecision(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParsePrecision(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMinDecayFitsHalfChunk(t *testing.T) {
	// floor^(T/2) must stay in range for the default chunk length.
	cfg := Default()
	half := float64(cfg.ChunkLen / 2)

	for _, p := range []Precision{PrecisionSingle, PrecisionDouble} {
		floor := p.MinDecay()
		if floor <= 0 {
			t.Fatalf("%v: non-positive floor %v", p, floor)
		}
		pow := 1.0
		for i := 0; i < int(half); i++ {
			pow *= floor
		}
		if pow == 0 {
			t.Errorf("%v: floor^%v underflows to zero", p, half)
		}
	}
}

func TestPrecisionString(t *testing.T) {
	if PrecisionSingle.String() != "single" {
		t.Errorf("got %q", PrecisionSingle.String())
	}
	if PrecisionDouble.String() != "double" {
		t.Errorf("got %q", PrecisionDouble.String())
	}
}
