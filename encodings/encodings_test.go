package encodings

import "testing"

func TestCompressionLevel(t *testing.T) {
	cases := []struct {
		e        Encoding
		wantOk   bool
		wantLvl  int
	}{
		{CompressionLevel0, true, 0},
		{CompressionLevel9, true, 9},
		{Encoding(-252), true, 4},
		{CompressionLevel0 + 1, true, 1},
		{CompressionLevel9 - 1, true, 8},
		{CompressionLevel0 - 1, false, 0},
		{CompressionLevel9 + 1, false, 0},
		{Raw, false, 0},
		{QualityLevel0, false, 0},
	}
	for _, c := range cases {
		lvl, ok := CompressionLevel(c.e)
		if ok != c.wantOk {
			t.Errorf("CompressionLevel(%d): ok = %v, want %v", c.e, ok, c.wantOk)
			continue
		}
		if ok && lvl != c.wantLvl {
			t.Errorf("CompressionLevel(%d): level = %d, want %d", c.e, lvl, c.wantLvl)
		}
	}
}

func TestQualityLevel(t *testing.T) {
	cases := []struct {
		e       Encoding
		wantOk  bool
		wantLvl int
	}{
		{QualityLevel0, true, 0},
		{QualityLevel9, true, 9},
		{Encoding(-28), true, 4},
		{QualityLevel0 + 1, true, 1},
		{QualityLevel9 - 1, true, 8},
		{QualityLevel0 - 1, false, 0},
		{QualityLevel9 + 1, false, 0},
		{Raw, false, 0},
		{CompressionLevel0, false, 0},
	}
	for _, c := range cases {
		lvl, ok := QualityLevel(c.e)
		if ok != c.wantOk {
			t.Errorf("QualityLevel(%d): ok = %v, want %v", c.e, ok, c.wantOk)
			continue
		}
		if ok && lvl != c.wantLvl {
			t.Errorf("QualityLevel(%d): level = %d, want %d", c.e, lvl, c.wantLvl)
		}
	}
}
