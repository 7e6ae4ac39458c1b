package perm

import "testing"

func TestLevelOrdering(t *testing.T) {
	if !(None < View && View < Upload && Upload < Full) {
		t.Fatal("levels must form a strict total order")
	}
}

func TestLevelValid(t *testing.T) {
	tests := []struct {
		level Level
		want  bool
	}{
		{None, true},
		{View, true},
		{Upload, true},
		{Full, true},
		{Level(-1), false},
		{Level(4), false},
		{Level(100), false},
	}
	for _, tt := range tests {
		if got := tt.level.Valid(); got != tt.want {
			t.Errorf("Level(%d).Valid() = %v, want %v", int(tt.level), got, tt.want)
		}
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{None, "none"},
		{View, "view"},
		{Upload, "upload"},
		{Full, "full"},
		{Level(7), "invalid(7)"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", int(tt.level), got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	t.Run("valid range", func(t *testing.T) {
		for v := 0; v <= 3; v++ {
			level, err := ParseLevel(v)
			if err != nil {
				t.Fatalf("ParseLevel(%d) returned error: %v", v, err)
			}
			if int(level) != v {
				t.Errorf("ParseLevel(%d) = %d", v, int(level))
			}
		}
	})

	t.Run("out of range is rejected, not clamped", func(t *testing.T) {
		for _, v := range []int{-1, 4, 255} {
			if _, err := ParseLevel(v); err == nil {
				t.Errorf("ParseLevel(%d) should fail", v)
			}
		}
	})
}

func TestCompare(t *testing.T) {
	if Compare(View, Upload) != -1 {
		t.Error("expected View < Upload")
	}
	if Compare(Full, View) != 1 {
		t.Error("expected Full > View")
	}
	if Compare(Upload, Upload) != 0 {
		t.Error("expected Upload == Upload")
	}
}

func TestMax(t *testing.T) {
	tests := []struct {
		a, b, want Level
	}{
		{None, None, None},
		{None, View, View},
		{Upload, View, Upload},
		{Full, Upload, Full},
	}
	for _, tt := range tests {
		if got := Max(tt.a, tt.b); got != tt.want {
			t.Errorf("Max(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
		}
		if got := Max(tt.b, tt.a); got != tt.want {
			t.Errorf("Max(%s, %s) = %s, want %s", tt.b, tt.a, got, tt.want)
		}
	}
}

func TestSatisfies(t *testing.T) {
	tests := []struct {
		have, required Level
		want           bool
	}{
		{Full, View, true},
		{Upload, Upload, true},
		{View, Upload, false},
		{None, View, false},
		{None, None, true},
	}
	for _, tt := range tests {
		if got := Satisfies(tt.have, tt.required); got != tt.want {
			t.Errorf("Satisfies(%s, %s) = %v, want %v", tt.have, tt.required, got, tt.want)
		}
	}
}
