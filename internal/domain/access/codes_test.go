package access

import "testing"

func TestAllowList(t *testing.T) {
	list := NewAllowList("BUS77A", " goku ", "", "GOKULNATH8887", "AUTO_SESSION_7AM")

	tests := []struct {
		code string
		want bool
	}{
		{"BUS77A", true},
		{"bus77a", true},
		{"  Bus77A\t", true},
		{"GOKU", true},
		{"AUTO_SESSION_7AM", true},
		{"BUS77", false},
		{"", false},
		{"   ", false},
	}
	for _, tt := range tests {
		if got := list.IsValidDriverCode(tt.code); got != tt.want {
			t.Errorf("IsValidDriverCode(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
	if list.Len() != 4 {
		t.Fatalf("Len = %d, want 4", list.Len())
	}

	var empty *AllowList
	if empty.IsValidDriverCode("BUS77A") {
		t.Fatal("nil list accepted a code")
	}
}
