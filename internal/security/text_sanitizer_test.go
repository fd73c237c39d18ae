package security

import "testing"

func TestClean_StripsTags(t *testing.T) {
	s := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain vehicle number", "KA-01-AB-1234", "KA-01-AB-1234"},
		{"surrounding spaces", "  MH12 DE 1433  ", "MH12 DE 1433"},
		{"script tag", "<script>alert(1)</script>KA01", "KA01"},
		{"bold tag", "<b>Central</b> Plaza", "Central Plaza"},
		{"ampersand kept as text", "A&B Parking", "A&B Parking"},
		{"onerror attribute", `<img src=x onerror=alert(1)>TN09`, "TN09"},
		{"control characters", "DL\t01\nCA", "DL 01 CA"},
		{"only markup", "<br/><p></p>", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Clean(tt.input); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestClean_Idempotent(t *testing.T) {
	s := NewTextSanitizer()
	inputs := []string{"<i>Lot</i> 7", "Gate & Co", "  x  "}

	for _, in := range inputs {
		once := s.Clean(in)
		if twice := s.Clean(once); twice != once {
			t.Errorf("Clean not idempotent for %q: %q -> %q", in, once, twice)
		}
	}
}

func TestTextSanitizerInterface(t *testing.T) {
	var _ TextSanitizer = NewTextSanitizer()
}
