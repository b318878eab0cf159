package domain

import "testing"

func TestNormalizeTenantID(t *testing.T) {
	const canonical = "6f1c2a8e-3b9d-4c11-9a4e-2f7d8b1c0e55"
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: canonical, want: canonical},
		{in: "6F1C2A8E-3B9D-4C11-9A4E-2F7D8B1C0E55", want: canonical},
		{in: "{" + canonical + "}", want: canonical},
		{in: "urn:uuid:" + canonical, want: canonical},
		{in: "6f1c2a8e3b9d4c119a4e2f7d8b1c0e55", want: canonical},
		{in: " " + canonical + "\t", want: canonical},
		{in: "", wantErr: true},
		{in: "acme", wantErr: true},
	}
	for _, tt := range tests {
		got, err := NormalizeTenantID(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("NormalizeTenantID(%q) expected error, got %q", tt.in, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("NormalizeTenantID(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}
