package domain

import (
	"errors"
	"testing"
)

func TestParseChannelFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Channel
		wantErr bool
	}{
		{name: "valid uppercase", input: "RELIABLE", want: ChannelReliable},
		{name: "valid lowercase with spaces", input: " unreliable ", want: ChannelUnreliable},
		{name: "invalid", input: "lossy", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseChannelFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseChannelFromString() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseChannelFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseChannelFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseSideFromString(t *testing.T) {
	t.Parallel()

	got, err := ParseSideFromString(" client ")
	if err != nil {
		t.Fatalf("ParseSideFromString() unexpected error = %v", err)
	}
	if got != SideClient {
		t.Fatalf("ParseSideFromString() = %s, want %s", got, SideClient)
	}

	_, err = ParseSideFromString("peer")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseSideFromString() error = %v, want ErrValidation", err)
	}
}
