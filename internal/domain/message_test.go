package domain

import (
	"errors"
	"testing"
)

func TestDestinationKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		dest Destination
		want string
	}{
		{name: "one", dest: To("p1"), want: "one:p1"},
		{name: "list sorted", dest: ToList("p2", "p1"), want: "list:p1,p2"},
		{name: "all", dest: ToAll(), want: "all"},
		{name: "all except", dest: ToAllExcept("p3"), want: "all_except:p3"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.dest.Key(); got != tt.want {
				t.Fatalf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToListCopiesInput(t *testing.T) {
	t.Parallel()

	input := []Endpoint{"a", "b"}
	dest := ToList(input...)
	input[0] = "z"

	if dest.Endpoints[0] != "a" {
		t.Fatalf("Endpoints[0] = %q, want a", dest.Endpoints[0])
	}
}

func TestMessageValidate(t *testing.T) {
	t.Parallel()

	base := Message{
		Namespace:   "chat",
		Channel:     ChannelReliable,
		Event:       "say",
		Kind:        KindEvent,
		Destination: To("p1"),
		Mode:        ModeBatched,
	}

	tests := []struct {
		name    string
		mutate  func(*Message)
		wantErr bool
	}{
		{name: "valid message", mutate: func(m *Message) {}},
		{name: "missing namespace", mutate: func(m *Message) { m.Namespace = " " }, wantErr: true},
		{name: "missing event", mutate: func(m *Message) { m.Event = "" }, wantErr: true},
		{name: "invalid channel", mutate: func(m *Message) { m.Channel = Channel("LOSSY") }, wantErr: true},
		{name: "invalid kind", mutate: func(m *Message) { m.Kind = MessageKind("push") }, wantErr: true},
		{name: "empty single endpoint", mutate: func(m *Message) { m.Destination = To("") }, wantErr: true},
		{name: "unresolved filter", mutate: func(m *Message) {
			m.Destination = ToFilter(func(Endpoint) bool { return true })
		}, wantErr: true},
		{name: "all except without endpoint", mutate: func(m *Message) { m.Destination = ToAllExcept("") }, wantErr: true},
		{name: "broadcast", mutate: func(m *Message) { m.Destination = ToAll() }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			current := base
			tt.mutate(&current)

			err := current.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Validate() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error = %v", err)
			}
		})
	}
}
