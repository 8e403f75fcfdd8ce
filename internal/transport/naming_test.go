package transport

import (
	"testing"

	"github.com/kursadbilgin/netevents/internal/domain"
)

func TestNaming(t *testing.T) {
	t.Parallel()

	if got := RedisEndpointChannel("client-1"); got != "netevents:ep:client-1" {
		t.Fatalf("RedisEndpointChannel() = %q, want netevents:ep:client-1", got)
	}
	if got := QueueName("client-1"); got != "netevents.client-1" {
		t.Fatalf("QueueName() = %q, want netevents.client-1", got)
	}
	if got := DLQName("client-1"); got != "dlq.netevents.client-1" {
		t.Fatalf("DLQName() = %q, want dlq.netevents.client-1", got)
	}
}

func TestPublishRoutes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		dest domain.Destination
		want []publishRoute
	}{
		{
			name: "single endpoint",
			dest: domain.To("p1"),
			want: []publishRoute{{exchange: directExchangeName, routingKey: "p1"}},
		},
		{
			name: "list without duplicates",
			dest: domain.ToList("p1", "p2", "p1"),
			want: []publishRoute{
				{exchange: directExchangeName, routingKey: "p1"},
				{exchange: directExchangeName, routingKey: "p2"},
			},
		},
		{
			name: "all",
			dest: domain.ToAll(),
			want: []publishRoute{{exchange: broadcastExchangeName}},
		},
		{
			name: "all except",
			dest: domain.ToAllExcept("p1"),
			want: []publishRoute{{exchange: broadcastExchangeName}},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := publishRoutes(tt.dest)
			if len(got) != len(tt.want) {
				t.Fatalf("publishRoutes() = %+v, want %+v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("publishRoutes()[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
