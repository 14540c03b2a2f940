package rabbitmq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestAttempt(t *testing.T) {
	cases := []struct {
		headers amqp.Table
		want    int
	}{
		{nil, 0},
		{amqp.Table{}, 0},
		{amqp.Table{attemptHeader: int32(2)}, 2},
		{amqp.Table{attemptHeader: int64(3)}, 3},
		{amqp.Table{attemptHeader: "x"}, 0},
	}
	for _, tc := range cases {
		if got := Attempt(tc.headers); got != tc.want {
			t.Fatalf("Attempt(%v) = %d, want %d", tc.headers, got, tc.want)
		}
	}
}
