package serverlink

import (
	"errors"
	"testing"
	"time"
)

// TestPubSubTopicFilter exercises topic filtering end-to-end through the
// public facade: a SUB peer subscribed to "weather" receives a matching
// publish and times out (EAgain) on a non-matching one.
func TestPubSubTopicFilter(t *testing.T) {
	ctx := NewContext(nil, nil)
	defer ctx.Destroy()

	pub, err := NewSocket(ctx, Pub, Options{})
	if err != nil {
		t.Fatalf("NewSocket(Pub): %v", err)
	}
	if _, err := pub.Bind("inproc://weather"); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	sub, err := NewSocket(ctx, Sub, Options{})
	if err != nil {
		t.Fatalf("NewSocket(Sub): %v", err)
	}
	if err := sub.Connect("inproc://weather"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := sub.Subscribe([]byte("weather")); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	time.Sleep(100 * time.Millisecond) // let the subscription propagate upstream

	if err := pub.Send([]byte("weather sunny"), FlagNone); err != nil {
		t.Fatalf("Send(weather sunny): %v", err)
	}
	got, err := sub.Recv(FlagNone) // blocks briefly; delivery is async over the inproc pipe
	if err != nil {
		t.Fatalf("Recv(weather sunny): %v", err)
	}
	if string(got) != "weather sunny" {
		t.Errorf("got %q, want %q", got, "weather sunny")
	}

	if err := pub.Send([]byte("news breaking"), FlagNone); err != nil {
		t.Fatalf("Send(news breaking): %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := sub.Recv(FlagDontWait); !errors.Is(err, EAgain) {
		t.Errorf("Recv(news breaking): got %v, want EAgain", err)
	}
}
