package settlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSchedulerPublishesExpiry(t *testing.T) {
	scheduler := NewExpiryScheduler()
	defer scheduler.Stop()

	scheduler.Schedule("t1", 10*time.Millisecond)

	select {
	case event := <-scheduler.Expirations():
		require.Equal(t, "t1", event.TradeID)
	case <-time.After(time.Second):
		t.Fatal("expiry event not received")
	}
}

func TestSchedulerStopDisarmsTimers(t *testing.T) {
	scheduler := NewExpiryScheduler()

	scheduler.Schedule("t1", 20*time.Millisecond)
	scheduler.Stop()

	select {
	case event := <-scheduler.Expirations():
		t.Fatalf("unexpected expiry after stop: %s", event.TradeID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSchedulerIgnoresScheduleAfterStop(t *testing.T) {
	scheduler := NewExpiryScheduler()
	scheduler.Stop()

	scheduler.Schedule("t1", time.Millisecond)

	select {
	case event := <-scheduler.Expirations():
		t.Fatalf("unexpected expiry after stop: %s", event.TradeID)
	case <-time.After(50 * time.Millisecond):
	}
}
