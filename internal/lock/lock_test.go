package lock

import (
	"context"
	"testing"
	"time"
)

func TestNopAlwaysAcquires(t *testing.T) {
	var l Locker = Nop{}
	for i := 0; i < 2; i++ {
		release, err := l.Acquire(context.Background(), "post:1", time.Second)
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		release()
	}
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	if _, err := NewRedis("not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}
