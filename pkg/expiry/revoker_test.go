package expiry

import (
	"testing"
	"time"
)

func TestNewRevokerDefaultsInterval(t *testing.T) {
	rv := NewRevoker(nil, nil, nil, nil, nil, nil, nil, 0)
	if rv.interval != 30*time.Second {
		t.Errorf("interval = %v, want %v", rv.interval, 30*time.Second)
	}
}

func TestNewRevokerKeepsExplicitInterval(t *testing.T) {
	rv := NewRevoker(nil, nil, nil, nil, nil, nil, nil, 5*time.Second)
	if rv.interval != 5*time.Second {
		t.Errorf("interval = %v, want %v", rv.interval, 5*time.Second)
	}
}
