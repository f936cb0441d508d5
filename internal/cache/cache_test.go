package cache

import (
	"testing"
	"time"

	"arbflow/internal/model"
	"arbflow/logger"
)

func TestGetPut(t *testing.T) {
	s := New(logger.GetLogger(), time.Second, time.Minute)

	if _, ok := s.Get("binance", "BTCUSDT", model.FieldSpotPrice); ok {
		t.Fatal("unexpected hit on empty cache")
	}

	s.Put("binance", "BTCUSDT", model.FieldSpotPrice, 65000.12)
	e, ok := s.Get("binance", "BTCUSDT", model.FieldSpotPrice)
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if e.Venue != "binance" {
		t.Errorf("venue = %q, want binance", e.Venue)
	}
	if e.Value.(float64) != 65000.12 {
		t.Errorf("value = %v", e.Value)
	}
}

func TestVenuesDoNotCollide(t *testing.T) {
	s := New(logger.GetLogger(), time.Second, time.Minute)
	s.Put("binance", "BTCUSDT", model.FieldSpotPrice, 64000.0)

	// A value fetched from one venue must never answer for another.
	if _, ok := s.Get("bybit", "BTCUSDT", model.FieldSpotPrice); ok {
		t.Fatal("binance entry served for bybit")
	}

	s.Put("bybit", "BTCUSDT", model.FieldSpotPrice, 65000.0)
	e, ok := s.Get("bybit", "BTCUSDT", model.FieldSpotPrice)
	if !ok {
		t.Fatal("bybit entry missing")
	}
	if e.Value.(float64) != 65000.0 {
		t.Errorf("bybit value = %v", e.Value)
	}
}

func TestFieldsDoNotCollide(t *testing.T) {
	s := New(logger.GetLogger(), time.Second, time.Minute)
	s.Put("binance", "BTCUSDT", model.FieldSpotPrice, 65000.0)
	s.Put("binance", "BTCUSDT", model.FieldFuturesPrice, 65100.0)

	spot, _ := s.Get("binance", "BTCUSDT", model.FieldSpotPrice)
	fut, _ := s.Get("binance", "BTCUSDT", model.FieldFuturesPrice)
	if spot.Value.(float64) == fut.Value.(float64) {
		t.Error("spot and futures entries collided")
	}
}

func TestEntriesExpire(t *testing.T) {
	s := New(logger.GetLogger(), 30*time.Millisecond, time.Minute)
	s.Put("bybit", "ETHUSDT", model.FieldVolume24h, 1.5e9)

	if _, ok := s.Get("bybit", "ETHUSDT", model.FieldVolume24h); !ok {
		t.Fatal("entry should be fresh")
	}
	time.Sleep(50 * time.Millisecond)
	if _, ok := s.Get("bybit", "ETHUSDT", model.FieldVolume24h); ok {
		t.Error("entry should have expired")
	}
}

func TestFlush(t *testing.T) {
	s := New(logger.GetLogger(), time.Minute, time.Minute)
	s.Put("binance", "BTCUSDT", model.FieldSpotPrice, 1.0)
	s.Put("binance", "ETHUSDT", model.FieldSpotPrice, 2.0)

	s.Flush()
	if s.Len() != 0 {
		t.Errorf("cache not empty after flush: %d entries", s.Len())
	}
}
