package geoip

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestDisabledService(t *testing.T) {
	s := NewService(ServiceConfig{Logger: zerolog.Nop()})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if _, ok := s.Lookup("203.0.113.7"); ok {
		t.Fatal("disabled service returned a result")
	}
}

func TestMissingDatabaseIsNotFatal(t *testing.T) {
	s := NewService(ServiceConfig{
		DBPath: t.TempDir() + "/missing.mmdb",
		Logger: zerolog.Nop(),
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start with missing db: %v", err)
	}
	defer s.Stop()

	if _, ok := s.Lookup("203.0.113.7"); ok {
		t.Fatal("missing db returned a result")
	}
}

func TestLookupBadIP(t *testing.T) {
	s := NewService(ServiceConfig{Logger: zerolog.Nop()})
	defer s.Stop()
	if _, ok := s.Lookup("not-an-ip"); ok {
		t.Fatal("bad ip returned a result")
	}
}
