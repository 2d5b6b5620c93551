package config

import "testing"

func TestParseArgs_Address(t *testing.T) {
	cfg, err := ParseArgs([]string{"podserver", "-a", "100.20.20.10:9090"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TCPAddress != "100.20.20.10:9090" {
		t.Errorf("got %q, want 100.20.20.10:9090", cfg.TCPAddress)
	}
}

func TestParseArgs_BufferSize(t *testing.T) {
	cfg, err := ParseArgs([]string{"podserver", "-b", "512"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BufferSize != 512 {
		t.Errorf("got %d, want 512", cfg.BufferSize)
	}
}

func TestParseArgs_BufferSizeAndAddress(t *testing.T) {
	cfg, err := ParseArgs([]string{"podserver", "-b", "1024", "-a", "250.230.210.120:1000"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TCPAddress != "250.230.210.120:1000" || cfg.BufferSize != 1024 {
		t.Errorf("got %+v", cfg)
	}
}

func TestParseArgs_OddArgCountIsUsageError(t *testing.T) {
	_, err := ParseArgs([]string{"podserver", "-a"})
	if err == nil {
		t.Fatal("expected usage error on even-length args")
	}
}

func TestParseArgs_DefaultsWithNoFlags(t *testing.T) {
	cfg, err := ParseArgs([]string{"podserver"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Default()
	if cfg != want {
		t.Errorf("got %+v, want defaults %+v", cfg, want)
	}
}

func TestParseArgs_InvalidAddressIsUsageError(t *testing.T) {
	_, err := ParseArgs([]string{"podserver", "-a", "not-an-address"})
	if err == nil {
		t.Fatal("expected usage error on malformed address")
	}
}
