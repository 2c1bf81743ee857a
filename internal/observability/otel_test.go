package observability

import (
	"context"
	"testing"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	if _, err := Init(context.Background(), Config{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestInit_Stdout(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Enabled: true, Exporter: "stdout", ServiceName: "test"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
