package instrumentation

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "default config",
			config: Config{
				Enabled: false,
			},
			wantErr: false,
		},
		{
			name: "with service name and version",
			config: Config{
				Enabled:        true,
				ServiceName:    "test-service",
				ServiceVersion: "1.0.0",
			},
			wantErr: false,
		},
		{
			name: "empty service name gets default",
			config: Config{
				Enabled:        true,
				ServiceName:    "",
				ServiceVersion: "",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if err == nil {
				if inst == nil {
					t.Error("New() returned nil instrumentation")
					return
				}

				if inst.Meter("server") == nil {
					t.Error("Meter('server') returned nil")
				}
				if inst.Meter("storage") == nil {
					t.Error("Meter('storage') returned nil")
				}

				if inst.Tracer("server") == nil {
					t.Error("Tracer('server') returned nil")
				}
				if inst.Tracer("storage") == nil {
					t.Error("Tracer('storage') returned nil")
				}

				if inst.Metrics() == nil {
					t.Error("Metrics() returned nil")
				}

				if inst.TracerProvider() == nil {
					t.Error("TracerProvider() returned nil")
				}
				if inst.MeterProvider() == nil {
					t.Error("MeterProvider() returned nil")
				}

				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				shutdownErr := inst.Shutdown(ctx)
				if shutdownErr != nil {
					t.Errorf("Shutdown() error = %v", shutdownErr)
				}

				// Verify shutdown is idempotent (can be called multiple times)
				shutdownErr = inst.Shutdown(ctx)
				if shutdownErr != nil {
					t.Errorf("Second Shutdown() error = %v", shutdownErr)
				}
			}
		})
	}
}

func TestInstrumentation_NoOpProviders(t *testing.T) {
	// Disabled instrumentation must be safe to record against
	inst, err := New(Config{
		Enabled: false,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()

	inst.Metrics().RecordCodeIssued(ctx, "test-client")
	inst.Metrics().RecordCodeExchange(ctx, "test-client")
	inst.Metrics().RecordTokenRefresh(ctx, "test-client")
	inst.Metrics().RecordStorageOperation(ctx, "find_client", "success", 1.5)

	_, span := inst.Tracer("server").Start(ctx, "test-span")
	span.End()
}

func TestInstrumentation_ConcurrentAccess(t *testing.T) {
	inst, err := New(Config{
		Enabled:        true,
		ServiceName:    "concurrent-test",
		ServiceVersion: "1.0.0",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	done := make(chan bool)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		go func(id int) {
			for j := 0; j < 100; j++ {
				clientID := fmt.Sprintf("client-%d", id)
				inst.Metrics().RecordCodeIssued(ctx, clientID)
				inst.Metrics().RecordCodeExchange(ctx, clientID)

				_, span := inst.Tracer("server").Start(ctx, "concurrent-span")
				span.End()
			}
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestConfig_Defaults(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() {
		if err := inst.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	}()

	if inst.config.ServiceName != "grantauth" {
		t.Errorf("Default ServiceName = %q, want %q", inst.config.ServiceName, "grantauth")
	}
	if inst.config.ServiceVersion != "unknown" {
		t.Errorf("Default ServiceVersion = %q, want %q", inst.config.ServiceVersion, "unknown")
	}
}

func TestRegisterStorageSizeCallbacks(t *testing.T) {
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	err = inst.RegisterStorageSizeCallbacks(
		func() int64 { return 1 },
		func() int64 { return 2 },
		func() int64 { return 3 },
	)
	if err != nil {
		t.Errorf("RegisterStorageSizeCallbacks() error = %v", err)
	}

	// Nil callbacks are allowed and simply skipped during observation
	err = inst.RegisterStorageSizeCallbacks(nil, nil, nil)
	if err != nil {
		t.Errorf("RegisterStorageSizeCallbacks(nil) error = %v", err)
	}
}

// Benchmark tests to measure instrumentation overhead

func BenchmarkMetrics_RecordStorageOperation(b *testing.B) {
	inst, _ := New(Config{Enabled: true})
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()
	metrics := inst.Metrics()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		metrics.RecordStorageOperation(ctx, "find_client", "success", 1.23)
	}
}

func BenchmarkMetrics_RecordStorageOperation_NoOp(b *testing.B) {
	inst, _ := New(Config{Enabled: false})
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()
	metrics := inst.Metrics()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		metrics.RecordStorageOperation(ctx, "find_client", "success", 1.23)
	}
}

func BenchmarkTracing_SpanCreation(b *testing.B) {
	inst, _ := New(Config{Enabled: true})
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()
	tracer := inst.Tracer("server")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, span := tracer.Start(ctx, "test-operation")
		span.End()
	}
}

func BenchmarkTracing_SpanWithAttributes(b *testing.B) {
	inst, _ := New(Config{Enabled: true})
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()
	tracer := inst.Tracer("server")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, span := tracer.Start(ctx, "test-operation")
		AddGrantAttributes(span, "client-123", "user-456", "account history")
		SetSpanSuccess(span)
		span.End()
	}
}
