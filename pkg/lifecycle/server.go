// Package lifecycle runs the pipeline process: it owns the HTTP and
// gRPC-health listeners, signal handling, and ordered shutdown.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/sensorgrid/pipeline/pkg/models"
)

const (
	ShutdownTimeout = 10 * time.Second

	httpReadTimeout  = 10 * time.Second
	httpWriteTimeout = 10 * time.Second

	healthRefreshInterval = 30 * time.Second
)

// Service is the long-running process hosted by RunServer.
type Service interface {
	Start(ctx context.Context) error
	Stop() error
}

// HealthReporter feeds the gRPC health endpoint.
type HealthReporter interface {
	GetHealth() models.SystemHealth
}

// ServerOptions holds configuration for one hosted pipeline process.
type ServerOptions struct {
	ServiceName string
	HTTPAddr    string
	GRPCAddr    string // empty disables the gRPC health listener
	Service     Service
	Handler     http.Handler
	Health      HealthReporter
}

// RunServer starts the service plus its listeners and blocks until a
// signal, a listener error, or context cancellation, then shuts down in
// reverse order within ShutdownTimeout.
func RunServer(ctx context.Context, opts *ServerOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Printf("*** Starting service %s", opts.ServiceName)

	if err := opts.Service.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s: %w", opts.ServiceName, err)
	}

	errChan := make(chan error, 2)

	httpServer := &http.Server{
		Addr:         opts.HTTPAddr,
		Handler:      opts.Handler,
		ReadTimeout:  httpReadTimeout,
		WriteTimeout: httpWriteTimeout,
	}

	go func() {
		log.Printf("Starting HTTP server on %s", opts.HTTPAddr)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcServer *grpc.Server

	if opts.GRPCAddr != "" {
		listener, err := net.Listen("tcp", opts.GRPCAddr)
		if err != nil {
			_ = opts.Service.Stop()
			return fmt.Errorf("failed to listen on %s: %w", opts.GRPCAddr, err)
		}

		grpcServer = grpc.NewServer()

		hs := health.NewServer()
		hs.SetServingStatus(opts.ServiceName, healthpb.HealthCheckResponse_SERVING)
		healthpb.RegisterHealthServer(grpcServer, hs)

		if opts.Health != nil {
			go refreshHealth(ctx, hs, opts.ServiceName, opts.Health)
		}

		go func() {
			log.Printf("Starting gRPC health server on %s", opts.GRPCAddr)

			if err := grpcServer.Serve(listener); err != nil {
				errChan <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	err := waitForShutdown(ctx, errChan)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()

	cancel()

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	if httpErr := httpServer.Shutdown(shutdownCtx); httpErr != nil {
		log.Printf("HTTP shutdown error: %v", httpErr)
	}

	if stopErr := opts.Service.Stop(); stopErr != nil {
		log.Printf("Error during service shutdown: %v", stopErr)

		if err == nil {
			err = fmt.Errorf("shutdown error: %w", stopErr)
		}
	}

	return err
}

func waitForShutdown(ctx context.Context, errChan chan error) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, initiating shutdown", sig)
		return nil
	case err := <-errChan:
		log.Printf("Received error: %v, initiating shutdown", err)
		return err
	case <-ctx.Done():
		log.Printf("Context canceled, initiating shutdown")
		return ctx.Err()
	}
}

// refreshHealth mirrors the pipeline's aggregated health onto the gRPC
// health endpoint so fleet probes see degradation without scraping HTTP.
func refreshHealth(ctx context.Context, hs *health.Server, serviceName string, reporter HealthReporter) {
	ticker := time.NewTicker(healthRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := healthpb.HealthCheckResponse_SERVING
			if reporter.GetHealth().Status == models.Unhealthy {
				status = healthpb.HealthCheckResponse_NOT_SERVING
			}

			hs.SetServingStatus(serviceName, status)
		}
	}
}
