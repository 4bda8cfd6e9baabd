package app

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sandeepkv93/product-catalog-backend/internal/config"
	"github.com/sandeepkv93/product-catalog-backend/internal/database/dbtest"
)

func TestRunStopsOnContextCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := &config.Config{
		Env:                          "test",
		ShutdownTimeout:              2 * time.Second,
		ShutdownHTTPDrainTimeout:     time.Second,
		ShutdownObservabilityTimeout: time.Second,
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }),
		ReadHeaderTimeout: time.Second,
	}

	var taskStopped atomic.Bool
	task := func(ctx context.Context) {
		<-ctx.Done()
		taskStopped.Store(true)
	}
	db := dbtest.OpenEmpty(t)
	a := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), srv, nil, db, nil, nil, task)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr)
		if err == nil {
			_ = resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never became reachable: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("app did not shut down")
	}
	if !taskStopped.Load() {
		t.Fatal("expected background task to be stopped")
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	if err := sqlDB.Ping(); err == nil {
		t.Fatal("expected database to be closed after shutdown")
	}
}
