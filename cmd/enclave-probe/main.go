package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	var target string
	var service string
	var timeout time.Duration
	flag.StringVar(&target, "target", "127.0.0.1:8081", "gRPC health address of the enclave host")
	flag.StringVar(&service, "manifest", "", "namespace/name of a manifest; empty checks the whole host")
	flag.DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", target, err)
		os.Exit(2)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		fmt.Fprintf(os.Stderr, "health check %q: %v\n", service, err)
		os.Exit(2)
	}

	name := service
	if name == "" {
		name = "host"
	}
	fmt.Printf("%s: %s\n", name, resp.GetStatus().String())
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		os.Exit(1)
	}
}
