package main

import (
	"context"
	"fmt"
	"log"
	"net/http/httptest"
	"time"

	"AutoAgent/internal/api"
	"AutoAgent/internal/gateway"
	"AutoAgent/internal/run"
	"AutoAgent/sdk/go/autoagent"
)

// 启动进程内的 API 服务并用 SDK 驱动一次运行。
func main() {
	svc, err := run.NewService(gateway.NewEcho(
		gateway.WithFollowUps("Research plan a trip", "Compare flights"),
	))
	if err != nil {
		log.Fatal(err)
	}
	srv := httptest.NewServer(api.NewServer(":0", svc).Handler())
	defer srv.Close()
	defer svc.Shutdown(context.Background())

	client, err := autoagent.NewClient(srv.URL, srv.Client())
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	started, err := client.StartRun(ctx, autoagent.RunRequest{Goal: "plan a trip"})
	if err != nil {
		log.Fatalf("start run: %v", err)
	}
	finished, err := client.WaitForRun(ctx, started.ID, 50*time.Millisecond)
	if err != nil {
		log.Fatalf("wait run: %v", err)
	}

	fmt.Printf("run %s finished as %s\n", finished.ID, finished.State)
	for _, msg := range finished.Messages {
		fmt.Printf("[%s] %s %s\n", msg.Type, msg.Value, msg.Info)
	}
}
