// Command fake_engine imitates an engine server for launcher tests. It
// accepts any flags, honoring --host, --port, --exit-code and --ready-after.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
)

func main() {
	host, port := "127.0.0.1", "0"
	exitCode := -1
	readyAfter := time.Duration(0)
	for i := 1; i < len(os.Args)-1; i++ {
		switch os.Args[i] {
		case "--host":
			host = os.Args[i+1]
		case "--port":
			port = os.Args[i+1]
		case "--exit-code":
			exitCode, _ = strconv.Atoi(os.Args[i+1])
		case "--ready-after":
			readyAfter, _ = time.ParseDuration(os.Args[i+1])
		}
	}
	if exitCode >= 0 {
		fmt.Fprintln(os.Stderr, "fake engine: failing on purpose")
		os.Exit(exitCode)
	}
	started := time.Now()
	mux := http.NewServeMux()
	ready := func(w http.ResponseWriter) bool {
		if time.Since(started) < readyAfter {
			w.WriteHeader(http.StatusServiceUnavailable)
			return false
		}
		return true
	}
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if ready(w) {
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		if ready(w) {
			_, _ = w.Write([]byte(`{"data":[{"id":"test","object":"model"}]}`))
		}
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", tok)
		}
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":2,\"total_tokens\":5}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	srv := &http.Server{Addr: host + ":" + port, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
