package main

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"acquiring-service/internal/config"
	"acquiring-service/internal/logging"
)

const defaultPort = "8085"

func main() {
	cfg := config.MustLoadConfig(".")
	logger := logging.GetLogger(cfg.Logs).With("component", "gateway-mock")

	port := os.Getenv("MOCK_PORT")
	if port == "" {
		port = defaultPort
	}

	g := newFakeGateway(cfg.Gateway.TerminalKey, cfg.Gateway.SecretKey, "http://localhost:"+port, logger)
	if rate, err := strconv.ParseFloat(os.Getenv("MOCK_ERROR_RATE"), 64); err == nil {
		g.errorRate = rate
	}
	if delayMs, err := strconv.Atoi(os.Getenv("MOCK_NOTIFICATION_DELAY_MS")); err == nil {
		g.notificationDelay = time.Duration(delayMs) * time.Millisecond
	} else {
		g.notificationDelay = 3 * time.Second
	}

	logger.Info("Starting gateway mock", "port", port, "terminalKey", cfg.Gateway.TerminalKey)
	log.Fatal(http.ListenAndServe(":"+port, loggingMiddleware(logger, g.routes())))
}
