package main

import (
	"log"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/pavel-fokin/filekeeper/internal/server"
)

func main() {
	_ = godotenv.Load()

	cfg := server.Config{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	srv, err := server.New(&cfg)
	if err != nil {
		log.Fatalf("failed to initialize server: %v", err)
	}

	log.Printf("starting server on %s", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}
