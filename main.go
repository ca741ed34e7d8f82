package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/ScribblerCoder/ctfd-whale/config"
	"github.com/ScribblerCoder/ctfd-whale/database"
	"github.com/ScribblerCoder/ctfd-whale/routes"
	"github.com/ScribblerCoder/ctfd-whale/services"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database.Connect()
	database.MigrateTables()
	database.InitRedis()
	services.SeedSettings()

	// 引擎连不上属于配置错误：提示管理员修好后走 /admin/docker/reload，
	// 不能让平台整个起不来
	if err := services.InitDocker(); err != nil {
		log.Printf("Docker initialization failed: %v", err)
		log.Println("Instance provisioning is disabled until the docker config is fixed.")
	}
	if err := services.InitNetPool(); err != nil {
		log.Printf("Network pool initialization failed: %v", err)
	}

	if services.Docker != nil {
		services.Control = services.NewLifecycle(services.Docker)
	} else {
		services.Control = services.NewLifecycle(nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := services.NewSweeper(services.Control)
	go sweeper.Run(ctx, config.C.SweepInterval)

	r := routes.SetupRouter()
	log.Printf("Starting server on %s", config.C.Listen)
	if err := r.Run(config.C.Listen); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}
