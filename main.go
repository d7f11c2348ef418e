package main

import (
	"github.com/cppla/feedsync/config"
	"github.com/cppla/feedsync/controllers"
	"github.com/cppla/feedsync/routes"
	"github.com/cppla/feedsync/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer func() { _ = utils.Logger.Sync() }()

	if cfg.JWTSecret == "" {
		utils.Sugar.Fatal("JWT_SECRET is required to issue development tokens")
	}

	repo := controllers.NewRepository()
	r := routes.SetupRouter(repo)

	utils.Sugar.Infof("Starting feed backend on port %s (graceful)", cfg.AppPort)
	if err := utils.GraceServer(":"+cfg.AppPort, r); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
