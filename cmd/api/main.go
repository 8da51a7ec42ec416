package main

import (
	"os"

	"github.com/ieppc/matricula/internal/pkg/logger"
	"github.com/ieppc/matricula/internal/server"
)

// @title Matrícula API
// @version 1.0
// @description Student pre-registration and account activation for I.E.P. Peruano Chino

// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Administrator JWT

func main() {
	srv, err := server.NewServer()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize server")
		os.Exit(1)
	}

	// Blocks until shutdown
	if err := srv.Run(); err != nil {
		logger.Error().Err(err).Msg("Server execution failed or shutdown encountered errors")
		os.Exit(1)
	}

	logger.Info().Msg("Application finished gracefully.")
}
