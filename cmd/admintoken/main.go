// Command admintoken signs an administrator access token with the configured
// JWT secret, for local use against the admin endpoints.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ieppc/matricula/internal/app/models"
	"github.com/ieppc/matricula/internal/bootstrap"
	"github.com/ieppc/matricula/internal/config"
	"github.com/ieppc/matricula/internal/pkg/auth"
	"github.com/ieppc/matricula/internal/pkg/logger"
)

func main() {
	adminID := flag.Int64("id", 1, "administrator ID placed in the token")
	email := flag.String("email", "admin@ieppc.edu.pe", "administrator email")
	flag.Parse()

	cfg, err := config.LoadConfig(bootstrap.ConfigPath())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	jwtService := auth.NewJWTService(auth.JWTConfig{
		SecretKey:      cfg.JWT.Secret,
		AccessTokenExp: cfg.Duration(cfg.JWT.AccessTokenExpiration),
		TokenIssuer:    cfg.JWT.Issuer,
	})
	token, err := jwtService.GenerateAccessToken(*adminID, *email, string(models.RoleAdmin))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to sign token")
		os.Exit(1)
	}
	fmt.Println(token)
}
