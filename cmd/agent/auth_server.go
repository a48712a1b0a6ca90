/*
Copyright (C) 2022-2023 Traefik Labs

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program. If not, see <https://www.gnu.org/licenses/>.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Defelo/nginx-keycloak/pkg/auth"
	"github.com/Defelo/nginx-keycloak/pkg/httpclient"
	"github.com/Defelo/nginx-keycloak/pkg/kvs"
	"github.com/Defelo/nginx-keycloak/pkg/logger"
	"github.com/Defelo/nginx-keycloak/pkg/oidc"
	"github.com/Defelo/nginx-keycloak/pkg/session"
	"github.com/Defelo/nginx-keycloak/pkg/version"
	"github.com/ettle/strcase"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const (
	flagHost                = "host"
	flagPort                = "port"
	flagKeycloakBaseURL     = "keycloak-base-url"
	flagClientID            = "client-id"
	flagClientSecret        = "client-secret"
	flagClientSecretFile    = "client-secret-file"
	flagAuthCallbackPath    = "auth-callback-path"
	flagRedisURL            = "redis-url"
	flagSessionAllowedTTL   = "session-allowed-ttl"
	flagSessionForbiddenTTL = "session-forbidden-ttl"
)

type authServerCmd struct {
	flags []cli.Flag
}

func newAuthServerCmd() authServerCmd {
	flgs := []cli.Flag{
		&cli.StringFlag{
			Name:    flagHost,
			Usage:   "Address on which the sidecar listens for auth requests",
			EnvVars: []string{strcase.ToSNAKE(flagHost)},
			Value:   "0.0.0.0",
		},
		&cli.IntFlag{
			Name:    flagPort,
			Usage:   "Port on which the sidecar listens for auth requests",
			EnvVars: []string{strcase.ToSNAKE(flagPort)},
			Value:   8000,
		},
		&cli.StringFlag{
			Name:     flagKeycloakBaseURL,
			Usage:    "Base URL of the Keycloak realm, with a trailing slash",
			EnvVars:  []string{strcase.ToSNAKE(flagKeycloakBaseURL)},
			Required: true,
		},
		&cli.StringFlag{
			Name:     flagClientID,
			Usage:    "OIDC client ID",
			EnvVars:  []string{strcase.ToSNAKE(flagClientID)},
			Required: true,
		},
		&cli.StringFlag{
			Name:    flagClientSecret,
			Usage:   "OIDC client secret",
			EnvVars: []string{strcase.ToSNAKE(flagClientSecret)},
		},
		&cli.StringFlag{
			Name:    flagClientSecretFile,
			Usage:   "Path to a file holding the OIDC client secret",
			EnvVars: []string{strcase.ToSNAKE(flagClientSecretFile)},
		},
		&cli.StringFlag{
			Name:     flagAuthCallbackPath,
			Usage:    "Path on the protected origin the provider redirects back to",
			EnvVars:  []string{strcase.ToSNAKE(flagAuthCallbackPath)},
			Required: true,
		},
		&cli.StringFlag{
			Name:     flagRedisURL,
			Usage:    "URL of the Redis instance holding sessions",
			EnvVars:  []string{strcase.ToSNAKE(flagRedisURL)},
			Required: true,
		},
		&cli.IntFlag{
			Name:     flagSessionAllowedTTL,
			Usage:    "Lifetime of positive authorization cache entries, in seconds",
			EnvVars:  []string{strcase.ToSNAKE(flagSessionAllowedTTL)},
			Required: true,
		},
		&cli.IntFlag{
			Name:     flagSessionForbiddenTTL,
			Usage:    "Lifetime of negative authorization cache entries, in seconds",
			EnvVars:  []string{strcase.ToSNAKE(flagSessionForbiddenTTL)},
			Required: true,
		},
	}

	flgs = append(flgs, globalFlags()...)

	return authServerCmd{
		flags: flgs,
	}
}

func (c authServerCmd) build() *cli.Command {
	return &cli.Command{
		Name:   "auth-server",
		Usage:  "Runs the forward-auth decision server",
		Flags:  c.flags,
		Action: c.run,
	}
}

// config is the fully resolved auth server configuration.
type config struct {
	host string
	port int

	keycloakBaseURL  string
	clientID         string
	clientSecret     string
	authCallbackPath string

	redisURL            string
	sessionAllowedTTL   time.Duration
	sessionForbiddenTTL time.Duration
}

func buildConfig(cliCtx *cli.Context) (config, error) {
	clientSecret, err := resolveClientSecret(cliCtx)
	if err != nil {
		return config{}, err
	}

	return config{
		host:                cliCtx.String(flagHost),
		port:                cliCtx.Int(flagPort),
		keycloakBaseURL:     cliCtx.String(flagKeycloakBaseURL),
		clientID:            cliCtx.String(flagClientID),
		clientSecret:        clientSecret,
		authCallbackPath:    cliCtx.String(flagAuthCallbackPath),
		redisURL:            cliCtx.String(flagRedisURL),
		sessionAllowedTTL:   time.Duration(cliCtx.Int(flagSessionAllowedTTL)) * time.Second,
		sessionForbiddenTTL: time.Duration(cliCtx.Int(flagSessionForbiddenTTL)) * time.Second,
	}, nil
}

func (c authServerCmd) run(cliCtx *cli.Context) error {
	logger.Setup(cliCtx.String(flagLogLevel), cliCtx.String(flagLogFormat))

	version.Log()

	cfg, err := buildConfig(cliCtx)
	if err != nil {
		return err
	}

	idp, err := oidc.NewClient(oidc.Config{
		BaseURL:      cfg.keycloakBaseURL,
		ClientID:     cfg.clientID,
		ClientSecret: cfg.clientSecret,
		CallbackPath: cfg.authCallbackPath,
	}, httpclient.New(httpclient.Config{}))
	if err != nil {
		return fmt.Errorf("create Keycloak client: %w", err)
	}

	store, err := kvs.New(cfg.redisURL, cfg.sessionAllowedTTL, cfg.sessionForbiddenTTL)
	if err != nil {
		return fmt.Errorf("create session store: %w", err)
	}

	engine := auth.NewEngine(idp, session.NewManager(idp, store), store)

	router := chi.NewRouter()
	router.Get("/_live", func(rw http.ResponseWriter, req *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})
	router.Get("/_ready", func(rw http.ResponseWriter, req *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})
	router.Method(http.MethodGet, "/auth", auth.NewHandler(engine))

	listenAddr := fmt.Sprintf("%s:%d", cfg.host, cfg.port)

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ErrorLog:          stdlog.New(log.Logger.Level(zerolog.DebugLevel), "", 0),
		ReadHeaderTimeout: 2 * time.Second,
	}

	srvDone := make(chan struct{})

	go func() {
		log.Info().Str("addr", listenAddr).Msg("Starting auth server")
		if err = server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Err(err).Msg("Unable to listen and serve auth requests")
		}
		close(srvDone)
	}()

	select {
	case <-cliCtx.Context.Done():
		gracefulCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err = server.Shutdown(gracefulCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown auth server gracefully")
			if err = server.Close(); err != nil {
				return fmt.Errorf("close auth server: %w", err)
			}
		}
	case <-srvDone:
		return errors.New("auth server stopped")
	}

	return nil
}

func resolveClientSecret(cliCtx *cli.Context) (string, error) {
	if file := cliCtx.String(flagClientSecretFile); file != "" {
		secret, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read client secret file: %w", err)
		}

		return strings.TrimSpace(string(secret)), nil
	}

	if secret := cliCtx.String(flagClientSecret); secret != "" {
		return secret, nil
	}

	return "", errors.New("one of client-secret or client-secret-file must be set")
}
