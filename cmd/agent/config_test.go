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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func buildConfigFromEnv(t *testing.T) (config, error) {
	t.Helper()

	var cfg config
	var buildErr error

	app := &cli.App{
		Commands: []*cli.Command{
			{
				Name:  "auth-server",
				Flags: newAuthServerCmd().flags,
				Action: func(cliCtx *cli.Context) error {
					cfg, buildErr = buildConfig(cliCtx)
					return nil
				},
			},
		},
	}

	require.NoError(t, app.Run([]string{"agent", "auth-server"}))

	return cfg, buildErr
}

func TestBuildConfig_FromEnvironment(t *testing.T) {
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "80")
	t.Setenv("KEYCLOAK_BASE_URL", "http://id.domain.de/realms/my_realm/")
	t.Setenv("CLIENT_ID", "my_oidc_client")
	t.Setenv("CLIENT_SECRET", "1t6IZN9qW2Ex1ZlS0OkBeATj")
	t.Setenv("AUTH_CALLBACK_PATH", "/_auth/callback")
	t.Setenv("REDIS_URL", "redis://my_redis:6379/42")
	t.Setenv("SESSION_ALLOWED_TTL", "1337")
	t.Setenv("SESSION_FORBIDDEN_TTL", "42")

	cfg, err := buildConfigFromEnv(t)
	require.NoError(t, err)

	assert.Equal(t, config{
		host:                "127.0.0.1",
		port:                80,
		keycloakBaseURL:     "http://id.domain.de/realms/my_realm/",
		clientID:            "my_oidc_client",
		clientSecret:        "1t6IZN9qW2Ex1ZlS0OkBeATj",
		authCallbackPath:    "/_auth/callback",
		redisURL:            "redis://my_redis:6379/42",
		sessionAllowedTTL:   1337 * time.Second,
		sessionForbiddenTTL: 42 * time.Second,
	}, cfg)
}

func TestBuildConfig_ClientSecretFromFile(t *testing.T) {
	secretFile := filepath.Join(t.TempDir(), "client_secret")
	require.NoError(t, os.WriteFile(secretFile, []byte("1t6IZN9qW2Ex1ZlS0OkBeATj\n"), 0o600))

	t.Setenv("KEYCLOAK_BASE_URL", "http://id.domain.de/realms/my_realm/")
	t.Setenv("CLIENT_ID", "my_oidc_client")
	t.Setenv("CLIENT_SECRET_FILE", secretFile)
	t.Setenv("AUTH_CALLBACK_PATH", "/_auth/callback")
	t.Setenv("REDIS_URL", "redis://my_redis:6379/42")
	t.Setenv("SESSION_ALLOWED_TTL", "1337")
	t.Setenv("SESSION_FORBIDDEN_TTL", "42")

	cfg, err := buildConfigFromEnv(t)
	require.NoError(t, err)

	assert.Equal(t, "1t6IZN9qW2Ex1ZlS0OkBeATj", cfg.clientSecret)
}

func TestBuildConfig_MissingClientSecret(t *testing.T) {
	t.Setenv("KEYCLOAK_BASE_URL", "http://id.domain.de/realms/my_realm/")
	t.Setenv("CLIENT_ID", "my_oidc_client")
	t.Setenv("AUTH_CALLBACK_PATH", "/_auth/callback")
	t.Setenv("REDIS_URL", "redis://my_redis:6379/42")
	t.Setenv("SESSION_ALLOWED_TTL", "1337")
	t.Setenv("SESSION_FORBIDDEN_TTL", "42")

	_, err := buildConfigFromEnv(t)

	assert.EqualError(t, err, "one of client-secret or client-secret-file must be set")
}
