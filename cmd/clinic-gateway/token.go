// ABOUTME: The token subcommand mints signed operator tokens for the REST API
// ABOUTME: Uses the jwt_secret from the gateway config unless --secret is given

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/2389/clinic-gateway/internal/auth"
	"github.com/2389/clinic-gateway/internal/config"
)

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	subject := fs.String("subject", "", "operator name recorded in the token (required)")
	roleName := fs.String("role", string(auth.RoleStaff), "role granted: staff or admin")
	expires := fs.Duration("expires", 30*24*time.Hour, "token lifetime")
	secret := fs.String("secret", "", "signing secret (defaults to auth.jwt_secret from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *subject == "" {
		return errors.New("--subject is required")
	}
	role, err := auth.ParseRole(*roleName)
	if err != nil {
		return err
	}

	key := *secret
	if key == "" {
		cfg, err := config.Load(getConfigPath())
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		key = cfg.Auth.JWTSecret
	}
	if key == "" {
		return errors.New("no signing secret: set auth.jwt_secret or pass --secret")
	}

	verifier, err := auth.NewJWTVerifier([]byte(key))
	if err != nil {
		return err
	}
	token, err := verifier.Generate(*subject, role, *expires)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Fprintln(out, token)
	return nil
}
