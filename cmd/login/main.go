// Command login authenticates against Cognito with the configured
// credentials and prints the tokens as JSON, ready for UPLOAD_TOKEN.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/stefando/resumableupload/internal/auth"
	"github.com/stefando/resumableupload/internal/awsconf"
	"github.com/stefando/resumableupload/internal/config"
	"github.com/stefando/resumableupload/internal/logging"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(logging.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON, File: cfg.LogFile})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if cfg.Username == "" || cfg.Password == "" {
		return fmt.Errorf("UPLOAD_USERNAME and UPLOAD_PASSWORD must be set")
	}
	if cfg.CognitoClientID == "" && cfg.StackName == "" {
		return fmt.Errorf("COGNITO_CLIENT_ID or STACK_NAME must be set")
	}

	awsCfg, err := awsconf.Load(ctx, cfg.AWSRegion)
	if err != nil {
		return err
	}

	resp, err := auth.NewLoginServiceFromConfig(awsCfg, log).Authenticate(ctx, auth.Credentials{
		ClientID:  cfg.CognitoClientID,
		StackName: cfg.StackName,
		Tenant:    cfg.Tenant,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	log.Debug("logged in", zap.String("username", cfg.Username), zap.Int32("expires_in", resp.ExpiresIn))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
