package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stefando/resumableupload/internal/auth"
	"github.com/stefando/resumableupload/internal/awsconf"
	"github.com/stefando/resumableupload/internal/cache"
	"github.com/stefando/resumableupload/internal/config"
	"github.com/stefando/resumableupload/internal/file"
	"github.com/stefando/resumableupload/internal/progress"
	"github.com/stefando/resumableupload/internal/sender"
	"github.com/stefando/resumableupload/internal/upload"
)

type putFlags struct {
	url      string
	name     string
	mimeType string
	hashType string
	interval time.Duration
}

func newPutCmd(a *app) *cobra.Command {
	f := &putFlags{}
	cmd := &cobra.Command{
		Use:   "put <path|data-url|s3://bucket/key>",
		Short: "Upload a file in chunks, resuming from the cache when possible",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.put(cmd.Context(), args[0], f)
		},
	}
	cmd.Flags().StringVar(&f.url, "url", "", "upload endpoint, chunks go to {url}/{name} (defaults to UPLOAD_URL)")
	cmd.Flags().StringVar(&f.name, "name", "", "remote file name (derived from the hash type when empty)")
	cmd.Flags().StringVar(&f.mimeType, "type", "", "mime type (sniffed when empty)")
	cmd.Flags().StringVar(&f.hashType, "hash-type", "", "naming mode: contenthash, hash (fingerprint) or random")
	cmd.Flags().DurationVar(&f.interval, "progress", progress.DefaultInterval, "progress report interval")
	return cmd
}

func (a *app) put(ctx context.Context, arg string, f *putFlags) error {
	endpoint := f.url
	if endpoint == "" {
		endpoint = a.cfg.UploadURL
	}
	if endpoint == "" {
		return fmt.Errorf("no upload URL, pass --url or set UPLOAD_URL")
	}

	settings, err := a.cfg.Settings()
	if err != nil {
		return err
	}
	hasher, ok := file.HasherByName(a.cfg.Hasher)
	if !ok {
		return fmt.Errorf("unknown hasher %q", a.cfg.Hasher)
	}

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		cfg, err := awsconf.Load(ctx, a.cfg.AWSRegion)
		if err != nil {
			return aws.Config{}, err
		}
		if a.cfg.RoleARN != "" && a.cfg.Tenant != "" {
			cfg = awsconf.WithTenantRole(cfg, nil, a.cfg.RoleARN, a.cfg.Tenant)
		}
		awsCfg = &cfg
		return cfg, nil
	}

	source, err := sourceFor(arg, func() (file.S3ObjectAPI, error) {
		cfg, err := loadAWS()
		if err != nil {
			return nil, err
		}
		return s3.NewFromConfig(cfg), nil
	})
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx, loadAWS)
	if err != nil {
		return err
	}
	defer closeStore()

	s, err := sender.New(sender.HTTPRequestors(http.DefaultClient, a.log), nil,
		sender.WithSettings(settings), sender.WithLogger(a.log))
	if err != nil {
		return err
	}
	defer s.Destroy()

	h, err := s.OpenFile(ctx, source, file.Options{
		Filename: f.name,
		MimeType: f.mimeType,
		Cache:    store != nil,
		Expired:  a.cfg.CacheTTL,
		Hasher:   hasher,
		Store:    store,
		Prefix:   a.cfg.CachePrefix,
		Logger:   a.log,
	})
	if err != nil {
		return err
	}
	defer h.Destroy()

	getter, err := a.tokenGetter(ctx, loadAWS)
	if err != nil {
		return err
	}
	var token sender.TokenFunc
	if getter != nil {
		token = s.FetchToken("", getter)
	}

	kill := s.Killer().GenToken()
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		s.Kill(kill)
	}()

	log := a.log.With(zap.String("source", h.Filename()))
	result, err := upload.NewService(s, a.log).Upload(ctx, h, endpoint, upload.Options{
		Name:             f.name,
		HashType:         f.hashType,
		Token:            token,
		KillToken:        kill,
		ProgressInterval: f.interval,
		OnProgress: func(e progress.Event) {
			log.Info("progress",
				zap.Int64("loaded", e.Loaded),
				zap.Int64("total", e.Total),
				zap.String("speed", e.SpeedLabel))
		},
	})
	if err != nil {
		if result != nil {
			log.Warn("upload interrupted, rerun to resume", zap.Int64("bytes", result.Bytes))
		}
		return fmt.Errorf("failed to upload file: %w", err)
	}

	log.Info("upload complete",
		zap.String("name", result.Name),
		zap.Int("chunks", result.Chunks),
		zap.Int("skipped", result.Skipped),
		zap.Int64("bytes", result.Bytes))
	return nil
}

// sourceFor picks a content source from the argument form.
func sourceFor(arg string, s3Client func() (file.S3ObjectAPI, error)) (file.Source, error) {
	switch {
	case file.IsDataURL(arg):
		return file.DataURLSource{URL: arg}, nil
	case strings.HasPrefix(arg, "s3://"):
		bucket, key, ok := strings.Cut(strings.TrimPrefix(arg, "s3://"), "/")
		if !ok || bucket == "" || key == "" {
			return nil, fmt.Errorf("invalid S3 location %q, want s3://bucket/key", arg)
		}
		client, err := s3Client()
		if err != nil {
			return nil, err
		}
		return file.S3Source{Client: client, Bucket: bucket, Key: key}, nil
	default:
		return file.PathSource{Path: arg}, nil
	}
}

// openStore returns the configured cache store, or nil when caching is off.
func (a *app) openStore(ctx context.Context, loadAWS func() (aws.Config, error)) (cache.Store, func(), error) {
	noop := func() {}
	switch a.cfg.CacheBackend {
	case config.CacheNone:
		return nil, noop, nil
	case config.CacheMemory:
		store, err := cache.NewMemoryStore(ctx, a.cfg.CacheTTL)
		if err != nil {
			return nil, noop, err
		}
		return store, func() { _ = store.Close() }, nil
	case config.CacheBadger:
		store, err := cache.OpenBadger(a.cfg.BadgerPath, a.cfg.CacheTTL)
		if err != nil {
			return nil, noop, err
		}
		return store, func() { _ = store.Close() }, nil
	case config.CacheRedis:
		store, err := cache.DialRedis(ctx, a.cfg.RedisAddr, a.cfg.CacheTTL)
		if err != nil {
			return nil, noop, err
		}
		return store, func() { _ = store.Close() }, nil
	case config.CacheS3:
		cfg, err := loadAWS()
		if err != nil {
			return nil, noop, err
		}
		bucket := a.cfg.S3Bucket
		if bucket == "" {
			bucket = auth.GetBucketNameForTenant(a.cfg.Tenant, a.cfg.BucketPrefix)
		}
		return cache.NewS3Store(s3.NewFromConfig(cfg), bucket, "upload-cache/"), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown cache backend %q", a.cfg.CacheBackend)
	}
}

// tokenGetter prefers a configured token and falls back to a Cognito login.
func (a *app) tokenGetter(_ context.Context, loadAWS func() (aws.Config, error)) (auth.Getter, error) {
	switch {
	case a.cfg.Token != "":
		return auth.JWTGetter(a.cfg.Token), nil
	case a.cfg.Username != "":
		cfg, err := loadAWS()
		if err != nil {
			return nil, err
		}
		return auth.NewLoginServiceFromConfig(cfg, a.log).CognitoGetter(auth.Credentials{
			ClientID:  a.cfg.CognitoClientID,
			StackName: a.cfg.StackName,
			Tenant:    a.cfg.Tenant,
			Username:  a.cfg.Username,
			Password:  a.cfg.Password,
		}), nil
	default:
		return nil, nil
	}
}
