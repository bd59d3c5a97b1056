package storage

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"scenerender/internal/adapters/storage/gdrive"
	"scenerender/internal/adapters/storage/localfs"
	"scenerender/internal/adapters/storage/s3"
	"scenerender/internal/config"
)

// NewProvider builds the store selected by STORAGE_PROVIDER.
func NewProvider(ctx context.Context, cfg *config.Config) (Provider, error) {
	switch cfg.StorageProvider {
	case "", "localfs":
		if cfg.StorageRoot == "" {
			return nil, fmt.Errorf("missing env: STORAGE_LOCAL_ROOT")
		}
		return localfs.New(cfg.StorageRoot), nil

	case "gdrive":
		return newGDriveProvider(ctx, cfg)

	case "s3":
		st, err := s3.New(s3.Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		if err := st.EnsureBucket(ctx, cfg.S3Region); err != nil {
			return nil, err
		}
		return st, nil

	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.StorageProvider)
	}
}

func newGDriveProvider(ctx context.Context, cfg *config.Config) (Provider, error) {
	for k, v := range map[string]string{
		"GDRIVE_CLIENT_ID":     cfg.GDriveClientID,
		"GDRIVE_CLIENT_SECRET": cfg.GDriveClientSecret,
		"GDRIVE_REFRESH_TOKEN": cfg.GDriveRefreshToken,
	} {
		if v == "" {
			return nil, fmt.Errorf("missing env: %s", k)
		}
	}

	conf := &oauth2.Config{
		ClientID:     cfg.GDriveClientID,
		ClientSecret: cfg.GDriveClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}

	// The refresh token is exchanged for access tokens on demand.
	tok := &oauth2.Token{RefreshToken: cfg.GDriveRefreshToken}
	httpClient := conf.Client(ctx, tok)

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return gdrive.NewClient(srv, cfg.GDriveFolderID), nil
}
