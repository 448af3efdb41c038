// SPDX-FileCopyrightText: 2022 Sascha Brawer <sascha@brawer.ch>
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3 is the subset of minio.Client used by this program: uploading a
// part's finished sidecar files to object storage. Narrowed to just
// the methods actually called, so tests can fake it without pulling in
// the full (rather big) minio client surface.
type S3 interface {
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// NewStorageClient sets up a client for accessing S3-compatible object
// storage, either from a JSON key file or from S3_ENDPOINT/S3_KEY/
// S3_SECRET environment variables.
func NewStorageClient(keypath string) (*minio.Client, error) {
	var config struct{ Endpoint, Key, Secret string }

	if keypath == "" {
		config.Endpoint = os.Getenv("S3_ENDPOINT")
		config.Key = os.Getenv("S3_KEY")
		config.Secret = os.Getenv("S3_SECRET")
	} else {
		data, err := os.ReadFile(keypath)
		if err != nil {
			return nil, fmt.Errorf("s3: %w", err)
		}
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("s3: %w", err)
		}
	}

	if config.Endpoint == "" {
		return nil, nil
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.Key, config.Secret, ""),
		Secure: true,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: %w", err)
	}
	client.SetAppInfo("graph-preloader", "0.1")
	return client, nil
}

// UploadFile stores one finished sidecar file under dest in bucket.
func UploadFile(ctx context.Context, file string, s3 S3, bucket, dest, contentType string) error {
	_, err := s3.FPutObject(ctx, bucket, dest, file, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("s3: upload %s: %w", dest, err)
	}
	return nil
}
