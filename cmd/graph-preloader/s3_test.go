// SPDX-FileCopyrightText: 2022 Sascha Brawer <sascha@brawer.ch>
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
)

type FakeS3 struct {
	bucket string
	data   map[string][]byte
	mutex  sync.RWMutex
}

func NewFakeS3(bucket string) *FakeS3 {
	return &FakeS3{bucket: bucket, data: make(map[string][]byte, 10)}
}

func (s3 *FakeS3) FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	s3.mutex.Lock()
	defer s3.mutex.Unlock()

	if bucketName != s3.bucket {
		return minio.UploadInfo{}, fmt.Errorf("unexpected bucket %v", bucketName)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	s3.data[objectName] = data
	return minio.UploadInfo{Bucket: bucketName, Key: objectName, Size: int64(len(data))}, nil
}

func TestUploadFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/part-001_vertices.jsonl"
	if err := os.WriteFile(path, []byte(`{"id":"dbg:Q1"}`+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	fake := NewFakeS3("graphs")
	if err := UploadFile(context.Background(), path, fake, "graphs", "part-001_vertices.jsonl", "application/jsonl"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}

	got, ok := fake.data["part-001_vertices.jsonl"]
	if !ok {
		t.Fatalf("object not stored")
	}
	if string(got) != `{"id":"dbg:Q1"}`+"\n" {
		t.Errorf("stored content = %q", got)
	}
}

func TestUploadFileWrongBucket(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/empty.jsonl"
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}

	fake := NewFakeS3("graphs")
	err := UploadFile(context.Background(), path, fake, "other-bucket", "empty.jsonl", "application/jsonl")
	if err == nil {
		t.Fatalf("expected an error for a mismatched bucket")
	}
}
