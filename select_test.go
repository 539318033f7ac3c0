package credvault

import (
	"context"
	"path/filepath"
	"testing"
)

func TestChoose(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want Kind
	}{
		{"nothing configured", Config{}, KindFile},
		{"file only", Config{FilePath: "data.json"}, KindFile},
		{"postgres dsn", Config{DatabaseDSN: "postgres://u:p@localhost/db"}, KindPostgres},
		{"plain dsn defaults to postgres", Config{DatabaseDSN: "host=localhost dbname=db"}, KindPostgres},
		{"mongodb dsn", Config{DatabaseDSN: "mongodb://localhost:27017"}, KindMongo},
		{"mongodb srv dsn", Config{DatabaseDSN: "mongodb+srv://cluster.example.com"}, KindMongo},
		{"bucket only", Config{BlobBucket: "vault-data"}, KindS3},
		{"gcs provider", Config{BlobBucket: "vault-data", BlobProvider: "gcs"}, KindGCS},
		{"gcs provider case insensitive", Config{BlobBucket: "vault-data", BlobProvider: "GCS"}, KindGCS},
		{"dsn beats bucket", Config{DatabaseDSN: "postgres://localhost/db", BlobBucket: "b"}, KindPostgres},
		{"forced legacy skips dsn", Config{ForceLegacy: true, DatabaseDSN: "postgres://localhost/db"}, KindFile},
		{"forced legacy keeps blob", Config{ForceLegacy: true, DatabaseDSN: "postgres://localhost/db", BlobBucket: "b"}, KindS3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Choose(tt.cfg); got != tt.want {
				t.Errorf("Choose() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	kinds := map[Kind]string{
		KindFile:     "file",
		KindS3:       "s3",
		KindGCS:      "gcs",
		KindPostgres: "postgres",
		KindMongo:    "mongo",
		Kind(99):     "unknown",
	}
	for kind, want := range kinds {
		if got := kind.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}

func TestOpen_FileBackend(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.json")

	v, err := Open(ctx, Config{FilePath: path})
	if err != nil {
		t.Fatalf("failed to open vault: %v", err)
	}
	defer v.Close(ctx)

	if !v.IsConnected() {
		t.Fatal("expected connected vault")
	}

	rec, err := v.Add(ctx, Credential{Email: "a@b.com", Password: "p", ClientID: "cid", RefreshToken: "rt"})
	if err != nil {
		t.Fatalf("failed to add record: %v", err)
	}

	got, err := v.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("failed to read record back: %v", err)
	}
	if got.Email != "a@b.com" {
		t.Errorf("expected round-tripped record, got %+v", got)
	}
}
