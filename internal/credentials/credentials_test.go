package credentials

import (
	"context"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/taskbridge/internal/domain"
)

var testKey = base64.StdEncoding.EncodeToString([]byte("not-a-real-account-key"))

func newTestMinter(t *testing.T, now time.Time) *SharedKeyMinter {
	t.Helper()
	m, err := NewSharedKeyMinter(
		Account{Name: "queues", Key: testKey},
		Account{Name: "tables", Key: testKey, URL: "https://tables.example.test/"},
		Account{Name: "blobs", Key: testKey},
		nil,
	)
	if err != nil {
		t.Fatalf("NewSharedKeyMinter() err=%v", err)
	}
	m.now = func() time.Time { return now }
	return m
}

func parseToken(t *testing.T, tok Token) url.Values {
	t.Helper()
	q, err := url.ParseQuery(tok.Token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	return q
}

func TestPermissionStrings(t *testing.T) {
	if got := (QueuePermissions{Add: true}).String(); got != "a" {
		t.Fatalf("queue add=%q, want a", got)
	}
	if got := (TablePermissions{Read: true, Write: true, Update: true}).String(); got != "rau" {
		t.Fatalf("table rwu=%q, want rau", got)
	}
	if got := (BlobPermissions{Write: true}).String(); got != "w" {
		t.Fatalf("blob write=%q, want w", got)
	}
	if got := (BlobPermissions{Read: true, Add: true, Create: true, Write: true, Delete: true}).String(); got != "racwd" {
		t.Fatalf("blob all=%q, want racwd", got)
	}
}

func TestQueueToken(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := newTestMinter(t, now)

	tok, err := m.QueueToken(context.Background(), "signals", QueuePermissions{Add: true}, 0)
	if err != nil {
		t.Fatalf("QueueToken() err=%v", err)
	}
	if tok.AccountURL != "https://queues.queue.core.windows.net" {
		t.Fatalf("AccountURL=%q", tok.AccountURL)
	}
	if !tok.ExpiresAt.Equal(now.Add(DefaultTTL)) || !tok.StartsAt.Equal(now) {
		t.Fatalf("window=%s..%s", tok.StartsAt, tok.ExpiresAt)
	}

	q := parseToken(t, tok)
	if q.Get("sp") != "a" || q.Get("se") != "2026-01-09T03:04:05Z" || q.Get("st") != "2026-01-02T03:04:05Z" {
		t.Fatalf("token query=%v", q)
	}
	if q.Get("sv") == "" || q.Get("sig") == "" {
		t.Fatalf("token query missing version or signature: %v", q)
	}
}

func TestQueueToken_SignatureDependsOnKey(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := newTestMinter(t, now)
	b, err := NewSharedKeyMinter(Account{Name: "queues", Key: base64.StdEncoding.EncodeToString([]byte("another-account-key"))}, Account{}, Account{}, nil)
	if err != nil {
		t.Fatalf("NewSharedKeyMinter() err=%v", err)
	}
	b.now = func() time.Time { return now }

	ta, err := a.QueueToken(context.Background(), "signals", QueuePermissions{Add: true}, 0)
	if err != nil {
		t.Fatalf("QueueToken() err=%v", err)
	}
	again, _ := a.QueueToken(context.Background(), "signals", QueuePermissions{Add: true}, 0)
	tb, err := b.QueueToken(context.Background(), "signals", QueuePermissions{Add: true}, 0)
	if err != nil {
		t.Fatalf("QueueToken() err=%v", err)
	}
	if parseToken(t, ta).Get("sig") != parseToken(t, again).Get("sig") {
		t.Fatalf("signature should be deterministic for the same key and window")
	}
	if parseToken(t, ta).Get("sig") == parseToken(t, tb).Get("sig") {
		t.Fatalf("signatures from different keys should differ")
	}
}

func TestTableToken(t *testing.T) {
	m := newTestMinter(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	tok, err := m.TableToken(context.Background(), "TaskRuns", TablePermissions{Read: true, Write: true, Update: true}, time.Hour)
	if err != nil {
		t.Fatalf("TableToken() err=%v", err)
	}
	if tok.AccountURL != "https://tables.example.test" {
		t.Fatalf("AccountURL=%q", tok.AccountURL)
	}
	if tok.Permissions != "rau" || !tok.ExpiresAt.Equal(time.Date(2026, 1, 2, 1, 0, 0, 0, time.UTC)) {
		t.Fatalf("token=%+v", tok)
	}
	q := parseToken(t, tok)
	if q.Get("sp") != "rau" || !strings.EqualFold(q.Get("tn"), "TaskRuns") || q.Get("sig") == "" {
		t.Fatalf("token query=%v", q)
	}
}

func TestBlobToken(t *testing.T) {
	now := time.Now().UTC()
	m := newTestMinter(t, now)
	tok, err := m.BlobToken(context.Background(), "tasklogs", "r1/j1/t1/run.log", BlobPermissions{Write: true}, 0)
	if err != nil {
		t.Fatalf("BlobToken() err=%v", err)
	}
	q := parseToken(t, tok)
	if q.Get("sp") != "w" || q.Get("sr") != "b" || q.Get("sig") == "" {
		t.Fatalf("token query=%v", q)
	}
	if !tok.ExpiresAt.After(now) {
		t.Fatalf("ExpiresAt=%s should be after %s", tok.ExpiresAt, now)
	}
}

func TestMintRejectsEmptyRequests(t *testing.T) {
	m := newTestMinter(t, time.Now())
	ctx := context.Background()
	if _, err := m.QueueToken(ctx, "", QueuePermissions{Add: true}, 0); !errors.Is(err, domain.ErrCredential) {
		t.Fatalf("QueueToken(empty) err=%v, want ErrCredential", err)
	}
	if _, err := m.TableToken(ctx, "runs", TablePermissions{}, 0); !errors.Is(err, domain.ErrCredential) {
		t.Fatalf("TableToken(no perms) err=%v, want ErrCredential", err)
	}
	if _, err := m.BlobToken(ctx, "c", "", BlobPermissions{Write: true}, 0); !errors.Is(err, domain.ErrCredential) {
		t.Fatalf("BlobToken(empty path) err=%v, want ErrCredential", err)
	}
}

func TestNewSharedKeyMinter_InvalidKey(t *testing.T) {
	_, err := NewSharedKeyMinter(Account{Name: "a", Key: "%%%"}, Account{Name: "b", Key: testKey}, Account{Name: "c", Key: testKey}, nil)
	if err == nil {
		t.Fatalf("NewSharedKeyMinter() expected error for invalid key")
	}
}

type fakePresigner struct {
	method string
	bucket string
	object string
	ttl    time.Duration
	err    error
}

func (p *fakePresigner) PresignedPutObject(ctx context.Context, bucket, object string, expires time.Duration) (*url.URL, error) {
	p.method, p.bucket, p.object, p.ttl = "PUT", bucket, object, expires
	if p.err != nil {
		return nil, p.err
	}
	return url.Parse("http://minio.test:9000/" + bucket + "/" + object + "?X-Amz-Signature=abc&X-Amz-Expires=60")
}

func (p *fakePresigner) PresignedGetObject(ctx context.Context, bucket, object string, expires time.Duration, reqParams url.Values) (*url.URL, error) {
	p.method, p.bucket, p.object, p.ttl = "GET", bucket, object, expires
	if p.err != nil {
		return nil, p.err
	}
	return url.Parse("http://minio.test:9000/" + bucket + "/" + object + "?X-Amz-Signature=def")
}

func TestObjectStoreBlobMinter(t *testing.T) {
	p := &fakePresigner{}
	m, err := NewObjectStoreBlobMinter(p, nil)
	if err != nil {
		t.Fatalf("NewObjectStoreBlobMinter() err=%v", err)
	}

	tok, err := m.BlobToken(context.Background(), "tasklogs", "r1/j1/t1/output.json", BlobPermissions{Write: true}, 0)
	if err != nil {
		t.Fatalf("BlobToken(write) err=%v", err)
	}
	if p.method != "PUT" || p.ttl != DefaultTTL || p.bucket != "tasklogs" {
		t.Fatalf("presign call=%+v", p)
	}
	if tok.AccountURL != "http://minio.test:9000" || !strings.Contains(tok.Token, "X-Amz-Signature=abc") {
		t.Fatalf("token=%+v", tok)
	}

	if _, err := m.BlobToken(context.Background(), "taskio", "in.json", BlobPermissions{Read: true}, time.Hour); err != nil {
		t.Fatalf("BlobToken(read) err=%v", err)
	}
	if p.method != "GET" || p.ttl != time.Hour {
		t.Fatalf("presign call=%+v", p)
	}
}

func TestObjectStoreBlobMinter_Rejects(t *testing.T) {
	p := &fakePresigner{}
	m, _ := NewObjectStoreBlobMinter(p, nil)
	ctx := context.Background()

	if _, err := m.BlobToken(ctx, "b", "k", BlobPermissions{Read: true, Write: true}, 0); !errors.Is(err, domain.ErrCredential) {
		t.Fatalf("read+write err=%v, want ErrCredential", err)
	}
	if _, err := m.BlobToken(ctx, "b", "k", BlobPermissions{Write: true}, 8*24*time.Hour); !errors.Is(err, domain.ErrCredential) {
		t.Fatalf("long ttl err=%v, want ErrCredential", err)
	}
	p.err = errors.New("boom")
	if _, err := m.BlobToken(ctx, "b", "k", BlobPermissions{Write: true}, 0); !errors.Is(err, domain.ErrCredential) {
		t.Fatalf("presign failure err=%v, want ErrCredential", err)
	}
}

func TestSharedKeyMinter_WithoutBlobAccount(t *testing.T) {
	m, err := NewSharedKeyMinter(Account{Name: "queues", Key: testKey}, Account{Name: "tables", Key: testKey}, Account{}, nil)
	if err != nil {
		t.Fatalf("NewSharedKeyMinter() err=%v", err)
	}
	if _, err := m.BlobToken(context.Background(), "logs", "a/run.log", BlobPermissions{Write: true}, time.Hour); !errors.Is(err, domain.ErrCredential) {
		t.Fatalf("BlobToken() err=%v, want ErrCredential", err)
	}

	presigned, _ := NewObjectStoreBlobMinter(&fakePresigner{}, nil)
	var minter Minter = Composite{QueueMinter: m, TableMinter: m, BlobMinter: presigned}
	if _, err := minter.QueueToken(context.Background(), "signals", QueuePermissions{Add: true}, time.Hour); err != nil {
		t.Fatalf("QueueToken() err=%v", err)
	}
}
