package credentials

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	blobsas "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	queuesas "github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue/sas"

	"github.com/animus-labs/taskbridge/internal/domain"
	"github.com/animus-labs/taskbridge/internal/platform/metrics"
)

// Account is a storage account addressed by name and signed with its shared key.
type Account struct {
	Name string
	Key  string
	URL  string
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return errors.New("account name is required")
	}
	if _, err := base64.StdEncoding.DecodeString(a.Key); err != nil || strings.TrimSpace(a.Key) == "" {
		return fmt.Errorf("account %q: key must be non-empty base64", a.Name)
	}
	return nil
}

func (a Account) urlFor(service string) string {
	if u := strings.TrimRight(strings.TrimSpace(a.URL), "/"); u != "" {
		return u
	}
	return fmt.Sprintf("https://%s.%s.core.windows.net", a.Name, service)
}

// SharedKeyMinter signs service SAS tokens locally with account keys.
type SharedKeyMinter struct {
	Queue Account
	Table Account
	Blob  Account

	queueCred *azqueue.SharedKeyCredential
	tableCred *aztables.SharedKeyCredential
	blobCred  *azblob.SharedKeyCredential

	now    func() time.Time
	logger *slog.Logger
}

// NewSharedKeyMinter signs for the given accounts. An account may be left empty
// when its tokens are not needed or come from another minter.
func NewSharedKeyMinter(queue, table, blob Account, logger *slog.Logger) (*SharedKeyMinter, error) {
	if queue == (Account{}) && table == (Account{}) && blob == (Account{}) {
		return nil, errors.New("at least one storage account is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &SharedKeyMinter{
		Queue:  queue,
		Table:  table,
		Blob:   blob,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "sas_minter"),
	}

	var err error
	if queue != (Account{}) {
		if err := queue.Validate(); err != nil {
			return nil, fmt.Errorf("queue account: %w", err)
		}
		if m.queueCred, err = azqueue.NewSharedKeyCredential(queue.Name, queue.Key); err != nil {
			return nil, fmt.Errorf("queue account: %w", err)
		}
	}
	if table != (Account{}) {
		if err := table.Validate(); err != nil {
			return nil, fmt.Errorf("table account: %w", err)
		}
		if m.tableCred, err = aztables.NewSharedKeyCredential(table.Name, table.Key); err != nil {
			return nil, fmt.Errorf("table account: %w", err)
		}
	}
	if blob != (Account{}) {
		if err := blob.Validate(); err != nil {
			return nil, fmt.Errorf("blob account: %w", err)
		}
		if m.blobCred, err = azblob.NewSharedKeyCredential(blob.Name, blob.Key); err != nil {
			return nil, fmt.Errorf("blob account: %w", err)
		}
	}
	return m, nil
}

func (m *SharedKeyMinter) QueueToken(ctx context.Context, queue string, perms QueuePermissions, ttl time.Duration) (Token, error) {
	if strings.TrimSpace(queue) == "" {
		return Token{}, fmt.Errorf("%w: queue name is required", domain.ErrCredential)
	}
	if m.queueCred == nil {
		return Token{}, fmt.Errorf("%w: no queue account configured", domain.ErrCredential)
	}
	sp := perms.String()
	if sp == "" {
		return Token{}, fmt.Errorf("%w: queue %q: no permissions requested", domain.ErrCredential, queue)
	}
	start, expiry := m.window(ttl)

	qp, err := queuesas.QueueSignatureValues{
		StartTime:   start,
		ExpiryTime:  expiry,
		Permissions: sp,
		QueueName:   queue,
	}.SignWithSharedKey(m.queueCred)
	if err != nil {
		return Token{}, fmt.Errorf("%w: queue %q: %v", domain.ErrCredential, queue, err)
	}

	metrics.ObserveCredential("queue")
	m.logger.Debug("minted queue token", "queue", queue, "permissions", sp, "expires_at", expiry)
	return Token{
		AccountURL:  m.Queue.urlFor("queue"),
		Token:       qp.Encode(),
		Permissions: sp,
		StartsAt:    start,
		ExpiresAt:   expiry,
	}, nil
}

func (m *SharedKeyMinter) TableToken(ctx context.Context, table string, perms TablePermissions, ttl time.Duration) (Token, error) {
	if strings.TrimSpace(table) == "" {
		return Token{}, fmt.Errorf("%w: table name is required", domain.ErrCredential)
	}
	if m.tableCred == nil {
		return Token{}, fmt.Errorf("%w: no table account configured", domain.ErrCredential)
	}
	sp := perms.String()
	if sp == "" {
		return Token{}, fmt.Errorf("%w: table %q: no permissions requested", domain.ErrCredential, table)
	}
	start, expiry := m.window(ttl)

	accountURL := m.Table.urlFor("table")
	client, err := aztables.NewClientWithSharedKey(accountURL+"/"+url.PathEscape(table), m.tableCred, nil)
	if err != nil {
		return Token{}, fmt.Errorf("%w: table %q: %v", domain.ErrCredential, table, err)
	}
	sasURL, err := client.GetTableSASURL(aztables.SASPermissions{
		Read:   perms.Read,
		Add:    perms.Write,
		Update: perms.Update,
		Delete: perms.Delete,
	}, start, expiry)
	if err != nil {
		return Token{}, fmt.Errorf("%w: table %q: %v", domain.ErrCredential, table, err)
	}
	parsed, err := url.Parse(sasURL)
	if err != nil {
		return Token{}, fmt.Errorf("%w: table %q: parse sas url: %v", domain.ErrCredential, table, err)
	}

	metrics.ObserveCredential("table")
	m.logger.Debug("minted table token", "table", table, "permissions", sp, "expires_at", expiry)
	return Token{
		AccountURL:  accountURL,
		Token:       parsed.RawQuery,
		Permissions: sp,
		StartsAt:    start,
		ExpiresAt:   expiry,
	}, nil
}

func (m *SharedKeyMinter) BlobToken(ctx context.Context, container, blobPath string, perms BlobPermissions, ttl time.Duration) (Token, error) {
	if strings.TrimSpace(container) == "" || strings.TrimSpace(blobPath) == "" {
		return Token{}, fmt.Errorf("%w: container and blob path are required", domain.ErrCredential)
	}
	if m.blobCred == nil {
		return Token{}, fmt.Errorf("%w: no blob account configured", domain.ErrCredential)
	}
	sp := perms.String()
	if sp == "" {
		return Token{}, fmt.Errorf("%w: blob %s/%s: no permissions requested", domain.ErrCredential, container, blobPath)
	}
	start, expiry := m.window(ttl)

	qp, err := blobsas.BlobSignatureValues{
		StartTime:     start,
		ExpiryTime:    expiry,
		Permissions:   sp,
		ContainerName: container,
		BlobName:      blobPath,
	}.SignWithSharedKey(m.blobCred)
	if err != nil {
		return Token{}, fmt.Errorf("%w: blob %s/%s: %v", domain.ErrCredential, container, blobPath, err)
	}

	metrics.ObserveCredential("blob")
	m.logger.Debug("minted blob token", "container", container, "blob", blobPath, "permissions", sp, "expires_at", expiry)
	return Token{
		AccountURL:  m.Blob.urlFor("blob"),
		Token:       qp.Encode(),
		Permissions: sp,
		StartsAt:    start,
		ExpiresAt:   expiry,
	}, nil
}

func (m *SharedKeyMinter) window(ttl time.Duration) (time.Time, time.Time) {
	start := m.now().UTC().Truncate(time.Second)
	return start, start.Add(ttlOrDefault(ttl))
}
