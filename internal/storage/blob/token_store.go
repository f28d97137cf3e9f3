package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	blobsdk "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"

	"github.com/animus-labs/taskbridge/internal/credentials"
)

const uploadTokenTTL = 15 * time.Minute

// TokenStore uploads each blob with a short lived write token minted for that blob.
type TokenStore struct {
	minter credentials.BlobMinter
	http   *http.Client
}

func NewTokenStore(minter credentials.BlobMinter, httpClient *http.Client) (*TokenStore, error) {
	if minter == nil {
		return nil, fmt.Errorf("blob minter is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &TokenStore{minter: minter, http: httpClient}, nil
}

func (s *TokenStore) Put(ctx context.Context, container, path string, body io.Reader, size int64, contentType string) error {
	tok, err := s.minter.BlobToken(ctx, container, path, credentials.BlobPermissions{Create: true, Write: true}, uploadTokenTTL)
	if err != nil {
		return fmt.Errorf("mint upload token: %w", err)
	}

	blobURL := strings.TrimRight(tok.AccountURL, "/") + "/" + container + "/" + path + "?" + tok.Token
	client, err := blockblob.NewClientWithNoCredential(blobURL, &blockblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{Transport: s.http},
	})
	if err != nil {
		return fmt.Errorf("blob client %s/%s: %w", container, path, err)
	}

	data, err := io.ReadAll(io.LimitReader(body, size+1))
	if err != nil {
		return fmt.Errorf("read %s/%s: %w", container, path, err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("put %s/%s: body is %d bytes, want %d", container, path, len(data), size)
	}
	if _, err := client.UploadBuffer(ctx, data, &blockblob.UploadBufferOptions{
		HTTPHeaders: &blobsdk.HTTPHeaders{BlobContentType: &contentType},
	}); err != nil {
		return fmt.Errorf("put %s/%s: %w", container, path, err)
	}
	return nil
}
