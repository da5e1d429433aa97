package blobstore

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"gopkg.in/yaml.v3"
)

// ErrContainerNotFound marks an upload that failed because the target
// container does not exist yet. The uploader creates it and retries the
// same target.
var ErrContainerNotFound = errors.New("container not found")

// Account is one storage account credential pair.
type Account struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

// ParseAccounts parses the comma-separated "name:key,name:key" credential
// list form used by configuration.
func ParseAccounts(s string) ([]Account, error) {
	var accounts []Account
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, key, ok := strings.Cut(entry, ":")
		if !ok || name == "" || key == "" {
			return nil, fmt.Errorf("malformed account entry %q, expected name:key", entry)
		}
		accounts = append(accounts, Account{Name: name, Key: key})
	}
	if len(accounts) == 0 {
		return nil, errors.New("no blob accounts configured")
	}
	return accounts, nil
}

// LoadAccountsFile reads a YAML list of accounts from disk.
func LoadAccountsFile(path string) ([]Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}
	var accounts []Account
	if err := yaml.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("parse accounts file: %w", err)
	}
	if len(accounts) == 0 {
		return nil, errors.New("accounts file is empty")
	}
	return accounts, nil
}

// BlobAccount is the uploader's view of one storage account. The Azure
// implementation is wrapped behind this so tests can fake the service.
type BlobAccount interface {
	Name() string
	Upload(ctx context.Context, container, blobName string, payload []byte) error
	CreateContainer(ctx context.Context, container string) error
	SASURL(container, blobName string, expiry time.Time) (string, error)
}

type azureAccount struct {
	name   string
	client *azblob.Client
	cred   *azblob.SharedKeyCredential
}

// NewAzureAccount builds a shared-key client for one storage account.
func NewAzureAccount(account Account) (BlobAccount, error) {
	cred, err := azblob.NewSharedKeyCredential(account.Name, account.Key)
	if err != nil {
		return nil, fmt.Errorf("create shared key credential for %s: %w", account.Name, err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", account.Name)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create blob client for %s: %w", account.Name, err)
	}
	return &azureAccount{name: account.Name, client: client, cred: cred}, nil
}

func (a *azureAccount) Name() string { return a.name }

func (a *azureAccount) Upload(ctx context.Context, container, blobName string, payload []byte) error {
	_, err := a.client.UploadBuffer(ctx, container, blobName, payload, nil)
	if err == nil {
		return nil
	}
	if bloberror.HasCode(err, bloberror.ContainerNotFound) {
		return fmt.Errorf("%w: %s", ErrContainerNotFound, container)
	}
	return err
}

func (a *azureAccount) CreateContainer(ctx context.Context, container string) error {
	_, err := a.client.CreateContainer(ctx, container, nil)
	if err != nil && bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil
	}
	return err
}

func (a *azureAccount) SASURL(container, blobName string, expiry time.Time) (string, error) {
	perms := sas.BlobPermissions{Read: true}
	values := sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		ExpiryTime:    expiry.UTC(),
		Permissions:   perms.String(),
		ContainerName: container,
		BlobName:      blobName,
	}
	params, err := values.SignWithSharedKey(a.cred)
	if err != nil {
		return "", fmt.Errorf("sign blob sas: %w", err)
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/%s/%s?%s", a.name, container, blobName, params.Encode()), nil
}

// AccountPool holds the configured accounts and picks one pseudo-randomly
// per flush. Safe for concurrent use across partitions: the slice is
// read-only after construction.
type AccountPool struct {
	accounts []BlobAccount
}

// NewAccountPool builds Azure-backed accounts for every credential pair.
func NewAccountPool(accounts []Account) (*AccountPool, error) {
	if len(accounts) == 0 {
		return nil, errors.New("no blob accounts configured")
	}
	pool := &AccountPool{accounts: make([]BlobAccount, 0, len(accounts))}
	for _, acct := range accounts {
		client, err := NewAzureAccount(acct)
		if err != nil {
			return nil, err
		}
		pool.accounts = append(pool.accounts, client)
	}
	return pool, nil
}

// NewPoolOf wraps pre-built accounts, used by tests.
func NewPoolOf(accounts ...BlobAccount) *AccountPool {
	return &AccountPool{accounts: accounts}
}

// Pick returns a pseudo-random account.
func (p *AccountPool) Pick() BlobAccount {
	return p.accounts[rand.IntN(len(p.accounts))]
}

// Len returns the number of configured accounts.
func (p *AccountPool) Len() int { return len(p.accounts) }
