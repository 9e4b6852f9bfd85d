package storage

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.uber.org/zap"

	"github.com/example/vision-gate/internal/logging"
)

// AzureStore fetches objects from Azure Blob Storage.
type AzureStore struct {
	client *azblob.Client
	logger *zap.Logger
}

// NewAzureStore builds a store from a connection string. The connection is
// not exercised until the first Fetch.
func NewAzureStore(connectionString string, logger *zap.Logger) (*AzureStore, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, logging.NewOperationError("storage.new_client", "", err)
	}
	return &AzureStore{client: client, logger: logger.Named("storage")}, nil
}

// Fetch downloads the object at bucket/key and returns its bytes.
func (s *AzureStore) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := ValidateReference(bucket, key); err != nil {
		return nil, err
	}

	resp, err := s.client.DownloadStream(ctx, bucket, key, nil)
	if err != nil {
		mapped := mapBlobError(bucket, key, err)
		s.logger.Error("blob download failed",
			zap.String("bucket", bucket), zap.String("key", key), zap.Error(mapped))
		return nil, mapped
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &IOError{Bucket: bucket, Key: key, Err: err}
	}
	return data, nil
}

// mapBlobError translates Azure SDK failures into the retrieval taxonomy.
// Anything unrecognized is treated as transient I/O.
func mapBlobError(bucket, key string, err error) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return ErrNotFound
	}
	if bloberror.HasCode(err,
		bloberror.AuthenticationFailed,
		bloberror.AuthorizationFailure,
		bloberror.AuthorizationPermissionMismatch,
		bloberror.InsufficientAccountPermissions,
	) {
		return ErrAccessDenied
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusForbidden, http.StatusUnauthorized:
			return ErrAccessDenied
		}
	}

	return &IOError{Bucket: bucket, Key: key, Err: err}
}
