package minio

import (
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
)

const defaultCopyConcurrency = 8

// Config holds bucket backend configuration.
type Config struct {
	// Endpoint is the server address, e.g. "localhost:9000".
	Endpoint string

	// Bucket holds the shared objects.
	Bucket string

	AccessKey string
	SecretKey string

	// UseSSL enables HTTPS connections.
	UseSSL bool

	// Prefix namespaces every key. The host-local path "/" maps onto it.
	Prefix string

	// Client is an optional pre-configured client. If set, Endpoint and the
	// credentials are ignored.
	Client *minio.Client

	// CopyConcurrency limits concurrent object copies during directory copy
	// and rename. Defaults to 8.
	CopyConcurrency int
}

// validate checks that either Client or a full set of connection fields is
// present.
func (c *Config) validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.Client != nil {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when client is not provided")
	}
	if c.AccessKey == "" {
		return fmt.Errorf("access key is required when client is not provided")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("secret key is required when client is not provided")
	}
	return nil
}

// normalizePrefix trims slashes so keys never start with "/".
func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/")
	if prefix == "." {
		return ""
	}
	return prefix
}
