// Package config loads repository configuration from a YAML file. The core
// ocfl package never reads configuration itself; this package is consumed by
// cmd/ocflcore and by applications embedding the library.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/goccy/go-yaml"
	ocflfs "github.com/ocflcore/ocfl/fs"
	"github.com/ocflcore/ocfl/fs/cloud"
	"github.com/ocflcore/ocfl/fs/local"
	"github.com/ocflcore/ocfl/fs/memfs"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/azureblob"
	"gocloud.dev/blob/s3blob"
)

const (
	DefaultRepoName = "default"

	fileDriver  = "file"
	s3Driver    = "s3"
	azureDriver = "azure"
	memDriver   = "mem"
)

// Config is the top-level configuration document.
type Config struct {
	Name  string                 `yaml:"name"`  // user name for version metadata
	Email string                 `yaml:"email"` // user address for version metadata
	Repos map[string]*RepoConfig `yaml:"repos"`
}

// RepoConfig configures one repository: its storage backend, layout, and
// update behavior.
type RepoConfig struct {
	Driver   string  `yaml:"driver"` // storage driver: "file", "s3", "azure", or "mem"
	Path     string  `yaml:"path,omitempty"`
	Bucket   *string `yaml:"bucket,omitempty"`
	Endpoint *string `yaml:"endpoint,omitempty"`
	Region   *string `yaml:"region,omitempty"`

	// Layout names the storage layout extension used to initialize new
	// storage roots (e.g. "0002-flat-direct-storage-layout").
	Layout string `yaml:"layout,omitempty"`

	// DigestAlgorithm names a primary digest algorithm for new objects
	// ("sha512" or "sha256"). Load decodes it, but nothing in this module
	// reads it: new objects use ocfl.DefaultDigestAlgorithm.
	DigestAlgorithm string `yaml:"digest_algorithm,omitempty"`

	// LockTimeout names a wait limit for object write locks. Load decodes
	// it, but nothing in this module reads it: objects use
	// ocfl.DefaultLockTimeout unless ocfl.ObjectWithLockTimeout is given.
	LockTimeout time.Duration `yaml:"lock_timeout,omitempty"`

	// MutableHead is a mutable-HEAD setting for the repository. Load decodes
	// it, but nothing in this module reads it: the mutable-HEAD commands run
	// whether or not it is set.
	MutableHead bool `yaml:"mutable_head,omitempty"`
}

// Load reads and decodes the config file at name. If the file doesn't exist,
// Load returns a default config with a single file-backed repo rooted in the
// working directory.
func Load(name string) (*Config, error) {
	f, err := os.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", name, err)
	}
	defer f.Close()
	cfg := &Config{}
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", name, err)
	}
	return cfg, nil
}

// Default returns the config used when no config file exists.
func Default() *Config {
	return &Config{
		Repos: map[string]*RepoConfig{
			DefaultRepoName: {Driver: fileDriver, Path: "."},
		},
	}
}

// Write encodes cfg as YAML to w.
func (cfg *Config) Write(w io.Writer) error {
	return yaml.NewEncoder(w).Encode(cfg)
}

// Repo returns the named repo config, or nil if it doesn't exist. An empty
// name means DefaultRepoName.
func (cfg *Config) Repo(name string) *RepoConfig {
	if name == "" {
		name = DefaultRepoName
	}
	return cfg.Repos[name]
}

// NewFSPath builds the storage backend for the named repo and returns it with
// the storage root's path relative to the backend. The returned FS may
// implement io.Closer; callers should close it when done.
func (cfg *Config) NewFSPath(ctx context.Context, name string) (ocflfs.FS, string, error) {
	repo := cfg.Repo(name)
	if repo == nil {
		return nil, "", fmt.Errorf("no repo named %q in config", name)
	}
	fsys, err := repo.NewFS(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("in %q storage driver: %w", repo.Driver, err)
	}
	// for the file driver, the backend is rooted at repo.Path, so the storage
	// root's relative path is always "."
	return fsys, ".", nil
}

// NewFS builds the storage backend described by repo.
func (repo *RepoConfig) NewFS(ctx context.Context) (ocflfs.FS, error) {
	switch repo.Driver {
	case fileDriver, "":
		return repo.newLocalFS()
	case s3Driver:
		return repo.newS3FS(ctx)
	case azureDriver:
		return repo.newAzureFS(ctx)
	case memDriver:
		return memfs.New(), nil
	default:
		return nil, fmt.Errorf("invalid storage driver: %q", repo.Driver)
	}
}

func (repo *RepoConfig) newLocalFS() (*local.FS, error) {
	root := repo.Path
	if root == "" {
		root = "."
	}
	root = filepath.Clean(root)
	if !filepath.IsAbs(root) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		root = filepath.Join(wd, root)
	}
	return local.NewFS(root)
}

func (repo *RepoConfig) newS3FS(ctx context.Context) (*cloud.FS, error) {
	if repo.Bucket == nil {
		return nil, errors.New("'bucket' config is required")
	}
	awsCfg := aws.Config{
		Region:   repo.Region,
		Endpoint: repo.Endpoint,
	}
	sess, err := session.NewSession(&awsCfg)
	if err != nil {
		return nil, err
	}
	bucket, err := s3blob.OpenBucket(ctx, sess, *repo.Bucket, nil)
	if err != nil {
		return nil, err
	}
	return cloud.NewFS(bucket), nil
}

func (repo *RepoConfig) newAzureFS(ctx context.Context) (*cloud.FS, error) {
	if repo.Bucket == nil {
		return nil, errors.New("'bucket' config is required")
	}
	bucket, err := blob.OpenBucket(ctx, "azblob://"+*repo.Bucket)
	if err != nil {
		return nil, err
	}
	return cloud.NewFS(bucket), nil
}
