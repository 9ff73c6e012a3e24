// Package cmd implements the ocflcore command line tool.
package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/muesli/coral"
	"github.com/ocflcore/ocfl"
	"github.com/ocflcore/ocfl/config"
	"github.com/ocflcore/ocfl/logging"
)

const defaultCfg = `.ocflcore.yaml`

var rootFlags = struct {
	cfgFile  string
	repoName string
	verbose  bool
}{}

var rootCmd = &coral.Command{
	Use:          "ocflcore",
	Short:        "A command line tool for OCFL repositories",
	Long:         "A command line tool for working with OCFL storage roots and objects.",
	SilenceUsage: true,
}

var log = logging.DefaultLogger()

// Execute adds all child commands to the root command and sets flags
// appropriately. It's called once by main.main().
func Execute() {
	ctx := context.Background()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	coral.OnInitialize(initLogging)
	rootCmd.PersistentFlags().StringVarP(&rootFlags.cfgFile, "config", "c", "", "config file (default is $HOME/"+defaultCfg+")")
	rootCmd.PersistentFlags().StringVarP(&rootFlags.repoName, "repo", "r", "", "name of repo in configuration to use")
	rootCmd.PersistentFlags().BoolVarP(&rootFlags.verbose, "verbose", "v", false, "enable debug logging")
}

func initLogging() {
	if rootFlags.verbose {
		logging.SetDefaultLevel(slog.LevelDebug)
	}
}

func getConfig() (*config.Config, error) {
	name := rootFlags.cfgFile
	if name == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		name = filepath.Join(home, defaultCfg)
	}
	return config.Load(name)
}

// getRoot opens the configured storage root. The returned cleanup function
// closes the storage backend if it needs closing.
func getRoot(ctx context.Context, opts ...ocfl.RootOption) (*ocfl.Root, func(), error) {
	conf, err := getConfig()
	if err != nil {
		return nil, nil, err
	}
	fsys, dir, err := conf.NewFSPath(ctx, rootFlags.repoName)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if closer, ok := fsys.(io.Closer); ok {
			closer.Close()
		}
	}
	root, err := ocfl.NewRoot(ctx, fsys, dir, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return root, cleanup, nil
}

// repoUser returns the committer identity from flags, falling back to the
// config file's name/email.
func repoUser(name, addr string) (ocfl.User, error) {
	conf, err := getConfig()
	if err != nil {
		return ocfl.User{}, err
	}
	if name == "" {
		name = conf.Name
	}
	if addr == "" {
		addr = conf.Email
	}
	return ocfl.User{Name: name, Address: addr}, nil
}
