package cmd

import (
	"context"

	"github.com/muesli/coral"
	"github.com/ocflcore/ocfl"
	"github.com/ocflcore/ocfl/extension"
)

var initFlags = struct {
	layout      string
	description string
}{}

var initCmd = &coral.Command{
	Use:   "init",
	Short: "initialize a new storage root",
	Long:  "init creates a new OCFL storage root with a NAMASTE declaration and a storage layout extension.",
	Run: func(cmd *coral.Command, args []string) {
		runInit(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initFlags.layout, "layout", "0002-flat-direct-storage-layout", "storage layout extension name")
	initCmd.Flags().StringVar(&initFlags.description, "description", "", "storage root description")
}

func runInit(ctx context.Context) {
	conf, err := getConfig()
	if err != nil {
		log.Error("can't load config", "err", err)
		return
	}
	repo := conf.Repo(rootFlags.repoName)
	layoutName := initFlags.layout
	if repo != nil && repo.Layout != "" {
		layoutName = repo.Layout
	}
	ext, err := extension.Get(layoutName)
	if err != nil {
		log.Error("unknown layout extension", "layout", layoutName, "err", err)
		return
	}
	root, cleanup, err := getRoot(ctx, ocfl.InitRoot(ocfl.Spec1_1, initFlags.description, ext))
	if err != nil {
		log.Error("initializing storage root", "err", err)
		return
	}
	defer cleanup()
	log.Info("storage root initialized",
		"spec", root.Spec(),
		"layout", root.LayoutName(),
	)
}
