package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/coral"
	"github.com/ocflcore/ocfl"
)

var lsFlags = struct {
	objectID string
	version  string
	digests  bool
}{}

var (
	pathStyle   = lipgloss.NewStyle().Bold(true)
	digestStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	headStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

var lsCmd = &coral.Command{
	Use:   "ls",
	Short: "list objects in the storage root, or files in an object",
	Long:  "Without --id, ls lists every object in the storage root. With --id, it lists the logical paths in one version of the object.",
	Run: func(cmd *coral.Command, args []string) {
		runLS(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().StringVar(&lsFlags.objectID, "id", "", "object ID")
	lsCmd.Flags().StringVar(&lsFlags.version, "version", "", "object version (e.g. v2); defaults to HEAD")
	lsCmd.Flags().BoolVarP(&lsFlags.digests, "digests", "d", false, "include each file's digest")
}

func runLS(ctx context.Context) {
	root, cleanup, err := getRoot(ctx)
	if err != nil {
		log.Error("opening storage root", "err", err)
		return
	}
	defer cleanup()
	if lsFlags.objectID == "" {
		lsObjects(ctx, root)
		return
	}
	lsObjectFiles(ctx, root)
}

func lsObjects(ctx context.Context, root *ocfl.Root) {
	count := 0
	for obj, err := range root.Objects(ctx) {
		if err != nil {
			log.Error("scanning storage root", "err", err)
			return
		}
		inv, err := obj.ReadObject(ctx)
		if err != nil {
			log.Error("reading object inventory", "path", obj.Path(), "err", err)
			continue
		}
		fmt.Println(pathStyle.Render(inv.ID), headStyle.Render(inv.Head.String()))
		count++
	}
	log.Info("scan complete", "object_count", count)
}

func lsObjectFiles(ctx context.Context, root *ocfl.Root) {
	var vnum ocfl.VNum
	if lsFlags.version != "" {
		if err := ocfl.ParseVNum(lsFlags.version, &vnum); err != nil {
			log.Error("invalid version", "version", lsFlags.version, "err", err)
			return
		}
	}
	obj, err := root.NewObject(ctx, lsFlags.objectID, ocfl.ObjectMustExist())
	if err != nil {
		log.Error("opening object", "id", lsFlags.objectID, "err", err)
		return
	}
	state, err := obj.ListFiles(ctx, vnum)
	if err != nil {
		log.Error("listing files", "id", lsFlags.objectID, "err", err)
		return
	}
	for logical, dig := range state.PathMap().SortedPaths() {
		if lsFlags.digests {
			fmt.Println(pathStyle.Render(logical), digestStyle.Render(dig))
			continue
		}
		fmt.Println(pathStyle.Render(logical))
	}
}
