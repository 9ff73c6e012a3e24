package cmd

import (
	"context"
	"io"
	"os"

	"github.com/muesli/coral"
	"github.com/ocflcore/ocfl"
)

var catFlags = struct {
	objectID string
	version  string
}{}

var catCmd = &coral.Command{
	Use:   "cat [logical path]",
	Short: "print the contents of a file in an object",
	Args:  coral.ExactArgs(1),
	Run: func(cmd *coral.Command, args []string) {
		runCat(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(catCmd)
	catCmd.Flags().StringVar(&catFlags.objectID, "id", "", "object ID")
	catCmd.Flags().StringVar(&catFlags.version, "version", "", "object version (e.g. v2); defaults to HEAD")
	catCmd.MarkFlagRequired("id")
}

func runCat(ctx context.Context, logical string) {
	root, cleanup, err := getRoot(ctx)
	if err != nil {
		log.Error("opening storage root", "err", err)
		return
	}
	defer cleanup()
	var vnum ocfl.VNum
	if catFlags.version != "" {
		if err := ocfl.ParseVNum(catFlags.version, &vnum); err != nil {
			log.Error("invalid version", "version", catFlags.version, "err", err)
			return
		}
	}
	obj, err := root.NewObject(ctx, catFlags.objectID, ocfl.ObjectMustExist())
	if err != nil {
		log.Error("opening object", "id", catFlags.objectID, "err", err)
		return
	}
	f, err := obj.OpenFile(ctx, vnum, logical)
	if err != nil {
		log.Error("opening file", "logical", logical, "err", err)
		return
	}
	defer f.Close()
	if _, err := io.Copy(os.Stdout, f); err != nil {
		log.Error("reading file", "logical", logical, "err", err)
	}
}
