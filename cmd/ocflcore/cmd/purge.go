package cmd

import (
	"context"

	"github.com/muesli/coral"
	"github.com/ocflcore/ocfl"
)

var purgeFlags = struct {
	objectID string
	confirm  bool
}{}

var purgeCmd = &coral.Command{
	Use:   "purge",
	Short: "permanently delete an object",
	Long:  "purge deletes an object's entire root directory, including every version. This cannot be undone.",
	Run: func(cmd *coral.Command, args []string) {
		runPurge(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(purgeCmd)
	purgeCmd.Flags().StringVar(&purgeFlags.objectID, "id", "", "object ID")
	purgeCmd.Flags().BoolVar(&purgeFlags.confirm, "yes", false, "confirm deletion")
	purgeCmd.MarkFlagRequired("id")
}

func runPurge(ctx context.Context) {
	if !purgeFlags.confirm {
		log.Error("purge requires --yes to confirm deletion", "id", purgeFlags.objectID)
		return
	}
	root, cleanup, err := getRoot(ctx)
	if err != nil {
		log.Error("opening storage root", "err", err)
		return
	}
	defer cleanup()
	obj, err := root.NewObject(ctx, purgeFlags.objectID, ocfl.ObjectMustExist())
	if err != nil {
		log.Error("opening object", "id", purgeFlags.objectID, "err", err)
		return
	}
	if err := obj.PurgeObject(ctx); err != nil {
		log.Error("purge failed", "id", purgeFlags.objectID, "err", err)
		return
	}
	log.Info("object purged", "id", purgeFlags.objectID)
}
