package cmd

import (
	"context"

	"github.com/muesli/coral"
	"github.com/ocflcore/ocfl"
)

var validateFlags = struct {
	objectID    string
	skipDigests bool
}{}

var validateCmd = &coral.Command{
	Use:   "validate",
	Short: "validate an object",
	Long:  "validate performs a full, read-only validation pass over an object: structure, inventories, sidecars, and content digests.",
	Run: func(cmd *coral.Command, args []string) {
		runValidate(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVar(&validateFlags.objectID, "id", "", "object ID")
	validateCmd.Flags().BoolVar(&validateFlags.skipDigests, "skip-digests", false, "skip re-digesting object content")
	validateCmd.MarkFlagRequired("id")
}

func runValidate(ctx context.Context) {
	root, cleanup, err := getRoot(ctx)
	if err != nil {
		log.Error("opening storage root", "err", err)
		return
	}
	defer cleanup()
	opts := []ocfl.ObjectValidationOption{}
	if validateFlags.skipDigests {
		opts = append(opts, ocfl.ValidationSkipDigests())
	}
	result := root.ValidateObject(ctx, validateFlags.objectID, opts...)
	for _, err := range result.Fatal() {
		log.Error("validation error", "id", validateFlags.objectID, "err", err)
	}
	for _, err := range result.Warn() {
		log.Warn("validation warning", "id", validateFlags.objectID, "err", err)
	}
	if result.Valid() {
		log.Info("object is valid", "id", validateFlags.objectID)
		return
	}
	log.Error("object is not valid", "id", validateFlags.objectID)
}
