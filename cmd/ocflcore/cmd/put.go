package cmd

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/muesli/coral"
	"github.com/ocflcore/ocfl"
)

var putFlags = struct {
	objectID  string
	srcPath   string
	commitMsg string
	userName  string
	userAddr  string
	alg       string
}{}

var putCmd = &coral.Command{
	Use:   "put",
	Short: "create or update an object from a local directory",
	Long:  "put commits the contents of a local directory as the next version of an object, creating the object if it doesn't exist.",
	Run: func(cmd *coral.Command, args []string) {
		runPut(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(putCmd)
	putCmd.Flags().StringVar(&putFlags.objectID, "id", "", "object ID")
	putCmd.Flags().StringVar(&putFlags.srcPath, "src", "", "local directory with the new version's content")
	putCmd.Flags().StringVarP(&putFlags.commitMsg, "msg", "m", "", "commit message")
	putCmd.Flags().StringVarP(&putFlags.userName, "name", "n", "", "committer's name")
	putCmd.Flags().StringVarP(&putFlags.userAddr, "addr", "a", "", "committer's email address")
	putCmd.Flags().StringVar(&putFlags.alg, "alg", "", "digest algorithm for new objects (sha512 or sha256)")
	putCmd.MarkFlagRequired("id")
	putCmd.MarkFlagRequired("src")
	putCmd.MarkFlagRequired("msg")
}

func runPut(ctx context.Context) {
	root, cleanup, err := getRoot(ctx)
	if err != nil {
		log.Error("opening storage root", "err", err)
		return
	}
	defer cleanup()
	user, err := repoUser(putFlags.userName, putFlags.userAddr)
	if err != nil {
		log.Error("resolving committer identity", "err", err)
		return
	}
	obj, err := root.NewObject(ctx, putFlags.objectID)
	if err != nil {
		log.Error("resolving object", "id", putFlags.objectID, "err", err)
		return
	}
	stage, err := obj.NewVersionStage(ctx)
	if err != nil {
		log.Error("opening version stage", "id", putFlags.objectID, "err", err)
		return
	}
	if putFlags.alg != "" {
		if _, err := obj.ReadObject(ctx); err == nil {
			log.Warn("--alg is ignored for existing objects", "id", putFlags.objectID)
		} else {
			stage.DigestAlgorithm = putFlags.alg
		}
	}
	srcRoot := filepath.Clean(putFlags.srcPath)
	err = filepath.WalkDir(srcRoot, func(name string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		logical, err := filepath.Rel(srcRoot, name)
		if err != nil {
			return err
		}
		logical = filepath.ToSlash(logical)
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		dig, err := obj.PutFile(ctx, stage, f, logical, true)
		if err != nil {
			return err
		}
		log.Debug("staged file", "logical", logical, "digest", dig)
		return nil
	})
	if err != nil {
		log.Error("staging content", "src", srcRoot, "err", err)
		return
	}
	commit := &ocfl.Commit{
		ID:      putFlags.objectID,
		Stage:   stage,
		Message: putFlags.commitMsg,
		User:    user,
		Logger:  log,
	}
	if err := obj.Commit(ctx, commit); err != nil {
		log.Error("commit failed", "id", putFlags.objectID, "err", err)
		return
	}
	inv, err := obj.ReadObject(ctx)
	if err != nil {
		log.Error("reading committed object", "err", err)
		return
	}
	log.Info("committed", "id", inv.ID, "head", inv.Head.String())
}
