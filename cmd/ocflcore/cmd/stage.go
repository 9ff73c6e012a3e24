package cmd

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/muesli/coral"
	"github.com/ocflcore/ocfl"
)

var stageFlags = struct {
	objectID  string
	srcPath   string
	commitMsg string
	userName  string
	userAddr  string
}{}

var stageCmd = &coral.Command{
	Use:   "stage",
	Short: "stage changes in an object's mutable HEAD",
	Long:  "stage adds the contents of a local directory as a new mutable-HEAD revision without sealing a new immutable version. Use commit-staged to fold staged revisions into a version, or purge-staged to discard them.",
	Run: func(cmd *coral.Command, args []string) {
		runStage(cmd.Context())
	},
}

var commitStagedCmd = &coral.Command{
	Use:   "commit-staged",
	Short: "fold staged mutable-HEAD changes into a new version",
	Run: func(cmd *coral.Command, args []string) {
		runCommitStaged(cmd.Context())
	},
}

var purgeStagedCmd = &coral.Command{
	Use:   "purge-staged",
	Short: "discard staged mutable-HEAD changes",
	Run: func(cmd *coral.Command, args []string) {
		runPurgeStaged(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(stageCmd, commitStagedCmd, purgeStagedCmd)
	for _, c := range []*coral.Command{stageCmd, commitStagedCmd, purgeStagedCmd} {
		c.Flags().StringVar(&stageFlags.objectID, "id", "", "object ID")
		c.MarkFlagRequired("id")
	}
	stageCmd.Flags().StringVar(&stageFlags.srcPath, "src", "", "local directory with content to stage")
	stageCmd.MarkFlagRequired("src")
	for _, c := range []*coral.Command{stageCmd, commitStagedCmd} {
		c.Flags().StringVarP(&stageFlags.commitMsg, "msg", "m", "", "commit message")
		c.Flags().StringVarP(&stageFlags.userName, "name", "n", "", "committer's name")
		c.Flags().StringVarP(&stageFlags.userAddr, "addr", "a", "", "committer's email address")
		c.MarkFlagRequired("msg")
	}
}

func stagedObject(ctx context.Context) (*ocfl.Object, func(), error) {
	root, cleanup, err := getRoot(ctx)
	if err != nil {
		return nil, nil, err
	}
	obj, err := root.NewObject(ctx, stageFlags.objectID)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return obj, cleanup, nil
}

func runStage(ctx context.Context) {
	obj, cleanup, err := stagedObject(ctx)
	if err != nil {
		log.Error("opening object", "id", stageFlags.objectID, "err", err)
		return
	}
	defer cleanup()
	user, err := repoUser(stageFlags.userName, stageFlags.userAddr)
	if err != nil {
		log.Error("resolving committer identity", "err", err)
		return
	}
	commit := &ocfl.Commit{
		ID:      stageFlags.objectID,
		Message: stageFlags.commitMsg,
		User:    user,
		Logger:  log,
	}
	srcRoot := filepath.Clean(stageFlags.srcPath)
	err = obj.StageChanges(ctx, commit, func(stage *ocfl.Stage) error {
		return filepath.WalkDir(srcRoot, func(name string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			logical, err := filepath.Rel(srcRoot, name)
			if err != nil {
				return err
			}
			f, err := os.Open(name)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = obj.PutFile(ctx, stage, f, filepath.ToSlash(logical), true)
			return err
		})
	})
	if err != nil {
		log.Error("staging changes", "id", stageFlags.objectID, "err", err)
		return
	}
	inv, err := obj.ReadObject(ctx)
	if err != nil {
		log.Error("reading staged object", "err", err)
		return
	}
	log.Info("changes staged", "id", inv.ID, "revision", inv.MutableHead.Revision)
}

func runCommitStaged(ctx context.Context) {
	obj, cleanup, err := stagedObject(ctx)
	if err != nil {
		log.Error("opening object", "id", stageFlags.objectID, "err", err)
		return
	}
	defer cleanup()
	user, err := repoUser(stageFlags.userName, stageFlags.userAddr)
	if err != nil {
		log.Error("resolving committer identity", "err", err)
		return
	}
	commit := &ocfl.Commit{
		ID:      stageFlags.objectID,
		Message: stageFlags.commitMsg,
		User:    user,
		Logger:  log,
	}
	if err := obj.CommitStagedChanges(ctx, commit); err != nil {
		log.Error("committing staged changes", "id", stageFlags.objectID, "err", err)
		return
	}
	inv, err := obj.ReadObject(ctx)
	if err != nil {
		log.Error("reading committed object", "err", err)
		return
	}
	log.Info("staged changes committed", "id", inv.ID, "head", inv.Head.String())
}

func runPurgeStaged(ctx context.Context) {
	obj, cleanup, err := stagedObject(ctx)
	if err != nil {
		log.Error("opening object", "id", stageFlags.objectID, "err", err)
		return
	}
	defer cleanup()
	if err := obj.PurgeStagedChanges(ctx); err != nil {
		log.Error("purging staged changes", "id", stageFlags.objectID, "err", err)
		return
	}
	log.Info("staged changes purged", "id", stageFlags.objectID)
}
