package main

// fsl is the command-line front end for the repository/checkout engine:
// create or open a repository, manage a working checkout, commit new
// checkins, rebuild the derived tables and export an ancestor graph.

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/perforce/p4prometheus/version"

	"github.com/rcowham/fossil-go/internal/blobstore"
	"github.com/rcowham/fossil-go/internal/checkout"
	"github.com/rcowham/fossil-go/internal/fslctx"
	"github.com/rcowham/fossil-go/internal/repo"
)

func loadConfig(path string) (*fslctx.Config, error) {
	if path == "" {
		cfg, err := fslctx.Unmarshal(nil)
		return cfg, err
	}
	return fslctx.LoadConfigFile(path)
}

func openCheckoutHere(logger *logrus.Logger, configFile string) (*fslctx.Context, error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}
	dir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return fslctx.OpenCheckout(logger, dir, cfg)
}

func main() {
	app := kingpin.New("fsl", "Repository and checkout tool for fossil-go.")
	app.Author("Robert Cowham")
	app.Version(version.Print("fsl"))
	app.HelpFlag.Short('h')

	debug := app.Flag("debug", "Enable debugging level.").Bool()
	configFile := app.Flag("config", "fsl config file (defaults apply if unset).").Short('c').String()

	newCmd := app.Command("new", "Create a new repository file.")
	newFilename := newCmd.Arg("repository", "Path of the repository file to create.").Required().String()
	newUser := newCmd.Flag("user", "Username to seed as the default user.").Short('u').Default(os.Getenv("USER")).String()
	newMessage := newCmd.Flag("comment", "Initial checkin comment.").Default("initial empty check-in").String()
	newTemplate := newCmd.Flag("template", "Copy config/reportfmt rows from this existing repository.").String()

	openCmd := app.Command("open", "Open a repository into a new checkout rooted at the current directory.")
	openFilename := openCmd.Arg("repository", "Path of the repository file to open.").Required().String()
	openVersion := openCmd.Flag("version", "Symbol of the version to extract (defaults to tip).").Default("tip").String()

	checkoutCmd := app.Command("checkout", "Switch the current checkout to a different version.")
	checkoutVersion := checkoutCmd.Arg("version", "Symbol of the version to extract.").Required().String()

	updateCmd := app.Command("update", "Update the current checkout, merging local edits forward.")
	updateVersion := updateCmd.Arg("version", "Symbol of the version to update to (defaults to tip).").Default("tip").String()

	addCmd := app.Command("add", "Begin managing one or more paths.")
	addPaths := addCmd.Arg("path", "Paths to add, relative to the checkout root.").Required().Strings()

	rmCmd := app.Command("rm", "Stop managing one or more paths.")
	rmPaths := rmCmd.Arg("path", "Paths to remove, relative to the checkout root.").Required().Strings()

	revertCmd := app.Command("revert", "Revert one path, or the whole checkout, to the loaded version.")
	revertPath := revertCmd.Arg("path", "Path to revert (defaults to the whole tree).").String()

	commitCmd := app.Command("commit", "Save pending changes as a new checkin.")
	commitMessage := commitCmd.Flag("message", "Checkin comment.").Short('m').Required().String()
	commitUser := commitCmd.Flag("user", "Overrides the checkout's default user.").String()
	commitBranch := commitCmd.Flag("branch", "Start (or stay on) this branch name.").String()
	commitRCard := commitCmd.Flag("rcard", "Generate an R-card for the new checkin.").Bool()

	rebuildCmd := app.Command("rebuild", "Drop and recompute every derived table from stored artifacts.")
	rebuildFilename := rebuildCmd.Arg("repository", "Path of the repository file to rebuild.").Required().String()

	graphCmd := app.Command("graph", "Render the ancestor graph reachable from a version as Graphviz dot.")
	graphVersion := graphCmd.Arg("version", "Symbol of the version to start from (defaults to tip).").Default("tip").String()
	graphOutput := graphCmd.Flag("output", "Dot file to write.").Short('o').Required().String()
	graphMax := graphCmd.Flag("max", "Maximum number of checkins to visit (0 means unlimited).").Short('m').Int()

	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug {
		logger.Level = logrus.DebugLevel
	}

	var err error
	switch cmd {
	case newCmd.FullCommand():
		err = runNew(logger, *newFilename, *newUser, *newMessage, *newTemplate)
	case openCmd.FullCommand():
		err = runOpen(logger, *configFile, *openFilename, *openVersion)
	case checkoutCmd.FullCommand():
		err = runCheckout(logger, *configFile, *checkoutVersion)
	case updateCmd.FullCommand():
		err = runUpdate(logger, *configFile, *updateVersion)
	case addCmd.FullCommand():
		err = runAdd(logger, *configFile, *addPaths)
	case rmCmd.FullCommand():
		err = runRm(logger, *configFile, *rmPaths)
	case revertCmd.FullCommand():
		err = runRevert(logger, *configFile, *revertPath)
	case commitCmd.FullCommand():
		err = runCommit(logger, *configFile, *commitMessage, *commitUser, *commitBranch, *commitRCard)
	case rebuildCmd.FullCommand():
		err = runRebuild(logger, *rebuildFilename)
	case graphCmd.FullCommand():
		err = runGraph(logger, *configFile, *graphVersion, *graphOutput, *graphMax)
	}
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func runNew(logger *logrus.Logger, filename, user, message, template string) error {
	r, err := repo.Create(logger, repo.CreateOptions{
		Filename:       filename,
		Username:       user,
		CommitMessage:  message,
		HashPolicy:     blobstore.PolicyAuto,
		ConfigTemplate: template,
	})
	if err != nil {
		return err
	}
	defer r.Close()
	fmt.Printf("created repository %s\n", filename)
	return nil
}

func runOpen(logger *logrus.Logger, configFile, filename, sym string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	r, err := repo.Open(logger, filename)
	if err != nil {
		return err
	}
	dir, err := os.Getwd()
	if err != nil {
		r.Close()
		return err
	}
	cx, err := fslctx.CreateCheckout(logger, r, dir, cfg)
	if err != nil {
		r.Close()
		return err
	}
	defer cx.Close()

	rid, err := cx.Resolve(sym)
	if err != nil {
		return err
	}
	report, err := cx.Checkout.Checkout(checkout.CkoutOptions{TargetRid: rid})
	if err != nil {
		return err
	}
	fmt.Printf("checked out %d files at %s\n", len(report.Written), sym)
	return nil
}

func runCheckout(logger *logrus.Logger, configFile, sym string) error {
	cx, err := openCheckoutHere(logger, configFile)
	if err != nil {
		return err
	}
	defer cx.Close()

	rid, err := cx.Resolve(sym)
	if err != nil {
		return err
	}
	report, err := cx.Checkout.Checkout(checkout.CkoutOptions{TargetRid: rid})
	if err != nil {
		return err
	}
	fmt.Printf("checked out %d files, removed %d at %s\n", len(report.Written), len(report.Removed), sym)
	return nil
}

func runUpdate(logger *logrus.Logger, configFile, sym string) error {
	cx, err := openCheckoutHere(logger, configFile)
	if err != nil {
		return err
	}
	defer cx.Close()

	tid, err := cx.Resolve(sym)
	if err != nil {
		return err
	}
	results, err := cx.Checkout.Update(tid)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Printf("%-10s %s\n", r.Kind, r.Pathname)
	}
	return nil
}

func runAdd(logger *logrus.Logger, configFile string, paths []string) error {
	cx, err := openCheckoutHere(logger, configFile)
	if err != nil {
		return err
	}
	defer cx.Close()

	for _, p := range paths {
		opt := &checkout.ManageOptions{Filename: p, IgnoreGlobs: []string{cx.Config.IgnoreGlob}}
		if err := cx.Checkout.Manage(opt); err != nil {
			return err
		}
		fmt.Printf("added %d, updated %d, skipped %d under %s\n", opt.Added, opt.Updated, opt.Skipped, p)
	}
	return nil
}

func runRm(logger *logrus.Logger, configFile string, paths []string) error {
	cx, err := openCheckoutHere(logger, configFile)
	if err != nil {
		return err
	}
	defer cx.Close()

	for _, p := range paths {
		if err := cx.Checkout.Unmanage(&checkout.UnmanageOptions{Filename: p}); err != nil {
			return err
		}
		fmt.Printf("removed %s from management\n", p)
	}
	return nil
}

func runRevert(logger *logrus.Logger, configFile, path string) error {
	cx, err := openCheckoutHere(logger, configFile)
	if err != nil {
		return err
	}
	defer cx.Close()

	if err := cx.Checkout.Revert(&checkout.RevertOptions{Filename: path}); err != nil {
		return err
	}
	fmt.Println("reverted")
	return nil
}

func runCommit(logger *logrus.Logger, configFile, message, user, branch string, rcard bool) error {
	cx, err := openCheckoutHere(logger, configFile)
	if err != nil {
		return err
	}
	defer cx.Close()

	if user == "" {
		user = cx.User
	}
	report, err := cx.Checkout.Commit(checkout.CommitOptions{
		Message:        message,
		User:           user,
		Branch:         branch,
		GenerateRCards: rcard || cx.Config.GenerateRCards,
	})
	if err != nil {
		return err
	}
	fmt.Printf("committed %s (rid %d)\n", report.UUID, report.Rid)
	return nil
}

func runRebuild(logger *logrus.Logger, filename string) error {
	r, err := repo.Open(logger, filename)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := r.Crosslinks.Rebuild(); err != nil {
		return err
	}
	fmt.Println("rebuild complete")
	return nil
}

func runGraph(logger *logrus.Logger, configFile, sym, output string, maxCommits int) error {
	cx, err := openCheckoutHere(logger, configFile)
	if err != nil {
		return err
	}
	defer cx.Close()

	rid, err := cx.Resolve(sym)
	if err != nil {
		return err
	}
	g, err := cx.Repo.Symbols.History(rid, maxCommits)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write([]byte(g.String()))
	return err
}
