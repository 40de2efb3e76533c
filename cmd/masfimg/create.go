package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/masfimg/masfimg/internal/policy"
	"github.com/masfimg/masfimg/internal/snapshot"
	"github.com/masfimg/masfimg/internal/store"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	createRules       []string
	createGlobalLimit string
	createExcludes    []string
	createPackager    string
	createCompression string
	createMksquashfs  string
	createStagingDir  string
	createWorkers     int
	createDryRun      bool
	createNoHistory   bool
)

func newCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create SOURCE IMAGE",
		Short: "Create a snapshot image of a directory tree",
		Long: `Create a snapshot image of SOURCE at IMAGE. Files matching an inclusion
rule (or, with no rules, files at or under the global limit) keep their
full content; all other files are stored with exact metadata and a sparse
apparent size. Entries matching an exclude pattern are omitted entirely.

Rules take the form EXT=SIZE, where EXT is one extension or a
comma-separated list (".txt" or ".txt,.md") and SIZE accepts k/M/G
suffixes (1024-based). A file exactly at a rule's size is included.
An empty extension part ("=64k") applies the rule to every file.

A single unreadable entry never aborts the run: it is recorded as failed
and reported in the summary, and the command still exits zero.`,
		Example: `  masfimg create /home/user home.sqsh --rule .txt=10k
  masfimg create /etc etc.sqsh --global-limit 64k --exclude 'ssl/private/**'
  masfimg create /data data.tar.zst --packager tar --workers 4
  masfimg create /data data.sqsh --dry-run`,
		Args: cobra.ExactArgs(2),
		RunE: createRun,
	}

	cmd.Flags().StringArrayVar(&createRules, "rule", nil, "inclusion rule EXT=SIZE, repeatable")
	cmd.Flags().StringVar(&createGlobalLimit, "global-limit", "", "size limit when no rules are configured")
	cmd.Flags().StringArrayVar(&createExcludes, "exclude", nil, "doublestar pattern of entries to omit, repeatable")
	cmd.Flags().StringVar(&createPackager, "packager", "", "image packager (squashfs, tar)")
	cmd.Flags().StringVar(&createCompression, "compression", "", "compression algorithm for the packager")
	cmd.Flags().StringVar(&createMksquashfs, "mksquashfs", "", "path to the mksquashfs binary")
	cmd.Flags().StringVar(&createStagingDir, "staging-dir", "", "parent directory for the staging tree")
	cmd.Flags().IntVar(&createWorkers, "workers", 0, "content-copy workers (default 1)")
	cmd.Flags().BoolVar(&createDryRun, "dry-run", false, "evaluate the policy without writing anything")
	cmd.Flags().BoolVar(&createNoHistory, "no-history", false, "skip recording this run in the catalog")

	return cmd
}

func createRun(cmd *cobra.Command, args []string) error {
	source, output := args[0], args[1]

	opts, err := buildCreateOptions(source, output)
	if err != nil {
		return err
	}

	if createDryRun {
		mgr := snapshot.NewManager(nil, logger)
		plan, err := mgr.PlanCreate(cmd.Context(), opts)
		if err != nil {
			return fmt.Errorf("dry run failed: %w", err)
		}
		fmt.Printf("Dry run of %s:\n", source)
		fmt.Printf("  Entries:        %d\n", plan.Entries)
		fmt.Printf("  Full content:   %d (%s)\n", plan.FullContent, humanize.IBytes(uint64(plan.FullBytes)))
		fmt.Printf("  Metadata only:  %d\n", plan.MetadataOnly)
		fmt.Printf("  Excluded:       %d\n", plan.Excluded)
		fmt.Printf("  Declared bytes: %s\n", humanize.IBytes(uint64(plan.DeclaredBytes)))
		return nil
	}

	var st *store.Store
	if !createNoHistory {
		st, err = openStore()
		if err != nil {
			return err
		}
	}

	tracker := snapshot.NewTracker()
	opts.Tracker = tracker
	stopProgress := startProgressLine(tracker)

	mgr := snapshot.NewManager(st, logger)
	report, err := mgr.Create(cmd.Context(), opts)
	stopProgress()
	if err != nil {
		return fmt.Errorf("snapshot failed: %w", err)
	}

	res := report.Result
	fmt.Printf("Image created: %s\n", report.ImagePath)
	fmt.Printf("  Size:          %s\n", humanize.IBytes(uint64(report.ImageSize)))
	fmt.Printf("  SHA256:        %s\n", report.ImageSHA256)
	fmt.Printf("  Entries:       %d\n", res.Total())
	fmt.Printf("  Full content:  %d (%s copied)\n", res.Full, humanize.IBytes(uint64(res.BytesCopied)))
	fmt.Printf("  Metadata only: %d\n", res.MetadataOnly)
	fmt.Printf("  Excluded:      %d\n", res.Excluded)
	fmt.Printf("  Duration:      %s\n", report.Duration.Round(time.Millisecond))
	fmt.Printf("  Run ID:        %s\n", report.RunID)

	if res.Failed > 0 {
		fmt.Printf("  Failed:        %d (run completed; see log or 'masfimg history --run %s --failed')\n",
			res.Failed, report.RunID)
	}

	return nil
}

// buildCreateOptions merges CLI flags over the loaded configuration.
func buildCreateOptions(source, output string) (snapshot.CreateOptions, error) {
	var opts snapshot.CreateOptions

	rules, err := globalCfg.Rules()
	if err != nil {
		return opts, err
	}
	for _, arg := range createRules {
		rule, err := policy.ParseRuleArg(arg)
		if err != nil {
			return opts, err
		}
		rules = append(rules, rule)
	}

	globalLimit, err := globalCfg.GlobalLimitBytes()
	if err != nil {
		return opts, err
	}
	if createGlobalLimit != "" {
		globalLimit, err = policy.ParseSize(createGlobalLimit)
		if err != nil {
			return opts, fmt.Errorf("invalid global limit: %w", err)
		}
	}

	excludes := append([]string{}, globalCfg.Snapshot.Excludes...)
	excludes = append(excludes, createExcludes...)

	stagingDir := globalCfg.Snapshot.StagingDir
	if createStagingDir != "" {
		stagingDir = createStagingDir
	}

	workers := globalCfg.Snapshot.Workers
	if createWorkers > 0 {
		workers = createWorkers
	}

	pkgCfg := globalCfg.PackagerConfig()
	if createPackager != "" {
		pkgCfg.Type = createPackager
	}
	if createCompression != "" {
		pkgCfg.Compression = createCompression
	}
	if createMksquashfs != "" {
		pkgCfg.MksquashfsBinary = createMksquashfs
	}

	return snapshot.CreateOptions{
		Source:      source,
		Output:      output,
		Rules:       rules,
		GlobalLimit: globalLimit,
		Excludes:    excludes,
		StagingDir:  stagingDir,
		Workers:     workers,
		Packager:    pkgCfg,
	}, nil
}

// startProgressLine renders a live status line on stderr while the walk
// runs. Only active when stderr is a terminal and --quiet is off.
func startProgressLine(tracker *snapshot.Tracker) (stop func()) {
	if quiet || !isatty.IsTerminal(os.Stderr.Fd()) {
		return func() {}
	}

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				fmt.Fprint(os.Stderr, "\r\033[K")
				return
			case <-ticker.C:
				p := tracker.Snapshot()
				fmt.Fprintf(os.Stderr, "\r\033[K%d entries, %d copied (%s), %d failed  %s",
					p.Entries, p.Copied, humanize.IBytes(uint64(p.BytesCopied)), p.Failed, p.CurrentPath)
			}
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}
