package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"driveingest/internal/app"
	"driveingest/internal/config"
	"driveingest/internal/ingest"
	"driveingest/internal/model"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// readConfig loads the config file named by the application defaults.
func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates an App. The caller must defer app.Close().
func newApp(ctx context.Context) (*app.App, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

func parseFolderID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid folder id %q", s)
	}
	return id, nil
}

func printTree(n *ingest.FolderNode, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Printf("%s%s/  [%d %s]\n", indent, n.Folder.Name, n.Folder.ID, n.Folder.Type)
	for _, d := range n.Documents {
		fmt.Printf("%s  %s  (%s)\n", indent, d.Name, d.RemoteID)
	}
	for _, c := range n.Children {
		printTree(c, depth+1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "driveingest",
	Short: "Mirror a Drive folder and ingest analysis results",
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the poller, analysis consumer, HTTP API and inbox watcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Serve(ctx)
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync every file in the watched folder",
	RunE: func(cmd *cobra.Command, args []string) error {
		onlyNew, _ := cmd.Flags().GetBool("new")

		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		var files []*model.RemoteFile
		if onlyNew {
			files, err = a.Service().PollAndSync(ctx)
		} else {
			files, err = a.Service().SyncAll(ctx)
		}
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		for _, f := range files {
			fmt.Printf("%s  %s  %s\n", f.RemoteID, f.ModifiedTime.Format(time.RFC3339), f.Name)
		}
		fmt.Printf("Synced %d file(s)\n", len(files))
		return nil
	},
}

// changes command
var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "Read the change feed from the stored cursor",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		changes, err := a.Service().Tracker.AdvanceCursor(ctx)
		if err != nil {
			return err
		}

		if len(changes) == 0 {
			fmt.Println("No changes.")
			return nil
		}
		for _, c := range changes {
			switch {
			case c.Removed:
				fmt.Printf("-  %s\n", c.FileID)
			case c.File != nil:
				fmt.Printf("~  %s  %s\n", c.FileID, c.File.Name)
			default:
				fmt.Printf("~  %s\n", c.FileID)
			}
		}
		return nil
	},
}

// folder command
var folderCmd = &cobra.Command{
	Use:   "folder",
	Short: "Manage the folder hierarchy",
}

var folderCreateCmd = &cobra.Command{
	Use:   "create NAME TYPE",
	Short: "Create a folder locally and in the remote directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		parent, _ := cmd.Flags().GetInt64("parent")
		team, _ := cmd.Flags().GetString("team")

		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		req := ingest.EnsureFolderRequest{
			Name:   args[0],
			Type:   model.FolderType(args[1]),
			TeamID: team,
		}
		if parent > 0 {
			req.ParentID = &parent
		}

		f, err := a.Service().Folders.EnsureFolder(ctx, req)
		if err != nil {
			return err
		}

		fmt.Printf("Folder %d: %s (%s)\n", f.ID, f.Name, f.RemoteID.String)
		return nil
	},
}

var folderTreeCmd = &cobra.Command{
	Use:   "tree [FOLDER_ID]",
	Short: "Show a folder subtree, or every root tree",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) == 1 {
			id, err := parseFolderID(args[0])
			if err != nil {
				return err
			}
			tree, err := a.Service().Folders.FolderTree(ctx, id)
			if err != nil {
				return err
			}
			printTree(tree, 0)
			return nil
		}

		trees, err := a.Service().Folders.RootTrees(ctx)
		if err != nil {
			return err
		}
		if len(trees) == 0 {
			fmt.Println("No folders.")
			return nil
		}
		for _, t := range trees {
			printTree(t, 0)
		}
		return nil
	},
}

// upload command
var uploadCmd = &cobra.Command{
	Use:   "upload FOLDER_ID PATH",
	Short: "Upload a local file into a folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseFolderID(args[0])
		if err != nil {
			return err
		}

		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := a.UploadFile(ctx, id, args[1])
		if err != nil {
			return fmt.Errorf("upload failed: %w", err)
		}

		fmt.Printf("Uploaded %s as %s (document %d)\n", f.Name, f.RemoteID, f.ID)
		return nil
	},
}

// seen command
var seenCmd = &cobra.Command{
	Use:   "seen",
	Short: "Manage the seen-file set",
}

var seenResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget every seen file so the next poll reports all files as new",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(context.Background())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Service().Tracker.Reset(); err != nil {
			return err
		}
		fmt.Println("Seen set cleared.")
		return nil
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manage push notification channels",
}

var watchRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a push channel at the configured notification URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		ch, err := a.RegisterWatch(ctx)
		if err != nil {
			return err
		}
		if ch == nil {
			fmt.Println("No notification_url configured.")
			return nil
		}

		fmt.Printf("Channel:  %s\n", ch.ID)
		fmt.Printf("Resource: %s\n", ch.ResourceID)
		if ch.Expiration > 0 {
			fmt.Printf("Expires:  %s\n", time.UnixMilli(ch.Expiration).Format(time.RFC3339))
		}
		return nil
	},
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		if err := app.Migrate(cfg); err != nil {
			return err
		}
		fmt.Println("Database schema up to date.")
		return nil
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		instanceID := uuid.New().String()
		cfg := config.NewConfig(instanceID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Instance ID: %s\n", instanceID)
		fmt.Printf("Base Dir:    %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Instance ID: %s\n", cfg.InstanceID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Remote:      %s (folder %s)\n", cfg.Remote.Type, cfg.Remote.FolderID)
		fmt.Printf("Database:    %s\n", cfg.Database.Type)
		fmt.Printf("Broker:      %s (%s, %s)\n", cfg.Broker.Type, cfg.Broker.SyncTopic, cfg.Broker.AnalysisTopic)
		fmt.Printf("HTTP:        %s\n", cfg.HTTP.Addr)
		fmt.Printf("Inbox:       %s\n", cfg.Inbox.Dir)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage snapshot encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the snapshot key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := app.InitKeys(cfg, pass); err != nil {
			return err
		}
		fmt.Printf("Keys written to %s\n", cfg.Encryption.PublicKeyPath)
		return nil
	},
}

// snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Push or pull encrypted store snapshots",
}

var snapshotPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload an encrypted copy of the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		version, err := app.PushSnapshot(cfg)
		if err != nil {
			return fmt.Errorf("snapshot failed: %w", err)
		}
		fmt.Printf("Pushed snapshot version %d\n", version)
		return nil
	},
}

var snapshotPullCmd = &cobra.Command{
	Use:   "pull [DEST]",
	Short: "Restore the latest snapshot to DEST (default: the store path)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		var dest string
		if len(args) == 1 {
			dest = args[0]
		} else if dest, err = app.StorePath(cfg); err != nil {
			return err
		}

		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		if err := app.PullSnapshot(cfg, pass, dest); err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		fmt.Printf("Restored snapshot to %s\n", dest)
		return nil
	},
}

func init() {
	// folder subcommands
	folderCmd.AddCommand(folderCreateCmd)
	folderCmd.AddCommand(folderTreeCmd)
	folderCreateCmd.Flags().Int64P("parent", "p", 0, "Local id of the parent folder")
	folderCreateCmd.Flags().StringP("team", "t", "", "Team id (required for team folders)")

	// seen / watch subcommands
	seenCmd.AddCommand(seenResetCmd)
	watchCmd.AddCommand(watchRegisterCmd)

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// keys / snapshot subcommands
	keysCmd.AddCommand(keysInitCmd)
	snapshotCmd.AddCommand(snapshotPushCmd)
	snapshotCmd.AddCommand(snapshotPullCmd)

	// root commands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolP("new", "n", false, "Only sync files not seen before")
	rootCmd.AddCommand(changesCmd)
	rootCmd.AddCommand(folderCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(seenCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(snapshotCmd)
}
