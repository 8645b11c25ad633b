package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexi-k/fcc-physics-events-sub000/internal/broadcast"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/catalogue"
	"github.com/lexi-k/fcc-physics-events-sub000/internal/editor"
)

var editCmd = &cobra.Command{
	Use:   "edit <record-id>",
	Short: "Edit a record's metadata",
	Long: `Edit a record's metadata.

The metadata document opens in $EDITOR unless --metadata or --file supplies
it directly. If the catalogue requires a login, the command prints the login
URL and waits; completing the login in a browser resubmits the save once
with the fresh session credentials. The edit is never lost to an auth
failure.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid record id %q", args[0])
		}
		metadataFlag, _ := cmd.Flags().GetString("metadata")
		fileFlag, _ := cmd.Flags().GetString("file")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := newCatalogueClient(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		records, err := client.FetchByIDs(ctx, []int64{id})
		if err != nil {
			return fmt.Errorf("fetching record: %w", err)
		}
		if len(records) == 0 {
			return fmt.Errorf("record %d not found", id)
		}
		rec := records[0]

		broker := broadcast.NewBroker()
		saved := make(chan catalogue.Record, 1)
		mgr := editor.NewManager(client, broker,
			editor.WithLoginOpener(editor.LoginOpenerFunc(func() error {
				printWarning("The catalogue needs a login to save this edit")
				printStep("Open %s in a browser and complete the login; the save retries automatically", client.LoginURL())
				return nil
			})),
			editor.WithOnSaved(func(r catalogue.Record, _ time.Time) { saved <- r }),
		)
		defer mgr.Close()

		buffer, err := mgr.EnterEdit(id, rec.Metadata)
		if err != nil {
			return err
		}

		switch {
		case metadataFlag != "":
			buffer = metadataFlag
		case fileFlag != "":
			data, err := os.ReadFile(fileFlag)
			if err != nil {
				return fmt.Errorf("reading metadata file: %w", err)
			}
			buffer = string(data)
		default:
			buffer, err = editInEditor(rec.Name, buffer)
			if err != nil {
				return err
			}
		}
		if err := mgr.SetBuffer(id, buffer); err != nil {
			return err
		}

		err = mgr.Save(ctx, id)
		switch {
		case err == nil:
		case errors.Is(err, catalogue.ErrAuthRequired):
			// Bridge the catalogue's login signal into the local broker so
			// the armed retry fires. WaitLogin installs the fresh session
			// token on the client before the retry runs.
			go func() {
				if werr := client.WaitLogin(ctx); werr != nil {
					if ctx.Err() == nil {
						printError("waiting for login: %v", werr)
					}
					return
				}
				broker.Publish(broadcast.TopicAuth, broadcast.LoginSuccess)
			}()
		default:
			return fmt.Errorf("saving metadata: %w", err)
		}

		select {
		case result := <-saved:
			printSuccess("Updated metadata for %s (record %d)", result.Name, result.ID)
			return nil
		case <-ctx.Done():
			printWarning("Interrupted; the edit was not saved")
			return ctx.Err()
		}
	},
}

func init() {
	editCmd.Flags().String("metadata", "", "metadata JSON to store (skips $EDITOR)")
	editCmd.Flags().String("file", "", "file containing the metadata JSON (skips $EDITOR)")
}

func editInEditor(name, seed string) (string, error) {
	editorBin := os.Getenv("EDITOR")
	if editorBin == "" {
		editorBin = "vi"
	}

	tmpFile, err := os.CreateTemp("", "fccsearch-"+name+"-*.json")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.WriteString(seed); err != nil {
		tmpFile.Close()
		return "", err
	}
	tmpFile.Close()

	editorCmd := exec.Command(editorBin, tmpPath)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr
	if err := editorCmd.Run(); err != nil {
		return "", fmt.Errorf("editor exited with error: %w", err)
	}

	edited, err := os.ReadFile(tmpPath)
	if err != nil {
		return "", err
	}
	return string(edited), nil
}
