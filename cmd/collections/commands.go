package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/celerix-dev/celerix-collections/internal/config"
	"github.com/celerix-dev/celerix-collections/internal/engine"
	"github.com/celerix-dev/celerix-collections/internal/ingest"
	"github.com/celerix-dev/celerix-collections/internal/persistence"
	"github.com/celerix-dev/celerix-collections/internal/sheet"
	"github.com/celerix-dev/celerix-collections/pkg/schema"
	"github.com/celerix-dev/celerix-collections/pkg/sdk"
)

func (g *globals) open() (sdk.Collections, error) {
	if g.addr != "" {
		c, err := sdk.Connect(g.addr)
		if err != nil {
			return nil, fmt.Errorf("connect to %s: %w", g.addr, err)
		}
		return c, nil
	}
	return sdk.New(g.dataDir)
}

func (g *globals) context() context.Context {
	ctx := context.Background()
	if g.user != "" {
		ctx = sdk.WithActor(ctx, g.user)
	}
	return ctx
}

// withClient opens a client for the duration of fn.
func (g *globals) withClient(fn func(sdk.Collections) error) error {
	c, err := g.open()
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func listCmd(g *globals) *cobra.Command {
	var q schema.Query
	var readOnly, editable bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records with optional filter, sort and paging",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case readOnly && editable:
				return fmt.Errorf("--read-only and --editable are mutually exclusive")
			case readOnly:
				q.ReadOnly = &readOnly
			case editable:
				locked := false
				q.ReadOnly = &locked
			}
			return g.withClient(func(c sdk.Collections) error {
				recs, err := c.List(q)
				if err != nil {
					return err
				}
				if g.asJSON {
					return printJSON(cmd.OutOrStdout(), recs)
				}
				printRecords(cmd.OutOrStdout(), recs)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&q.ID, "id", "", "filter by external ID (substring)")
	f.BoolVar(&q.Exact, "exact", false, "match --id exactly")
	f.BoolVar(&readOnly, "read-only", false, "only read-only records")
	f.BoolVar(&editable, "editable", false, "only editable records")
	f.StringVar(&q.Sort, "sort", "record_id", "sort key")
	f.StringVar(&q.Order, "order", "desc", "asc or desc")
	f.IntVar(&q.Skip, "skip", 0, "records to skip")
	f.IntVar(&q.Limit, "limit", 0, "maximum records (0 = all)")
	return cmd
}

func getCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "get <record_id>",
		Short: "Show one record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordID(args[0])
			if err != nil {
				return err
			}
			return g.withClient(func(c sdk.Collections) error {
				rec, err := c.Get(id)
				if err != nil {
					return err
				}
				if g.asJSON {
					return printJSON(cmd.OutOrStdout(), rec)
				}
				printRecords(cmd.OutOrStdout(), []schema.Record{rec})
				return nil
			})
		},
	}
}

func historyCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show every record imported under an external ID, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withClient(func(c sdk.Collections) error {
				recs, err := c.History(args[0])
				if err != nil {
					return err
				}
				if g.asJSON {
					return printJSON(cmd.OutOrStdout(), recs)
				}
				printRecords(cmd.OutOrStdout(), recs)
				return nil
			})
		},
	}
}

func statsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count records by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withClient(func(c sdk.Collections) error {
				st, err := c.Stats()
				if err != nil {
					return err
				}
				if g.asJSON {
					return printJSON(cmd.OutOrStdout(), st)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Total:     %d\n", st.Total)
				fmt.Fprintf(out, "Read-only: %s\n", color.New(color.FgYellow).Sprint(st.Locked))
				fmt.Fprintf(out, "Editable:  %s\n", color.New(color.FgGreen).Sprint(st.Editable))
				return nil
			})
		},
	}
}

func updateCmd(g *globals) *cobra.Command {
	var name, email, contact, date string

	cmd := &cobra.Command{
		Use:   "update <record_id>",
		Short: "Edit an editable record",
		Long: `Edit Name, Email, Contact or Date of an editable record. Only the flags
given are changed; pass an empty value to clear a field. Read-only records
are refused.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordID(args[0])
			if err != nil {
				return err
			}
			patch := patchFromFlags(cmd, name, email, contact, date)
			if patch.IsEmpty() {
				return fmt.Errorf("nothing to update: give at least one of --name, --email, --contact, --date")
			}
			return g.withClient(func(c sdk.Collections) error {
				rec, err := c.Update(g.context(), id, patch)
				if err != nil {
					return err
				}
				if g.asJSON {
					return printJSON(cmd.OutOrStdout(), rec)
				}
				printRecords(cmd.OutOrStdout(), []schema.Record{rec})
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&name, "name", "", "new name")
	f.StringVar(&email, "email", "", "new email")
	f.StringVar(&contact, "contact", "", "new contact")
	f.StringVar(&date, "date", "", "new collection date (YYYY-MM-DD)")
	return cmd
}

// patchFromFlags includes only the flags the user set.
func patchFromFlags(cmd *cobra.Command, name, email, contact, date string) schema.Patch {
	var p schema.Patch
	set := func(flag, v string, dst **string) {
		if cmd.Flags().Changed(flag) {
			*dst = &v
		}
	}
	set("name", name, &p.Name)
	set("email", email, &p.Email)
	set("contact", contact, &p.Contact)
	set("date", date, &p.Date)
	return p
}

func ingestCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>",
		Short: "Import an .xlsx, .xlsm or .csv file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			s, err := sheet.Read(args[0], f)
			if err != nil {
				return err
			}
			return g.withClient(func(c sdk.Collections) error {
				res, err := c.Ingest(g.context(), rowsToMaps(s.Rows))
				if err != nil {
					return err
				}
				res.Errors = append(append([]string{}, s.Issues...), res.Errors...)
				if g.asJSON {
					return printJSON(cmd.OutOrStdout(), res)
				}
				printIngest(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
}

func rowsToMaps(rows []ingest.Row) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		m := make(map[string]any, len(row))
		for k, v := range row {
			m[k] = v
		}
		out = append(out, m)
	}
	return out
}

func migrateCmd() *cobra.Command {
	var from, to config.StorageConfig

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy every record from one storage backend to another",
		Example: `  collections migrate --from json --from-dir ./data --to sqlite --to-sqlite ./ledger.db
  collections migrate --from sqlite --from-sqlite ./ledger.db --to postgres --to-dsn postgres://localhost/collections`,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := runMigrate(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s migrated %d records from %s to %s\n",
				color.New(color.FgGreen).Sprint("OK"), n, from.Driver, to.Driver)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&from.Driver, "from", config.DriverJSON, "source driver: json, sqlite or postgres")
	f.StringVar(&from.DataDir, "from-dir", "./data", "source data directory (json)")
	f.StringVar(&from.SQLitePath, "from-sqlite", "", "source database file (sqlite)")
	f.StringVar(&from.PostgresDSN, "from-dsn", "", "source DSN (postgres)")
	f.StringVar(&from.VaultKey, "from-vault-key", "", "vault key of the source files (json)")
	f.StringVar(&to.Driver, "to", config.DriverSQLite, "destination driver: json, sqlite or postgres")
	f.StringVar(&to.DataDir, "to-dir", "", "destination data directory (json)")
	f.StringVar(&to.SQLitePath, "to-sqlite", "", "destination database file (sqlite)")
	f.StringVar(&to.PostgresDSN, "to-dsn", "", "destination DSN (postgres)")
	f.StringVar(&to.VaultKey, "to-vault-key", "", "vault key for the destination files (json)")
	return cmd
}

func runMigrate(ctx context.Context, from, to config.StorageConfig) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if from.Driver == config.DriverMemory || to.Driver == config.DriverMemory {
		return 0, fmt.Errorf("the memory driver cannot be migrated")
	}
	src, closeSrc, err := persistence.Open(ctx, from)
	if err != nil {
		return 0, fmt.Errorf("open source: %w", err)
	}
	defer closeSrc()
	dst, closeDst, err := persistence.Open(ctx, to)
	if err != nil {
		return 0, fmt.Errorf("open destination: %w", err)
	}
	defer closeDst()
	return engine.Migrate(src, dst)
}

func parseRecordID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid record_id %q", s)
	}
	return id, nil
}

func printRecords(w io.Writer, recs []schema.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No records.")
		return
	}
	locked := color.New(color.FgYellow, color.Bold)
	editable := color.New(color.FgGreen)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORD\tID\tNAME\tCONTACT\tEMAIL\tDATE\tUPDATED BY\tSTATE")
	for _, r := range recs {
		state := editable.Sprint("editable")
		if r.Locked {
			state = locked.Sprint("read-only")
		}
		date := ""
		if r.CollectionDate != nil {
			date = r.CollectionDate.String()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RecordID, r.ExternalID,
			dash(schema.Deref(r.Name)), dash(schema.Deref(r.Contact)), dash(schema.Deref(r.Email)), dash(date),
			dash(r.LastUpdatedBy), state)
	}
	tw.Flush()
}

func printIngest(w io.Writer, res schema.IngestResult) {
	fmt.Fprintf(w, "Batch %s: %d processed, %s added\n",
		res.BatchID, res.RecordsProcessed, color.New(color.FgGreen).Sprint(res.RecordsAdded))
	bad := color.New(color.FgRed)
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  %s\n", bad.Sprint(e))
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
