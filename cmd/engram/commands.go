// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kadirpekel/engram/pkg/backup"
	"github.com/kadirpekel/engram/pkg/config"
	"github.com/kadirpekel/engram/pkg/entry"
	"github.com/kadirpekel/engram/pkg/importer"
	"github.com/kadirpekel/engram/pkg/maintenance"
	"github.com/kadirpekel/engram/pkg/observability"
	"github.com/kadirpekel/engram/pkg/scope"
	"github.com/kadirpekel/engram/pkg/server"
	"github.com/kadirpekel/engram/pkg/tasksync"
)

// ServeCmd starts the HTTP server, or the MCP stdio transport with --mcp.
type ServeCmd struct {
	Port int  `help:"Port to listen on (overrides config)."`
	MCP  bool `help:"Serve tools over MCP stdio instead of HTTP."`

	Metrics bool    `help:"Expose Prometheus metrics at /metrics."`
	Trace   bool    `help:"Enable tracing."`
	Sample  float64 `help:"Trace sampling rate." default:"1.0"`

	Production bool `help:"Sanitize error details in responses."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if c.MCP {
		// Stdio transport: stdout belongs to the protocol, logs stay on
		// stderr via the logger setup.
		rt.pipeline.Start(ctx)
		return server.NewMCPServer(rt.registry).ServeStdio()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	obs := observability.NewManager(observability.Config{
		Tracing: observability.TracingConfig{Enabled: c.Trace, SamplingRate: c.Sample},
		Metrics: observability.MetricsConfig{Enabled: c.Metrics},
	})
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	rt.pipeline.Start(ctx)

	if cfg.Maintenance.Enabled {
		scheduler := maintenance.NewScheduler(
			maintenance.NewRunner(rt.maintenanceCatalog()...),
			rt.maintenanceScopes,
		)
		if err := scheduler.Start(cfg.Maintenance.Schedule); err != nil {
			return err
		}
		defer scheduler.Stop()
	}

	for name, adapterCfg := range cfg.Sync.Adapters {
		adapter, err := tasksync.NewAdapter(adapterCfg)
		if err != nil {
			slog.Warn("skipping sync adapter", "adapter", name, "error", err)
			continue
		}
		syncer := tasksync.NewSyncer(name, adapter, rt.tasks, rt.evidence, adapterCfg)
		go func(name string) {
			if _, err := syncer.Sync(ctx); err != nil {
				slog.Warn("initial sync pass failed", "adapter", name, "error", err)
			}
		}(name)
	}

	opts := []server.Option{server.WithObservability(obs)}
	if c.Production {
		opts = append(opts, server.WithProductionErrors())
	}
	srv := server.New(cfg.Server, rt.registry, opts...)

	fmt.Printf("engram ready on http://%s\n", srv.Address())
	fmt.Printf("  tools:    http://%s/v1/tools\n", srv.Address())
	fmt.Printf("  openapi:  http://%s/v1/openapi.json\n", srv.Address())
	fmt.Printf("  health:   http://%s/health\n", srv.Address())
	if c.Metrics {
		fmt.Printf("  metrics:  http://%s%s\n", srv.Address(), obs.MetricsEndpoint())
	}
	return srv.Start(ctx)
}

// MaintainCmd runs the maintenance catalog once and prints the results.
type MaintainCmd struct {
	Scope  string `help:"Scope to maintain (e.g. project:myapp). Empty runs all scopes."`
	DryRun bool   `help:"Report decisions without writing."`
}

func (c *MaintainCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	scopes := rt.maintenanceScopes()
	if c.Scope != "" {
		sc, err := scope.Parse(c.Scope)
		if err != nil {
			return err
		}
		scopes = []scope.Scope{sc}
	}

	runner := maintenance.NewRunner(rt.maintenanceCatalog()...)
	ctx := context.Background()
	for _, sc := range scopes {
		results := runner.Run(ctx, sc, c.DryRun)
		for _, res := range results {
			status := "skipped"
			if res.Executed {
				status = "ok"
			}
			if len(res.Errors) > 0 {
				status = fmt.Sprintf("errors: %s", strings.Join(res.Errors, "; "))
			}
			fmt.Printf("%-28s %-20s %6dms  %s\n", res.Task, sc.String(), res.DurationMs, status)
		}
	}
	return nil
}

// BackupCmd manages database backups.
type BackupCmd struct {
	Create  BackupCreateCmd  `cmd:"" help:"Create a backup."`
	List    BackupListCmd    `cmd:"" help:"List backups, newest first."`
	Restore BackupRestoreCmd `cmd:"" help:"Restore a backup over the primary database."`
	Prune   BackupPruneCmd   `cmd:"" help:"Delete all but the newest N backups."`
}

func openBackupManager(cli *CLI) (*backup.Manager, func(), error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, nil, err
	}
	rt, err := newRuntime(cfg)
	if err != nil {
		return nil, nil, err
	}
	return backup.New(rt.store, cfg.Storage.BackupDir), rt.Close, nil
}

type BackupCreateCmd struct {
	Name string `help:"Custom backup name."`
}

func (c *BackupCreateCmd) Run(cli *CLI) error {
	mgr, done, err := openBackupManager(cli)
	if err != nil {
		return err
	}
	defer done()

	info, err := mgr.Create(context.Background(), c.Name)
	if err != nil {
		return err
	}
	fmt.Printf("created %s (%d bytes)\n", info.Path, info.SizeBytes)
	return nil
}

type BackupListCmd struct{}

func (c *BackupListCmd) Run(cli *CLI) error {
	mgr, done, err := openBackupManager(cli)
	if err != nil {
		return err
	}
	defer done()

	infos, err := mgr.List()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("no backups")
		return nil
	}
	for _, info := range infos {
		fmt.Printf("%s  %10d  %s\n", info.CreatedAt.Format("2006-01-02 15:04:05"), info.SizeBytes, info.Name)
	}
	return nil
}

type BackupRestoreCmd struct {
	Filename string `arg:"" help:"Backup file name to restore."`
}

func (c *BackupRestoreCmd) Run(cli *CLI) error {
	mgr, done, err := openBackupManager(cli)
	if err != nil {
		return err
	}
	defer done()

	safety, err := mgr.Restore(context.Background(), c.Filename)
	if err != nil {
		return err
	}
	fmt.Printf("restored %s (previous database saved at %s)\n", c.Filename, safety)
	return nil
}

type BackupPruneCmd struct {
	Keep int `help:"Number of backups to keep." default:"5"`
}

func (c *BackupPruneCmd) Run(cli *CLI) error {
	mgr, done, err := openBackupManager(cli)
	if err != nil {
		return err
	}
	defer done()

	deleted, err := mgr.Cleanup(c.Keep)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d backups\n", deleted)
	return nil
}

// ImportCmd bulk-imports entries.
type ImportCmd struct {
	File     string `arg:"" help:"Document to import." type:"path"`
	Format   string `help:"Document format (json or openapi)." default:"json"`
	Strategy string `help:"Conflict strategy (update, skip, error, replace)." default:"skip"`
	Scope    string `help:"Default scope for entries without one (e.g. project:myapp)."`
	Remap    string `help:"Scope remaps as from=to pairs, comma separated."`
}

func (c *ImportCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	data, err := os.ReadFile(c.File)
	if err != nil {
		return err
	}

	strategy, err := importer.ParseStrategy(c.Strategy)
	if err != nil {
		return err
	}
	opts := importer.Options{
		Strategy:   strategy,
		MaxEntries: cfg.Import.MaxEntries,
	}
	if c.Scope != "" {
		sc, err := scope.Parse(c.Scope)
		if err != nil {
			return err
		}
		opts.DefaultScope = sc
	}
	if c.Remap != "" {
		opts.ScopeRemap = make(map[string]string)
		for _, pair := range strings.Split(c.Remap, ",") {
			from, to, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Errorf("invalid remap %q, want from=to", pair)
			}
			opts.ScopeRemap[strings.TrimSpace(from)] = strings.TrimSpace(to)
		}
	}

	svc := importer.New(rt.repos, rt.resolver)
	ctx := context.Background()

	var report *importer.Report
	switch c.Format {
	case "json":
		report, err = svc.ImportJSON(ctx, data, opts)
	case "openapi":
		report, err = svc.ImportOpenAPI(ctx, data, opts)
	case "yaml":
		report, err = svc.ImportYAML(ctx, data, opts)
	case "markdown":
		report, err = svc.ImportMarkdown(ctx, data, opts)
	default:
		return fmt.Errorf("unsupported import format %q", c.Format)
	}
	if err != nil {
		return err
	}

	fmt.Printf("imported %d entries: %d created, %d updated, %d replaced, %d skipped, %d failed\n",
		report.Total, report.Created, report.Updated, report.Replaced, report.Skipped, report.Failed)
	for _, msg := range report.Errors {
		fmt.Fprintf(os.Stderr, "  %s\n", msg)
	}
	return nil
}

// ExportCmd writes entries as a JSON document.
type ExportCmd struct {
	Output   string `short:"o" help:"Output file (empty = stdout)." type:"path"`
	Scope    string `help:"Scope to export." default:"global"`
	Inherit  bool   `help:"Include entries inherited from broader scopes."`
	Kinds    string `help:"Comma-separated entry kinds (empty = all)."`
	Inactive bool   `help:"Include deactivated entries."`
}

func (c *ExportCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	sc, err := scope.Parse(c.Scope)
	if err != nil {
		return err
	}
	opts := importer.ExportOptions{
		Scope:           sc,
		Inherit:         c.Inherit,
		IncludeInactive: c.Inactive,
	}
	if c.Kinds != "" {
		for _, raw := range strings.Split(c.Kinds, ",") {
			kind, err := entry.ParseKind(strings.TrimSpace(raw))
			if err != nil {
				return err
			}
			opts.Kinds = append(opts.Kinds, kind)
		}
	}

	out, err := importer.New(rt.repos, rt.resolver).ExportJSON(context.Background(), opts)
	if err != nil {
		return err
	}
	if c.Output == "" {
		fmt.Println(string(out))
		return nil
	}
	return os.WriteFile(c.Output, out, 0o644)
}

// SyncCmd runs every configured sync adapter once.
type SyncCmd struct {
	Adapter string `help:"Run only the named adapter."`
	DryRun  bool   `help:"Report decisions without writing."`
}

func (c *SyncCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if len(cfg.Sync.Adapters) == 0 {
		return fmt.Errorf("no sync adapters configured")
	}
	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := context.Background()
	for name, adapterCfg := range cfg.Sync.Adapters {
		if c.Adapter != "" && c.Adapter != name {
			continue
		}
		if c.DryRun {
			adapterCfg.DryRun = true
		}
		adapter, err := tasksync.NewAdapter(adapterCfg)
		if err != nil {
			return fmt.Errorf("adapter %s: %w", name, err)
		}
		res, err := tasksync.NewSyncer(name, adapter, rt.tasks, rt.evidence, adapterCfg).Sync(ctx)
		if err != nil {
			return fmt.Errorf("adapter %s: %w", name, err)
		}
		out, _ := json.Marshal(res)
		fmt.Println(string(out))
	}
	return nil
}
