// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bcem/legalmail/internal/app"
	"github.com/bcem/legalmail/internal/apperr"
	"github.com/bcem/legalmail/internal/identity"
	"github.com/bcem/legalmail/internal/metrics"
	"github.com/bcem/legalmail/internal/models"
	"github.com/bcem/legalmail/internal/pipeline"
	"github.com/bcem/legalmail/internal/sanitize"
)

// mailer is the pipeline surface a batch needs.
type mailer interface {
	Build(ctx context.Context, id identity.Identity, client models.ClientRecord, templateName string, attachments []models.Attachment) (*pipeline.Draft, error)
	SendAndUpdate(ctx context.Context, req pipeline.SendRequest) pipeline.Result
}

type batchOptions struct {
	csvPath     string
	template    string
	concurrency int
	principal   string
	dryRun      bool
}

// batchJob is one batch run over already-parsed rows.
type batchJob struct {
	mailer      mailer
	identity    identity.Identity
	template    string
	concurrency int
	dryRun      bool
	metrics     *metrics.Registry
}

// rowResult is the outcome for one spreadsheet row. Row is 1-based and
// counts data rows only.
type rowResult struct {
	Row    int
	Client string
	To     string
	Status string
	Code   string
}

func (r rowResult) failed() bool { return r.Code != "" }

func newSendBatchCmd(root *rootOptions) *cobra.Command {
	opts := &batchOptions{}

	cmd := &cobra.Command{
		Use:   "send-batch",
		Short: "Send one templated email per spreadsheet row",
		Long: `Read a CSV export of client records and send the named template to
each row's client. Rows are processed concurrently; every row gets a
status line and the command fails if any row failed.

With --dry-run each row is merged and validated but nothing is sent.`,
		Args: cobra.NoArgs,
		Example: `  legalmail send-batch --csv intake.csv --template welcome
  legalmail send-batch --csv intake.csv --template questionnaire --concurrency 8 --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSendBatch(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.csvPath, "csv", "", "CSV file of client records (required)")
	cmd.Flags().StringVar(&opts.template, "template", "", "template name (required)")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 4, "rows processed in parallel")
	cmd.Flags().StringVar(&opts.principal, "principal", "", "acting user principal, e.g. amy@firm.com")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "build every email without sending")
	_ = cmd.MarkFlagRequired("csv")
	_ = cmd.MarkFlagRequired("template")

	return cmd
}

func runSendBatch(cmd *cobra.Command, root *rootOptions, opts *batchOptions) error {
	if opts.concurrency < 1 {
		return fmt.Errorf("--concurrency must be at least 1, got %d", opts.concurrency)
	}

	f, err := os.Open(opts.csvPath)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	rows, err := readRows(f)
	if err != nil {
		return err
	}

	cfg, logger, err := root.load()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	svc, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	job := batchJob{
		mailer:      svc.Pipeline,
		identity:    identity.FromPrincipal(opts.principal, cfg.Production()),
		template:    opts.template,
		concurrency: opts.concurrency,
		dryRun:      opts.dryRun,
		metrics:     svc.Metrics,
	}
	results := job.run(ctx, rows)

	return report(cmd.OutOrStdout(), results)
}

// readRows parses a CSV export whose first line is the header. Blank rows
// are dropped; short rows leave the missing columns empty.
func readRows(r io.Reader) ([]models.ClientRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("csv is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	var rows []models.ClientRecord
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}

		row := make(models.ClientRecord, len(header))
		blank := true
		for i, col := range header {
			if i >= len(rec) || col == "" {
				continue
			}
			row[col] = rec[i]
			if strings.TrimSpace(rec[i]) != "" {
				blank = false
			}
		}
		if !blank {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// run processes rows with bounded parallelism. Per-row failures never
// stop the batch; results keep input order.
func (j batchJob) run(ctx context.Context, rows []models.ClientRecord) []rowResult {
	results := make([]rowResult, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(j.concurrency, 1))

	for i, row := range rows {
		g.Go(func() error {
			j.metrics.BatchRow()
			results[i] = j.processRow(gctx, i+1, row)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (j batchJob) processRow(ctx context.Context, n int, row models.ClientRecord) rowResult {
	res := rowResult{
		Row:    n,
		Client: sanitize.Text(row.Name()),
		To:     sanitize.MaskEmail(sanitize.Email(row.Email())),
	}

	draft, err := j.mailer.Build(ctx, j.identity, row, j.template, nil)
	if err != nil {
		res.Code = apperr.CodeOf(err, apperr.CodeBuildInternal)
		res.Status = "Failed: " + res.Code
		return res
	}

	if j.dryRun {
		res.Status = "Built"
		return res
	}

	sent := j.mailer.SendAndUpdate(ctx, draft.Request())
	res.Code = sent.Code
	res.Status = sent.Tag()
	return res
}

// report prints one line per row and returns an error when any row
// failed.
func report(w io.Writer, results []rowResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tCLIENT\tTO\tSTATUS")
	failed := 0
	for _, r := range results {
		if r.failed() {
			failed++
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.Row, r.Client, r.To, r.Status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%d rows, %d succeeded, %d failed\n", len(results), len(results)-failed, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d rows failed", failed, len(results))
	}
	return nil
}
