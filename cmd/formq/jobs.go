package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/osvaldoandrade/formq/pkg/domain"

	"github.com/briandowns/spinner"
	"github.com/gorilla/websocket"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type submitFlags struct {
	quantity    int
	answersFile string
	answers     []string
	webhook     string
}

func (f *submitFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.quantity, "quantity", "n", 0, "Number of runs")
	cmd.Flags().StringVar(&f.answersFile, "answers", "", "YAML/JSON file with answer directives")
	cmd.Flags().StringArrayVarP(&f.answers, "answer", "a", nil, "Directive <question>=<mode>[:<value>] (repeatable)")
	cmd.Flags().StringVar(&f.webhook, "webhook", "", "Webhook notified when the job completes")
}

// build merges the file and flag directives; flags win on the same question.
func (f *submitFlags) build() (submission, error) {
	var sub submission
	if f.answersFile != "" {
		var err error
		if sub, err = loadSubmissionFile(f.answersFile); err != nil {
			return submission{}, err
		}
	}
	for _, a := range f.answers {
		d, err := parseAnswerFlag(a)
		if err != nil {
			return submission{}, err
		}
		sub.Answers = upsertDirective(sub.Answers, d)
	}
	if f.quantity > 0 {
		sub.Quantity = f.quantity
	}
	if f.webhook != "" {
		sub.Webhook = f.webhook
	}
	if sub.Quantity <= 0 {
		return submission{}, errors.New("quantity must be positive (use --quantity)")
	}
	return sub, nil
}

func upsertDirective(list []domain.AnswerDirective, d domain.AnswerDirective) []domain.AnswerDirective {
	for i := range list {
		if list[i].QuestionID == d.QuestionID {
			list[i] = d
			return list
		}
	}
	return append(list, d)
}

func submit(c *client, testID int64, sub submission) (string, error) {
	var out struct {
		JobID   string `json:"job_id"`
		Message string `json:"message"`
	}
	spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
	spin.Suffix = " Submitting batch..."
	spin.Start()
	err := c.do("POST", fmt.Sprintf("/v1/formq/tests/%d/submit", testID), sub, &out)
	spin.Stop()
	if err != nil {
		return "", err
	}
	return out.JobID, nil
}

func submitCmd(baseURL, token *string, ui *ui) *cobra.Command {
	var flags submitFlags
	cmd := &cobra.Command{
		Use:     "submit <test-id>",
		Short:   "Start a batch of runs",
		Example: "formq submit 7 -n 20 -a 1001=user:Paris -a 1002=random -a 1003=llm",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			testID, err := parseIDArg(args[0])
			if err != nil {
				return err
			}
			sub, err := flags.build()
			if err != nil {
				return err
			}
			c, err := authedClient(*baseURL, *token)
			if err != nil {
				return err
			}
			jobID, err := submit(c, testID, sub)
			if err != nil {
				return err
			}
			fmt.Printf("%s Job accepted: %s (%d runs)\n", ui.ok("[OK]"), jobID, sub.Quantity)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func runCmd(baseURL, token *string, ui *ui) *cobra.Command {
	var (
		flags    submitFlags
		interval time.Duration
		stream   bool
	)
	cmd := &cobra.Command{
		Use:     "run <test-id>",
		Short:   "Submit a batch and wait for it",
		Example: "formq run 7 -n 5 --answers answers.yaml --stream",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			testID, err := parseIDArg(args[0])
			if err != nil {
				return err
			}
			sub, err := flags.build()
			if err != nil {
				return err
			}
			c, err := authedClient(*baseURL, *token)
			if err != nil {
				return err
			}
			jobID, err := submit(c, testID, sub)
			if err != nil {
				return err
			}
			fmt.Printf("%s Job accepted: %s\n", ui.info("[INFO]"), jobID)
			return watch(c, jobID, interval, stream, ui)
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Polling interval")
	cmd.Flags().BoolVar(&stream, "stream", false, "Follow progress over a websocket instead of polling")
	return cmd
}

func jobCmd(baseURL, token *string, ui *ui) *cobra.Command {
	job := &cobra.Command{
		Use:   "job",
		Short: "Job operations",
	}

	status := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show job progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := authedClient(*baseURL, *token)
			if err != nil {
				return err
			}
			var j domain.Job
			if err := c.do("GET", "/v1/formq/jobs/"+url.PathEscape(args[0]), nil, &j); err != nil {
				return err
			}
			printJob(ui, j)
			return nil
		},
	}

	var (
		interval time.Duration
		stream   bool
	)
	watchCmd := &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Wait for a job to complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := authedClient(*baseURL, *token)
			if err != nil {
				return err
			}
			return watch(c, args[0], interval, stream, ui)
		},
	}
	watchCmd.Flags().DurationVar(&interval, "interval", time.Second, "Polling interval")
	watchCmd.Flags().BoolVar(&stream, "stream", false, "Follow progress over a websocket instead of polling")

	runs := &cobra.Command{
		Use:   "runs <job-id>",
		Short: "List the runs persisted by a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := authedClient(*baseURL, *token)
			if err != nil {
				return err
			}
			var out struct {
				Runs []domain.TestRun `json:"runs"`
			}
			if err := c.do("GET", "/v1/formq/jobs/"+url.PathEscape(args[0])+"/runs", nil, &out); err != nil {
				return err
			}
			for _, r := range out.Runs {
				printRun(ui, r)
			}
			return nil
		},
	}

	showRun := &cobra.Command{
		Use:   "run <run-id>",
		Short: "Show one run with its answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg(args[0])
			if err != nil {
				return err
			}
			c, err := authedClient(*baseURL, *token)
			if err != nil {
				return err
			}
			var r domain.TestRun
			if err := c.do("GET", fmt.Sprintf("/v1/formq/test-runs/%d", id), nil, &r); err != nil {
				return err
			}
			printRun(ui, r)
			for _, a := range r.Answers {
				fmt.Printf("    %s %s = %s %s\n", ui.info(a.QuestionID.String()), a.Prompt, answerText(a), ui.dim("("+string(a.Mode)+")"))
			}
			return nil
		},
	}

	job.AddCommand(status, watchCmd, runs, showRun)
	return job
}

func watch(c *client, jobID string, interval time.Duration, stream bool, ui *ui) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var (
		bar  *progressbar.ProgressBar
		last domain.Job
	)
	update := func(j domain.Job) {
		if bar == nil {
			bar = progressbar.NewOptions(j.TotalRuns,
				progressbar.OptionSetDescription("Running "+j.ID),
				progressbar.OptionSetWidth(18),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
		_ = bar.Set(j.ProcessedRuns)
		last = j
	}

	var err error
	if stream {
		err = streamJob(ctx, c, jobID, update)
	} else {
		err = pollJob(ctx, c, jobID, interval, update)
	}
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Println(ui.warn("[WARN]"), "Stopped watching; the job keeps running")
			return nil
		}
		return err
	}
	printJob(ui, last)
	return nil
}

func pollJob(ctx context.Context, c *client, jobID string, interval time.Duration, update func(domain.Job)) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		var j domain.Job
		if err := c.do("GET", "/v1/formq/jobs/"+url.PathEscape(jobID), nil, &j); err != nil {
			return err
		}
		update(j)
		if j.Status.Terminal() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func streamJob(ctx context.Context, c *client, jobID string, update func(domain.Job)) error {
	wsURL, err := streamURL(c.baseURL, jobID)
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("stream: handshake failed (%d)", resp.StatusCode)
		}
		return fmt.Errorf("stream: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		var j domain.Job
		if err := conn.ReadJSON(&j); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream: %w", err)
		}
		update(j)
		if j.Status.Terminal() {
			return nil
		}
	}
}

func streamURL(baseURL, jobID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path += "/v1/formq/jobs/" + url.PathEscape(jobID) + "/stream"
	return u.String(), nil
}

func printJob(ui *ui, j domain.Job) {
	state := ui.info(string(j.Status))
	if j.Status.Terminal() {
		state = ui.ok(string(j.Status))
	}
	fmt.Printf("%s %s  %s  %d/%d processed\n", ui.title("job"), j.ID, state, j.ProcessedRuns, j.TotalRuns)
	if !j.Status.Terminal() {
		return
	}
	failed := 0
	for i, r := range j.Results {
		if r.Succeeded() {
			continue
		}
		failed++
		fmt.Printf("  %s run %d: %s\n", ui.err("✗"), i+1, r.Error)
	}
	fmt.Printf("%s %d succeeded, %d failed\n", ui.info("•"), j.Succeeded(), failed)
}

func printRun(ui *ui, r domain.TestRun) {
	extra := ""
	if r.LLMModel != "" {
		extra = ui.dim(fmt.Sprintf(" %s, %d attempts, %.1fs", r.LLMModel, r.LLMAttempts, r.LLMAnsweringSeconds))
	}
	fmt.Printf("%s run %d  test %d  %s%s\n", ui.info("•"), r.ID, r.TestID, r.SubmittedAt.Format(time.RFC3339), extra)
}

func answerText(a domain.ResolvedAnswer) string {
	for _, v := range []*domain.AnswerValue{a.UserAnswer, a.LLMAnswer, a.RandomAnswer} {
		if v != nil {
			return v.String()
		}
	}
	return "-"
}
