package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/osvaldoandrade/formq/pkg/domain"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

func testCmd(baseURL, token *string, ui *ui) *cobra.Command {
	test := &cobra.Command{
		Use:   "test",
		Short: "Test operations",
	}

	var title string
	importCmd := &cobra.Command{
		Use:     "import <form-url>",
		Short:   "Import a Google Form as a test",
		Example: "formq test import https://docs.google.com/forms/d/e/FORM/viewform --title 'Quiz'",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := authedClient(*baseURL, *token)
			if err != nil {
				return err
			}
			var out struct {
				ID int64 `json:"id"`
			}
			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Importing form..."
			spin.Start()
			err = c.do("POST", "/v1/formq/tests/google-form", map[string]any{"url": args[0], "title": title}, &out)
			spin.Stop()
			if err != nil {
				return err
			}
			fmt.Printf("%s Test imported: %d\n", ui.ok("[OK]"), out.ID)
			return nil
		},
	}
	importCmd.Flags().StringVar(&title, "title", "", "Title (defaults to the form title)")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a test and its questions",
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
			var t domain.Test
			if err := c.do("GET", fmt.Sprintf("/v1/formq/tests/%d", id), nil, &t); err != nil {
				return err
			}
			printTest(ui, t)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List your tests",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := authedClient(*baseURL, *token)
			if err != nil {
				return err
			}
			var out struct {
				Tests []domain.Test `json:"tests"`
			}
			if err := c.do("GET", "/v1/formq/tests", nil, &out); err != nil {
				return err
			}
			if len(out.Tests) == 0 {
				fmt.Println(ui.dim("no tests"))
				return nil
			}
			for _, t := range out.Tests {
				fmt.Printf("%s %-6d %s %s\n", ui.info("•"), t.ID, t.Title,
					ui.dim(fmt.Sprintf("(%d questions)", len(t.Questions))))
			}
			return nil
		},
	}

	var (
		newTitle      string
		newURL        string
		questionsFile string
	)
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit a test's title, URL or questions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg(args[0])
			if err != nil {
				return err
			}
			patch := map[string]any{}
			if cmd.Flags().Changed("title") {
				patch["title"] = newTitle
			}
			if cmd.Flags().Changed("url") {
				patch["url"] = newURL
			}
			if questionsFile != "" {
				questions, err := loadQuestionsFile(questionsFile)
				if err != nil {
					return err
				}
				patch["questions"] = questions
			}
			if len(patch) == 0 {
				return errors.New("nothing to update (use --title, --url or --questions)")
			}
			c, err := authedClient(*baseURL, *token)
			if err != nil {
				return err
			}
			if err := c.do("PATCH", fmt.Sprintf("/v1/formq/tests/%d", id), patch, nil); err != nil {
				return err
			}
			fmt.Printf("%s Test %d updated\n", ui.ok("[OK]"), id)
			return nil
		},
	}
	update.Flags().StringVar(&newTitle, "title", "", "New title")
	update.Flags().StringVar(&newURL, "url", "", "New form URL (empty clears it)")
	update.Flags().StringVar(&questionsFile, "questions", "", "YAML/JSON file with the full question list")

	test.AddCommand(importCmd, show, list, update)
	test.AddCommand(documentCmds(baseURL, token, ui)...)
	return test
}

func printTest(ui *ui, t domain.Test) {
	fmt.Printf("%s %s %s\n", ui.title(fmt.Sprintf("#%d", t.ID)), t.Title, ui.dim(t.URL))
	for _, q := range t.Questions {
		req := ""
		if q.Required {
			req = ui.warn("*")
		}
		fmt.Printf("  %s %s%s %s\n", ui.info(q.ID.String()), q.Prompt, req, ui.dim("["+string(q.Type)+"]"))
		if len(q.Options) > 0 {
			fmt.Printf("      %s\n", ui.dim(strings.Join(q.Options, " | ")))
		}
	}
}

func parseIDArg(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
