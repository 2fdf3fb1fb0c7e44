package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"pagelens/api/apiclient"
	"pagelens/api/models"
)

func analyzeCmd() *cobra.Command {
	var (
		server    string
		tokenPath string
		email     string
		password  string
		industry  string
		name      string
		urls      []string
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Submit URLs to a running server and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			urls = append(urls, args...)
			if len(urls) == 0 {
				return errors.New("at least one --url is required")
			}

			client := apiclient.New(server, apiclient.FileTokenStore{Path: tokenPath}, nil)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			if email != "" {
				if password == "" {
					password = os.Getenv("PAGELENS_PASSWORD")
				}
				user, err := client.Login(ctx, email, password)
				if err != nil {
					return fmt.Errorf("login: %w", err)
				}
				if user != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "signed in as %s\n", user.Email)
				}
			}

			token := uuid.NewString()
			done := make(chan struct{})
			go watchProgress(ctx, client, token, cmd, done)

			a, err := client.Analyze(ctx, models.AnalyzeRequest{URLs: urls, Industry: industry, Name: name}, token)
			close(done)
			if err != nil {
				var apiErr *apiclient.APIError
				if errors.As(err, &apiErr) && apiErr.Status == http.StatusForbidden {
					return fmt.Errorf("membership does not allow new analyses: %s", apiErr.Message)
				}
				return err
			}
			printReport(cmd, a)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "API base URL")
	cmd.Flags().StringVar(&tokenPath, "tokens", apiclient.DefaultTokenPath(), "where login tokens are kept")
	cmd.Flags().StringVar(&email, "email", "", "sign in with this account before analyzing")
	cmd.Flags().StringVar(&password, "password", "", "account password (defaults to $PAGELENS_PASSWORD)")
	cmd.Flags().StringVar(&industry, "industry", "", "industry hint for the analysis")
	cmd.Flags().StringVar(&name, "name", "", "report name")
	cmd.Flags().StringArrayVar(&urls, "url", nil, "page URL, in funnel order (repeatable)")
	return cmd
}

func watchProgress(ctx context.Context, client *apiclient.Client, token string, cmd *cobra.Command, done <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	last := ""
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p, err := client.Progress(ctx, token)
			if err != nil {
				continue
			}
			line := fmt.Sprintf("[%3d%%] %s", p.ProgressPercent, p.Message)
			if line != last {
				fmt.Fprintln(cmd.ErrOrStderr(), line)
				last = line
			}
		}
	}
}

func printReport(cmd *cobra.Command, a *models.Analysis) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (#%d) overall %d/100\n", a.Name, a.ID, a.OverallScore)
	fmt.Fprintf(out, "  clarity %d  value %d  proof %d  design %d  flow %d\n",
		a.Scores.Clarity, a.Scores.Value, a.Scores.Proof, a.Scores.Design, a.Scores.Flow)
	if a.Summary != "" {
		fmt.Fprintf(out, "\n%s\n", a.Summary)
	}
	for _, p := range a.Pages {
		fmt.Fprintf(out, "\n%d. %s\n", p.Position+1, p.URL)
		if p.ScrapeError != nil {
			fmt.Fprintf(out, "   could not load: %s\n", *p.ScrapeError)
			continue
		}
		fmt.Fprintf(out, "   %s\n", p.Feedback)
	}
}
