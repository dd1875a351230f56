package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/confidential_tasks/internal/app/domain/task"
	"github.com/R3E-Network/confidential_tasks/internal/notify"
	"github.com/R3E-Network/confidential_tasks/services/tasks"
)

var (
	secretOwner   string
	secretName    string
	secretContent string
	secretID      string
	showProgress  bool
)

func init() {
	secretsCmd.PersistentFlags().StringVar(&secretOwner, "testator", "", "address owning the secrets")
	secretsCmd.PersistentFlags().BoolVar(&showProgress, "progress", true, "print lifecycle events")
	_ = secretsCmd.MarkPersistentFlagRequired("testator")

	secretsAddCmd.Flags().StringVar(&secretName, "name", "", "secret name")
	secretsAddCmd.Flags().StringVar(&secretContent, "content", "", "secret content")
	_ = secretsAddCmd.MarkFlagRequired("name")

	secretsRemoveCmd.Flags().StringVar(&secretID, "id", "", "secret id")
	_ = secretsRemoveCmd.MarkFlagRequired("id")

	secretsCmd.AddCommand(secretsAddCmd, secretsRemoveCmd, secretsListCmd, scenarioCmd)
	rootCmd.AddCommand(secretsCmd)
}

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage secrets in the secret whitelist contract",
}

var secretsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a named secret",
	RunE: withWhitelist(func(s *session) error {
		_, err := s.step("add secret", func() (*task.Record, error) {
			return s.wl.AddSecret(s.ctx, secretOwner, secretName, secretContent)
		})
		return err
	}),
}

var secretsRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove a secret by id",
	RunE: withWhitelist(func(s *session) error {
		_, err := s.step("remove secret "+secretID, func() (*task.Record, error) {
			return s.wl.RemoveSecret(s.ctx, secretOwner, secretID)
		})
		return err
	}),
}

var secretsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the ids of current secrets",
	RunE: withWhitelist(func(s *session) error {
		ids, err := s.list()
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(s.w, id)
		}
		return nil
	}),
}

// scenarioCmd runs add, list, remove and list in one process, which is the
// only way to observe a round trip against the in-process simulated network.
var scenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Add a secret, list it, remove it and list again",
	RunE: withWhitelist(func(s *session) error {
		name := secretName
		if name == "" {
			name = "name1"
		}
		content := secretContent
		if content == "" {
			content = "content1"
		}
		return runScenario(s, name, content)
	}),
}

func runScenario(s *session, name, content string) error {
	if _, err := s.step("add secret "+name, func() (*task.Record, error) {
		return s.wl.AddSecret(s.ctx, secretOwner, name, content)
	}); err != nil {
		return err
	}

	ids, err := s.list()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("secret %q not listed after add", name)
	}

	removed := ids[len(ids)-1]
	if _, err := s.step("remove secret "+removed, func() (*task.Record, error) {
		return s.wl.RemoveSecret(s.ctx, secretOwner, removed)
	}); err != nil {
		return err
	}

	after, err := s.list()
	if err != nil {
		return err
	}
	for _, id := range after {
		if id == removed {
			return fmt.Errorf("secret %s still listed after remove", removed)
		}
	}
	return nil
}

func withWhitelist(fn func(*session) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, app, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		wl, err := app.Whitelist()
		if err != nil {
			return err
		}

		s := &session{ctx: ctx, wl: wl, out: NewPrinter(cmd.ErrOrStderr()), w: cmd.OutOrStdout()}
		if showProgress {
			events, unsubscribe := app.Hub.Subscribe(notify.AllTasks)
			done := make(chan struct{})
			go func() {
				defer close(done)
				s.out.Watch(events)
			}()
			defer func() {
				unsubscribe()
				<-done
			}()
		}
		return fn(s)
	}
}

// session is one command's view of the whitelist. Status lines go to out,
// results to w.
type session struct {
	ctx context.Context
	wl  *tasks.Whitelist
	out *Printer
	w   io.Writer
}

func (s *session) step(label string, fn func() (*task.Record, error)) (*task.Record, error) {
	rec, err := fn()
	if err != nil {
		s.out.Error("%s: %v", label, err)
		return rec, err
	}
	s.out.Success("%s (task %s)", label, rec.TaskID)
	return rec, nil
}

func (s *session) list() ([]string, error) {
	ids, rec, err := s.wl.ListSecretIDs(s.ctx, secretOwner)
	if err != nil {
		s.out.Error("list secrets: %v", err)
		return nil, err
	}
	s.out.Success("list secrets: %d found (task %s)", len(ids), rec.TaskID)
	return ids, nil
}
