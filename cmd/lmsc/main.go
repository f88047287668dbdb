package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mkivela/lmsc/internal/api"
	"github.com/mkivela/lmsc/internal/exercise"
	"github.com/mkivela/lmsc/internal/grader"
	"github.com/mkivela/lmsc/internal/handler"
	appI18n "github.com/mkivela/lmsc/internal/i18n"
	"github.com/mkivela/lmsc/internal/model"
	"github.com/mkivela/lmsc/internal/session"
	"github.com/mkivela/lmsc/internal/store"
	"github.com/mkivela/lmsc/internal/submission"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lmsc",
		Short: "Student client for the course platform",
	}

	pf := root.PersistentFlags()
	pf.String("api-url", "https://plus.example.org/api/v2", "Platform API base URL")
	pf.String("db", defaultDBPath(), "Local storage path")
	pf.StringP("lang", "l", "en", "UI language (en, fi)")
	pf.Duration("poll-interval", submission.DefaultInterval, "Delay between grading polls")
	pf.Int("max-polls", 0, "Give up after this many grading polls (0 = never)")
	pf.String("rewrite-from", "", "Template host prefix to rewrite")
	pf.String("rewrite-to", "", "Replacement prefix for rewritten template URLs")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-format", "text", "Log format (text, json)")

	root.AddCommand(
		loginCmd(), logoutCmd(), coursesCmd(),
		exerciseCmd(), submitCmd(), watchCmd(), templateCmd(),
		downloadCmd(), serveCmd(),
	)
	return root
}

func defaultDBPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "lmsc", "lmsc.db")
	}
	return "lmsc.db"
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())
	_ = v.BindPFlags(cmd.Root().PersistentFlags())

	v.SetEnvPrefix("LMSC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("lmsc")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/lmsc")
	v.AddConfigPath("/etc/lmsc")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func clientConfig(v *viper.Viper) model.ClientConfig {
	return model.ClientConfig{
		APIURL:       v.GetString("api-url"),
		Lang:         v.GetString("lang"),
		PollInterval: v.GetDuration("poll-interval"),
		MaxPolls:     v.GetInt("max-polls"),
		RewriteFrom:  v.GetString("rewrite-from"),
		RewriteTo:    v.GetString("rewrite-to"),
	}
}

// env bundles everything a command needs: the store, session, API client
// and a localized context.
type env struct {
	cfg    model.ClientConfig
	store  *store.Store
	sess   *session.Session
	client *api.Client
	ctx    context.Context
}

func openEnv(cmd *cobra.Command) (*env, error) {
	v := viperForCmd(cmd)
	setupLogging(v)
	cfg := clientConfig(v)

	if err := appI18n.Init(cfg.Lang); err != nil {
		return nil, fmt.Errorf("init i18n: %w", err)
	}
	ctx := appI18n.WithLocalizer(cmd.Context(), appI18n.NewLocalizer(cfg.Lang))

	dbPath := v.GetString("db")
	if dir := filepath.Dir(dbPath); dir != "." && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	st, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open local storage: %w", err)
	}

	sess, err := session.Load(st)
	if err != nil {
		st.Close()
		return nil, err
	}
	client, err := api.New(cfg.APIURL, sess.PrimaryToken)
	if err != nil {
		st.Close()
		return nil, err
	}
	return &env{cfg: cfg, store: st, sess: sess, client: client, ctx: ctx}, nil
}

func (e *env) close() { _ = e.store.Close() }

// finish maps auth failures to the forced-logout flow before the error is
// surfaced.
func (e *env) finish(err error) error {
	if err == nil {
		return nil
	}
	if e.sess.ExpireIfAuthError(err) {
		fmt.Fprintln(os.Stderr, appI18n.T(e.ctx, "SessionExpired"))
	}
	return err
}

func (e *env) fetcher() *grader.Fetcher {
	return &grader.Fetcher{
		RewriteFrom: e.cfg.RewriteFrom,
		RewriteTo:   e.cfg.RewriteTo,
		Token:       e.sess.GraderToken,
		Refresh: func(ctx context.Context) error {
			return e.sess.RefreshGraderToken(ctx, e.client)
		},
	}
}

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login [token]",
		Short: "Store and validate a platform API token",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			token := ""
			if len(args) == 1 {
				token = args[0]
			} else {
				fmt.Fprint(os.Stderr, appI18n.T(e.ctx, "APIToken")+": ")
				sc := bufio.NewScanner(os.Stdin)
				if sc.Scan() {
					token = strings.TrimSpace(sc.Text())
				}
			}
			if token == "" {
				return errors.New("no token given")
			}

			profile, err := e.sess.Login(e.ctx, e.client, token)
			if err != nil {
				fmt.Fprintln(os.Stderr, appI18n.T(e.ctx, "LoginError"))
				return err
			}
			fmt.Println(profile.FullName)
			return nil
		},
	}
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear stored tokens",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			return e.sess.Logout()
		},
	}
}

func coursesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "courses",
		Short: "List enrolled courses",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			profile, err := e.sess.Profile(e.ctx, e.client)
			if err != nil {
				return e.finish(err)
			}
			for _, c := range profile.EnrolledCourses {
				fmt.Printf("%d\t%s %s (%s)\n", c.ID, c.Code, c.Name, c.InstanceName)
			}
			return nil
		},
	}
}

func exerciseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exercise <id>",
		Short: "Show an exercise, its form and your standing on it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			// Metadata strictly before history; the view depends on it.
			ex, err := e.client.Exercise(e.ctx, id)
			if err != nil {
				return e.finish(err)
			}
			stats, err := e.client.SubmitterStats(e.ctx, id)
			if err != nil {
				return e.finish(err)
			}
			history, err := e.client.Submissions(e.ctx, id)
			if err != nil {
				return e.finish(err)
			}

			fmt.Printf("%s\n", ex.DisplayName)
			fmt.Printf("%s: %d/%d  %s: %d  %s\n",
				appI18n.T(e.ctx, "Points"), stats.Points, ex.MaxPoints,
				appI18n.T(e.ctx, "PointsToPass"), stats.PointsToPass,
				passedText(e.ctx, stats.Passed))
			fmt.Println(appI18n.Tpd(e.ctx, "SubmissionsUsed", stats.SubmissionCount,
				map[string]any{"Max": ex.MaxSubmissions}))

			form, err := exercise.Build(ex, e.cfg.Lang)
			if errors.Is(err, exercise.ErrNoForm) {
				fmt.Println(appI18n.T(e.ctx, "NoForm"))
			} else if err != nil {
				return err
			} else {
				fmt.Println()
				for _, fld := range form.Fields {
					printField(form, fld)
				}
			}

			fmt.Println()
			fmt.Println(appI18n.T(e.ctx, "SubmissionHistory"))
			if len(history) == 0 {
				fmt.Println(appI18n.T(e.ctx, "NoSubmissions"))
			}
			for _, ref := range history {
				fmt.Printf("  %d\t%d\t%s\n", ref.ID, ref.Grade, ref.SubmissionTime.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func passedText(ctx context.Context, passed bool) string {
	if passed {
		return appI18n.T(ctx, "Passed")
	}
	return appI18n.T(ctx, "NotPassed")
}

func printField(form *exercise.Form, fld model.Field) {
	switch v := fld.(type) {
	case model.RadioField:
		printChoice(form, v.ChoiceSpec, "radio")
	case model.DropdownField:
		printChoice(form, v.ChoiceSpec, "dropdown")
	case model.CheckboxField:
		printChoice(form, v.ChoiceSpec, "checkbox")
	case model.FileField:
		fmt.Printf("  [file] %s: %s\n", v.Key, form.Translate(v.Title))
	case model.StaticField:
		fmt.Printf("  %s\n", form.Translate(v.Description))
	default:
		fmt.Printf("  [%s] %s: %s\n", fld.Kind(), fld.FieldKey(), form.Translate(titleOf(fld)))
	}
}

func titleOf(fld model.Field) string {
	switch v := fld.(type) {
	case model.TextField:
		return v.Title
	case model.NumberField:
		return v.Title
	case model.TextareaField:
		return v.Title
	}
	return fld.FieldKey()
}

func printChoice(form *exercise.Form, c model.ChoiceSpec, kind string) {
	fmt.Printf("  [%s] %s: %s\n", kind, c.Key, form.Translate(c.Title))
	for _, k := range c.EnumKeys {
		fmt.Printf("      - %s: %s\n", k, form.Translate(c.Options[k]))
	}
}

func submitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <exercise-id>",
		Short: "Submit an exercise and wait for its grade",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubmit,
	}
	f := cmd.Flags()
	f.StringP("file", "f", "", "Code file to submit (file exercises; defaults to the saved draft)")
	f.StringArrayP("answer", "a", nil, "Answer as key=value (questionnaire exercises, repeatable)")
	f.Bool("no-wait", false, "Print the submission id without polling for the grade")
	return cmd
}

func runSubmit(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()
	v := viperForCmd(cmd)

	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	ex, err := e.client.Exercise(e.ctx, id)
	if err != nil {
		return e.finish(err)
	}
	stats, err := e.client.SubmitterStats(e.ctx, id)
	if err != nil {
		return e.finish(err)
	}
	if !ex.IsSubmittable {
		return errors.New(appI18n.T(e.ctx, "SubmitDisabled"))
	}
	if ex.MaxSubmissions > 0 && stats.SubmissionCount >= ex.MaxSubmissions {
		return errors.New(appI18n.T(e.ctx, "MaxSubmissionsReached"))
	}

	form, err := exercise.Build(ex, e.cfg.Lang)
	if err != nil {
		return err
	}

	values, files, err := buildSubmission(e, form, id, v.GetString("file"), v.GetStringSlice("answer"))
	if err != nil {
		return err
	}

	subID, err := e.client.Submit(e.ctx, id, values, files)
	if err != nil {
		return e.finish(err)
	}
	if v.GetBool("no-wait") {
		fmt.Println(subID)
		return nil
	}
	return waitAndReport(e, subID)
}

func buildSubmission(e *env, form *exercise.Form, exerciseID int64, filePath string, answers []string) (url.Values, []api.SubmitFile, error) {
	if form.Mode() == exercise.ModeFile {
		var code []byte
		if filePath != "" {
			var err error
			code, err = os.ReadFile(filePath)
			if err != nil {
				return nil, nil, err
			}
			// Every edit overwrites the draft wholesale.
			if err := e.store.SaveDraft(exerciseID, string(code)); err != nil {
				return nil, nil, err
			}
		} else {
			draft, err := e.store.GetDraft(exerciseID)
			if err != nil {
				return nil, nil, err
			}
			if draft == "" {
				return nil, nil, errors.New("no --file given and no saved draft")
			}
			code = []byte(draft)
		}
		var files []api.SubmitFile
		for _, ff := range form.FileFields() {
			files = append(files, api.SubmitFile{Field: ff.Key, Filename: ff.Key, Content: code})
		}
		return nil, files, nil
	}

	seed, err := questionnaireValues(e, form, exerciseID)
	if err != nil {
		return nil, nil, err
	}
	values := url.Values{}
	for k, v := range seed {
		if v != "" {
			values[k] = []string{v}
		}
	}
	// Explicit answers replace the seeded value for their key; repeating a
	// key adds further values (checkboxes).
	replaced := map[string]bool{}
	for _, a := range answers {
		key, val, ok := strings.Cut(a, "=")
		if !ok {
			return nil, nil, fmt.Errorf("answer %q is not key=value", a)
		}
		if !replaced[key] {
			values.Del(key)
			replaced[key] = true
		}
		values.Add(key, val)
	}
	return values, nil, nil
}

// questionnaireValues seeds answer values from the latest graded
// submission, falling back to the form defaults when there is none.
func questionnaireValues(e *env, form *exercise.Form, exerciseID int64) (map[string]string, error) {
	history, err := e.client.Submissions(e.ctx, exerciseID)
	if err != nil {
		return nil, err
	}
	var latest *model.SubmissionRef
	for i := range history {
		if latest == nil || history[i].SubmissionTime.After(latest.SubmissionTime) {
			latest = &history[i]
		}
	}
	if latest == nil {
		return form.Defaults(), nil
	}
	rec, err := e.client.Submission(e.ctx, latest.ID)
	if err != nil {
		return nil, err
	}
	if !rec.Terminal() || len(rec.SubmissionData) == 0 {
		return form.Defaults(), nil
	}
	return form.Prefill(rec.SubmissionData), nil
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <submission-id>",
		Short: "Poll a submission until it is graded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return waitAndReport(e, id)
		},
	}
}

func waitAndReport(e *env, submissionID int64) error {
	fmt.Fprintln(os.Stderr, appI18n.T(e.ctx, "SubmissionWaiting"))
	poller := &submission.Poller{
		Fetch:    e.client.Submission,
		Interval: e.cfg.PollInterval,
		MaxPolls: e.cfg.MaxPolls,
	}
	rec, err := poller.Wait(e.ctx, submissionID)
	if err != nil {
		return e.finish(err)
	}

	out, err := submission.Reconcile(rec, func() {
		// Counters and points are server authority; re-fetch rather than
		// trust the record we already hold.
		stats, serr := e.client.SubmitterStats(e.ctx, rec.ExerciseID)
		if serr != nil {
			slog.Warn("refresh stats failed", "error", serr)
			return
		}
		fmt.Printf("%s: %d (%s)\n", appI18n.T(e.ctx, "Points"), stats.Points,
			passedText(e.ctx, stats.Passed))
	})
	if err != nil {
		return err
	}

	switch out.Kind {
	case submission.OutcomeRejected:
		fmt.Println(appI18n.T(e.ctx, "SubmissionRejected"))
		for key, msgs := range out.ValidationErrors {
			fmt.Printf("  %s: %s\n", key, strings.Join(msgs, "; "))
		}
		return errors.New("submission rejected")
	case submission.OutcomeFile:
		fmt.Printf("%s: %d\n", appI18n.T(e.ctx, "SubmissionGraded"), rec.Grade)
		if out.Feedback != "" {
			fmt.Println(appI18n.T(e.ctx, "Feedback"))
			fmt.Println(out.Feedback)
		}
	default:
		fmt.Printf("%s: %d\n", appI18n.T(e.ctx, "SubmissionGraded"), rec.Grade)
		for key, fp := range out.FieldPoints {
			fmt.Printf("  %s: %d/%d\n", key, fp.Points, fp.MaxPoints)
		}
	}
	return nil
}

func templateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template <exercise-id>",
		Short: "Fetch an exercise's starter-code templates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			v := viperForCmd(cmd)

			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ex, err := e.client.Exercise(e.ctx, id)
			if err != nil {
				return e.finish(err)
			}
			form, err := exercise.Build(ex, e.cfg.Lang)
			if err != nil {
				return err
			}

			templates, err := e.fetcher().FetchForForm(e.ctx, form)
			if errors.Is(err, grader.ErrExpired) {
				// Two expirations in a row: force the logout here rather
				// than loop on refreshes.
				_ = e.sess.Logout()
				fmt.Fprintln(os.Stderr, appI18n.T(e.ctx, "SessionExpired"))
				return err
			}
			if errors.Is(err, grader.ErrTemplateCount) {
				return errors.New(appI18n.T(e.ctx, "TemplateMismatch"))
			}
			if err != nil {
				return e.finish(err)
			}

			outDir := v.GetString("out")
			fileFields := form.FileFields()
			for i, tpl := range templates {
				if outDir == "" {
					fmt.Print(tpl.Content)
					continue
				}
				path := filepath.Join(outDir, fileFields[i].Key)
				if err := os.WriteFile(path, []byte(tpl.Content), 0o644); err != nil {
					return err
				}
				slog.Info("wrote template", "path", path)
			}
			return nil
		},
	}
	cmd.Flags().StringP("out", "o", "", "Directory to write templates into (default: stdout)")
	return cmd
}

func downloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download <submission-id>",
		Short: "Download a graded submission's files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			v := viperForCmd(cmd)

			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			rec, err := e.client.Submission(e.ctx, id)
			if err != nil {
				return e.finish(err)
			}
			if len(rec.Files) == 0 {
				return fmt.Errorf("submission %d has no files", id)
			}

			outDir := v.GetString("out")
			for _, f := range rec.Files {
				data, err := e.client.SubmissionFile(e.ctx, id, f.ID)
				if err != nil {
					return e.finish(err)
				}
				path := filepath.Join(outDir, f.Filename)
				if err := os.WriteFile(path, data, 0o644); err != nil {
					return err
				}
				slog.Info("wrote file", "path", path)
			}
			return nil
		},
	}
	cmd.Flags().StringP("out", "o", ".", "Directory to write files into")
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the browser front-end",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			v := viperForCmd(cmd)

			h, err := handler.New(e.sess, e.client, e.store, e.fetcher(), e.cfg)
			if err != nil {
				return fmt.Errorf("create handler: %w", err)
			}

			r := chi.NewRouter()
			r.Use(middleware.Logger)
			r.Use(middleware.Recoverer)
			r.Use(appI18n.Middleware(e.cfg.Lang))
			h.Routes(r)

			addr := v.GetString("addr")
			slog.Info("starting server", "addr", addr, "api_url", e.cfg.APIURL, "lang", e.cfg.Lang)
			return http.ListenAndServe(addr, r)
		},
	}
	cmd.Flags().StringP("addr", "a", "127.0.0.1:8080", "HTTP listen address")
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
