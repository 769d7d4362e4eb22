package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/oarkflow/json"
	"github.com/urfave/cli/v2"

	"github.com/oarkflow/svcl"
	"github.com/oarkflow/svcl/pkg/loader"
	"github.com/oarkflow/svcl/pkg/server"
	"github.com/oarkflow/svcl/pkg/tooling"
)

const defaultPort = 8080

func runServer(c *cli.Context) error {
	entry := entryArg(c)
	rt, err := newRuntime(c, entry)
	if err != nil {
		return err
	}
	defer rt.close()

	opts := []server.Option{
		server.WithCapabilities(rt.registry),
		server.WithEvaluatorOptions(rt.evaluatorOptions()...),
		server.WithAnnotations(rt.cfg.Annotations()),
		server.WithLogger(rt.logger),
		server.WithVersion(version),
		server.WithAccessLog(c.Bool("access-log")),
	}
	if auth := rt.cfg.Auth; auth != nil {
		secret := os.Getenv(auth.JWTSecretEnv)
		if secret == "" {
			return fmt.Errorf("auth: environment variable %s is empty", auth.JWTSecretEnv)
		}
		opts = append(opts, server.WithAuth(server.Auth{
			Secret:         []byte(secret),
			ProtectedPaths: auth.ProtectedPaths,
			AllowMissingOn: auth.AllowMissingOn,
		}))
	}
	if spec := rt.cfg.Server.Reload; spec != "" {
		opts = append(opts,
			server.WithReload(spec, func() (*loader.Bundle, error) { return loader.Load(entry) }),
			server.WithReloadHook(func(p *svcl.Program) error { return rt.applyProgram(c.Context, p) }),
		)
	}
	srv, err := server.New(rt.bundle, opts...)
	if err != nil {
		return err
	}

	port := c.Int("port")
	if port == 0 {
		port = rt.cfg.Server.Port
	}
	if port == 0 {
		port = rt.bundle.Program.Port(defaultPort)
	}
	addr := fmt.Sprintf("%s:%d", c.String("host"), port)
	useTLS := rt.cfg.Server.TLS || (rt.bundle.Program.Server != nil && rt.bundle.Program.Server.TLS)
	if useTLS && (rt.cfg.Server.CertFile == "" || rt.cfg.Server.KeyFile == "") {
		return fmt.Errorf("tls requires server.cert_file and server.key_file in config")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		if useTLS {
			serverErr <- srv.StartTLS(addr, rt.cfg.Server.CertFile, rt.cfg.Server.KeyFile)
			return
		}
		serverErr <- srv.Start(addr)
	}()

	select {
	case err := <-serverErr:
		return err
	case sig := <-sigChan:
		rt.logger.Info().Str("signal", sig.String()).Msg("received signal; shutting down")
		if err := srv.Shutdown(); err != nil {
			return err
		}
		select {
		case err := <-serverErr:
			return err
		case <-time.After(30 * time.Second):
			return fmt.Errorf("shutdown timed out")
		}
	}
}

func diagnose(c *cli.Context) ([]svcl.Diagnostic, error) {
	entry := entryArg(c)
	cfg, err := loadConfig(c, entry)
	if err != nil {
		return nil, err
	}
	bundle, err := loader.Load(entry)
	if err != nil {
		return nil, err
	}
	return svcl.Diagnose(bundle.Program, cfg.Annotations()), nil
}

func checkProgram(c *cli.Context) error {
	diags, err := diagnose(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	for _, d := range diags {
		fmt.Fprintln(c.App.Writer, d.String())
	}
	warnings, errs := svcl.Count(diags)
	fmt.Fprintf(c.App.Writer, "%s: %d error(s), %d warning(s)\n", entryArg(c), errs, warnings)
	if errs > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

func printDiagnostics(c *cli.Context) error {
	diags, err := diagnose(c)
	if err != nil {
		return err
	}
	if diags == nil {
		diags = []svcl.Diagnostic{}
	}
	return printJSON(c, diags)
}

func printSchema(c *cli.Context) error {
	bundle, err := loader.Load(entryArg(c))
	if err != nil {
		return err
	}
	return printJSON(c, svcl.BuildSchema(bundle.Program))
}

func printJSON(c *cli.Context, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, string(data))
	return err
}

func formatFiles(c *cli.Context) error {
	if c.Args().Len() == 0 {
		return cli.Exit("fmt: no files given", 2)
	}
	for _, path := range c.Args().Slice() {
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		formatted := tooling.Format(string(raw))
		if !c.Bool("write") {
			fmt.Fprint(c.App.Writer, formatted)
			continue
		}
		if formatted == string(raw) {
			continue
		}
		if err := os.WriteFile(path, []byte(formatted), 0o644); err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, path)
	}
	return nil
}

func lintFiles(c *cli.Context) error {
	if c.Args().Len() == 0 {
		return cli.Exit("lint: no files given", 2)
	}
	var total int
	for _, path := range c.Args().Slice() {
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for _, issue := range tooling.Lint(string(raw)) {
			fmt.Fprintf(c.App.Writer, "%s:%s\n", path, issue)
			total++
		}
	}
	if total > 0 {
		return cli.Exit(fmt.Sprintf("%d lint issue(s)", total), 1)
	}
	return nil
}

func writeLock(c *cli.Context) error {
	entry := entryArg(c)
	out := c.String("out")
	if out == "" {
		out = filepath.Join(filepath.Dir(entry), tooling.LockfileName)
	}
	env := c.String("env")
	if env == "" {
		env = "dev"
	}
	lock, err := tooling.WriteLockfile(out, entry, env)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "wrote %s (sha256 %s, build %s)\n", out, lock.SHA256, lock.BuildID)
	return nil
}

func evalProgram(c *cli.Context) error {
	fn, exprSrc := c.String("func"), c.String("expr")
	if (fn == "") == (exprSrc == "") {
		return cli.Exit("eval: exactly one of --func or --expr is required", 2)
	}
	args := c.Args().Slice()
	entry := defaultEntry
	if len(args) > 0 && filepath.Ext(args[0]) == ".svcl" {
		entry, args = args[0], args[1:]
	}
	rt, err := newRuntime(c, entry)
	if err != nil {
		return err
	}
	defer rt.close()

	var target svcl.Target
	if fn != "" {
		values := make([]svcl.Value, len(args))
		for i, a := range args {
			values[i] = argValue(a)
		}
		target = svcl.FunctionTarget(fn, values...)
	} else {
		expr, err := svcl.ParseExpression(exprSrc)
		if err != nil {
			return err
		}
		target = svcl.ExprTarget(expr)
	}
	out, err := svcl.Evaluate(c.Context, rt.bundle.Program, target, nil, rt.registry, rt.evaluatorOptions()...)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, out.Render())
	return nil
}

// argValue reads a command-line argument as a number, a bool or JSON when it
// parses as one, and as a string otherwise.
func argValue(raw string) svcl.Value {
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return svcl.Number(n)
	}
	if raw == "true" || raw == "false" {
		return svcl.Bool(raw == "true")
	}
	if len(raw) > 0 && (raw[0] == '{' || raw[0] == '[') {
		if v, err := svcl.ParseJSONValue(raw); err == nil {
			return v
		}
	}
	return svcl.String(raw)
}
