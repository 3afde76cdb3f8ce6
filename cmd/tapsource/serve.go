package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"tapsource/internal/browser"
	"tapsource/internal/config"
	"tapsource/internal/editor"
	"tapsource/internal/mangle"
	mcpserver "tapsource/internal/mcp"
	"tapsource/internal/recorder"

	"github.com/spf13/cobra"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var ssePort int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server (stdio by default, SSE with --sse-port)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, wsDir, err := flags.load()
			if err != nil {
				return err
			}
			if ssePort != 0 {
				cfg.MCP.SSEPort = ssePort
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			closeLog := redirectLogs(cfg)
			defer closeLog()

			if wsDir != "" {
				log.Printf("[serve] workspace %s", wsDir)
			}
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().IntVar(&ssePort, "sse-port", 0, "serve MCP over SSE on this port instead of stdio")
	return cmd
}

// redirectLogs sends logs to server.log_file in stdio mode, where stderr
// would interfere with the protocol.
func redirectLogs(cfg config.Config) func() {
	if cfg.MCP.SSEPort != 0 || cfg.Server.LogFile == "" {
		return func() {}
	}
	logFile, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.SetOutput(io.Discard)
		return func() {}
	}
	log.SetOutput(logFile)
	return func() { _ = logFile.Close() }
}

func serve(ctx context.Context, cfg config.Config) error {
	engine, err := mangle.NewEngine(cfg.Mangle)
	if err != nil {
		return err
	}

	var rec *recorder.Recorder
	if cfg.Recorder.Enable {
		rec, err = recorder.NewRecorder(cfg.Recorder.Dir)
		if err != nil {
			return err
		}
		if err := rec.Start("serve"); err != nil {
			return err
		}
		defer rec.Close()
	}

	sessions := browser.NewSessionManager(cfg.Browser)
	if cfg.Browser.AutoStart {
		if err := sessions.Start(ctx); err != nil {
			return err
		}
	} else {
		log.Printf("[serve] browser auto-start disabled; use launch-browser to connect later")
	}
	defer func() { _ = sessions.Shutdown(context.Background()) }()

	server, err := mcpserver.NewServer(cfg, sessions, engine, rec)
	if err != nil {
		return err
	}

	if cfg.Editor.ListenAddr != "" {
		command, args := cfg.Editor.EditorArgs()
		launcher := editor.CommandLauncher{Command: command, Args: args}
		handler := editor.Middleware(cfg.Editor.ProjectRoot, launcher)(http.NotFoundHandler())
		go func() {
			if err := editor.Serve(ctx, cfg.Editor.ListenAddr, handler); err != nil {
				log.Printf("[serve] %v", err)
			}
		}()
	}

	if cfg.MCP.SSEPort > 0 {
		log.Printf("[serve] starting MCP SSE server on port %d", cfg.MCP.SSEPort)
		err = server.StartSSE(ctx, cfg.MCP.SSEPort)
	} else {
		log.Printf("[serve] starting MCP stdio server")
		err = server.Start(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
