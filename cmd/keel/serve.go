package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/keel/pkg/presenter"
	"github.com/jingkaihe/keel/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the agent over HTTP",
	Long: `Start an HTTP server answering against one repository.

  POST /api/conversations/{id}/messages   stream agent events as NDJSON
  GET  /api/conversations/{id}/turns      list stored turns
  GET  /api/conversations                 list conversations`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		root, _ := cmd.Flags().GetString("root")
		readOnly, _ := cmd.Flags().GetBool("read-only")

		a, err := newApp(ctx, viper.GetViper(), appOptions{root: root, readOnly: readOnly})
		if err != nil {
			return err
		}
		defer a.Close()

		srv, err := server.New(server.Config{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
			Root: a.root,
		}, a.agent, a.turns())
		if err != nil {
			return err
		}

		presenter.Info("serving " + a.root)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().String("host", "localhost", "Host to bind the server to")
	serveCmd.Flags().Int("port", 8080, "Port to bind the server to")
	serveCmd.Flags().String("root", ".", "Repository root requests are answered against")
	serveCmd.Flags().Bool("read-only", false, "Reject tool actions that modify files")

	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
