package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "streamsift",
	Short: "Partitioned event stream delivery to search and analytics sinks",
	Long: `streamsift consumes a partitioned event stream and delivers every
event to one of two sinks: a bulk-indexing search cluster or a
content-addressed blob store feeding a columnar analytics service.`,
	Version: "0.1.0",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.AddCommand(serveCmd)
}
