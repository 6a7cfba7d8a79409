package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/MCPJam/inspector-sub001/engine"
	"github.com/MCPJam/inspector-sub001/logger"
	"github.com/MCPJam/inspector-sub001/version"
)

const (
	AppName = "mcpjam-evals"
)

func main() {
	testsPath := flag.String("t", "", "Path to the tests file (YAML/JSON)")
	envPath := flag.String("e", "", "Path to the environment file (YAML/JSON)")
	outputPath := flag.String("o", "", "Path to the report output file (if not set, report goes to stdout)")
	format := flag.String("format", engine.FormatJUnitXML, "Report format: junit-xml or json")
	logPath := flag.String("l", "", "Path to the log file (if not set, logs to stderr)")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	showVersion := flag.Bool("v", false, "Show version and exit")

	flag.Parse()

	if *showVersion {
		fmt.Printf("Version: %s\nCommit: %s\nBuildDate: %s\n",
			version.Version, version.Commit, version.BuildDate)
		return
	}

	logWriter, logFile, err := logger.SetupLogWriter(*logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to setup logging: %v\n", err)
		os.Exit(engine.ExitConfigError)
	}
	logger.SetupLogger(logWriter, *verbose)

	if *testsPath == "" || *envPath == "" {
		fmt.Fprintf(os.Stderr, "Error: -t <tests-file> and -e <environment-file> are required\n\n")
		flag.Usage()
		os.Exit(engine.ExitConfigError)
	}

	logger.Logger.Info("Starting application",
		"app", AppName,
		"tests", *testsPath,
		"environment", *envPath,
		"output", *outputPath,
		"format", *format,
		"verbose", *verbose)

	code := engine.Run(context.Background(), engine.Options{
		TestsPath:  *testsPath,
		EnvPath:    *envPath,
		OutputPath: *outputPath,
		Format:     *format,
	})

	if logFile != nil {
		logFile.Close()
	}
	os.Exit(code)
}
